package certchain

import "errors"

var (
	// ErrEmptyChain is returned when an operation requires at least one
	// certificate and the chain has none.
	ErrEmptyChain = errors.New("certchain: empty chain")

	// ErrInvalidPEM is returned when PEM framing cannot be parsed.
	ErrInvalidPEM = errors.New("certchain: invalid PEM encoding")

	// ErrInvalidPKCS7 is returned when the ASN.1 structure of a PKCS#7
	// blob deviates from the signed-data, certificates-only shape this
	// package understands.
	ErrInvalidPKCS7 = errors.New("certchain: malformed PKCS#7 structure")

	// ErrSignatureVerification is returned when a signature does not
	// verify, including after the ECDSA raw-to-DER re-wrap fallback.
	ErrSignatureVerification = errors.New("certchain: signature verification failed")

	// ErrUnsupportedPublicKey is returned when a certificate's public key
	// algorithm is not RSA, ECDSA, or Ed25519.
	ErrUnsupportedPublicKey = errors.New("certchain: unsupported public key algorithm")

	// ErrUnsupportedHash is returned for a hash algorithm outside
	// SHA-256/384/512.
	ErrUnsupportedHash = errors.New("certchain: unsupported hash algorithm")

	// ErrInvalidCSRSubject is returned when GenerateCSR is given an odd
	// number of RDN key/value arguments.
	ErrInvalidCSRSubject = errors.New("certchain: odd number of RDN pairs")
)
