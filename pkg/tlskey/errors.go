package tlskey

import "errors"

var (
	// ErrUnsupportedKeyType is returned when PEM/DER material decodes to a
	// key type this package does not sign with (only RSA, ECDSA, Ed25519).
	ErrUnsupportedKeyType = errors.New("tlskey: unsupported private key type")

	// ErrInvalidPEM is returned when no private key block could be decoded.
	ErrInvalidPEM = errors.New("tlskey: no PEM-encoded private key found")

	// ErrDriverLoad is returned when the PKCS#11 driver library fails to
	// load or initialize.
	ErrDriverLoad = errors.New("tlskey: driver load failed")

	// ErrSessionOpen is returned when the key-pair lookup on the opened
	// PKCS#11 context fails, and by Sign on a closed HardwareKey. A failure
	// to open the session itself happens during driver configuration and
	// surfaces as ErrDriverLoad.
	ErrSessionOpen = errors.New("tlskey: session open failed")

	// ErrObjectNotFound is returned when no private key object matches the
	// configured id or label.
	ErrObjectNotFound = errors.New("tlskey: key object not found")

	// ErrPINFailure names a failed token authentication with the configured
	// PIN. No function in this package returns it: login happens during
	// driver configuration, so a rejected PIN surfaces as ErrDriverLoad.
	ErrPINFailure = errors.New("tlskey: PIN authentication failed")

	// ErrInvalidIdentity is returned when a HardwareIdentity specifies
	// neither or both of ID and Label.
	ErrInvalidIdentity = errors.New("tlskey: exactly one of key id or label must be set")
)
