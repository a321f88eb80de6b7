package certchain

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"math/big"
)

// HashAlgorithm enumerates the digests verify_signature supports.
type HashAlgorithm int

const (
	SHA256 HashAlgorithm = iota
	SHA384
	SHA512
)

func (h HashAlgorithm) cryptoHash() (crypto.Hash, error) {
	switch h {
	case SHA256:
		return crypto.SHA256, nil
	case SHA384:
		return crypto.SHA384, nil
	case SHA512:
		return crypto.SHA512, nil
	default:
		return 0, ErrUnsupportedHash
	}
}

func digest(h HashAlgorithm, data []byte) ([]byte, error) {
	switch h {
	case SHA256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	case SHA384:
		sum := sha512.Sum384(data)
		return sum[:], nil
	case SHA512:
		sum := sha512.Sum512(data)
		return sum[:], nil
	default:
		return nil, ErrUnsupportedHash
	}
}

// VerifySignature hashes data with hashAlgo and verifies sig against cert's
// public key. For ECDSA keys, a failed verification against the raw
// (r||s, fixed-width) signature is retried once after re-wrapping it as a
// DER SEQUENCE{INTEGER r, INTEGER s} by splitting sig in half — PKCS#11
// tokens commonly return the raw form while crypto/ecdsa expects DER.
func VerifySignature(cert *x509.Certificate, hashAlgo HashAlgorithm, data, sig []byte) error {
	hashed, err := digest(hashAlgo, data)
	if err != nil {
		return err
	}

	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		ch, err := hashAlgo.cryptoHash()
		if err != nil {
			return err
		}
		if err := rsa.VerifyPKCS1v15(pub, ch, hashed, sig); err != nil {
			return ErrSignatureVerification
		}
		return nil

	case *ecdsa.PublicKey:
		if ecdsa.VerifyASN1(pub, hashed, sig) {
			return nil
		}
		derSig, err := rawECDSAToDER(sig)
		if err != nil {
			return ErrSignatureVerification
		}
		if !ecdsa.VerifyASN1(pub, hashed, derSig) {
			return ErrSignatureVerification
		}
		return nil

	case ed25519.PublicKey:
		if !ed25519.Verify(pub, data, sig) {
			return ErrSignatureVerification
		}
		return nil

	default:
		return ErrUnsupportedPublicKey
	}
}

// rawECDSAToDER splits a fixed-width raw ECDSA signature (r||s) in half and
// re-encodes it as the DER SEQUENCE{INTEGER r, INTEGER s} crypto/ecdsa
// expects.
func rawECDSAToDER(raw []byte) ([]byte, error) {
	if len(raw)%2 != 0 || len(raw) == 0 {
		return nil, ErrSignatureVerification
	}
	half := len(raw) / 2
	r := new(big.Int).SetBytes(raw[:half])
	s := new(big.Int).SetBytes(raw[half:])
	return asn1.Marshal(struct {
		R, S *big.Int
	}{r, s})
}
