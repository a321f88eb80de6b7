package tlskey

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"os"

	"github.com/youmark/pkcs8"
)

// SoftwareKey is an in-process private key loaded from PEM, DER, or a
// filesystem path. Signing happens directly against the parsed key.
type SoftwareKey struct {
	signer crypto.Signer
}

var _ Key = (*SoftwareKey)(nil)

// LoadSoftwareKey loads a private key from material that is either raw DER,
// PEM-encoded, or a filesystem path to either. password is used only when
// the key turns out to be an encrypted PKCS#8 block; pass nil otherwise.
func LoadSoftwareKey(material []byte, password []byte) (*SoftwareKey, error) {
	der, err := derFromMaterial(material, password)
	if err != nil {
		return nil, err
	}
	signer, err := parsePrivateKeyDER(der, password)
	if err != nil {
		return nil, err
	}
	return &SoftwareKey{signer: signer}, nil
}

// LoadSoftwareKeyFile reads path and loads it as a software key.
func LoadSoftwareKeyFile(path string, password []byte) (*SoftwareKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadSoftwareKey(data, password)
}

// derFromMaterial resolves material to a DER blob: if it looks like a
// filesystem path that exists, its contents are read first; if the result
// is PEM-framed, the first block's bytes are used; otherwise the bytes are
// treated as raw DER.
func derFromMaterial(material []byte, password []byte) ([]byte, error) {
	if looksLikePath(material) {
		if data, err := os.ReadFile(string(material)); err == nil {
			material = data
		}
	}
	if block, _ := pem.Decode(material); block != nil {
		return block.Bytes, nil
	}
	if len(material) == 0 {
		return nil, ErrInvalidPEM
	}
	return material, nil
}

// looksLikePath applies a cheap heuristic: material with no embedded NUL
// bytes, shorter than a typical key blob, and pointing at an existing file
// is treated as a path rather than key bytes.
func looksLikePath(material []byte) bool {
	if len(material) == 0 || len(material) > 4096 {
		return false
	}
	for _, b := range material {
		if b == 0 {
			return false
		}
	}
	info, err := os.Stat(string(material))
	return err == nil && !info.IsDir()
}

func parsePrivateKeyDER(der []byte, password []byte) (crypto.Signer, error) {
	if len(password) > 0 {
		key, err := pkcs8.ParsePKCS8PrivateKey(der, password)
		if err == nil {
			return asSigner(key)
		}
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return asSigner(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, ErrUnsupportedKeyType
}

func asSigner(key any) (crypto.Signer, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	case crypto.Signer:
		return k, nil
	default:
		return nil, ErrUnsupportedKeyType
	}
}

// Public returns the key's public half.
func (k *SoftwareKey) Public() crypto.PublicKey {
	return k.signer.Public()
}

// Sign signs digest using the underlying key. opts selects the hash used
// when verifying against digest (PSS, PKCS#1 v1.5, or none for Ed25519).
func (k *SoftwareKey) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return k.signer.Sign(rand, digest, opts)
}

// PublicPEM emits the public key as a PKIX PEM block.
func (k *SoftwareKey) PublicPEM() ([]byte, error) {
	return publicPEM(k.signer.Public())
}
