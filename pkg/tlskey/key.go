// Package tlskey implements the Key abstraction: a software key loaded
// from PEM/DER material, or a hardware key backed by a PKCS#11 token. Both
// variants satisfy crypto.Signer so the engine and certificate packages
// never need to branch on which one they were handed.
package tlskey

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
)

// Key is the common capability set of a software or hardware-backed
// private key: sign a digest, and expose the public half.
type Key interface {
	crypto.Signer

	// PublicPEM emits the public key as a PKIX PEM block.
	PublicPEM() ([]byte, error)
}

// Identity pairs a Key with its certificate chain, the unit the engine's
// Context takes as the connection's own identity.
type Identity struct {
	Key   Key
	Chain []*x509.Certificate
}

// publicPEM is the shared PublicPEM implementation for both Key variants.
func publicPEM(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
