package tlskey

import (
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/ThalesGroup/crypto11"
)

// HardwareIdentity names a PKCS#11 object: the driver library to load, the
// slot to open a session on, the PIN to authenticate with, and exactly one
// of ID (hex-encoded CKA_ID) or Label (CKA_LABEL) to locate the key pair.
type HardwareIdentity struct {
	DriverPath string
	Slot       string
	PIN        string
	ID         string
	Label      string
}

func (id HardwareIdentity) validate() error {
	if (id.ID == "") == (id.Label == "") {
		return ErrInvalidIdentity
	}
	return nil
}

func (id HardwareIdentity) keyID() ([]byte, []byte, error) {
	if id.ID != "" {
		raw, err := hex.DecodeString(id.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: invalid hex key id", ErrObjectNotFound)
		}
		return raw, nil, nil
	}
	return nil, []byte(id.Label), nil
}

// HardwareKey is a private key held on a PKCS#11 token. The private key
// material never leaves the device; Sign issues a signing operation on the
// token session, and Close releases this Key's reference to the
// process-wide driver without finalizing it while other Keys still hold
// sessions.
type HardwareKey struct {
	identity HardwareIdentity

	mu     sync.Mutex
	ctx    *crypto11.Context
	signer crypto.Signer
	closed bool
}

var _ Key = (*HardwareKey)(nil)

// OpenHardwareKey dynamically loads the driver at identity.DriverPath
// (initializing it at most once per process), opens a session on the
// configured slot, authenticates with the PIN, and locates the private
// key object by ID or Label. The companion public key is cached so the
// returned Key can report its algorithm without a further token round
// trip.
func OpenHardwareKey(identity HardwareIdentity) (*HardwareKey, error) {
	if err := identity.validate(); err != nil {
		return nil, err
	}

	ctx, err := acquireDriver(identity.DriverPath, identity.Slot, identity.PIN)
	if err != nil {
		return nil, err
	}

	id, label, err := identity.keyID()
	if err != nil {
		releaseDriver(identity.DriverPath, identity.Slot, identity.PIN)
		return nil, err
	}

	signer, err := ctx.FindKeyPair(id, label)
	if err != nil {
		releaseDriver(identity.DriverPath, identity.Slot, identity.PIN)
		return nil, fmt.Errorf("%w: %v", ErrSessionOpen, err)
	}
	if signer == nil {
		releaseDriver(identity.DriverPath, identity.Slot, identity.PIN)
		return nil, ErrObjectNotFound
	}

	return &HardwareKey{identity: identity, ctx: ctx, signer: signer}, nil
}

// Public returns the cached public key fetched from the token at open time.
func (k *HardwareKey) Public() crypto.PublicKey {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.signer.Public()
}

// Sign issues a signing operation on the token. If the token returns a raw
// (non-DER) ECDSA signature, it is returned as-is; callers that need to
// verify it fall back to the DER re-wrap in certchain.VerifySignature.
func (k *HardwareKey) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, ErrSessionOpen
	}
	return k.signer.Sign(rand, digest, opts)
}

// PublicPEM emits the public key as a PKIX PEM block.
func (k *HardwareKey) PublicPEM() ([]byte, error) {
	return publicPEM(k.Public())
}

// AssociatedCertificate fetches the certificate object stored on the token
// alongside this key, if any.
func (k *HardwareKey) AssociatedCertificate() (*x509.Certificate, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	id, label, err := k.identity.keyID()
	if err != nil {
		return nil, err
	}
	cert, err := k.ctx.FindCertificate(id, label, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	if cert == nil {
		return nil, ErrObjectNotFound
	}
	return cert, nil
}

// StoreCertificate writes cert onto the token under this key's ID/Label.
func (k *HardwareKey) StoreCertificate(cert *x509.Certificate) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	id, label, err := k.identity.keyID()
	if err != nil {
		return err
	}
	return k.ctx.ImportCertificateWithLabel(id, label, cert)
}

// Close releases this Key's reference to the process-wide driver context.
// The driver is only finalized once every Key sharing it has closed.
func (k *HardwareKey) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return releaseDriver(k.identity.DriverPath, k.identity.Slot, k.identity.PIN)
}
