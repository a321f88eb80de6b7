package config

import (
	"crypto/x509"
	"fmt"
	"os"

	"github.com/weideli1015/tlsuv/pkg/certchain"
	"github.com/weideli1015/tlsuv/pkg/tlsengine"
	"github.com/weideli1015/tlsuv/pkg/tlsengine/backend/mint"
	"github.com/weideli1015/tlsuv/pkg/tlsengine/backend/stdlib"
	"github.com/weideli1015/tlsuv/pkg/tlskey"
)

// CreateContext builds a tlsengine.Context from the TLS section of cfg:
// trust bundle, ALPN preference, backend choice, and optional own identity
// loaded from a file pair or a PKCS#11 token.
func (cfg *TLSConfig) CreateContext() (*tlsengine.Context, error) {
	opts := []tlsengine.ContextOption{}

	if cfg.TrustBundleFile != "" {
		opts = append(opts, tlsengine.WithTrustFile(cfg.TrustBundleFile))
	}
	if len(cfg.ALPN) > 0 {
		opts = append(opts, tlsengine.WithALPN(cfg.ALPN...))
	}

	identity, err := cfg.createIdentity()
	if err != nil {
		return nil, fmt.Errorf("loading own identity: %w", err)
	}
	if identity != nil {
		opts = append(opts, tlsengine.WithIdentity(identity))
	}

	b, err := cfg.createBackend()
	if err != nil {
		return nil, err
	}
	opts = append(opts, tlsengine.WithBackend(b))

	return tlsengine.NewContext(opts...)
}

func (cfg *TLSConfig) createBackend() (tlsengine.Backend, error) {
	switch cfg.Backend {
	case "", "stdlib":
		return stdlib.New(), nil
	case "mint":
		return mint.New(), nil
	default:
		return nil, fmt.Errorf("unknown tls backend: %s", cfg.Backend)
	}
}

func (cfg *TLSConfig) createIdentity() (*tlskey.Identity, error) {
	switch {
	case cfg.PKCS11 != nil:
		return cfg.createHardwareIdentity()
	case cfg.OwnCertFile != "":
		return cfg.createSoftwareIdentity()
	default:
		return nil, nil
	}
}

func (cfg *TLSConfig) createSoftwareIdentity() (*tlskey.Identity, error) {
	key, err := tlskey.LoadSoftwareKeyFile(cfg.OwnKeyFile, nil)
	if err != nil {
		return nil, fmt.Errorf("loading own key: %w", err)
	}

	certPEM, err := os.ReadFile(cfg.OwnCertFile)
	if err != nil {
		return nil, fmt.Errorf("reading own certificate: %w", err)
	}
	chain, err := certchain.ParsePEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing own certificate: %w", err)
	}

	return &tlskey.Identity{Key: key, Chain: chain.Certificates()}, nil
}

func (cfg *TLSConfig) createHardwareIdentity() (*tlskey.Identity, error) {
	key, err := tlskey.OpenHardwareKey(tlskey.HardwareIdentity{
		DriverPath: cfg.PKCS11.DriverPath,
		Slot:       cfg.PKCS11.Slot,
		PIN:        cfg.PKCS11.PIN,
		ID:         cfg.PKCS11.ID,
		Label:      cfg.PKCS11.Label,
	})
	if err != nil {
		return nil, err
	}

	cert, err := key.AssociatedCertificate()
	if err != nil {
		return nil, fmt.Errorf("reading certificate from token: %w", err)
	}

	return &tlskey.Identity{Key: key, Chain: []*x509.Certificate{cert}}, nil
}
