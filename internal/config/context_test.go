package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSelfSignedIdentity(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "client.pem")
	keyPath = filepath.Join(dir, "client-key.pem")

	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func TestCreateContext_StdlibBackendNoIdentity(t *testing.T) {
	cfg := &TLSConfig{Backend: "stdlib", ALPN: []string{"h2"}}

	ctx, err := cfg.CreateContext()
	require.NoError(t, err)
	assert.NotNil(t, ctx)
}

func TestCreateContext_MintBackend(t *testing.T) {
	cfg := &TLSConfig{Backend: "mint"}

	ctx, err := cfg.CreateContext()
	require.NoError(t, err)
	assert.NotNil(t, ctx)
}

func TestCreateContext_UnknownBackend(t *testing.T) {
	cfg := &TLSConfig{Backend: "openssl"}

	_, err := cfg.CreateContext()
	assert.Error(t, err)
}

func TestCreateContext_WithSoftwareIdentity(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedIdentity(t, dir)

	cfg := &TLSConfig{
		Backend:     "stdlib",
		OwnCertFile: certPath,
		OwnKeyFile:  keyPath,
	}

	ctx, err := cfg.CreateContext()
	require.NoError(t, err)
	assert.NotNil(t, ctx)
}

func TestCreateContext_MissingOwnKeyFile(t *testing.T) {
	dir := t.TempDir()
	certPath, _ := writeSelfSignedIdentity(t, dir)

	cfg := &TLSConfig{
		Backend:     "stdlib",
		OwnCertFile: certPath,
		OwnKeyFile:  filepath.Join(dir, "does-not-exist.pem"),
	}

	_, err := cfg.CreateContext()
	assert.Error(t, err)
}
