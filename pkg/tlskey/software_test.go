package tlskey

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSoftwareKey_RSA_PKCS8_PEM(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(rsaKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	key, err := LoadSoftwareKey(pemBytes, nil)
	require.NoError(t, err)

	data := []byte("sign me")
	hashed := sha256.Sum256(data)
	sig, err := key.Sign(rand.Reader, hashed[:], crypto.SHA256)
	require.NoError(t, err)

	err = rsa.VerifyPKCS1v15(&rsaKey.PublicKey, crypto.SHA256, hashed[:], sig)
	assert.NoError(t, err)
}

func TestLoadSoftwareKey_ECDSA_SEC1_PEM(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

	key, err := LoadSoftwareKey(pemBytes, nil)
	require.NoError(t, err)

	pubPEM, err := key.PublicPEM()
	require.NoError(t, err)
	assert.Contains(t, string(pubPEM), "PUBLIC KEY")
}

func TestLoadSoftwareKey_InvalidMaterial(t *testing.T) {
	_, err := LoadSoftwareKey([]byte("not a key"), nil)
	assert.ErrorIs(t, err, ErrUnsupportedKeyType)
}

func TestLoadSoftwareKey_Empty(t *testing.T) {
	_, err := LoadSoftwareKey(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidPEM)
}
