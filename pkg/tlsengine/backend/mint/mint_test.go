package mint

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateConfig_CopiesFields(t *testing.T) {
	cfg := &tls.Config{
		ServerName:         "example.com",
		InsecureSkipVerify: true,
		NextProtos:         []string{"h2", "http/1.1"},
	}

	mintCfg, err := translateConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "example.com", mintCfg.ServerName)
	assert.True(t, mintCfg.InsecureSkipVerify)
	assert.Equal(t, []string{"h2", "http/1.1"}, mintCfg.NextProtos)
}

func TestTranslateConfig_RejectsNonSignerKey(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.CreateCertificate(rand.Reader, &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}, &x509.Certificate{SerialNumber: big.NewInt(1)}, &rsaKey.PublicKey, rsaKey)
	require.NoError(t, err)

	cfg := &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  "not-a-signer",
		}},
	}

	_, err = translateConfig(cfg)
	assert.Error(t, err)
}

func TestTranslateCertificate_BuildsChain(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	mintCert, err := translateCertificate(tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	})
	require.NoError(t, err)
	assert.Len(t, mintCert.Chain, 1)
	assert.Equal(t, "client", mintCert.Chain[0].Subject.CommonName)
}

func TestTranslateCertificate_InvalidDER(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	_, err = translateCertificate(tls.Certificate{
		Certificate: [][]byte{[]byte("not a certificate")},
		PrivateKey:  key,
	})
	assert.Error(t, err)
}
