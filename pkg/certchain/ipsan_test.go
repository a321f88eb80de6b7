package certchain

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func certWithIPSAN(t *testing.T, ips ...net.IP) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  ips,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestMatchesIPSAN_MatchIPv4(t *testing.T) {
	cert := certWithIPSAN(t, net.ParseIP("127.0.0.1"))
	assert.True(t, MatchesIPSAN(cert, net.ParseIP("127.0.0.1")))
}

func TestMatchesIPSAN_NoMatch(t *testing.T) {
	cert := certWithIPSAN(t, net.ParseIP("10.0.0.1"))
	assert.False(t, MatchesIPSAN(cert, net.ParseIP("127.0.0.1")))
}

func TestMatchesIPSAN_IPv6(t *testing.T) {
	cert := certWithIPSAN(t, net.ParseIP("::1"))
	assert.True(t, MatchesIPSAN(cert, net.ParseIP("::1")))
}

func TestMatchesIPSAN_NilTarget(t *testing.T) {
	cert := certWithIPSAN(t, net.ParseIP("127.0.0.1"))
	assert.False(t, MatchesIPSAN(cert, nil))
}
