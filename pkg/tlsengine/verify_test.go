package tlsengine

import (
	"crypto/x509"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsAs_FindsWrappedHostnameError(t *testing.T) {
	hostErr := x509.HostnameError{Host: "example.com"}
	wrapped := fmt.Errorf("tls: %w", hostErr)

	var out x509.HostnameError
	assert.True(t, errorsAs(wrapped, &out))
	assert.Equal(t, "example.com", out.Host)
}

func TestErrorsAs_NoMatchReturnsFalse(t *testing.T) {
	var out x509.HostnameError
	assert.False(t, errorsAs(fmt.Errorf("some other failure"), &out))
}

func TestTargetIPMatchesSAN_NilTargetNeverMatches(t *testing.T) {
	assert.False(t, targetIPMatchesSAN(&x509.Certificate{}, nil, x509.HostnameError{}))
}

func TestTargetIPMatchesSAN_NonHostnameErrorNeverMatches(t *testing.T) {
	assert.False(t, targetIPMatchesSAN(&x509.Certificate{}, net.ParseIP("127.0.0.1"), fmt.Errorf("expired")))
}

func TestTargetIPMatchesSAN_MatchingIPSAN(t *testing.T) {
	cert := &x509.Certificate{IPAddresses: []net.IP{net.ParseIP("127.0.0.1")}}
	assert.True(t, targetIPMatchesSAN(cert, net.ParseIP("127.0.0.1"), x509.HostnameError{}))
}

func TestTargetIPMatchesSAN_MismatchedIPSAN(t *testing.T) {
	cert := &x509.Certificate{IPAddresses: []net.IP{net.ParseIP("10.0.0.1")}}
	assert.False(t, targetIPMatchesSAN(cert, net.ParseIP("127.0.0.1"), x509.HostnameError{}))
}
