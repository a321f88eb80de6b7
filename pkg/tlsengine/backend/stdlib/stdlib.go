// Package stdlib adapts crypto/tls as a tlsengine.Backend. It is the
// default backend: no additional third-party TLS stack is required. The
// tls.Config it receives sets no ClientSessionCache, so sessions are not
// resumed.
package stdlib

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"

	"github.com/weideli1015/tlsuv/pkg/tlsengine"
)

// Backend is a tlsengine.Backend backed by crypto/tls.
type Backend struct{}

// New returns the crypto/tls-backed Backend.
func New() *Backend {
	return &Backend{}
}

// ClientHandshake runs crypto/tls's client handshake over conn using cfg
// verbatim (cfg already carries the engine's VerifyPeerCertificate hook and
// InsecureSkipVerify=true, so this call performs no additional wrapping of
// the verification logic).
func (b *Backend) ClientHandshake(ctx context.Context, conn net.Conn, cfg *tls.Config) (tlsengine.HandshakeConn, error) {
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return &handshakeConn{Conn: tlsConn}, nil
}

// handshakeConn adapts *tls.Conn to tlsengine.HandshakeConn.
type handshakeConn struct {
	*tls.Conn
}

func (h *handshakeConn) NegotiatedProtocol() string {
	return h.Conn.ConnectionState().NegotiatedProtocol
}

func (h *handshakeConn) PeerCertificates() []*x509.Certificate {
	return h.Conn.ConnectionState().PeerCertificates
}
