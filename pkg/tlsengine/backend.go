package tlsengine

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
)

// HandshakeConn is the normalized surface every Backend's handshake result
// must expose, regardless of which TLS stack produced it.
type HandshakeConn interface {
	net.Conn
	// NegotiatedProtocol returns the ALPN protocol selected during the
	// handshake, or "" if none was negotiated.
	NegotiatedProtocol() string
	// PeerCertificates returns the chain the peer presented, leaf first.
	PeerCertificates() []*x509.Certificate
}

// Backend performs a client-side TLS handshake over conn, which is always
// one end of a net.Pipe the Engine drives through its bioqueue.Queues. cfg
// carries the negotiated parameters (trust roots, client certificate,
// ALPN list, SNI, and the verification hook) in crypto/tls's vocabulary;
// backends that wrap a different TLS stack translate the fields they need.
type Backend interface {
	ClientHandshake(ctx context.Context, conn net.Conn, cfg *tls.Config) (HandshakeConn, error)
}
