// Package mint adapts github.com/bifurcation/mint, a TLS 1.3 implementation
// with its own handshake state machine and Conn type, as a tlsengine.Backend.
// It is an opt-in alternative to the default crypto/tls backend, selected
// the same way a Mbed TLS engine would sit alongside an OpenSSL one.
package mint

import (
	"context"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"

	mint "github.com/bifurcation/mint"

	"github.com/weideli1015/tlsuv/pkg/tlsengine"
)

// Backend is a tlsengine.Backend backed by bifurcation/mint.
type Backend struct{}

// New returns the mint-backed Backend.
func New() *Backend {
	return &Backend{}
}

// ClientHandshake translates cfg into a mint.Config, runs mint's blocking
// client handshake over conn, and wraps the resulting *mint.Conn.
func (b *Backend) ClientHandshake(ctx context.Context, conn net.Conn, cfg *tls.Config) (tlsengine.HandshakeConn, error) {
	mintCfg, err := translateConfig(cfg)
	if err != nil {
		return nil, err
	}

	mconn := mint.NewConn(conn, mintCfg, true)
	if alert := mconn.Handshake(); alert != mint.AlertNoAlert {
		return nil, fmt.Errorf("mint handshake alert: %v", alert)
	}
	return &handshakeConn{Conn: mconn}, nil
}

// translateConfig maps the crypto/tls.Config vocabulary the engine builds
// onto mint's Config. mint's VerifyPeerCertificate has the identical
// signature, so the engine's verification hook carries over unchanged.
func translateConfig(cfg *tls.Config) (*mint.Config, error) {
	mintCfg := &mint.Config{
		ServerName:            cfg.ServerName,
		RootCAs:               cfg.RootCAs,
		InsecureSkipVerify:    cfg.InsecureSkipVerify,
		VerifyPeerCertificate: cfg.VerifyPeerCertificate,
		NextProtos:            cfg.NextProtos,
	}

	for _, tlsCert := range cfg.Certificates {
		mintCert, err := translateCertificate(tlsCert)
		if err != nil {
			return nil, err
		}
		mintCfg.Certificates = append(mintCfg.Certificates, mintCert)
	}
	return mintCfg, nil
}

func translateCertificate(tlsCert tls.Certificate) (*mint.Certificate, error) {
	signer, ok := tlsCert.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("mint backend: private key does not implement crypto.Signer")
	}
	chain := make([]*x509.Certificate, 0, len(tlsCert.Certificate))
	for _, raw := range tlsCert.Certificate {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cert)
	}
	return &mint.Certificate{Chain: chain, PrivateKey: signer}, nil
}

// handshakeConn adapts *mint.Conn to tlsengine.HandshakeConn.
type handshakeConn struct {
	*mint.Conn
}

func (h *handshakeConn) NegotiatedProtocol() string {
	return h.Conn.ConnectionState().NextProto
}

func (h *handshakeConn) PeerCertificates() []*x509.Certificate {
	return h.Conn.ConnectionState().PeerCertificates
}
