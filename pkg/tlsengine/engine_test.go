package tlsengine

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weideli1015/tlsuv/pkg/tlsengine/backend/stdlib"
)

func selfSignedServerCert(t *testing.T, dnsNames []string, ips []net.IP) (tls.Certificate, []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-server"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     dnsNames,
		IPAddresses:  ips,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return cert, certPEM
}

// runEchoServer completes a server-side handshake over conn and echoes
// whatever it reads until the connection closes.
func runEchoServer(t *testing.T, conn net.Conn, serverCert tls.Certificate) {
	t.Helper()
	tlsConn := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{serverCert}})
	go func() {
		defer tlsConn.Close()
		if err := tlsConn.Handshake(); err != nil {
			return
		}
		buf := make([]byte, 4096)
		for {
			n, err := tlsConn.Read(buf)
			if n > 0 {
				if _, werr := tlsConn.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
}

// driveToComplete pumps bytes between the engine and a net.Conn until the
// handshake finishes or fails, mirroring streamconn's connect-time loop.
func driveToComplete(t *testing.T, engine *Engine, conn net.Conn) (HandshakeState, error) {
	t.Helper()

	buf := make([]byte, 16*1024)
	state, err := engine.Handshake(nil)
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for state == StateContinue {
		if time.Now().After(deadline) {
			t.Fatal("handshake did not complete before deadline")
		}
		if n := engine.PendingOutbound(); n > 0 {
			out := make([]byte, n)
			m := engine.DrainOutbound(out)
			if _, werr := conn.Write(out[:m]); werr != nil {
				return StateError, werr
			}
		}
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, rerr := conn.Read(buf)
		if rerr != nil {
			if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				continue
			}
			return StateError, rerr
		}
		state, err = engine.Handshake(buf[:n])
	}
	if n := engine.PendingOutbound(); n > 0 {
		out := make([]byte, n)
		m := engine.DrainOutbound(out)
		conn.Write(out[:m])
	}
	return state, err
}

func newTestContext(t *testing.T, trustPEM []byte) *Context {
	t.Helper()
	ctx, err := NewContext(WithTrustPEM(trustPEM), WithBackend(stdlib.New()))
	require.NoError(t, err)
	return ctx
}

func TestEngine_HandshakeAndEcho(t *testing.T) {
	serverCert, certPEM := selfSignedServerCert(t, []string{"localhost"}, nil)
	clientConn, serverConn := net.Pipe()
	runEchoServer(t, serverConn, serverCert)

	ctx := newTestContext(t, certPEM)
	engine, err := ctx.NewEngine("localhost")
	require.NoError(t, err)

	state, err := driveToComplete(t, engine, clientConn)
	require.NoError(t, err)
	require.Equal(t, StateComplete, state)
	require.Equal(t, StateComplete, engine.HandshakeState())

	n, err := engine.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	require.Eventually(t, func() bool {
		if out := engine.PendingOutbound(); out > 0 {
			buf := make([]byte, out)
			m := engine.DrainOutbound(buf)
			clientConn.Write(buf[:m])
		}
		clientConn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		buf := make([]byte, 4096)
		n, rerr := clientConn.Read(buf)
		if n > 0 {
			engine.FeedCiphertext(buf[:n])
		}
		return rerr == nil || n > 0
	}, 3*time.Second, 10*time.Millisecond)

	var out [16]byte
	var status ReadStatus
	var readErr error
	require.Eventually(t, func() bool {
		n, st, rerr := engine.Read(out[:])
		status, readErr = st, rerr
		return n > 0 || rerr != nil
	}, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, readErr)
	require.Contains(t, []ReadStatus{StatusOK, StatusMoreAvailable}, status)

	require.NoError(t, engine.Close())
}

func TestEngine_UntrustedCertificateFails(t *testing.T) {
	serverCert, _ := selfSignedServerCert(t, []string{"localhost"}, nil)
	_, otherPEM := selfSignedServerCert(t, []string{"other"}, nil)
	clientConn, serverConn := net.Pipe()
	runEchoServer(t, serverConn, serverCert)

	ctx := newTestContext(t, otherPEM)
	engine, err := ctx.NewEngine("localhost")
	require.NoError(t, err)

	state, _ := driveToComplete(t, engine, clientConn)
	require.Equal(t, StateError, state)
	require.NotEmpty(t, engine.StrError())
}

func TestEngine_HostnameMismatchFails(t *testing.T) {
	serverCert, certPEM := selfSignedServerCert(t, []string{"other-name"}, nil)
	clientConn, serverConn := net.Pipe()
	runEchoServer(t, serverConn, serverCert)

	ctx := newTestContext(t, certPEM)
	engine, err := ctx.NewEngine("localhost")
	require.NoError(t, err)

	state, _ := driveToComplete(t, engine, clientConn)
	require.Equal(t, StateError, state)
	require.NotEmpty(t, engine.StrError())
}

func TestEngine_IPLiteralTargetWithMatchingIPSANSucceeds(t *testing.T) {
	target := net.ParseIP("127.0.0.1")
	serverCert, certPEM := selfSignedServerCert(t, nil, []net.IP{target})
	clientConn, serverConn := net.Pipe()
	runEchoServer(t, serverConn, serverCert)

	ctx := newTestContext(t, certPEM)
	engine, err := ctx.NewEngine(target.String())
	require.NoError(t, err)

	state, err := driveToComplete(t, engine, clientConn)
	require.NoError(t, err)
	require.Equal(t, StateComplete, state)
}

func TestEngine_WriteBeforeHandshakeFails(t *testing.T) {
	ctx := newTestContext(t, nil)
	engine, err := ctx.NewEngine("example.com")
	require.NoError(t, err)

	_, err = engine.Write([]byte("too early"))
	require.Error(t, err)
}

func TestEngine_ResetReturnsToBefore(t *testing.T) {
	serverCert, certPEM := selfSignedServerCert(t, []string{"localhost"}, nil)
	clientConn, serverConn := net.Pipe()
	runEchoServer(t, serverConn, serverCert)

	ctx := newTestContext(t, certPEM)
	engine, err := ctx.NewEngine("localhost")
	require.NoError(t, err)

	state, err := driveToComplete(t, engine, clientConn)
	require.NoError(t, err)
	require.Equal(t, StateComplete, state)

	require.NoError(t, engine.Reset())
	require.Equal(t, StateBefore, engine.HandshakeState())
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	ctx := newTestContext(t, nil)
	engine, err := ctx.NewEngine("example.com")
	require.NoError(t, err)

	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())
}
