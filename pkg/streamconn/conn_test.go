package streamconn

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weideli1015/tlsuv/pkg/ratelimit"
	"github.com/weideli1015/tlsuv/pkg/tlsengine"
	"github.com/weideli1015/tlsuv/pkg/tlsengine/backend/stdlib"
)

func startEchoTLSServer(t *testing.T) (addr string, trustPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	trustPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if n > 0 {
						if _, werr := c.Write(buf[:n]); werr != nil {
							return
						}
					}
					if err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String(), trustPEM
}

func newTestTLSContext(t *testing.T, trustPEM []byte) *tlsengine.Context {
	t.Helper()
	opts := []tlsengine.ContextOption{tlsengine.WithBackend(stdlib.New())}
	if len(trustPEM) > 0 {
		opts = append(opts, tlsengine.WithTrustPEM(trustPEM))
	}
	ctx, err := tlsengine.NewContext(opts...)
	require.NoError(t, err)
	return ctx
}

func TestConn_ConnectWriteReadClose(t *testing.T) {
	addr, trustPEM := startEchoTLSServer(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	tlsCtx := newTestTLSContext(t, trustPEM)

	var (
		mu   sync.Mutex
		got  []byte
		done = make(chan struct{})
	)
	closeOnce := sync.OnceFunc(func() { close(done) })

	conn := New(tlsCtx, WithCallbacks(
		func(n int) []byte { return make([]byte, n) },
		func(data []byte, err error) {
			mu.Lock()
			defer mu.Unlock()
			if len(data) > 0 {
				got = append(got, data...)
				closeOnce()
				return
			}
			if err != nil || data == nil {
				closeOnce()
			}
		},
	))
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, conn.Connect(ctx, host, port))
	require.NoError(t, conn.Write([]byte("hello world")))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for echo response")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "hello world", string(got))
}

func TestConn_ConnectFailsForUnreachableHost(t *testing.T) {
	tlsCtx := newTestTLSContext(t, nil)
	conn := New(tlsCtx)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := conn.Connect(ctx, "127.0.0.1", 1)
	require.Error(t, err)
}

func TestConn_WriteBeforeConnectFails(t *testing.T) {
	tlsCtx := newTestTLSContext(t, nil)
	conn := New(tlsCtx)
	defer conn.Close()

	err := conn.Write([]byte("too early"))
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestConn_CancelDuringConnectDoesNotHang(t *testing.T) {
	tlsCtx := newTestTLSContext(t, nil)
	conn := New(tlsCtx)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	// 10.255.255.1 is a non-routable address chosen to stay pending long
	// enough for the cancellation to race it.
	err := conn.Connect(ctx, "10.255.255.1", 443)
	require.Error(t, err)
}

func TestConn_RateLimiterAllowsFirstAttempt(t *testing.T) {
	addr, trustPEM := startEchoTLSServer(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	tlsCtx := newTestTLSContext(t, trustPEM)
	conn := New(tlsCtx, WithRateLimiter(&ratelimit.Config{Enabled: true, ConnectsPerMinute: 60, Burst: 1}))
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A fresh per-host bucket starts full, so the first Connect to a
	// given host is never delayed by the limiter.
	require.NoError(t, conn.Connect(ctx, host, port))
}

func TestConn_RateLimiterBlocksBurstExhaustedAttempt(t *testing.T) {
	addr, trustPEM := startEchoTLSServer(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	tlsCtx := newTestTLSContext(t, trustPEM)
	limiter := ratelimit.New(&ratelimit.Config{Enabled: true, ConnectsPerMinute: 1, Burst: 1})

	conn := New(tlsCtx, func(c *Conn) { c.limiter = limiter })
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Connect(ctx, host, port))
	conn.Close()

	// The bucket's single token was just spent and refills at 1/minute,
	// so a second attempt within a short deadline must time out waiting
	// rather than dial immediately.
	second := New(tlsCtx, func(c *Conn) { c.limiter = limiter })
	defer second.Close()

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	err = second.Connect(shortCtx, host, port)
	require.Error(t, err)
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	tlsCtx := newTestTLSContext(t, nil)
	conn := New(tlsCtx)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
}
