package tlsengine

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"runtime"

	"github.com/weideli1015/tlsuv/pkg/csprng"
	"github.com/weideli1015/tlsuv/pkg/logging"
	"github.com/weideli1015/tlsuv/pkg/tlskey"
)

// sessionCache is crypto/tls's resumption cache interface, reused verbatim
// so the stdlib backend can plug a Context's cache in directly.
type sessionCache = tls.ClientSessionCache

// osTrustBundlePaths is probed in order on non-Windows platforms when the
// caller supplies no trust material; the first readable file wins.
var osTrustBundlePaths = []string{
	"/etc/ssl/certs/ca-certificates.crt",
	"/etc/pki/tls/certs/ca-bundle.crt",
	"/etc/ssl/ca-bundle.pem",
	"/etc/pki/tls/cacert.pem",
	"/etc/pki/ca-trust/extracted/pem/tls-ca-bundle.pem",
	"/etc/ssl/cert.pem",
}

// VerifyFunc is a caller-supplied leaf verifier. It receives the peer's
// leaf certificate and returns true to accept the connection.
type VerifyFunc func(leaf *x509.Certificate) bool

// Context is the long-lived, read-only-after-setup factory Engines are
// minted from: trust anchors, ALPN preference, own identity, a custom
// verifier, and a per-Context random source. It may be shared across
// goroutines/event loops once built; Engines it mints may not.
type Context struct {
	trustRoots   *x509.CertPool
	alpn         []string
	identity     *tlskey.Identity
	verify       VerifyFunc
	rand         csprng.Resolver
	backend      Backend
	logger       *logging.Logger
	sessionCache sessionCache
}

// ContextOption configures a Context at construction time.
type ContextOption func(*Context) error

// NewContext builds a Context, applying opts in order. If no trust material
// is configured by an option, the OS trust store is probed per the
// documented file list (or the platform store on Windows).
func NewContext(opts ...ContextOption) (*Context, error) {
	ctx := &Context{
		rand:   csprng.New(),
		logger: logging.DefaultLogger(),
	}
	for _, opt := range opts {
		if err := opt(ctx); err != nil {
			return nil, newError(KindConfig, "applying context option", err)
		}
	}
	if ctx.trustRoots == nil {
		roots, err := loadOSTrustStore()
		if err != nil {
			return nil, newError(KindConfig, "loading OS trust store", err)
		}
		ctx.trustRoots = roots
	}
	if ctx.backend == nil {
		ctx.backend = nil // no default backend; NewEngine fails until WithBackend sets one
	}
	return ctx, nil
}

// WithTrustPEM parses pem as one or more concatenated certificates and uses
// them as the trust roots.
func WithTrustPEM(pem []byte) ContextOption {
	return func(c *Context) error {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return newError(KindConfig, "no certificates parsed from PEM", nil)
		}
		c.trustRoots = pool
		return nil
	}
}

// WithTrustFile reads path and uses its contents as the trust roots.
func WithTrustFile(path string) ContextOption {
	return func(c *Context) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return newError(KindConfig, "no certificates parsed from file", nil)
		}
		c.trustRoots = pool
		return nil
	}
}

// WithALPN sets the ordered ALPN protocol preference presented verbatim
// during handshake.
func WithALPN(protocols ...string) ContextOption {
	return func(c *Context) error {
		c.alpn = protocols
		return nil
	}
}

// WithIdentity sets this Context's own certificate/key for client
// authentication. The certificate's public key must match the key.
func WithIdentity(identity *tlskey.Identity) ContextOption {
	return func(c *Context) error {
		if identity == nil || identity.Key == nil || len(identity.Chain) == 0 {
			return newError(KindConfig, "incomplete own identity", nil)
		}
		c.identity = identity
		return nil
	}
}

// WithVerifier registers a custom leaf verifier. When set, intermediates in
// the presented chain are trusted unconditionally and only the leaf is
// passed to fn.
func WithVerifier(fn VerifyFunc) ContextOption {
	return func(c *Context) error {
		c.verify = fn
		return nil
	}
}

// WithBackend selects the TLS stack Engines minted from this Context use.
func WithBackend(b Backend) ContextOption {
	return func(c *Context) error {
		c.backend = b
		return nil
	}
}

// WithLogger attaches a logger to the Context. Engines minted from the
// Context and the verify hook do not write to it.
func WithLogger(l *logging.Logger) ContextOption {
	return func(c *Context) error {
		c.logger = l
		return nil
	}
}

// NewEngine mints an Engine targeting hostname from this Context. An empty
// hostname is rejected with a Config error.
func (c *Context) NewEngine(hostname string) (*Engine, error) {
	if hostname == "" {
		return nil, newError(KindConfig, "empty hostname", nil)
	}
	if c.backend == nil {
		return nil, newError(KindConfig, "no backend configured", nil)
	}
	return newEngine(c, hostname), nil
}

func loadOSTrustStore() (*x509.CertPool, error) {
	if runtime.GOOS == "windows" {
		if pool, err := x509.SystemCertPool(); err == nil && pool != nil {
			return pool, nil
		}
		return x509.NewCertPool(), nil
	}
	for _, path := range osTrustBundlePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		pool := x509.NewCertPool()
		if pool.AppendCertsFromPEM(data) {
			return pool, nil
		}
	}
	// No probed bundle found; fall back to the empty pool rather than
	// failing Context construction outright: an empty trust store is not
	// itself a Config error, only a later handshake Verify failure.
	return x509.NewCertPool(), nil
}
