// Package streamconn is the Async Stream Adapter: it connects a
// non-blocking TCP socket to a pkg/tlsengine.Engine, pumping ciphertext in
// both directions and surfacing connect/read/write/close to the caller.
package streamconn

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/weideli1015/tlsuv/pkg/logging"
	"github.com/weideli1015/tlsuv/pkg/ratelimit"
	"github.com/weideli1015/tlsuv/pkg/tlsengine"
	"github.com/weideli1015/tlsuv/pkg/tlsmetrics"
)

// ReadCallback delivers plaintext bytes produced by a completed read cycle.
// A call with nil data ends the stream: err is nil after a clean
// close_notify and non-nil for a socket or engine error (a socket EOF is
// delivered as io.EOF). A clean close_notify may be followed by one more
// such call carrying the socket's own read error.
type ReadCallback func(data []byte, err error)

// AllocCallback returns a buffer of at least suggestedSize bytes for the
// Loop to decrypt into before handing it to ReadCallback.
type AllocCallback func(suggestedSize int) []byte

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdWrite
	cmdClose
	cmdCancel
)

type command struct {
	kind     commandKind
	host     string
	port     int
	data     []byte
	resultCh chan error
}

type connectResult struct {
	generation uint64
	conn       net.Conn
	engine     *tlsengine.Engine
	err        error
}

type readResult struct {
	generation uint64
	n          int
	buf        []byte
	err        error
}

// Conn is one TCP handle plus one Engine, driven exclusively by its own
// Loop goroutine; per §5 of the engine's concurrency model, no other
// goroutine may touch the socket or Engine directly, so every public method
// communicates with the loop over cmdCh instead.
type Conn struct {
	tlsCtx  *tlsengine.Context
	logger  *logging.Logger
	limiter *ratelimit.Limiter

	keepaliveSeconds int
	nodelay          bool

	cmdCh           chan command
	connectResultCh chan connectResult
	socketReadCh    chan readResult
	loopDone        chan struct{}

	onRead  ReadCallback
	onAlloc AllocCallback

	generation uint64 // bumped on every new Connect and on Cancel/Close of a pending one; stale results discarded

	closed atomic.Bool
}

// Option configures a Conn at construction time.
type Option func(*Conn)

// WithKeepalive sets the TCP keepalive period in seconds; zero disables it.
func WithKeepalive(seconds int) Option {
	return func(c *Conn) { c.keepaliveSeconds = seconds }
}

// WithNoDelay toggles TCP_NODELAY.
func WithNoDelay(nodelay bool) Option {
	return func(c *Conn) { c.nodelay = nodelay }
}

// WithLogger attaches a logger; handshake and lifecycle transitions are
// logged at debug level.
func WithLogger(l *logging.Logger) Option {
	return func(c *Conn) { c.logger = l }
}

// WithRateLimiter gates every dial attempt through a per-host
// golang.org/x/time/rate token bucket, so a reconnect loop or a resolver
// returning many addresses for one host cannot hammer it. Disabled by
// default (New's zero-value Limiter lets every attempt through).
func WithRateLimiter(cfg *ratelimit.Config) Option {
	return func(c *Conn) { c.limiter = ratelimit.New(cfg) }
}

// WithCallbacks registers the alloc/read callback pair used to deliver
// decrypted application data.
func WithCallbacks(alloc AllocCallback, onRead ReadCallback) Option {
	return func(c *Conn) {
		c.onAlloc = alloc
		c.onRead = onRead
	}
}

// New creates a Conn bound to tlsCtx and starts its Loop goroutine. The Conn
// is idle (no socket) until Connect is called.
func New(tlsCtx *tlsengine.Context, opts ...Option) *Conn {
	c := &Conn{
		tlsCtx:          tlsCtx,
		logger:          logging.DefaultLogger(),
		limiter:         ratelimit.New(nil),
		nodelay:         true,
		cmdCh:           make(chan command, 4),
		connectResultCh: make(chan connectResult, 1),
		socketReadCh:    make(chan readResult, 16),
		loopDone:        make(chan struct{}),
		onAlloc:         func(n int) []byte { return make([]byte, n) },
		onRead:          func([]byte, error) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.loop()
	return c
}

// Connect resolves host and dials port, mints an Engine from the Conn's
// Context targeting host as SNI, drives the handshake to completion, and
// applies the configured keepalive/nodelay options. Any prior in-flight
// connect is cancelled first (step 1 of the connect protocol).
func (c *Conn) Connect(ctx context.Context, host string, port int) error {
	resultCh := make(chan error, 1)
	select {
	case c.cmdCh <- command{kind: cmdConnect, host: host, port: port, resultCh: resultCh}:
	case <-c.loopDone:
		return ErrClosed
	}
	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		c.Cancel()
		return ctx.Err()
	}
}

// Write queues plaintext to be encrypted and sent once the handshake has
// completed; it fails with ErrNotConnected when no connection is
// established and with ErrAlreadyConnecting while a Connect is in progress.
func (c *Conn) Write(p []byte) error {
	resultCh := make(chan error, 1)
	cp := append([]byte(nil), p...)
	select {
	case c.cmdCh <- command{kind: cmdWrite, data: cp, resultCh: resultCh}:
	case <-c.loopDone:
		return ErrClosed
	}
	return <-resultCh
}

// Cancel discards any in-flight connect attempt. If no connect is in
// flight, Cancel is a no-op (idempotent per the cancel protocol).
func (c *Conn) Cancel() {
	resultCh := make(chan error, 1)
	select {
	case c.cmdCh <- command{kind: cmdCancel, resultCh: resultCh}:
		<-resultCh
	case <-c.loopDone:
	}
	tlsmetrics.RecordCancel()
}

// Close produces a close_notify via Engine.Close, flushes outbound
// ciphertext, then closes the TCP side. Reads already delivered to
// ReadCallback are not retracted. Close is idempotent.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.logger.Debug("streamconn: closing")
	resultCh := make(chan error, 1)
	select {
	case c.cmdCh <- command{kind: cmdClose, resultCh: resultCh}:
		err := <-resultCh
		<-c.loopDone
		return err
	case <-c.loopDone:
		return nil
	}
}

// loop is the Conn's single-threaded event loop: it owns the net.Conn and
// Engine exclusively and is the only goroutine that touches either.
func (c *Conn) loop() {
	defer close(c.loopDone)

	var (
		netConn   net.Conn
		engine    *tlsengine.Engine
		connected bool
		closing   bool
	)

	cleanup := func() {
		if netConn != nil {
			netConn.Close()
		}
		if connected {
			tlsmetrics.DecrementActiveConnections()
		}
	}
	defer cleanup()

	for {
		select {
		case cmd := <-c.cmdCh:
			switch cmd.kind {
			case cmdConnect:
				atomic.AddUint64(&c.generation, 1)
				gen := atomic.LoadUint64(&c.generation)
				if netConn != nil {
					netConn.Close()
					netConn = nil
					connected = false
				}
				c.logger.Debugf("streamconn: connecting to %s:%d (generation %d)", cmd.host, cmd.port, gen)
				go c.attemptConnect(gen, cmd.host, cmd.port)
				if c.pendingConnectResult(cmd.resultCh, &netConn, &engine, &connected) {
					closing = true
				}

			case cmdWrite:
				if !connected {
					cmd.resultCh <- ErrNotConnected
					continue
				}
				if _, err := engine.Write(cmd.data); err != nil {
					cmd.resultCh <- err
					continue
				}
				c.flushOutbound(netConn, engine)
				cmd.resultCh <- nil

			case cmdCancel:
				if !connected {
					atomic.AddUint64(&c.generation, 1)
				}
				if netConn != nil && !connected {
					netConn.Close()
					netConn = nil
				}
				cmd.resultCh <- nil

			case cmdClose:
				if connected {
					engine.Close()
					c.flushOutbound(netConn, engine)
				}
				closing = true
				cmd.resultCh <- nil
			}

		case cr := <-c.connectResultCh:
			if cr.generation != atomic.LoadUint64(&c.generation) {
				// A newer Connect/Cancel arrived while this one was still
				// resolving/dialing: discard per the stale-resolver rule.
				if cr.conn != nil {
					cr.conn.Close()
				}
				continue
			}
			// handled synchronously inside pendingConnectResult

		case rr := <-c.socketReadCh:
			if rr.generation != atomic.LoadUint64(&c.generation) || !connected {
				continue
			}
			c.handleSocketRead(netConn, engine, rr)
		}

		if closing {
			return
		}
	}
}

// pendingConnectResult blocks the loop (intentionally: nothing else can
// legitimately happen to this Conn before Connect resolves) until the
// spawned attemptConnect goroutine reports back on connectResultCh, then
// installs the result or reports the error to resultCh. It returns true if
// the caller issued a Close while the connect was still in flight, telling
// loop to shut down immediately once this call returns.
func (c *Conn) pendingConnectResult(resultCh chan error, netConn *net.Conn, engine **tlsengine.Engine, connected *bool) bool {
	for {
		select {
		case cr := <-c.connectResultCh:
			if cr.generation != atomic.LoadUint64(&c.generation) {
				// Report from an attempt superseded by a newer Connect:
				// discard it and keep waiting for the current attempt.
				if cr.conn != nil {
					cr.conn.Close()
				}
				continue
			}
			if cr.err != nil {
				tlsmetrics.RecordConnectAttempt(tlsmetrics.StatusError)
				c.logger.Errorf("streamconn: connect failed: %v", cr.err)
				resultCh <- cr.err
				return false
			}
			tlsmetrics.RecordConnectAttempt(tlsmetrics.StatusSuccess)
			c.logger.Debug("streamconn: handshake complete")
			*netConn = cr.conn
			*engine = cr.engine
			*connected = true
			applySocketOptions(cr.conn, c.keepaliveSeconds, c.nodelay)
			tlsmetrics.IncrementActiveConnections()
			go c.readPump(atomic.LoadUint64(&c.generation), cr.conn)
			resultCh <- nil
			return false
		case cmd := <-c.cmdCh:
			// A connect, cancel or close arriving while we wait for the
			// attempt to report back bumps the generation; attemptConnect's
			// eventual report will be discarded by the generation check
			// above. A new Connect supersedes the pending one, whose caller
			// receives ErrCancelled.
			switch cmd.kind {
			case cmdConnect:
				atomic.AddUint64(&c.generation, 1)
				resultCh <- ErrCancelled
				resultCh = cmd.resultCh
				go c.attemptConnect(atomic.LoadUint64(&c.generation), cmd.host, cmd.port)
			case cmdCancel:
				atomic.AddUint64(&c.generation, 1)
				cmd.resultCh <- nil
				resultCh <- ErrCancelled
				return false
			case cmdClose:
				atomic.AddUint64(&c.generation, 1)
				cmd.resultCh <- nil
				resultCh <- ErrCancelled
				return true
			default:
				cmd.resultCh <- ErrAlreadyConnecting
			}
		}
	}
}

// attemptConnect resolves, dials, mints an Engine, and drives the handshake
// to completion, all off the loop goroutine since no other operation on
// this Conn is valid until Connect resolves. It reports back over
// connectResultCh tagged with the generation it was launched under.
func (c *Conn) attemptConnect(generation uint64, host string, port int) {
	start := time.Now()
	ctx := context.Background()

	if err := c.limiter.Wait(ctx, host); err != nil {
		c.connectResultCh <- connectResult{generation: generation, err: err}
		return
	}

	conn, err := resolveAndDial(ctx, host, port)
	if err != nil {
		c.connectResultCh <- connectResult{generation: generation, err: err}
		return
	}

	engine, err := c.tlsCtx.NewEngine(host)
	if err != nil {
		conn.Close()
		c.connectResultCh <- connectResult{generation: generation, err: err}
		return
	}

	if err := driveHandshake(conn, engine); err != nil {
		conn.Close()
		tlsmetrics.RecordHandshake("unknown", tlsmetrics.StatusError, time.Since(start).Seconds())
		c.connectResultCh <- connectResult{generation: generation, err: err}
		return
	}
	tlsmetrics.RecordHandshake("unknown", tlsmetrics.StatusSuccess, time.Since(start).Seconds())

	c.connectResultCh <- connectResult{generation: generation, conn: conn, engine: engine}
}

// handshakePollInterval bounds each conn.Read wait during driveHandshake so
// the loop keeps revisiting PendingOutbound instead of blocking forever on a
// read while the engine's backend/outbound-pump goroutines are still
// copying the next flight into the outbound queue.
const handshakePollInterval = 200 * time.Millisecond

// driveHandshake synchronously exchanges ciphertext between conn and engine
// until the handshake reaches COMPLETE or ERROR. The Engine produces its
// handshake flights asynchronously (backend handshake + outbound pump run
// on separate goroutines started by engine.start()), so this can't assume
// PendingOutbound is populated by the time the loop first checks it; it
// polls PendingOutbound under a short read deadline rather than committing
// to a single blocking conn.Read that could wait on bytes the peer has no
// reason to send yet.
func driveHandshake(conn net.Conn, engine *tlsengine.Engine) error {
	buf := make([]byte, 16*1024)
	state, err := engine.Handshake(nil)
	if err != nil {
		return err
	}
	for state != tlsengine.StateComplete {
		if n := engine.PendingOutbound(); n > 0 {
			out := make([]byte, n)
			m := engine.DrainOutbound(out)
			if _, werr := conn.Write(out[:m]); werr != nil {
				return werr
			}
		}
		if state == tlsengine.StateError {
			return errLastEngineError(engine)
		}
		conn.SetReadDeadline(time.Now().Add(handshakePollInterval))
		n, rerr := conn.Read(buf)
		if rerr != nil {
			if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				continue
			}
			return rerr
		}
		state, err = engine.Handshake(buf[:n])
		if err != nil {
			return err
		}
	}
	conn.SetReadDeadline(time.Time{})
	if n := engine.PendingOutbound(); n > 0 {
		out := make([]byte, n)
		m := engine.DrainOutbound(out)
		conn.Write(out[:m])
	}
	return nil
}

func errLastEngineError(engine *tlsengine.Engine) error {
	if s := engine.StrError(); s != "" {
		return tlsengine.NewPlainError(s)
	}
	return tlsengine.NewPlainError("handshake failed")
}

// readPump loops reading ciphertext off the socket and forwards each chunk
// to the loop goroutine via socketReadCh; it never touches the Engine
// itself, keeping that exclusively the loop's job.
func (c *Conn) readPump(generation uint64, conn net.Conn) {
	buf := make([]byte, 16*1024)
	for {
		n, err := conn.Read(buf)
		chunk := readResult{generation: generation, n: n, err: err}
		if n > 0 {
			chunk.buf = append([]byte(nil), buf[:n]...)
		}
		select {
		case c.socketReadCh <- chunk:
		case <-c.loopDone:
			return
		}
		if err != nil {
			return
		}
	}
}

// handleSocketRead feeds newly-arrived ciphertext into the Engine and loops
// Engine.Read until MORE_AVAILABLE stops being returned, matching the
// read/write loop semantics: HAS_WRITE flushes ciphertext mid-read, EOF and
// ERR terminate the cycle and are reported to ReadCallback exactly once.
func (c *Conn) handleSocketRead(netConn net.Conn, engine *tlsengine.Engine, rr readResult) {
	if rr.err != nil {
		c.onRead(nil, rr.err)
		return
	}
	if err := engine.FeedCiphertext(rr.buf); err != nil {
		c.onRead(nil, err)
		return
	}

	for {
		out := c.onAlloc(16 * 1024)
		n, status, err := engine.Read(out)
		if err != nil {
			c.onRead(nil, err)
			return
		}
		switch status {
		case tlsengine.StatusOK:
			if n > 0 {
				c.onRead(out[:n], nil)
			}
			return
		case tlsengine.StatusMoreAvailable:
			if n > 0 {
				c.onRead(out[:n], nil)
			}
			continue
		case tlsengine.StatusHasWrite:
			c.flushOutbound(netConn, engine)
			continue
		case tlsengine.StatusEOF:
			c.onRead(nil, nil)
			return
		case tlsengine.StatusReadAgain:
			return
		case tlsengine.StatusErr:
			c.onRead(nil, tlsengine.NewPlainError(engine.StrError()))
			return
		}
	}
}

// flushOutbound drains every pending ciphertext byte from engine to
// netConn; called after Write and whenever Read reports HAS_WRITE.
func (c *Conn) flushOutbound(netConn net.Conn, engine *tlsengine.Engine) {
	for {
		n := engine.PendingOutbound()
		if n == 0 {
			return
		}
		out := make([]byte, n)
		m := engine.DrainOutbound(out)
		if m == 0 {
			return
		}
		if _, err := netConn.Write(out[:m]); err != nil {
			return
		}
	}
}
