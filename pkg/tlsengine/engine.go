package tlsengine

import (
	"context"
	"net"
	"sync"

	"github.com/weideli1015/tlsuv/pkg/bioqueue"
)

// feedChanDepth bounds how many ciphertext chunks Handshake/FeedCiphertext
// may queue for the backend pump; a chunk that finds the channel full is
// not queued and instead moves the Engine to ERROR with a KindIO error.
const feedChanDepth = 64

// Engine is the buffer-in/buffer-out TLS state machine for one connection.
// It never touches a socket directly: ciphertext enters through Handshake
// and FeedCiphertext and leaves through DrainOutbound; the backend's
// blocking net.Conn-shaped API runs against one end of an internal
// net.Pipe while these methods drive the other end through bioqueue.Queues.
type Engine struct {
	ctx      *Context
	hostname string
	targetIP net.IP

	mu          sync.Mutex
	state       HandshakeState
	lastErr     *EngineError
	negotiated  string
	sessionUsed bool

	outbound  *bioqueue.Queue
	plaintext *bioqueue.Queue
	peerEOF   bool

	engineSide  net.Conn
	backendSide net.Conn
	feedCh      chan []byte

	hsConn   HandshakeConn
	hsErr    error
	hsDone   chan struct{}
	started  bool
	closeNotify sync.Once
}

func newEngine(ctx *Context, hostname string) *Engine {
	return &Engine{
		ctx:       ctx,
		hostname:  hostname,
		targetIP:  net.ParseIP(hostname),
		state:     StateBefore,
		outbound:  bioqueue.New(4096),
		plaintext: bioqueue.New(4096),
	}
}

// start launches the backend handshake goroutine and the two pump
// goroutines that bridge the engine's queues to the pipe. Called once,
// lazily, from the first Handshake call (or again after Reset).
func (e *Engine) start() {
	e.engineSide, e.backendSide = net.Pipe()
	e.feedCh = make(chan []byte, feedChanDepth)
	e.hsDone = make(chan struct{})
	e.started = true

	cfg := clientTLSConfig(e.ctx, e.hostname, e.targetIP)

	go e.inboundPumpLoop()
	go e.outboundPumpLoop()
	go func() {
		conn, err := e.ctx.backend.ClientHandshake(context.Background(), e.backendSide, cfg)
		e.mu.Lock()
		e.hsConn = conn
		e.hsErr = err
		e.mu.Unlock()
		close(e.hsDone)
		if err == nil {
			go e.backendReadLoop()
		}
	}()
}

// inboundPumpLoop writes ciphertext handed to FeedCiphertext/Handshake into
// the engine's pipe end, where the backend's Read calls consume it.
func (e *Engine) inboundPumpLoop() {
	for chunk := range e.feedCh {
		if _, err := e.engineSide.Write(chunk); err != nil {
			return
		}
	}
}

// outboundPumpLoop continuously drains ciphertext the backend produced
// (handshake flight, application records, alerts) into the outbound queue
// for the caller to flush to the real socket.
func (e *Engine) outboundPumpLoop() {
	buf := make([]byte, 16*1024)
	for {
		n, err := e.engineSide.Read(buf)
		if n > 0 {
			e.mu.Lock()
			e.outbound.Write(buf[:n])
			e.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// backendReadLoop pulls decrypted application data out of the handshake
// connection once the handshake has completed, so Engine.Read never has
// to block the caller's goroutine.
func (e *Engine) backendReadLoop() {
	buf := make([]byte, 16*1024)
	for {
		n, err := e.hsConn.Read(buf)
		if n > 0 {
			e.mu.Lock()
			e.plaintext.Write(buf[:n])
			e.mu.Unlock()
		}
		if err != nil {
			e.mu.Lock()
			e.peerEOF = true
			e.mu.Unlock()
			return
		}
	}
}

// HandshakeState reports the Engine's current lifecycle position.
func (e *Engine) HandshakeState() HandshakeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Handshake feeds ciphertextIn (if any) to the backend and reports the
// resulting state. Call with a nil/empty slice to simply poll progress
// after draining DrainOutbound.
func (e *Engine) Handshake(ciphertextIn []byte) (HandshakeState, error) {
	e.mu.Lock()
	if e.state == StateError {
		err := e.lastErr
		e.mu.Unlock()
		return StateError, err
	}
	if !e.started {
		e.state = StateContinue
		e.mu.Unlock()
		e.start()
	} else {
		e.mu.Unlock()
	}

	if len(ciphertextIn) > 0 {
		cp := append([]byte(nil), ciphertextIn...)
		select {
		case e.feedCh <- cp:
		default:
			return e.fail(newError(KindIO, "inbound feed channel saturated", nil))
		}
	}

	select {
	case <-e.hsDone:
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.hsErr != nil {
			e.state = StateError
			e.lastErr = classifyHandshakeError(e.hsErr)
			return e.state, e.lastErr
		}
		e.state = StateComplete
		e.negotiated = e.hsConn.NegotiatedProtocol()
		return e.state, nil
	default:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.state, nil
	}
}

// GetALPN returns the negotiated ALPN protocol, or "" if none (or if the
// handshake has not completed).
func (e *Engine) GetALPN() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.negotiated
}

// FeedCiphertext delivers additional ciphertext to the backend outside of
// a Handshake call, used once the connection is carrying application data.
func (e *Engine) FeedCiphertext(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	cp := append([]byte(nil), p...)
	select {
	case e.feedCh <- cp:
		return nil
	default:
		_, err := e.fail(newError(KindIO, "inbound feed channel saturated", nil))
		return err
	}
}

// Write encrypts plaintext through the backend; the resulting ciphertext
// is queued for DrainOutbound.
func (e *Engine) Write(plaintext []byte) (int, error) {
	e.mu.Lock()
	state := e.state
	conn := e.hsConn
	e.mu.Unlock()
	if state != StateComplete || conn == nil {
		return 0, newError(KindProtocol, "write before handshake complete", nil)
	}
	n, err := conn.Write(plaintext)
	if err != nil {
		_, ferr := e.fail(newError(KindIO, "backend write failed", err))
		return n, ferr
	}
	return n, nil
}

// Read copies already-decrypted plaintext into out without blocking the
// caller; the Engine itself never suspends, matching the concurrency
// model's "suspension only in the Stream Adapter" rule.
func (e *Engine) Read(out []byte) (int, ReadStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.outbound.Pending() > 0 {
		// HAS_WRITE takes priority: the caller must flush outbound bytes
		// (e.g. a session ticket or alert) even mid-read.
		return 0, StatusHasWrite, nil
	}

	n, _ := e.plaintext.Read(out)
	if n > 0 {
		if e.plaintext.Pending() > 0 {
			return n, StatusMoreAvailable, nil
		}
		return n, StatusOK, nil
	}
	if e.peerEOF {
		return 0, StatusEOF, nil
	}
	return 0, StatusReadAgain, nil
}

// DrainOutbound copies pending ciphertext into out, returning how many
// bytes were copied.
func (e *Engine) DrainOutbound(out []byte) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, _ := e.outbound.Read(out)
	return n
}

// PendingOutbound reports how many ciphertext bytes are queued.
func (e *Engine) PendingOutbound() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outbound.Pending()
}

// Close produces a close_notify, flushing it into the outbound queue, and
// must not panic even after the Engine has already entered ERROR.
func (e *Engine) Close() error {
	e.mu.Lock()
	conn := e.hsConn
	alreadyError := e.state == StateError
	e.mu.Unlock()

	if conn == nil || alreadyError {
		return nil
	}
	var err error
	e.closeNotify.Do(func() {
		err = conn.Close()
	})
	return err
}

// Reset returns the engine to BEFORE: it discards queued bytes, closes the
// internal pipe, and lets the next Handshake start a fresh backend
// handshake. No session state is captured or carried over (the Context
// configures no session cache), so that handshake is always a full one.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	wasComplete := e.state == StateComplete
	e.state = StateBefore
	e.lastErr = nil
	e.negotiated = ""
	e.peerEOF = false
	e.outbound.Reset()
	e.plaintext.Reset()
	e.sessionUsed = wasComplete
	e.started = false
	if e.engineSide != nil {
		e.engineSide.Close()
	}
	if e.backendSide != nil {
		e.backendSide.Close()
	}
	return nil
}

// StrError returns a human-readable description of the last error, or ""
// if none is set.
func (e *Engine) StrError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastErr == nil {
		return ""
	}
	return e.lastErr.Error()
}

// fail transitions the Engine to ERROR and records err as the last error.
func (e *Engine) fail(err *EngineError) (HandshakeState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateError
	e.lastErr = err
	return e.state, err
}

// classifyHandshakeError maps a raw backend error into the Verify/Handshake
// kind split the error taxonomy requires: an *EngineError produced by the
// verify hook is already classified, anything else is a protocol-level
// handshake failure.
func classifyHandshakeError(err error) *EngineError {
	if ee, ok := err.(*EngineError); ok {
		return ee
	}
	return newError(KindHandshake, "handshake failed", err)
}
