package tlsengine

import "fmt"

// ErrorKind classifies why an Engine transitioned to ERROR, matching the
// taxonomy the Stream Adapter and application code branch on.
type ErrorKind int

const (
	// KindNone indicates no error is set.
	KindNone ErrorKind = iota
	// KindConfig covers a bad CA bundle, bad own certificate, or unknown ALPN.
	KindConfig
	// KindHandshake covers protocol failure, unsupported version, or an
	// alert received from the peer.
	KindHandshake
	// KindVerify covers an invalid chain, a hostname mismatch not patched
	// by the IP-SAN extension, or a custom verifier rejection.
	KindVerify
	// KindIO covers a socket error surfaced through the ciphertext sink or
	// source.
	KindIO
	// KindProtocol covers malformed ASN.1 during PKCS#7 parsing or
	// malformed PEM.
	KindProtocol
	// KindCrypto covers a sign/verify failure, an ECDSA DER re-wrap that
	// still fails, or an unavailable hash.
	KindCrypto
	// KindToken covers driver load, session open, object-not-found, or PIN
	// failure on a hardware key.
	KindToken
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConfig:
		return "config"
	case KindHandshake:
		return "handshake"
	case KindVerify:
		return "verify"
	case KindIO:
		return "io"
	case KindProtocol:
		return "protocol"
	case KindCrypto:
		return "crypto"
	case KindToken:
		return "token"
	default:
		return "unknown"
	}
}

// EngineError is the Engine's last-error value: a kind plus a
// human-readable reason, matching strerror()'s contract.
type EngineError struct {
	Kind   ErrorKind
	Reason string
	Cause  error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tlsengine: %s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("tlsengine: %s: %s", e.Kind, e.Reason)
}

func (e *EngineError) Unwrap() error { return e.Cause }

func newError(kind ErrorKind, reason string, cause error) *EngineError {
	return &EngineError{Kind: kind, Reason: reason, Cause: cause}
}

// NewPlainError builds a KindHandshake EngineError from a bare reason
// string, for callers outside this package (the Stream Adapter) that only
// have Engine.StrError()'s text to work with.
func NewPlainError(reason string) *EngineError {
	return newError(KindHandshake, reason, nil)
}
