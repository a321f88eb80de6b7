package streamconn

import "errors"

var (
	// ErrAlreadyConnecting is returned by Write when it is issued while a
	// Connect is still resolving, dialing, or handshaking. A new Connect
	// issued at that point is not rejected: it supersedes the pending one,
	// whose caller receives ErrCancelled.
	ErrAlreadyConnecting = errors.New("streamconn: connect already in progress")

	// ErrNotConnected is returned by Write when no connection is
	// established (before a successful Connect, or after a failed one).
	ErrNotConnected = errors.New("streamconn: not connected")

	// ErrClosed is returned by any operation on a Conn that has been closed.
	ErrClosed = errors.New("streamconn: connection closed")

	// ErrCancelled is delivered to a pending Connect's caller when Cancel
	// (or a newer Connect) discards it before it completes.
	ErrCancelled = errors.New("streamconn: connect cancelled")

	// ErrNoAddresses is returned when hostname resolution succeeds but
	// yields zero usable addresses.
	ErrNoAddresses = errors.New("streamconn: resolver returned no addresses")
)
