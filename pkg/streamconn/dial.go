package streamconn

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// resolveAndDial resolves host under ctx cancellation and races a dial
// against every returned address concurrently (happy-eyeballs style),
// returning the first successful connection and aggregating every failure
// so the caller sees "tried N addresses, all failed" detail instead of only
// the last error.
func resolveAndDial(ctx context.Context, host string, port int) (net.Conn, error) {
	if ip := net.ParseIP(host); ip != nil {
		return dialOne(ctx, net.JoinHostPort(host, strconv.Itoa(port)))
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("streamconn: resolve %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, ErrNoAddresses
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		winner   net.Conn
		dialErrs *multierror.Error
	)

	g, gctx := errgroup.WithContext(raceCtx)
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			conn, err := dialOne(gctx, net.JoinHostPort(addr.IP.String(), strconv.Itoa(port)))
			if err != nil {
				mu.Lock()
				dialErrs = multierror.Append(dialErrs, fmt.Errorf("%s: %w", addr.IP, err))
				mu.Unlock()
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if winner != nil {
				conn.Close()
				return nil
			}
			winner = conn
			cancel()
			return nil
		})
	}
	g.Wait()

	if winner != nil {
		return winner, nil
	}
	return nil, fmt.Errorf("streamconn: all %d addresses failed: %w", len(addrs), dialErrs.ErrorOrNil())
}

func dialOne(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// applySocketOptions sets keepalive and nodelay on a *net.TCPConn if the
// underlying conn is one; other net.Conn implementations (e.g. in tests)
// silently skip this.
func applySocketOptions(conn net.Conn, keepalivePeriod int, noDelay bool) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if keepalivePeriod > 0 {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(secondsToDuration(keepalivePeriod))
	} else {
		tcpConn.SetKeepAlive(false)
	}
	tcpConn.SetNoDelay(noDelay)
}
