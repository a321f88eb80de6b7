package cli

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/weideli1015/tlsuv/internal/config"
	"github.com/weideli1015/tlsuv/pkg/logging"
	"github.com/weideli1015/tlsuv/pkg/streamconn"
)

var connectCmd = &cobra.Command{
	Use:   "connect [host]",
	Short: "Resolve, dial, and TLS-handshake against a host",
	Long: `connect drives pkg/streamconn.Conn against a real host: resolve the
name, dial, complete a TLS handshake through the configured backend, write
a single line of plaintext, and print whatever the peer sends back until
it closes the connection.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().String("write", "", "plaintext to write once connected")
	bindFlag("connect.write", connectCmd.Flags().Lookup("write"))
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if c := v.ConfigFileUsed(); c != "" {
		loaded, err := config.Load(c)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	host := v.GetString("connect.host")
	if len(args) > 0 {
		host = args[0]
	}
	if host == "" {
		return fmt.Errorf("a target host is required, e.g. tlsuv connect example.com")
	}
	cfg.Connect.Host = host

	if port := v.GetInt("connect.port"); port != 0 {
		cfg.Connect.Port = port
	}
	if backend := v.GetString("tls.backend"); backend != "" {
		cfg.TLS.Backend = backend
	}
	if bundle := v.GetString("tls.trust_bundle_file"); bundle != "" {
		cfg.TLS.TrustBundleFile = bundle
	}
	if alpn := v.GetStringSlice("tls.alpn"); len(alpn) > 0 {
		cfg.TLS.ALPN = alpn
	}
	if debug := v.GetInt("debug"); debug != 0 {
		cfg.Debug = debug
	}

	printVerbose("building tls context (backend=%s)", cfg.TLS.Backend)
	tlsCtx, err := cfg.TLS.CreateContext()
	if err != nil {
		return fmt.Errorf("building tls context: %w", err)
	}

	var (
		mu      sync.Mutex
		done    = make(chan struct{})
		readErr error
	)
	closeOnce := sync.OnceFunc(func() { close(done) })

	conn := streamconn.New(tlsCtx,
		streamconn.WithLogger(logging.NewLogger(cfg.Debug > 0 || logging.DebugFromEnv())),
		streamconn.WithKeepalive(cfg.Connect.KeepaliveSeconds),
		streamconn.WithNoDelay(cfg.Connect.NoDelay),
		streamconn.WithRateLimiter(cfg.RateLimit.CreateLimiterConfig()),
		streamconn.WithCallbacks(func(n int) []byte { return make([]byte, n) }, func(data []byte, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				readErr = err
				closeOnce()
				return
			}
			if data == nil {
				closeOnce()
				return
			}
			fmt.Print(string(data))
		}),
	)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Connect.TimeoutSeconds)*time.Second)
	defer cancel()

	printVerbose("connecting to %s:%d", cfg.Connect.Host, cfg.Connect.Port)
	if err := conn.Connect(ctx, cfg.Connect.Host, cfg.Connect.Port); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	printVerbose("handshake complete")

	if payload := v.GetString("connect.write"); payload != "" {
		if err := conn.Write([]byte(payload)); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return readErr
}
