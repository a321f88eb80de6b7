// Package cli implements the tlsuv command-line driver: a thin cobra
// wrapper that loads internal/config, builds a tlsengine.Context, and
// drives a pkg/streamconn.Conn against a real host.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	v       = viper.New()
)

// rootCmd is the base tlsuv command.
var rootCmd = &cobra.Command{
	Use:   "tlsuv",
	Short: "tlsuv - TLS engine and async stream adapter CLI",
	Long: `tlsuv drives the tlsengine/streamconn stack against a real host:
resolve, dial, handshake, and exchange bytes over a swappable TLS backend
(stdlib crypto/tls or bifurcation/mint) without a socket loop of its own.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initViper)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tlsuv.yaml)")
	rootCmd.PersistentFlags().String("host", "", "target host")
	rootCmd.PersistentFlags().Int("port", 443, "target port")
	rootCmd.PersistentFlags().String("backend", "stdlib", "TLS backend (stdlib, mint)")
	rootCmd.PersistentFlags().String("trust-bundle", "", "path to a PEM trust bundle")
	rootCmd.PersistentFlags().StringSlice("alpn", []string{"h2", "http/1.1"}, "ALPN preference, in order")
	rootCmd.PersistentFlags().Int("debug", 0, "debug verbosity (TLSUV_DEBUG)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	bindFlag("connect.host", rootCmd.PersistentFlags().Lookup("host"))
	bindFlag("connect.port", rootCmd.PersistentFlags().Lookup("port"))
	bindFlag("tls.backend", rootCmd.PersistentFlags().Lookup("backend"))
	bindFlag("tls.trust_bundle_file", rootCmd.PersistentFlags().Lookup("trust-bundle"))
	bindFlag("tls.alpn", rootCmd.PersistentFlags().Lookup("alpn"))
	bindFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	bindFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(connectCmd)
}

func bindFlag(key string, flag *pflag.Flag) {
	if flag == nil {
		return
	}
	if err := v.BindPFlag(key, flag); err != nil {
		fmt.Fprintf(os.Stderr, "tlsuv: failed to bind flag %s: %v\n", key, err)
	}
}

// initViper wires config file discovery and TLSUV_-prefixed environment
// variables into the shared viper instance; cobra flags take precedence,
// then environment, then the config file, then the compiled-in defaults
// from internal/config.Default.
func initViper() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".tlsuv")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("TLSUV")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "tlsuv: failed to read config file: %v\n", err)
		}
	}
}

func verbose() bool {
	return v.GetBool("verbose")
}

func printVerbose(format string, args ...interface{}) {
	if verbose() {
		fmt.Fprintf(os.Stderr, "[VERBOSE] "+format+"\n", args...)
	}
}
