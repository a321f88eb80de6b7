// Package config provides layered YAML/environment configuration for the
// tlsuv CLI sample: which trust bundle and ALPN list to hand the engine,
// optional client identity (software or PKCS#11), and logging verbosity.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete tlsuv-client configuration.
type Config struct {
	Connect   ConnectConfig   `yaml:"connect"`
	TLS       TLSConfig       `yaml:"tls"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	// Debug mirrors TLSUV_DEBUG: 0 is silent, >0 raises verbosity.
	Debug int `yaml:"debug"`
}

// ConnectConfig controls the default target and socket behavior.
type ConnectConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	KeepaliveSeconds int    `yaml:"keepalive_seconds"`
	NoDelay          bool   `yaml:"no_delay"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
}

// TLSConfig controls the engine's Context construction.
type TLSConfig struct {
	TrustBundleFile string   `yaml:"trust_bundle_file"`
	ALPN            []string `yaml:"alpn"`
	Backend         string   `yaml:"backend"` // stdlib, mint
	InsecureSkipVerify bool  `yaml:"insecure_skip_verify"`

	// Own identity, at most one of the two blocks below may be set.
	OwnCertFile string        `yaml:"own_cert_file"`
	OwnKeyFile  string        `yaml:"own_key_file"`
	PKCS11      *PKCS11Config `yaml:"pkcs11,omitempty"`
}

// PKCS11Config names the hardware key backing a client identity.
type PKCS11Config struct {
	DriverPath string `yaml:"driver_path"`
	Slot       string `yaml:"slot"`
	PIN        string `yaml:"pin"`
	Label      string `yaml:"label"`
	ID         string `yaml:"id"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig controls whether Prometheus counters are recorded.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RateLimitConfig bounds how often Connect may dial a single host, so a
// reconnect loop or a resolver returning many addresses for one host cannot
// hammer it.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	ConnectsPerMinute int  `yaml:"connects_per_minute"`
	Burst             int  `yaml:"burst"`
}

// Default returns a Config with the same defaults the CLI flags fall back
// to when neither a config file nor an environment override is present.
func Default() *Config {
	return &Config{
		Connect: ConnectConfig{
			Port:             443,
			NoDelay:          true,
			TimeoutSeconds:   30,
			KeepaliveSeconds: 30,
		},
		TLS: TLSConfig{
			ALPN:    []string{"h2", "http/1.1"},
			Backend: "stdlib",
		},
		Logging:   LoggingConfig{Level: "info"},
		Metrics:   MetricsConfig{Enabled: true},
		RateLimit: RateLimitConfig{Enabled: false, ConnectsPerMinute: 60},
	}
}

// Load reads configuration from a YAML file, applies environment variable
// overrides, and validates the result. A missing path is not an error:
// Load returns the defaults with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - config file path is operator-supplied
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return applyAndValidate(cfg)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return applyAndValidate(cfg)
}

func applyAndValidate(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides, matching the
// TLSUV_* convention for the debug level and a handful of common connect
// knobs an operator may want without editing the file.
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("TLSUV_HOST"); host != "" {
		cfg.Connect.Host = host
	}
	if port := os.Getenv("TLSUV_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			log.Printf("warning: invalid TLSUV_PORT value %q, using default %d: %v", port, cfg.Connect.Port, err)
		} else if p < 1 || p > 65535 {
			log.Printf("warning: invalid TLSUV_PORT value %q (out of range 1-65535), using default %d", port, cfg.Connect.Port)
		} else {
			cfg.Connect.Port = p
		}
	}
	if bundle := os.Getenv("TLSUV_TRUST_BUNDLE"); bundle != "" {
		cfg.TLS.TrustBundleFile = bundle
	}
	if backend := os.Getenv("TLSUV_BACKEND"); backend != "" {
		cfg.TLS.Backend = backend
	}
	if debug := os.Getenv("TLSUV_DEBUG"); debug != "" {
		n, err := strconv.Atoi(debug)
		if err != nil {
			log.Printf("warning: invalid TLSUV_DEBUG value %q, ignoring: %v", debug, err)
		} else {
			cfg.Debug = n
		}
	}
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	if c.Connect.Port < 1 || c.Connect.Port > 65535 {
		return fmt.Errorf("invalid connect port: %d", c.Connect.Port)
	}

	switch strings.ToLower(c.TLS.Backend) {
	case "stdlib", "mint":
	default:
		return fmt.Errorf("invalid tls backend: %s (must be stdlib or mint)", c.TLS.Backend)
	}

	if c.TLS.OwnCertFile != "" && c.TLS.PKCS11 != nil {
		return fmt.Errorf("own identity may come from a file or a PKCS#11 token, not both")
	}
	if (c.TLS.OwnCertFile == "") != (c.TLS.OwnKeyFile == "") {
		return fmt.Errorf("own_cert_file and own_key_file must be set together")
	}
	if c.TLS.PKCS11 != nil {
		if c.TLS.PKCS11.DriverPath == "" {
			return fmt.Errorf("pkcs11 driver_path is required")
		}
		if (c.TLS.PKCS11.ID == "") == (c.TLS.PKCS11.Label == "") {
			return fmt.Errorf("pkcs11 identity needs exactly one of id or label")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.RateLimit.ConnectsPerMinute < 0 {
		return fmt.Errorf("invalid rate_limit connects_per_minute: %d", c.RateLimit.ConnectsPerMinute)
	}
	if c.RateLimit.Burst < 0 {
		return fmt.Errorf("invalid rate_limit burst: %d", c.RateLimit.Burst)
	}

	return nil
}

// HasOwnIdentity reports whether the configuration names a client identity,
// from either a file pair or a PKCS#11 token.
func (c *Config) HasOwnIdentity() bool {
	return c.TLS.OwnCertFile != "" || c.TLS.PKCS11 != nil
}
