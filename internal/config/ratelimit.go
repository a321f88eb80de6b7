package config

import "github.com/weideli1015/tlsuv/pkg/ratelimit"

// CreateLimiterConfig translates the YAML/env rate-limit settings into the
// *ratelimit.Config streamconn.WithRateLimiter expects.
func (c *RateLimitConfig) CreateLimiterConfig() *ratelimit.Config {
	return &ratelimit.Config{
		Enabled:           c.Enabled,
		ConnectsPerMinute: c.ConnectsPerMinute,
		Burst:             c.Burst,
	}
}
