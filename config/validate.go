package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate checks the configuration before the node starts.
func (c *Config) Validate() error {
	if _, err := c.Admin(); err != nil {
		return err
	}
	params, err := c.EngineParams()
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("staking: %w", err)
	}
	if c.RPC.RateLimitPerSecond < 0 || c.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("rpc: rate limit must not be negative")
	}
	if c.RPC.MaxRequestBodyBytes < 0 {
		return fmt.Errorf("rpc: max request body must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample ratio must be within [0, 1]")
	}
	for _, proxy := range c.RPC.TrustedProxies {
		if net.ParseIP(strings.TrimSpace(proxy)) == nil {
			return fmt.Errorf("rpc: trusted proxy %q is not an IP address", proxy)
		}
	}
	return nil
}
