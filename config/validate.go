package config

import (
	"fmt"
	"strings"
)

// Validate rejects configurations the arbiter cannot start with.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case "leveldb", "bolt", "bbolt", "memory":
	default:
		return fmt.Errorf("backend: unsupported %q", c.Backend)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must be configured")
	}
	if c.RateLimitPerMinute < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if _, err := c.Mining.Params(); err != nil {
		return err
	}
	if _, err := c.Skills.Tree(); err != nil {
		return fmt.Errorf("skills: %w", err)
	}
	if _, err := c.Genesis.Allocations(); err != nil {
		return err
	}
	if c.Events.Buffer < 0 || c.Archive.Buffer < 0 {
		return fmt.Errorf("buffers must not be negative")
	}
	if c.Archive.Enabled() {
		switch strings.ToLower(strings.TrimSpace(c.Archive.Driver)) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("archive: unsupported driver %q", c.Archive.Driver)
		}
	}
	if strings.TrimSpace(c.JWT.SecretEnv) == "" && (c.JWT.Issuer != "" || c.JWT.Audience != "") {
		return fmt.Errorf("jwt: SecretEnv required when Issuer or Audience is set")
	}
	return nil
}
