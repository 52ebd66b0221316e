package config

import (
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateRenditions(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateRegistry(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServer() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if strings.TrimSpace(c.Media.Root) == "" {
		return fmt.Errorf("media.root is required")
	}
	return nil
}

func (c *Config) validateRenditions() error {
	if len(c.Renditions) == 0 {
		return fmt.Errorf("at least one rendition is required")
	}
	seen := make(map[string]struct{}, len(c.Renditions))
	for _, spec := range c.Renditions {
		if spec.Label == "" {
			return fmt.Errorf("rendition label is required")
		}
		if !validLabel(spec.Label) {
			return fmt.Errorf("rendition label %q may only contain lowercase letters and digits", spec.Label)
		}
		if _, dup := seen[spec.Label]; dup {
			return fmt.Errorf("duplicate rendition label %q", spec.Label)
		}
		seen[spec.Label] = struct{}{}
		if spec.Height < 0 || spec.Bitrate < 0 {
			return fmt.Errorf("rendition %q has negative dimensions", spec.Label)
		}
	}
	return nil
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if p.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive")
	}
	if p.RenditionParallel <= 0 {
		return fmt.Errorf("pipeline.rendition_parallelism must be positive")
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("pipeline.max_attempts must be positive")
	}
	if p.RetryBackoffSeconds < 0 {
		return fmt.Errorf("pipeline.retry_backoff_seconds must not be negative")
	}
	if p.EncodeTimeoutSecs <= 0 {
		return fmt.Errorf("pipeline.encode_timeout_seconds must be positive")
	}
	if p.LeaseTTLSeconds <= 0 {
		return fmt.Errorf("pipeline.lease_ttl_seconds must be positive")
	}
	if p.SweepIntervalSecs <= 0 {
		return fmt.Errorf("pipeline.sweep_interval_seconds must be positive")
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Driver {
	case "memory":
		return nil
	case "redis":
		if strings.TrimSpace(c.Queue.RedisAddr) == "" {
			return fmt.Errorf("queue.redis_addr is required for the redis queue driver")
		}
		return nil
	default:
		return fmt.Errorf("queue.driver must be memory or redis, got %q", c.Queue.Driver)
	}
}

func (c *Config) validateRegistry() error {
	switch c.Registry.Driver {
	case "memory":
		return nil
	case "postgres":
		if strings.TrimSpace(c.Registry.PostgresDSN) == "" {
			return fmt.Errorf("registry.postgres_dsn is required for the postgres registry driver")
		}
		return nil
	default:
		return fmt.Errorf("registry.driver must be memory or postgres, got %q", c.Registry.Driver)
	}
}

func validLabel(label string) bool {
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return len(label) > 0
}
