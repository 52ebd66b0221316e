package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Server configures the delivery HTTP listener.
type Server struct {
	Addr            string `toml:"addr"`
	ReadTimeout     int    `toml:"read_timeout_seconds"`
	ShutdownTimeout int    `toml:"shutdown_timeout_seconds"`
}

// Media configures the artifact filesystem root.
type Media struct {
	Root string `toml:"root"`
}

// RenditionSpec describes one rung of the encoding ladder.
type RenditionSpec struct {
	Label   string `toml:"label"`
	Height  int    `toml:"height"`
	Bitrate int    `toml:"bitrate_kbps"`
}

// Pipeline configures job scheduling and retry policy.
type Pipeline struct {
	Workers             int     `toml:"workers"`
	RenditionParallel   int     `toml:"rendition_parallelism"`
	MaxAttempts         int     `toml:"max_attempts"`
	RetryBackoffSeconds float64 `toml:"retry_backoff_seconds"`
	EncodeTimeoutSecs   int     `toml:"encode_timeout_seconds"`
	LeaseTTLSeconds     int     `toml:"lease_ttl_seconds"`
	SweepIntervalSecs   int     `toml:"sweep_interval_seconds"`
	FFmpegPath          string  `toml:"ffmpeg_path"`
}

// Queue selects and configures the job queue backend.
type Queue struct {
	Driver            string `toml:"driver"` // memory or redis
	RedisAddr         string `toml:"redis_addr"`
	RedisPassword     string `toml:"redis_password"`
	Stream            string `toml:"stream"`
	Group             string `toml:"group"`
	RedeliverySeconds int    `toml:"redelivery_seconds"`
}

// Registry selects and configures the asset registry backend.
type Registry struct {
	Driver      string `toml:"driver"` // memory or postgres
	PostgresDSN string `toml:"postgres_dsn"`
}

// Auth configures the delivery access-control keychain. Each key entry is
// formatted name:salthex:hashhex as produced by auth.HashAPIKey.
type Auth struct {
	Keys []string `toml:"keys"`
}

// Logging configures structured log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config carries every setting the server binary needs.
type Config struct {
	Server     Server          `toml:"server"`
	Media      Media           `toml:"media"`
	Renditions []RenditionSpec `toml:"renditions"`
	Pipeline   Pipeline        `toml:"pipeline"`
	Queue      Queue           `toml:"queue"`
	Registry   Registry        `toml:"registry"`
	Auth       Auth            `toml:"auth"`
	Logging    Logging         `toml:"logging"`
}

// Load reads the TOML file at path when it exists, layers it over the
// defaults, and applies environment overrides. A missing file is not an
// error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	trimmed := strings.TrimSpace(path)
	if trimmed != "" {
		data, err := os.ReadFile(trimmed)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", trimmed, err)
			}
		case errors.Is(err, fs.ErrNotExist):
			// defaults apply
		default:
			return Config{}, fmt.Errorf("read config %s: %w", trimmed, err)
		}
	}
	applyEnvOverrides(&cfg)
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := envValue("VIDEOFLIX_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := envValue("VIDEOFLIX_MEDIA_ROOT"); v != "" {
		cfg.Media.Root = v
	}
	if v := envValue("VIDEOFLIX_QUEUE_DRIVER"); v != "" {
		cfg.Queue.Driver = v
	}
	if v := envValue("VIDEOFLIX_REDIS_ADDR"); v != "" {
		cfg.Queue.RedisAddr = v
	}
	if v := envValue("VIDEOFLIX_REDIS_PASSWORD"); v != "" {
		cfg.Queue.RedisPassword = v
	}
	if v := envValue("VIDEOFLIX_REGISTRY_DRIVER"); v != "" {
		cfg.Registry.Driver = v
	}
	if v := envValue("VIDEOFLIX_POSTGRES_DSN"); v != "" {
		cfg.Registry.PostgresDSN = v
	}
	if v := envValue("VIDEOFLIX_FFMPEG_PATH"); v != "" {
		cfg.Pipeline.FFmpegPath = v
	}
	if v := envValue("VIDEOFLIX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := envValue("VIDEOFLIX_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := envValue("VIDEOFLIX_AUTH_KEYS"); v != "" {
		keys := strings.Split(v, ",")
		cfg.Auth.Keys = cfg.Auth.Keys[:0]
		for _, key := range keys {
			if trimmed := strings.TrimSpace(key); trimmed != "" {
				cfg.Auth.Keys = append(cfg.Auth.Keys, trimmed)
			}
		}
	}
}

func envValue(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

func (c *Config) normalize() {
	c.Queue.Driver = strings.ToLower(strings.TrimSpace(c.Queue.Driver))
	c.Registry.Driver = strings.ToLower(strings.TrimSpace(c.Registry.Driver))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	for i := range c.Renditions {
		c.Renditions[i].Label = strings.ToLower(strings.TrimSpace(c.Renditions[i].Label))
	}
}

// RetryBackoff returns the base delay applied before the second attempt.
func (p Pipeline) RetryBackoff() time.Duration {
	return time.Duration(p.RetryBackoffSeconds * float64(time.Second))
}

// EncodeTimeout bounds one rendition encode.
func (p Pipeline) EncodeTimeout() time.Duration {
	return time.Duration(p.EncodeTimeoutSecs) * time.Second
}

// LeaseTTL bounds how long a crashed worker can hold an asset.
func (p Pipeline) LeaseTTL() time.Duration {
	return time.Duration(p.LeaseTTLSeconds) * time.Second
}

// SweepInterval spaces the reconciler's orphan sweeps.
func (p Pipeline) SweepInterval() time.Duration {
	return time.Duration(p.SweepIntervalSecs) * time.Second
}

// Redelivery is the visibility timeout before an unacked job is offered again.
func (q Queue) Redelivery() time.Duration {
	return time.Duration(q.RedeliverySeconds) * time.Second
}

// Labels returns the configured rendition labels in ladder order.
func (c Config) Labels() []string {
	labels := make([]string, 0, len(c.Renditions))
	for _, spec := range c.Renditions {
		labels = append(labels, spec.Label)
	}
	return labels
}
