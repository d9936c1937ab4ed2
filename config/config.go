// Package config loads the TOML configuration shared by worker hosts and callers.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"score-render/codec"
	"score-render/loadbalance"
)

//go:embed config.example.toml
var exampleConf []byte

// Config is the whole configuration file.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Worker   WorkerConfig   `toml:"worker"`
	Registry RegistryConfig `toml:"registry"`
	Client   ClientConfig   `toml:"client"`
	Site     SiteConfig     `toml:"site"`
	Admin    AdminConfig    `toml:"admin"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// WorkerConfig configures a worker host.
type WorkerConfig struct {
	Listen        string   `toml:"listen"`
	Advertise     string   `toml:"advertise"`
	Binary        string   `toml:"binary"`
	ResourcePath  string   `toml:"resource_path"`
	RenderTimeout Duration `toml:"render_timeout"`
	InboxSize     int      `toml:"inbox_size"`
	OutboxSize    int      `toml:"outbox_size"`
	RateLimit     float64  `toml:"rate_limit"`
	Burst         int      `toml:"burst"`
}

// RegistryConfig selects how hosts are found.
type RegistryConfig struct {
	Kind        string   `toml:"kind"`
	Hosts       []string `toml:"hosts"`
	Endpoints   []string `toml:"endpoints"`
	DialTimeout Duration `toml:"dial_timeout"`
	TTL         int64    `toml:"ttl"`
}

// ClientConfig configures callers.
type ClientConfig struct {
	Codec        string   `toml:"codec"`
	Balancer     string   `toml:"balancer"`
	PoolSize     int      `toml:"pool_size"`
	CallTimeout  Duration `toml:"call_timeout"`
	ReadyTimeout Duration `toml:"ready_timeout"`
	Retries      int      `toml:"retries"`
	RetryDelay   Duration `toml:"retry_delay"`
}

// SiteConfig points at the score-editing site.
type SiteConfig struct {
	URL     string   `toml:"url"`
	Timeout Duration `toml:"timeout"`
}

// AdminConfig configures the worker host's HTTP surface.
type AdminConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// Duration is a time.Duration written as "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration of the embedded example file.
func Default() *Config {
	var cfg Config
	if err := toml.Unmarshal(exampleConf, &cfg); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &cfg
}

// Load reads path over the defaults, so a file only needs the keys it changes.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to the defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Write creates path with the embedded example config. It never overwrites.
func Write(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := codec.ParseType(c.Client.Codec); err != nil {
		errs = append(errs, fmt.Errorf("client.codec %q: %w", c.Client.Codec, err))
	}
	if _, err := loadbalance.New(c.Client.Balancer); err != nil {
		errs = append(errs, fmt.Errorf("client.balancer: %w", err))
	}
	if c.Client.PoolSize < 1 {
		errs = append(errs, errors.New("client.pool_size must be at least 1"))
	}
	if c.Client.Retries < 0 {
		errs = append(errs, errors.New("client.retries must not be negative"))
	}
	switch c.Registry.Kind {
	case "static":
		if len(c.Registry.Hosts) == 0 {
			errs = append(errs, errors.New("registry.hosts is empty"))
		}
	case "etcd":
		if len(c.Registry.Endpoints) == 0 {
			errs = append(errs, errors.New("registry.endpoints is empty"))
		}
		if c.Registry.TTL < 1 {
			errs = append(errs, errors.New("registry.ttl must be at least 1"))
		}
	default:
		errs = append(errs, fmt.Errorf("registry.kind %q: want static or etcd", c.Registry.Kind))
	}
	if c.Worker.InboxSize < 1 || c.Worker.OutboxSize < 1 {
		errs = append(errs, errors.New("worker.inbox_size and worker.outbox_size must be at least 1"))
	}
	if c.Worker.RateLimit < 0 || c.Worker.Burst < 0 {
		errs = append(errs, errors.New("worker.rate_limit and worker.burst must not be negative"))
	}
	if c.Site.URL != "" {
		if u, err := url.Parse(c.Site.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("site.url %q is not an absolute URL", c.Site.URL))
		}
	}
	return errors.Join(errs...)
}
