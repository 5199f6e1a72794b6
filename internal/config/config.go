package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Conventional install locations for the daemon's configuration files.
const (
	DefaultConfigPath     = "/opt/rfs/rfsd/config.toml"
	DefaultPoolConfigPath = "/opt/rfs/rfsd/pool.toml"
)

// Default configuration constants. See [Config] for field descriptions.
const (
	// DefaultEntryTimeout is the kernel entry cache validity handed back on lookup
	DefaultEntryTimeout = 1 * time.Second

	// DefaultAttrTimeout is the kernel attribute cache validity
	DefaultAttrTimeout = 1 * time.Second

	// DefaultRequestTimeout bounds a single backend listing call made on
	// behalf of one kernel request
	DefaultRequestTimeout = 30 * time.Second

	// DefaultBackendEndpoint is the rfsd listing service address
	DefaultBackendEndpoint = "http://127.0.0.1:8321"

	// DefaultBackendTimeout is the HTTP client timeout for the listing service
	DefaultBackendTimeout = 15 * time.Second

	// DefaultCacheTTL is the listing cache entry lifetime when the cache is enabled
	DefaultCacheTTL = 2 * time.Second

	// DefaultCacheMaxEntries is the listing cache capacity in directory listings
	DefaultCacheMaxEntries = 4096

	// DefaultMetricsPath is the HTTP path the metrics exporter serves on
	DefaultMetricsPath = "/metrics"
)

// Pool backend driver kinds accepted in pool definitions.
const (
	BackendHTTP = "http"
	BackendS3   = "s3"
)

// CommonConfig holds daemon-wide settings.
type CommonConfig struct {
	LogLevel string `koanf:"log_level"` // trace|debug|info|warn|error (Default info)
}

// FuseConfig holds per-mount kernel session settings.
type FuseConfig struct {
	EntryTimeout   time.Duration `koanf:"entry_timeout"`   // Kernel entry cache validity (Default 1s)
	AttrTimeout    time.Duration `koanf:"attr_timeout"`    // Kernel attribute cache validity (Default 1s)
	RequestTimeout time.Duration `koanf:"request_timeout"` // Backend deadline per kernel request (Default 30s)
	AllowOther     bool          `koanf:"allow_other"`     // Permit access by other users incl. root (Default true)
	AutoUnmount    bool          `koanf:"auto_unmount"`    // Unmount automatically on process exit (Default true)
	Debug          bool          `koanf:"debug"`           // Raw FUSE protocol debug logging (Default false)
}

// S3Config holds overrides for the S3 listing driver.
type S3Config struct {
	Region    string `koanf:"region"`     // AWS region; empty defers to the SDK chain
	Endpoint  string `koanf:"endpoint"`   // Custom endpoint for S3-compatible stores
	PathStyle bool   `koanf:"path_style"` // Path-style addressing (required by MinIO etc.)
}

// BackendConfig holds listing service settings shared by every pool.
type BackendConfig struct {
	Endpoint string        `koanf:"endpoint"` // HTTP listing service base URL (Default http://127.0.0.1:8321)
	Timeout  time.Duration `koanf:"timeout"`  // HTTP client timeout (Default 15s)
	S3       S3Config      `koanf:"s3"`
}

// CacheConfig holds the opt-in listing cache settings. Disabled by default:
// every directory read goes to the backend fresh.
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	TTL        time.Duration `koanf:"ttl"`         // Listing lifetime (Default 2s)
	MaxEntries int64         `koanf:"max_entries"` // Capacity in listings (Default 4096)
}

// MetricsConfig holds the Prometheus exporter settings. An empty listen
// address disables the exporter.
type MetricsConfig struct {
	Listen string `koanf:"listen"` // e.g. ":9091"
	Path   string `koanf:"path"`   // (Default /metrics)
}

// Config contains runtime configuration for the driver process.
type Config struct {
	Common  CommonConfig  `koanf:"common"`
	Fuse    FuseConfig    `koanf:"fuse"`
	Backend BackendConfig `koanf:"backend"`
	Cache   CacheConfig   `koanf:"cache"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		Common: CommonConfig{
			LogLevel: "info",
		},
		Fuse: FuseConfig{
			EntryTimeout:   DefaultEntryTimeout,
			AttrTimeout:    DefaultAttrTimeout,
			RequestTimeout: DefaultRequestTimeout,
			AllowOther:     true,
			AutoUnmount:    true,
		},
		Backend: BackendConfig{
			Endpoint: DefaultBackendEndpoint,
			Timeout:  DefaultBackendTimeout,
		},
		Cache: CacheConfig{
			TTL:        DefaultCacheTTL,
			MaxEntries: DefaultCacheMaxEntries,
		},
		Metrics: MetricsConfig{
			Path: DefaultMetricsPath,
		},
	}
}

// Load reads the config file at path over the defaults. Supports TOML
// (.toml) and YAML (.yaml, .yml) formats.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	parser, err := parserFor(path)
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOptional behaves like Load but tolerates an absent file: with an empty
// path it falls back to DefaultConfigPath, and if that does not exist the
// defaults are returned as-is. An explicit path must exist.
func LoadOptional(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return NewDefaultConfig(), nil
		}
	}
	return Load(path)
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Fuse.EntryTimeout < 0 || c.Fuse.AttrTimeout < 0 {
		return fmt.Errorf("fuse timeouts must not be negative")
	}
	if c.Fuse.RequestTimeout <= 0 {
		return fmt.Errorf("fuse request_timeout must be positive")
	}
	if c.Backend.Endpoint == "" {
		return fmt.Errorf("backend endpoint must not be empty")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend timeout must be positive")
	}
	if c.Cache.Enabled {
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache ttl must be positive when the cache is enabled")
		}
		if c.Cache.MaxEntries <= 0 {
			return fmt.Errorf("cache max_entries must be positive when the cache is enabled")
		}
	}
	return nil
}

// parserFor picks the koanf parser by file extension.
func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Parser(), nil
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}
}
