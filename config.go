package permit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config carries the deployment-facing settings of the engine and its stores.
type Config struct {
	Redis        RedisConfig      `json:"redis" yaml:"redis"`
	Cache        CacheConfig      `json:"cache" yaml:"cache"`
	Listing      ListingConfig    `json:"listing" yaml:"listing"`
	DefaultScope string           `json:"default_scope" yaml:"default_scope"`
	LocalCache   LocalCacheConfig `json:"local_cache" yaml:"local_cache"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db" yaml:"db"`
}

type CacheConfig struct {
	// TTLSeconds bounds how long a refreshed record is served before the
	// next read falls through to the system of record.
	TTLSeconds int64 `json:"ttl_seconds" yaml:"ttl_seconds"`
	// RefreshTimeoutMS bounds the system-of-record call on a cache miss.
	RefreshTimeoutMS int64 `json:"refresh_timeout_ms" yaml:"refresh_timeout_ms"`
}

type ListingConfig struct {
	// FallbackCap bounds per-object evaluation when a policy has no filter
	// translation.
	FallbackCap int `json:"fallback_cap" yaml:"fallback_cap"`
}

type LocalCacheConfig struct {
	Enabled     bool  `json:"enabled" yaml:"enabled"`
	NumCounters int64 `json:"num_counters" yaml:"num_counters"`
	MaxCost     int64 `json:"max_cost" yaml:"max_cost"`
	BufferItems int64 `json:"buffer_items" yaml:"buffer_items"`
	TTLSeconds  int64 `json:"ttl_seconds" yaml:"ttl_seconds"`
}

// DefaultConfig returns the settings a bare deployment starts from.
func DefaultConfig() *Config {
	return &Config{
		Redis: RedisConfig{Addr: "localhost:6379"},
		Cache: CacheConfig{
			TTLSeconds:       int64(DefaultAttributeTTL / time.Second),
			RefreshTimeoutMS: 2000,
		},
		Listing: ListingConfig{FallbackCap: 1000},
		LocalCache: LocalCacheConfig{
			NumCounters: 100_000,
			MaxCost:     10_000,
			BufferItems: 64,
			TTLSeconds:  30,
		},
	}
}

// TTL returns the cache TTL as a duration, defaulting when unset.
func (c *Config) TTL() time.Duration {
	if c.Cache.TTLSeconds <= 0 {
		return DefaultAttributeTTL
	}
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// RefreshTimeout returns the bounded timeout for system-of-record reads.
func (c *Config) RefreshTimeout() time.Duration {
	if c.Cache.RefreshTimeoutMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Cache.RefreshTimeoutMS) * time.Millisecond
}

// ConfigLoader loads configuration from various formats
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile picks the decoder from the file extension.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.LoadYAML(data)
	case ".json":
		return l.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
