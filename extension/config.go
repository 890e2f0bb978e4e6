package extension

import (
	"time"

	"github.com/xraph/warrant/store/dial"
)

// Config holds the warrant extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.warrant" or "warrant" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DisableSweep prevents the background expiry sweep from starting.
	DisableSweep bool `json:"disable_sweep" mapstructure:"disable_sweep" yaml:"disable_sweep"`

	// SweepInterval is the cadence of the expiry sweep (default: 30s).
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// CatalogPath points at a YAML item catalog. Ignored when a catalog
	// provider was supplied with WithCatalog.
	CatalogPath string `json:"catalog_path" mapstructure:"catalog_path" yaml:"catalog_path"`

	// Store selects the persistence backend. Ignored when a store was
	// supplied with WithStore.
	Store dial.Config `json:"store" mapstructure:"store" yaml:"store"`

	// Redis enables the Redis capability backend when Addr is set.
	Redis RedisConfig `json:"redis" mapstructure:"redis" yaml:"redis"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// RedisConfig locates the Redis server backing capabilities.
type RedisConfig struct {
	Addr     string `json:"addr" mapstructure:"addr" yaml:"addr"`
	Password string `json:"password" mapstructure:"password" yaml:"password"`
	DB       int    `json:"db" mapstructure:"db" yaml:"db"`
	Prefix   string `json:"prefix" mapstructure:"prefix" yaml:"prefix"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval: 30 * time.Second,
		Store:         dial.Config{Driver: dial.DriverMemory},
	}
}
