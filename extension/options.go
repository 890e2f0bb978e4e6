package extension

import (
	"time"

	"github.com/xraph/warrant"
	"github.com/xraph/warrant/catalog"
	"github.com/xraph/warrant/economy"
	"github.com/xraph/warrant/plugin"
	"github.com/xraph/warrant/store"
)

// Option configures the warrant Forge extension.
type Option func(*Extension)

// WithStore sets the store for the warrant engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithCatalog sets the item catalog provider.
func WithCatalog(c catalog.Provider) Option {
	return func(e *Extension) {
		e.catalog = c
	}
}

// WithEconomy sets the economy provider. It is required.
func WithEconomy(p economy.Provider) Option {
	return func(e *Extension) {
		e.economy = p
	}
}

// WithWarrantOption passes a warrant.Option through to the underlying engine.
func WithWarrantOption(opt warrant.Option) Option {
	return func(e *Extension) {
		e.warrantOpts = append(e.warrantOpts, opt)
	}
}

// WithPlugin registers a warrant plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.warrantOpts = append(e.warrantOpts, warrant.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithDisableSweep prevents the background expiry sweep from starting.
func WithDisableSweep() Option {
	return func(e *Extension) { e.config.DisableSweep = true }
}

// WithSweepInterval sets the expiry sweep cadence.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.SweepInterval = d }
}

// WithCatalogPath loads the item catalog from a YAML file.
func WithCatalogPath(path string) Option {
	return func(e *Extension) { e.config.CatalogPath = path }
}

// WithRedis enables the Redis capability backend.
func WithRedis(cfg RedisConfig) Option {
	return func(e *Extension) { e.config.Redis = cfg }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}
