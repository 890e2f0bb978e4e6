// Package extension provides the Forge extension adapter for warrant.
//
// It implements the forge.Extension interface to integrate warrant
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.warrant" or "warrant" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/warrant"
	"github.com/xraph/warrant/capability/redisperm"
	"github.com/xraph/warrant/catalog"
	"github.com/xraph/warrant/economy"
	"github.com/xraph/warrant/store"
	"github.com/xraph/warrant/store/dial"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "warrant"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Entitlement lifecycle engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts warrant as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config      Config
	engine      *warrant.Warrant
	store       store.Store
	catalog     catalog.Provider
	economy     economy.Provider
	redis       *redis.Client
	warrantOpts []warrant.Option
}

// New creates a new warrant Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying warrant instance.
// This is nil until Register is called.
func (e *Extension) Engine() *warrant.Warrant { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the warrant engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.economy == nil {
		return errors.New("warrant: extension requires an economy provider (WithEconomy)")
	}

	if e.catalog == nil {
		if e.config.CatalogPath == "" {
			return errors.New("warrant: extension requires a catalog (WithCatalog or catalog_path)")
		}
		items, err := catalog.LoadFile(e.config.CatalogPath)
		if err != nil {
			return fmt.Errorf("warrant: load catalog: %w", err)
		}
		e.catalog = items
	}

	if e.store == nil {
		s, err := dial.Open(context.Background(), e.config.Store)
		if err != nil {
			return err
		}
		e.store = s
	}

	eng := warrant.New(e.store, e.catalog, e.economy, e.buildWarrantOpts()...)
	e.engine = eng

	return vessel.Provide(fapp.Container(), func() (*warrant.Warrant, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("warrant: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(ctx context.Context) error {
	defer e.MarkStopped()

	var errs warrant.MultiError
	if e.engine != nil {
		errs.Add(e.engine.Stop(ctx))
	}
	if e.redis != nil {
		errs.Add(e.redis.Close())
	}
	return errs.ErrorOrNil()
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("warrant: store not initialized")
	}
	if err := e.store.Ping(ctx); err != nil {
		return err
	}
	if e.redis != nil {
		return e.redis.Ping(ctx).Err()
	}
	return nil
}

// buildWarrantOpts constructs warrant.Option values from the resolved config.
func (e *Extension) buildWarrantOpts() []warrant.Option {
	opts := make([]warrant.Option, 0, len(e.warrantOpts)+4)

	if e.config.SweepInterval > 0 {
		opts = append(opts, warrant.WithSweepInterval(e.config.SweepInterval))
	}
	if e.config.DisableSweep {
		opts = append(opts, warrant.WithoutSweep())
	}
	if e.config.DisableMigrate {
		opts = append(opts, warrant.WithoutMigrate())
	}

	if e.config.Redis.Addr != "" {
		e.redis = redis.NewClient(&redis.Options{
			Addr:     e.config.Redis.Addr,
			Password: e.config.Redis.Password,
			DB:       e.config.Redis.DB,
		})
		var ropts []redisperm.Option
		if e.config.Redis.Prefix != "" {
			ropts = append(ropts, redisperm.WithPrefix(e.config.Redis.Prefix))
		}
		opts = append(opts, warrant.WithRichBackend(redisperm.New(e.redis, ropts...)))
	}

	// Pass-through options last so they win.
	opts = append(opts, e.warrantOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("warrant: configuration is required but not found in config files; " +
				"ensure 'extensions.warrant' or 'warrant' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("warrant: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("disable_sweep", e.config.DisableSweep),
		forge.F("sweep_interval", e.config.SweepInterval),
		forge.F("catalog_path", e.config.CatalogPath),
		forge.F("store_driver", e.config.Store.Driver),
		forge.F("redis", e.config.Redis.Addr != ""),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.warrant", "warrant"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("warrant: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("warrant: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = defaults.Store.Driver
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableSweep {
		yamlConfig.DisableSweep = true
	}

	if yamlConfig.CatalogPath == "" {
		yamlConfig.CatalogPath = programmaticConfig.CatalogPath
	}
	if yamlConfig.Store.Driver == "" && yamlConfig.Store.DSN == "" {
		yamlConfig.Store = programmaticConfig.Store
	}
	if yamlConfig.Redis.Addr == "" {
		yamlConfig.Redis = programmaticConfig.Redis
	}
	if yamlConfig.SweepInterval == 0 && programmaticConfig.SweepInterval != 0 {
		yamlConfig.SweepInterval = programmaticConfig.SweepInterval
	}

	return mergeWithDefaults(yamlConfig)
}
