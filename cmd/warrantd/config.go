package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/warrant/store/dial"
	"github.com/xraph/warrant/types"
)

// Config is the warrantd configuration file.
type Config struct {
	Store   dial.Config   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	Catalog string        `yaml:"catalog"`
	Sweep   SweepConfig   `yaml:"sweep"`
	Economy EconomyConfig `yaml:"economy"`
	Log     LogConfig     `yaml:"log"`
}

// RedisConfig enables the Redis capability backend when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// SweepConfig controls the background expiry sweep.
type SweepConfig struct {
	// Interval accepts compact durations such as "30s" or "1h30m".
	Interval string `yaml:"interval"`
	Disabled bool   `yaml:"disabled"`
	// FlightCapability names the capability whose expiry grounds the
	// subject. Its ".fly" suffix is matched too.
	FlightCapability string `yaml:"flight_capability"`
}

// EconomyConfig seeds the in-process wallet.
type EconomyConfig struct {
	Symbol          string `yaml:"symbol"`
	StartingBalance string `yaml:"starting_balance"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store:   dial.Config{Driver: dial.DriverMemory},
		Catalog: "catalog.yaml",
		Sweep: SweepConfig{
			Interval:         "30s",
			FlightCapability: "essentials.fly",
		},
		Economy: EconomyConfig{Symbol: "$", StartingBalance: "0"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads the file at path over the defaults. An empty path
// falls back to WARRANT_CONFIG, and to the defaults when that is unset too.
// Relative catalog and sqlite paths resolve against the file's directory.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("WARRANT_CONFIG")
	}
	if path == "" {
		return cfg, cfg.Validate()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expand(filepath.Dir(path))
	return cfg, cfg.Validate()
}

func (c *Config) expand(dir string) {
	c.Store.DSN = os.ExpandEnv(c.Store.DSN)
	c.Redis.Addr = os.ExpandEnv(c.Redis.Addr)
	c.Redis.Password = os.ExpandEnv(c.Redis.Password)
	c.Catalog = resolve(dir, os.ExpandEnv(c.Catalog))
	if strings.EqualFold(c.Store.Driver, dial.DriverSQLite) {
		c.Store.DSN = resolve(dir, c.Store.DSN)
	}
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Validate checks the fields that are parsed lazily.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.SweepInterval(); err != nil {
		errs = append(errs, fmt.Errorf("sweep.interval: %w", err))
	}
	if _, err := c.StartingBalance(); err != nil {
		errs = append(errs, fmt.Errorf("economy.starting_balance: %w", err))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Catalog == "" {
		errs = append(errs, errors.New("catalog: path is required"))
	}
	return errors.Join(errs...)
}

// SweepInterval parses Sweep.Interval.
func (c *Config) SweepInterval() (time.Duration, error) {
	if c.Sweep.Interval == "" {
		return 0, nil
	}
	d, err := types.ParseDuration(c.Sweep.Interval)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %q", c.Sweep.Interval)
	}
	return d, nil
}

// StartingBalance parses Economy.StartingBalance.
func (c *Config) StartingBalance() (types.Amount, error) {
	if c.Economy.StartingBalance == "" {
		return 0, nil
	}
	return types.ParseAmount(c.Economy.StartingBalance)
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	err := level.UnmarshalText([]byte(c.Log.Level))
	return level, err
}

// Logger builds the process logger.
func (c *Config) Logger() *slog.Logger {
	level, _ := c.LogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
