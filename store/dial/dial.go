// Package dial opens a store.Store backend from a driver name and DSN so
// configuration-driven hosts do not hard-code a backend.
package dial

import (
	"context"
	"fmt"
	"strings"

	"github.com/xraph/warrant/store"
	"github.com/xraph/warrant/store/memory"
	"github.com/xraph/warrant/store/mongo"
	"github.com/xraph/warrant/store/postgres"
	"github.com/xraph/warrant/store/sqlite"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// DefaultMongoDatabase is used when Config.Database is empty.
const DefaultMongoDatabase = "warrant"

// Config selects and locates a backend.
type Config struct {
	// Driver is one of memory, sqlite, postgres or mongo. Empty means memory.
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// DSN is a file path for sqlite, a connection string for postgres and
	// a URI for mongo.
	DSN string `json:"dsn" mapstructure:"dsn" yaml:"dsn"`

	// Database names the mongo database.
	Database string `json:"database" mapstructure:"database" yaml:"database"`
}

// Open constructs the configured backend. It does not migrate.
func Open(ctx context.Context, cfg Config) (store.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver != "" && driver != DriverMemory && cfg.DSN == "" {
		return nil, fmt.Errorf("warrant/dial: driver %q requires a dsn", driver)
	}

	switch driver {
	case "", DriverMemory:
		return memory.New(), nil
	case DriverSQLite, "sqlite3":
		return sqlite.Open(cfg.DSN)
	case DriverPostgres, "pg", "postgresql":
		return postgres.Open(ctx, cfg.DSN)
	case DriverMongo, "mongodb":
		database := cfg.Database
		if database == "" {
			database = DefaultMongoDatabase
		}
		return mongo.Open(cfg.DSN, database)
	default:
		return nil, fmt.Errorf("warrant/dial: unknown driver %q", cfg.Driver)
	}
}
