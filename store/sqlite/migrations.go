package sqlite

import (
	"embed"
	"io/fs"

	"github.com/uptrace/bun/migrate"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrations is the bun/migrate registry for the SQLite store.
var Migrations = migrate.NewMigrations()

func init() {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		panic(err)
	}
	if err := Migrations.Discover(sub); err != nil {
		panic(err)
	}
}
