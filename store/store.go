// Package store defines the aggregate persistence interface of warrant.
// Each backend (memory, sqlite, postgres, mongo) implements it in a
// subpackage.
package store

import (
	"context"

	"github.com/xraph/warrant/purchase"
)

// Store is the unified storage interface: the purchase contract plus the
// lifecycle methods the engine drives.
type Store interface {
	purchase.Store

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error
}
