// Package sqlite implements store.Store on SQLite through bun, using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/migrate"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/xraph/warrant"
	"github.com/xraph/warrant/purchase"
	warrantstore "github.com/xraph/warrant/store"
)

// compile-time interface check
var _ warrantstore.Store = (*Store)(nil)

const (
	migrationTable     = "warrant_migrations"
	migrationLockTable = "warrant_migration_locks"
)

// Store implements store.Store using SQLite via bun.
type Store struct {
	db *bun.DB
}

// New creates a store over an existing bun database.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// Open opens the SQLite database at path. Writes are serialized over a
// single connection; readers wait on a busy timeout instead of failing.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("warrant/sqlite: open %s: %w", path, err)
	}
	sqldb.SetMaxOpenConns(1)
	return New(bun.NewDB(sqldb, sqlitedialect.New())), nil
}

// DB returns the underlying bun database for direct access.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	migrator := migrate.NewMigrator(s.db, Migrations,
		migrate.WithTableName(migrationTable),
		migrate.WithLocksTableName(migrationLockTable),
	)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("warrant/sqlite: init migrations: %w", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("warrant/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Purchase Store ====================

func (s *Store) Save(ctx context.Context, p *purchase.Purchase) (int64, error) {
	m := toPurchaseModel(p)
	if _, err := s.db.NewInsert().Model(m).Returning("id").Exec(ctx); err != nil {
		return purchase.Unsaved, fmt.Errorf("warrant/sqlite: insert purchase: %w", err)
	}
	p.ID = m.ID
	return m.ID, nil
}

func (s *Store) FindBySubject(ctx context.Context, subject uuid.UUID) ([]*purchase.Purchase, error) {
	var models []purchaseModel
	err := s.db.NewSelect().
		Model(&models).
		Where("subject_id = ?", subject.String()).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("warrant/sqlite: list purchases: %w", err)
	}

	out := make([]*purchase.Purchase, 0, len(models))
	for i := range models {
		p, err := fromPurchaseModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("warrant/sqlite: purchase %d: %w", models[i].ID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) FindByID(ctx context.Context, id int64) (*purchase.Purchase, error) {
	m := new(purchaseModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %d", warrant.ErrPurchaseNotFound, id)
		}
		return nil, fmt.Errorf("warrant/sqlite: get purchase: %w", err)
	}
	return fromPurchaseModel(m)
}

func (s *Store) Deactivate(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*purchaseModel)(nil)).
		Set("active = ?", false).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("warrant/sqlite: deactivate purchase: %w", err)
	}
	return affected(res)
}

func (s *Store) UpdateRemainingUses(ctx context.Context, id int64, remaining int) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*purchaseModel)(nil)).
		Set("remaining_uses = ?", remaining).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("warrant/sqlite: update remaining uses: %w", err)
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
