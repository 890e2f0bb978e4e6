// Package postgres implements store.Store on PostgreSQL through a pgx
// connection pool. Schema migrations run through bun/migrate.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/migrate"

	"github.com/xraph/warrant"
	"github.com/xraph/warrant/purchase"
	warrantstore "github.com/xraph/warrant/store"
)

// compile-time interface check
var _ warrantstore.Store = (*Store)(nil)

const (
	purchasesTable     = "warrant_purchases"
	migrationTable     = "warrant_migrations"
	migrationLockTable = "warrant_migration_locks"
)

// Store implements store.Store using PostgreSQL via pgx.
type Store struct {
	pg *pgxpool.Pool
}

// New creates a store over an existing pool. The caller keeps ownership of
// the pool only until Close.
func New(pg *pgxpool.Pool) *Store {
	return &Store{pg: pg}
}

// Open connects a new pool to dsn.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pg, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("warrant/postgres: connect: %w", err)
	}
	return New(pg), nil
}

// Pool returns the underlying pgx pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pg }

// Migrate applies the embedded schema migrations under an advisory lock
// table so concurrent nodes do not race.
func (s *Store) Migrate(ctx context.Context) error {
	sqldb := stdlib.OpenDBFromPool(s.pg)
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, Migrations,
		migrate.WithTableName(migrationTable),
		migrate.WithLocksTableName(migrationLockTable),
	)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("warrant/postgres: init migrations: %w", err)
	}
	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("warrant/postgres: lock migrations: %w", err)
	}
	defer migrator.Unlock(ctx) //nolint:errcheck // best-effort unlock

	if _, err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("warrant/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pg.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pg.Close()
	return nil
}

// ==================== Purchase Store ====================

func (s *Store) Save(ctx context.Context, p *purchase.Purchase) (int64, error) {
	r := toPurchaseRow(p)
	var id int64
	err := s.pg.QueryRow(ctx,
		`INSERT INTO `+purchasesTable+` (subject_id, item_id, purchased_at, expires_at, remaining_uses, active)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		r.SubjectID, r.ItemID, r.PurchasedAt, r.ExpiresAt, r.RemainingUses, r.Active,
	).Scan(&id)
	if err != nil {
		return purchase.Unsaved, fmt.Errorf("warrant/postgres: insert purchase: %w", err)
	}
	p.ID = id
	return id, nil
}

func (s *Store) FindBySubject(ctx context.Context, subject uuid.UUID) ([]*purchase.Purchase, error) {
	rows, err := s.pg.Query(ctx,
		`SELECT `+purchaseColumns+` FROM `+purchasesTable+` WHERE subject_id = $1 ORDER BY id ASC`,
		subject,
	)
	if err != nil {
		return nil, fmt.Errorf("warrant/postgres: list purchases: %w", err)
	}
	defer rows.Close()

	var out []*purchase.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("warrant/postgres: scan purchase: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("warrant/postgres: list purchases: %w", err)
	}
	return out, nil
}

func (s *Store) FindByID(ctx context.Context, id int64) (*purchase.Purchase, error) {
	p, err := scanPurchase(s.pg.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM `+purchasesTable+` WHERE id = $1`,
		id,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %d", warrant.ErrPurchaseNotFound, id)
		}
		return nil, fmt.Errorf("warrant/postgres: get purchase: %w", err)
	}
	return p, nil
}

func (s *Store) Deactivate(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pg.Exec(ctx,
		`UPDATE `+purchasesTable+` SET active = FALSE WHERE id = $1`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("warrant/postgres: deactivate purchase: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) UpdateRemainingUses(ctx context.Context, id int64, remaining int) (bool, error) {
	tag, err := s.pg.Exec(ctx,
		`UPDATE `+purchasesTable+` SET remaining_uses = $2 WHERE id = $1`,
		id, int32(remaining),
	)
	if err != nil {
		return false, fmt.Errorf("warrant/postgres: update remaining uses: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
