package purchase

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence contract for purchases. Implementations must be
// safe for concurrent use.
type Store interface {
	// Save inserts p, writes the assigned ID back into p and returns it.
	// IDs are unique and monotonically non-decreasing.
	Save(ctx context.Context, p *Purchase) (int64, error)

	// FindBySubject returns every purchase of subject ordered by ID.
	FindBySubject(ctx context.Context, subject uuid.UUID) ([]*Purchase, error)

	// FindByID returns the purchase or an error wrapping the store's
	// not-found sentinel.
	FindByID(ctx context.Context, id int64) (*Purchase, error)

	// Deactivate clears the active flag. It reports false when no row
	// has the ID.
	Deactivate(ctx context.Context, id int64) (bool, error)

	// UpdateRemainingUses sets the remaining use count. It reports false
	// when no row has the ID.
	UpdateRemainingUses(ctx context.Context, id int64, remaining int) (bool, error)
}

// Deactivator is the subset of Store used by components that only retire
// purchases.
type Deactivator interface {
	Deactivate(ctx context.Context, id int64) (bool, error)
}
