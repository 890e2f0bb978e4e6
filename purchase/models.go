// Package purchase holds the durable entitlement record and the contract of
// the store that persists it.
package purchase

import (
	"time"

	"github.com/google/uuid"
)

const (
	// Unsaved is the ID of a Purchase that has not been persisted.
	Unsaved int64 = -1
	// Unlimited marks a Purchase with no use limit.
	Unlimited = -1
)

// Purchase is one persisted entitlement. Rows are never deleted; they are
// deactivated once expired, exhausted, revoked or recorded for audit only.
type Purchase struct {
	ID            int64     `json:"id"`
	SubjectID     uuid.UUID `json:"subject_id"`
	ItemID        string    `json:"item_id"`
	PurchasedAt   time.Time `json:"purchased_at"`
	ExpiresAt     time.Time `json:"expires_at"` // zero: never expires
	RemainingUses int       `json:"remaining_uses"`
	Active        bool      `json:"active"`
}

// Precision is the resolution at which every store keeps timestamps.
const Precision = time.Millisecond

// New returns an unsaved Purchase. Times are truncated to Precision so a
// row reads back exactly as it was saved.
func New(subject uuid.UUID, itemID string, at, expiresAt time.Time, uses int, active bool) *Purchase {
	return &Purchase{
		ID:            Unsaved,
		SubjectID:     subject,
		ItemID:        itemID,
		PurchasedAt:   at.Truncate(Precision),
		ExpiresAt:     expiresAt.Truncate(Precision),
		RemainingUses: uses,
		Active:        active,
	}
}

// Saved reports whether the store has assigned an ID.
func (p *Purchase) Saved() bool { return p.ID != Unsaved && p.ID > 0 }

// Permanent reports whether the purchase never expires.
func (p *Purchase) Permanent() bool { return p.ExpiresAt.IsZero() }

// Expired reports whether the purchase has a passed expiry at now.
func (p *Purchase) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !p.ExpiresAt.After(now)
}

// HasUsesRemaining reports whether the purchase is unlimited or has
// finite uses left.
func (p *Purchase) HasUsesRemaining() bool {
	return p.RemainingUses == Unlimited || p.RemainingUses > 0
}

// Clone returns a copy safe to hand to other goroutines.
func (p *Purchase) Clone() *Purchase {
	c := *p
	return &c
}
