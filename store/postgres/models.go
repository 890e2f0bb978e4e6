package postgres

import (
	"time"

	"github.com/google/uuid"

	"github.com/xraph/warrant/purchase"
)

const purchaseColumns = `id, subject_id, item_id, purchased_at, expires_at, remaining_uses, active`

// purchaseRow mirrors a warrant_purchases row. A NULL expires_at is a
// permanent purchase.
type purchaseRow struct {
	ID            int64
	SubjectID     uuid.UUID
	ItemID        string
	PurchasedAt   time.Time
	ExpiresAt     *time.Time
	RemainingUses int32
	Active        bool
}

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPurchase(sc scanner) (*purchase.Purchase, error) {
	var r purchaseRow
	if err := sc.Scan(&r.ID, &r.SubjectID, &r.ItemID, &r.PurchasedAt, &r.ExpiresAt, &r.RemainingUses, &r.Active); err != nil {
		return nil, err
	}
	return fromPurchaseRow(&r), nil
}

func toPurchaseRow(p *purchase.Purchase) *purchaseRow {
	r := &purchaseRow{
		SubjectID:     p.SubjectID,
		ItemID:        p.ItemID,
		PurchasedAt:   p.PurchasedAt.UTC(),
		RemainingUses: int32(p.RemainingUses),
		Active:        p.Active,
	}
	if !p.ExpiresAt.IsZero() {
		t := p.ExpiresAt.UTC()
		r.ExpiresAt = &t
	}
	return r
}

func fromPurchaseRow(r *purchaseRow) *purchase.Purchase {
	p := &purchase.Purchase{
		ID:            r.ID,
		SubjectID:     r.SubjectID,
		ItemID:        r.ItemID,
		PurchasedAt:   r.PurchasedAt.UTC(),
		RemainingUses: int(r.RemainingUses),
		Active:        r.Active,
	}
	if r.ExpiresAt != nil {
		p.ExpiresAt = r.ExpiresAt.UTC()
	}
	return p
}
