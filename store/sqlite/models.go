package sqlite

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/xraph/warrant/purchase"
)

type purchaseModel struct {
	bun.BaseModel `bun:"table:warrant_purchases"`

	ID            int64  `bun:"id,pk,autoincrement"`
	SubjectID     string `bun:"subject_id,notnull"`
	ItemID        string `bun:"item_id,notnull"`
	PurchasedAt   int64  `bun:"purchased_at,notnull"`
	ExpiresAt     int64  `bun:"expires_at,notnull"`
	RemainingUses int    `bun:"remaining_uses,notnull"`
	Active        bool   `bun:"active,notnull"`
}

func toPurchaseModel(p *purchase.Purchase) *purchaseModel {
	return &purchaseModel{
		SubjectID:     p.SubjectID.String(),
		ItemID:        p.ItemID,
		PurchasedAt:   toMillis(p.PurchasedAt),
		ExpiresAt:     toMillis(p.ExpiresAt),
		RemainingUses: p.RemainingUses,
		Active:        p.Active,
	}
}

func fromPurchaseModel(m *purchaseModel) (*purchase.Purchase, error) {
	subject, err := uuid.Parse(m.SubjectID)
	if err != nil {
		return nil, err
	}
	return &purchase.Purchase{
		ID:            m.ID,
		SubjectID:     subject,
		ItemID:        m.ItemID,
		PurchasedAt:   fromMillis(m.PurchasedAt),
		ExpiresAt:     fromMillis(m.ExpiresAt),
		RemainingUses: m.RemainingUses,
		Active:        m.Active,
	}, nil
}

// Timestamps are epoch milliseconds; 0 stands for the zero time.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
