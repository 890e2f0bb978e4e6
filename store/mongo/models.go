package mongo

import (
	"time"

	"github.com/google/uuid"

	"github.com/xraph/warrant/purchase"
)

type purchaseModel struct {
	ID            int64      `bson:"_id"`
	SubjectID     string     `bson:"subject_id"`
	ItemID        string     `bson:"item_id"`
	PurchasedAt   time.Time  `bson:"purchased_at"`
	ExpiresAt     *time.Time `bson:"expires_at,omitempty"`
	RemainingUses int        `bson:"remaining_uses"`
	Active        bool       `bson:"active"`
}

// counterModel holds the last ID handed out for a sequence.
type counterModel struct {
	ID  string `bson:"_id"`
	Seq int64  `bson:"seq"`
}

func toPurchaseModel(p *purchase.Purchase) *purchaseModel {
	m := &purchaseModel{
		ID:            p.ID,
		SubjectID:     p.SubjectID.String(),
		ItemID:        p.ItemID,
		PurchasedAt:   p.PurchasedAt.UTC(),
		RemainingUses: p.RemainingUses,
		Active:        p.Active,
	}
	if !p.ExpiresAt.IsZero() {
		t := p.ExpiresAt.UTC()
		m.ExpiresAt = &t
	}
	return m
}

func fromPurchaseModel(m *purchaseModel) (*purchase.Purchase, error) {
	subject, err := uuid.Parse(m.SubjectID)
	if err != nil {
		return nil, err
	}
	p := &purchase.Purchase{
		ID:            m.ID,
		SubjectID:     subject,
		ItemID:        m.ItemID,
		PurchasedAt:   m.PurchasedAt.UTC(),
		RemainingUses: m.RemainingUses,
		Active:        m.Active,
	}
	if m.ExpiresAt != nil {
		p.ExpiresAt = m.ExpiresAt.UTC()
	}
	return p, nil
}
