package warrant

import (
	"time"

	"github.com/xraph/warrant/catalog"
	"github.com/xraph/warrant/id"
	"github.com/xraph/warrant/purchase"
	"github.com/xraph/warrant/types"
)

// Entitlement is the outcome of a successful purchase or grant.
type Entitlement struct {
	ReceiptID id.ID              `json:"receipt_id"`
	Purchase  *purchase.Purchase `json:"purchase"`
	Item      catalog.Item       `json:"item"`
	Summary   Summary            `json:"summary"`
	// Recorded is false when the action ran but its audit row could not
	// be saved. Purchase.ID is purchase.Unsaved then.
	Recorded bool `json:"recorded"`
}

// Summary carries the values a presentation layer needs to describe an
// entitlement. The engine formats nothing beyond DurationText.
type Summary struct {
	Kind         catalog.Kind  `json:"kind"`
	Duration     time.Duration `json:"duration,omitempty"`
	DurationText string        `json:"duration_text,omitempty"`
	ExpiresAt    time.Time     `json:"expires_at,omitempty"`
	Uses         int           `json:"uses,omitempty"`
	Permanent    bool          `json:"permanent,omitempty"`
	Price        types.Amount  `json:"price"`
}

func newEntitlement(item catalog.Item, p *purchase.Purchase) *Entitlement {
	s := Summary{Kind: item.Kind, Price: item.Price}
	switch item.Kind {
	case catalog.KindTimed:
		s.Duration = item.Duration
		s.DurationText = types.FormatLong(item.Duration)
		s.ExpiresAt = p.ExpiresAt
	case catalog.KindLimited, catalog.KindResourceLimit:
		s.Uses = item.Uses
	case catalog.KindPermanent:
		s.Permanent = true
	}

	return &Entitlement{
		ReceiptID: id.NewReceiptID(),
		Purchase:  p,
		Item:      item,
		Summary:   s,
		Recorded:  p.Saved(),
	}
}
