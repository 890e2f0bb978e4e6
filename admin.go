package warrant

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/warrant/capability"
	"github.com/xraph/warrant/catalog"
	"github.com/xraph/warrant/plugin"
	"github.com/xraph/warrant/purchase"
	"github.com/xraph/warrant/types"
)

// ──────────────────────────────────────────────────
// Operator surface
// ──────────────────────────────────────────────────

// Give activates itemID for subject without checking or debiting funds.
func (w *Warrant) Give(ctx context.Context, subject SubjectID, itemID string) (*Entitlement, error) {
	coord, err := w.ready()
	if err != nil {
		return nil, err
	}

	item, ok := w.catalog.Lookup(itemID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}

	p, err := w.activate(ctx, coord, subject, item)
	if err != nil {
		return nil, err
	}

	ent := newEntitlement(item, p)
	w.plugins.EmitPurchased(ctx, plugin.PurchaseEvent{
		ReceiptID: ent.ReceiptID,
		SubjectID: subject,
		Item:      item,
		Purchase:  p,
		Given:     true,
	})
	w.logger.Info("item given", "subject", subject, "item", item.ID, "purchase_id", p.ID)
	return ent, nil
}

// RevokeItem retires subject's newest active purchase of itemID and removes
// the live state it backs. It returns ErrNotHeld when there is none.
func (w *Warrant) RevokeItem(ctx context.Context, subject SubjectID, itemID string) (*purchase.Purchase, error) {
	coord, err := w.ready()
	if err != nil {
		return nil, err
	}

	item, ok := w.catalog.Lookup(itemID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}

	purchases, err := w.store.FindBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("%w: load purchases: %w", ErrStorage, err)
	}
	var target *purchase.Purchase
	for i := len(purchases) - 1; i >= 0; i-- {
		if p := purchases[i]; p.Active && p.ItemID == itemID {
			target = p
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotHeld, itemID)
	}

	if !item.Kind.GrantsCapability() {
		if err := w.deactivate(ctx, target.ID); err != nil {
			return nil, err
		}
		w.usage.Remove(subject, itemID)
		target.Active = false
		return target, nil
	}

	next := successor(w.catalog, purchases, item.Capability, target.ID, w.clock.Now())
	err = coord.WithSubject(subject, func(sc *capability.Scope) error {
		snap, err := sc.Snapshot(ctx, item.Capability)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrGrantFailed, err)
		}

		switch {
		case next == nil:
			err = sc.Revoke(ctx, item.Capability)
			sc.Untrack(item.Capability)
		case next.Permanent():
			err = sc.Grant(ctx, item.Capability, time.Time{})
			sc.Untrack(item.Capability)
		default:
			err = sc.Grant(ctx, item.Capability, next.ExpiresAt)
			sc.Track(item.Capability, next.ExpiresAt, next.ID)
		}
		if err != nil {
			if rerr := sc.Restore(ctx, snap); rerr != nil {
				w.logger.Error("compensating restore failed", "subject", subject, "error", rerr)
			}
			return fmt.Errorf("%w: %w", ErrGrantFailed, err)
		}

		if err := w.deactivate(ctx, target.ID); err != nil {
			if rerr := sc.Restore(ctx, snap); rerr != nil {
				return MultiError{Errors: []error{err, fmt.Errorf("%w: compensate: %w", ErrGrantFailed, rerr)}}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	target.Active = false
	if next == nil {
		w.plugins.EmitCapabilityRevoked(ctx, subject, item.Capability, target.ID)
	}
	w.logger.Info("item revoked",
		"subject", subject,
		"item", itemID,
		"purchase_id", target.ID,
		"still_held", next != nil,
	)
	return target, nil
}

// successor returns the purchase that backs capability once the purchase
// retiring is gone: any active permanent purchase, else the newest active
// unexpired timed one. It returns nil when nothing does.
func successor(items catalog.Provider, purchases []*purchase.Purchase, capabilityName string, retiring int64, now time.Time) *purchase.Purchase {
	var timed *purchase.Purchase
	for i := len(purchases) - 1; i >= 0; i-- {
		p := purchases[i]
		if !p.Active || p.ID == retiring {
			continue
		}
		item, ok := items.Lookup(p.ItemID)
		if !ok || item.Capability != capabilityName {
			continue
		}
		switch item.Kind {
		case catalog.KindPermanent:
			return p
		case catalog.KindTimed:
			if timed == nil && !p.Expired(now) {
				timed = p
			}
		}
	}
	return timed
}

// Holding is one active purchase as reported by Holdings.
type Holding struct {
	Purchase *purchase.Purchase
	// Item is the zero value when the item left the catalog.
	Item catalog.Item
	// Remaining is the time left for purchases that expire.
	Remaining     time.Duration
	RemainingText string
}

// Holdings lists what a subject currently holds.
type Holdings struct {
	SubjectID SubjectID
	Purchases []Holding
	Timed     []capability.TimedCapability
}

// Holdings returns subject's active purchases and live timed capabilities.
func (w *Warrant) Holdings(ctx context.Context, subject SubjectID) (*Holdings, error) {
	coord, err := w.ready()
	if err != nil {
		return nil, err
	}

	purchases, err := w.store.FindBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("%w: load purchases: %w", ErrStorage, err)
	}

	now := w.clock.Now()
	h := &Holdings{SubjectID: subject, Timed: coord.Timed(subject)}
	for _, p := range purchases {
		if !p.Active {
			continue
		}
		item, _ := w.catalog.Lookup(p.ItemID)
		hold := Holding{Purchase: p, Item: item}
		if !p.Permanent() {
			if d := p.ExpiresAt.Sub(now); d > 0 {
				hold.Remaining = d
			}
			hold.RemainingText = types.FormatRemaining(p.ExpiresAt, now)
		}
		h.Purchases = append(h.Purchases, hold)
	}
	return h, nil
}
