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
// Purchase
// ──────────────────────────────────────────────────

// Purchase buys itemID for subject. Funds are checked first and debited
// only after the entitlement has been activated and persisted. A failed
// debit is logged and reported to plugins; the entitlement stands.
func (w *Warrant) Purchase(ctx context.Context, subject SubjectID, itemID string) (*Entitlement, error) {
	ent, err := w.purchase(ctx, subject, itemID)
	if err != nil {
		w.plugins.EmitPurchaseFailed(ctx, subject, itemID, err)
		return nil, err
	}

	w.plugins.EmitPurchased(ctx, plugin.PurchaseEvent{
		ReceiptID: ent.ReceiptID,
		SubjectID: subject,
		Item:      ent.Item,
		Purchase:  ent.Purchase,
	})
	return ent, nil
}

func (w *Warrant) purchase(ctx context.Context, subject SubjectID, itemID string) (*Entitlement, error) {
	coord, err := w.ready()
	if err != nil {
		return nil, err
	}

	item, ok := w.catalog.Lookup(itemID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}

	if err := w.checkFunds(ctx, subject, item); err != nil {
		return nil, err
	}

	p, err := w.activate(ctx, coord, subject, item)
	if err != nil {
		return nil, err
	}

	w.debit(ctx, subject, item.Price)

	w.logger.Info("purchase completed",
		"subject", subject,
		"item", item.ID,
		"kind", item.Kind,
		"purchase_id", p.ID,
	)
	return newEntitlement(item, p), nil
}

func (w *Warrant) checkFunds(ctx context.Context, subject SubjectID, item catalog.Item) error {
	ok, err := w.economy.HasFunds(ctx, subject, item.Price)
	if err != nil {
		return fmt.Errorf("%w: funds check: %w", ErrEconomy, err)
	}
	if ok {
		return nil
	}

	balance, err := w.economy.Balance(ctx, subject)
	if err != nil {
		w.logger.Warn("balance lookup failed", "subject", subject, "error", err)
	}
	return &InsufficientFundsError{ItemID: item.ID, Price: item.Price, Balance: balance}
}

func (w *Warrant) debit(ctx context.Context, subject SubjectID, amount types.Amount) {
	if amount.IsZero() {
		return
	}
	if err := w.economy.Debit(ctx, subject, amount); err != nil {
		w.logger.Error("debit failed after activation",
			"subject", subject,
			"amount", amount.String(),
			"error", err,
		)
		w.plugins.EmitDebitFailed(ctx, subject, amount, err)
	}
}

// ──────────────────────────────────────────────────
// Activation strategies
// ──────────────────────────────────────────────────

// activate applies item to subject. On success the grant is live, the row
// is persisted and its ID is known; on failure nothing is left behind.
func (w *Warrant) activate(ctx context.Context, coord *capability.Coordinator, subject SubjectID, item catalog.Item) (*purchase.Purchase, error) {
	switch item.Kind {
	case catalog.KindTimed:
		if item.Duration <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidDuration, item.ID)
		}
		return w.grantCapability(ctx, coord, subject, item, w.clock.Now().Add(item.Duration))
	case catalog.KindPermanent:
		return w.grantCapability(ctx, coord, subject, item, time.Time{})
	case catalog.KindLimited:
		return w.grantUses(ctx, subject, item)
	case catalog.KindOneShot:
		if w.dispatcher == nil {
			return nil, fmt.Errorf("%w: no dispatcher configured", ErrActionFailed)
		}
		if err := w.dispatcher.Execute(ctx, item.Action, subject); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrActionFailed, item.ID, err)
		}
		return w.recordAudit(ctx, subject, item), nil
	case catalog.KindResourceLimit:
		if w.quota == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoQuotaProvider, item.ID)
		}
		if err := w.quota.RaiseLimit(ctx, subject, item.Uses); err != nil {
			return nil, fmt.Errorf("%w: %s via %s: %w", ErrActionFailed, item.ID, w.quota.Name(), err)
		}
		return w.recordAudit(ctx, subject, item), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, item.Kind)
	}
}

// grantCapability runs the grant saga inside the subject scope: snapshot,
// grant, persist, track. A failed save restores the snapshot. A zero
// expiresAt grants permanently and clears any timed entry. A timed grant
// of a capability the subject holds permanently is only recorded.
func (w *Warrant) grantCapability(ctx context.Context, coord *capability.Coordinator, subject SubjectID, item catalog.Item, expiresAt time.Time) (*purchase.Purchase, error) {
	p := purchase.New(subject, item.ID, w.clock.Now(), expiresAt, purchase.Unlimited, true)
	expiresAt = p.ExpiresAt

	var superseded int64
	err := coord.WithSubject(subject, func(sc *capability.Scope) error {
		if !expiresAt.IsZero() {
			outranked, err := w.heldPermanently(ctx, subject, item.Capability)
			if err != nil {
				return err
			}
			if outranked {
				if _, err := w.store.Save(ctx, p); err != nil {
					return fmt.Errorf("%w: save purchase: %w", ErrStorage, err)
				}
				w.logger.Debug("timed grant outranked by permanent purchase",
					"subject", subject,
					"capability", item.Capability,
					"purchase_id", p.ID,
				)
				return nil
			}
		}

		snap, err := sc.Snapshot(ctx, item.Capability)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrGrantFailed, err)
		}

		if err := sc.Grant(ctx, item.Capability, expiresAt); err != nil {
			w.logger.Warn("capability grant failed",
				"subject", subject,
				"capability", item.Capability,
				"error", err,
			)
			return fmt.Errorf("%w: %w", ErrGrantFailed, err)
		}

		if _, err := w.store.Save(ctx, p); err != nil {
			saveErr := fmt.Errorf("%w: save purchase: %w", ErrStorage, err)
			if rerr := sc.Restore(ctx, snap); rerr != nil {
				w.logger.Error("compensating restore failed",
					"subject", subject,
					"capability", item.Capability,
					"error", rerr,
				)
				return MultiError{Errors: []error{
					saveErr,
					fmt.Errorf("%w: compensate: %w", ErrGrantFailed, rerr),
				}}
			}
			return saveErr
		}

		if snap.Tracked && snap.Entry.PurchaseID != p.ID {
			superseded = snap.Entry.PurchaseID
		}
		if expiresAt.IsZero() {
			sc.Untrack(item.Capability)
		} else {
			sc.Track(item.Capability, expiresAt, p.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The last grant wins; the purchase it replaced no longer backs a
	// live entry.
	if superseded > 0 {
		if _, err := w.store.Deactivate(ctx, superseded); err != nil {
			w.logger.Warn("superseded purchase not deactivated",
				"purchase_id", superseded,
				"error", err,
			)
		}
	}
	return p, nil
}

// heldPermanently reports whether subject has an active permanent purchase
// granting capability.
func (w *Warrant) heldPermanently(ctx context.Context, subject SubjectID, capabilityName string) (bool, error) {
	purchases, err := w.store.FindBySubject(ctx, subject)
	if err != nil {
		return false, fmt.Errorf("%w: load purchases: %w", ErrStorage, err)
	}
	return permanentCapabilities(w.catalog, purchases)[capabilityName], nil
}

// grantUses tracks a new limited grant. Uses left on a grant of the same
// item are carried into the new row and the old row is retired, so one
// row backs each live grant.
func (w *Warrant) grantUses(ctx context.Context, subject SubjectID, item catalog.Item) (*purchase.Purchase, error) {
	if item.Uses <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidUses, item.ID)
	}

	p := purchase.New(subject, item.ID, w.clock.Now(), time.Time{}, item.Uses, true)
	replaced, err := w.usage.Supersede(ctx, p, func(p *purchase.Purchase) error {
		_, err := w.store.Save(ctx, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: save purchase: %w", ErrStorage, err)
	}
	if replaced != nil {
		w.logger.Debug("limited grant stacked",
			"subject", subject,
			"item", item.ID,
			"replaced", replaced.ID,
			"remaining", p.RemainingUses,
		)
	}
	return p, nil
}

// recordAudit persists an inactive, already-expired row for an action
// that has run. The action cannot be undone, so a failed save is logged
// and the purchase still succeeds with an unsaved row.
func (w *Warrant) recordAudit(ctx context.Context, subject SubjectID, item catalog.Item) *purchase.Purchase {
	now := w.clock.Now()
	p := purchase.New(subject, item.ID, now, now, 0, false)
	if _, err := w.store.Save(ctx, p); err != nil {
		p.ID = purchase.Unsaved
		w.logger.Error("audit purchase row not saved",
			"subject", subject,
			"item", item.ID,
			"error", fmt.Errorf("%w: %w", ErrStorage, err),
		)
	}
	return p
}
