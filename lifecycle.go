package warrant

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/warrant/capability"
	"github.com/xraph/warrant/catalog"
	"github.com/xraph/warrant/purchase"
)

// ConnectReport summarizes the live state rebuilt for a subject.
type ConnectReport struct {
	SubjectID SubjectID
	// Timed is the number of timed entries re-tracked from the store.
	Timed int
	// Limited is the number of limited-use grants reloaded.
	Limited int
	// Permanent is the number of permanent capabilities re-granted.
	Permanent int
	// Deactivated counts rows found expired or exhausted at load.
	Deactivated int
	// Skipped counts active rows whose item is no longer in the catalog.
	Skipped int
	// Restored and Expired come from capability reconciliation.
	Restored int
	Expired  int
}

// Connect rebuilds subject's live state from the store and reconciles its
// capabilities. Rows found expired or exhausted are deactivated on the way.
// Per-row failures are collected; the rest of the subject still loads.
func (w *Warrant) Connect(ctx context.Context, subject SubjectID) (*ConnectReport, error) {
	coord, err := w.ready()
	if err != nil {
		return nil, err
	}

	purchases, err := w.store.FindBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("%w: load purchases: %w", ErrStorage, err)
	}

	report := &ConnectReport{SubjectID: subject}
	now := w.clock.Now()
	permanent := permanentCapabilities(w.catalog, purchases)

	var errs MultiError
	for _, p := range purchases {
		if !p.Active {
			continue
		}
		item, ok := w.catalog.Lookup(p.ItemID)
		if !ok {
			report.Skipped++
			continue
		}

		switch item.Kind {
		case catalog.KindTimed:
			switch {
			case p.Expired(now):
				errs.Add(w.deactivate(ctx, p.ID))
				report.Deactivated++
			case permanent[item.Capability]:
				// A permanent purchase of the same capability outranks it.
			default:
				coord.Track(timedEntry(subject, item, p))
				report.Timed++
			}

		case catalog.KindLimited:
			if p.HasUsesRemaining() {
				w.usage.Add(p)
				report.Limited++
				continue
			}
			errs.Add(w.deactivate(ctx, p.ID))
			report.Deactivated++

		case catalog.KindPermanent:
			if err := coord.Grant(ctx, subject, item.Capability, time.Time{}); err != nil {
				errs.Add(fmt.Errorf("%w: %w", ErrGrantFailed, err))
				continue
			}
			report.Permanent++
		}
	}

	restored, expired, err := coord.ReconcileOnConnect(ctx, subject)
	report.Restored, report.Expired = restored, expired
	if err != nil {
		errs.Add(fmt.Errorf("%w: reconcile: %w", ErrGrantFailed, err))
	}

	w.plugins.EmitSubjectConnected(ctx, subject, restored, expired)
	w.logger.Debug("subject connected",
		"subject", subject,
		"timed", report.Timed,
		"limited", report.Limited,
		"permanent", report.Permanent,
		"deactivated", report.Deactivated,
	)
	return report, errs.ErrorOrNil()
}

// Disconnect drops subject's session-scoped state. Durable rows and the
// timed index are kept.
func (w *Warrant) Disconnect(ctx context.Context, subject SubjectID) error {
	coord, err := w.ready()
	if err != nil {
		return err
	}

	w.usage.DropSubject(subject)
	coord.Disconnect(subject)

	w.plugins.EmitSubjectDisconnected(ctx, subject)
	return nil
}

func (w *Warrant) deactivate(ctx context.Context, purchaseID int64) error {
	if _, err := w.store.Deactivate(ctx, purchaseID); err != nil {
		return fmt.Errorf("%w: deactivate purchase %d: %w", ErrStorage, purchaseID, err)
	}
	return nil
}

func permanentCapabilities(items catalog.Provider, purchases []*purchase.Purchase) map[string]bool {
	out := make(map[string]bool)
	for _, p := range purchases {
		if !p.Active {
			continue
		}
		if item, ok := items.Lookup(p.ItemID); ok && item.Kind == catalog.KindPermanent {
			out[item.Capability] = true
		}
	}
	return out
}

func timedEntry(subject SubjectID, item catalog.Item, p *purchase.Purchase) capability.TimedCapability {
	return capability.TimedCapability{
		SubjectID:  subject,
		Capability: item.Capability,
		ExpiresAt:  p.ExpiresAt,
		PurchaseID: p.ID,
	}
}
