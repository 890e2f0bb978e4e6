package warrant

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xraph/warrant/catalog"
	"github.com/xraph/warrant/purchase"
)

// Verdict explains an authorization decision.
type Verdict string

const (
	// VerdictUngated means no limited item governs the action.
	VerdictUngated Verdict = "ungated"
	// VerdictCapability means the subject holds the governing capability.
	VerdictCapability Verdict = "capability"
	// VerdictConsumed means one limited use was spent.
	VerdictConsumed Verdict = "consumed"
	// VerdictDenied means neither a capability nor a use was available.
	VerdictDenied Verdict = "denied"
)

// Decision is the result of Authorize.
type Decision struct {
	Allowed bool
	Verdict Verdict
	// ItemID is the governing item, empty when ungated.
	ItemID string
	// Purchase is the consumed purchase after the decrement.
	Purchase *purchase.Purchase
}

// Authorize decides whether subject may perform action. Actions governed by
// a limited item are allowed when the subject holds the item's capability,
// otherwise one use is consumed; without either they are denied. Actions
// no limited item governs are allowed.
func (w *Warrant) Authorize(ctx context.Context, subject SubjectID, action string) (Decision, error) {
	coord, err := w.ready()
	if err != nil {
		return Decision{}, err
	}

	name := actionName(action)
	governing := w.governing(name)
	if len(governing) == 0 {
		return Decision{Allowed: true, Verdict: VerdictUngated}, nil
	}

	for _, item := range governing {
		if item.Capability == "" {
			continue
		}
		ok, err := coord.Has(ctx, subject, item.Capability)
		if err != nil {
			return Decision{ItemID: item.ID, Verdict: VerdictDenied}, fmt.Errorf("%w: %w", ErrGrantFailed, err)
		}
		if ok {
			return Decision{Allowed: true, Verdict: VerdictCapability, ItemID: item.ID}, nil
		}
	}

	p, consumed, err := w.Consume(ctx, subject, name)
	if consumed {
		return Decision{Allowed: true, Verdict: VerdictConsumed, ItemID: p.ItemID, Purchase: p}, nil
	}
	return Decision{Verdict: VerdictDenied, ItemID: governing[0].ID}, err
}

// Consume spends one use of a limited grant matching action. A use that
// was spent but whose exhausted row could not be deactivated is logged and
// still reported as consumed.
func (w *Warrant) Consume(ctx context.Context, subject SubjectID, action string) (*purchase.Purchase, bool, error) {
	if _, err := w.ready(); err != nil {
		return nil, false, err
	}

	p, consumed, err := w.usage.Consume(ctx, subject, action)
	if err != nil && !consumed {
		return nil, false, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if err != nil {
		w.logger.Warn("consumed use not fully persisted", "subject", subject, "error", err)
	}
	if !consumed {
		return nil, false, nil
	}

	w.plugins.EmitConsumed(ctx, p, action)
	if p.RemainingUses == 0 {
		w.plugins.EmitConsumableExhausted(ctx, p)
	}
	return p, true, nil
}

// governing returns the limited items whose action is exactly name, in
// item-id order.
func (w *Warrant) governing(name string) []catalog.Item {
	if name == "" {
		return nil
	}
	var out []catalog.Item
	for _, item := range w.catalog.Items() {
		if item.Kind == catalog.KindLimited && strings.EqualFold(item.Action, name) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// actionName reduces a raw action line such as "/Heal Steve" to its
// lower-cased first word.
func actionName(action string) string {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(action), "/"))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}
