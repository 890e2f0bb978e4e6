// Package usage tracks the limited-use grants of connected subjects and
// consumes them as actions are performed.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/xraph/warrant/catalog"
	"github.com/xraph/warrant/purchase"
)

// Grant is a read-only view of one tracked limited-use grant.
type Grant struct {
	SubjectID uuid.UUID
	ItemID    string
	Purchase  *purchase.Purchase
}

// entry owns the live Purchase of a grant. mu is held across the whole
// decrement-and-persist sequence of a consumption.
type entry struct {
	mu       sync.Mutex
	purchase *purchase.Purchase
	removed  bool
}

// Tracker holds at most one grant per (subject, item). Grants are session
// scoped: they are loaded on connect and dropped on disconnect.
type Tracker struct {
	store   purchase.Store
	catalog catalog.Provider
	logger  *slog.Logger

	mu     sync.RWMutex
	grants map[uuid.UUID]map[string]*entry
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New returns an empty Tracker.
func New(store purchase.Store, items catalog.Provider, opts ...Option) *Tracker {
	t := &Tracker{
		store:   store,
		catalog: items,
		logger:  slog.Default(),
		grants:  make(map[uuid.UUID]map[string]*entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add tracks p as the grant for its (subject, item), replacing any
// previous one.
func (t *Tracker) Add(p *purchase.Purchase) {
	t.mu.Lock()
	items, ok := t.grants[p.SubjectID]
	if !ok {
		items = make(map[string]*entry)
		t.grants[p.SubjectID] = items
	}
	old := items[p.ItemID]
	items[p.ItemID] = &entry{purchase: p.Clone()}
	t.mu.Unlock()

	// Lock order is entry before tracker, so old is retired after t.mu
	// is released.
	if old != nil {
		old.mu.Lock()
		old.removed = true
		old.mu.Unlock()
	}
}

// Supersede tracks p in place of the grant for its (subject, item). Uses
// left on the grant it replaces are added to p before save persists it,
// and the replaced row is deactivated afterwards. When the subject has no
// live grant the newest active row in the store is replaced instead. If
// save fails nothing changes. It returns the replaced purchase, if any.
func (t *Tracker) Supersede(ctx context.Context, p *purchase.Purchase, save func(*purchase.Purchase) error) (*purchase.Purchase, error) {
	old := t.lockCurrent(p.SubjectID, p.ItemID)
	if old != nil {
		defer old.mu.Unlock()
	}

	var prior *purchase.Purchase
	switch {
	case old != nil:
		if !old.removed && old.purchase.Active {
			prior = old.purchase
		}
	default:
		found, err := t.newestActive(ctx, p.SubjectID, p.ItemID)
		if err != nil {
			return nil, err
		}
		prior = found
	}

	carried := 0
	if prior != nil && prior.RemainingUses > 0 {
		carried = prior.RemainingUses
	}
	p.RemainingUses += carried
	if err := save(p); err != nil {
		p.RemainingUses -= carried
		return nil, err
	}

	if prior != nil {
		prior.Active = false
		if _, err := t.store.Deactivate(ctx, prior.ID); err != nil {
			t.logger.Warn("usage: replaced purchase not deactivated",
				"purchase_id", prior.ID,
				"subject", p.SubjectID,
				"error", err,
			)
		}
	}
	if old != nil {
		old.removed = true
	}

	t.mu.Lock()
	items, ok := t.grants[p.SubjectID]
	if !ok {
		items = make(map[string]*entry)
		t.grants[p.SubjectID] = items
	}
	items[p.ItemID] = &entry{purchase: p.Clone()}
	t.mu.Unlock()

	if prior == nil {
		return nil, nil
	}
	return prior.Clone(), nil
}

// lockCurrent locks and returns the tracked entry for (subject, itemID),
// retrying until the locked entry is still the tracked one.
func (t *Tracker) lockCurrent(subject uuid.UUID, itemID string) *entry {
	for {
		t.mu.RLock()
		e := t.grants[subject][itemID]
		t.mu.RUnlock()
		if e == nil {
			return nil
		}

		e.mu.Lock()
		t.mu.RLock()
		current := t.grants[subject][itemID] == e
		t.mu.RUnlock()
		if current {
			return e
		}
		e.mu.Unlock()
	}
}

func (t *Tracker) newestActive(ctx context.Context, subject uuid.UUID, itemID string) (*purchase.Purchase, error) {
	rows, err := t.store.FindBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("usage: load purchases: %w", err)
	}
	for i := len(rows) - 1; i >= 0; i-- {
		if r := rows[i]; r.Active && r.ItemID == itemID && r.RemainingUses > 0 {
			return r, nil
		}
	}
	return nil, nil
}

// Remove stops tracking the grant for (subject, itemID). A consumption in
// progress on it completes; later ones never see it.
func (t *Tracker) Remove(subject uuid.UUID, itemID string) {
	t.mu.Lock()
	e := t.detach(subject, itemID)
	t.mu.Unlock()

	if e != nil {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
}

// detach unlinks the entry. Callers hold t.mu.
func (t *Tracker) detach(subject uuid.UUID, itemID string) *entry {
	items, ok := t.grants[subject]
	if !ok {
		return nil
	}
	e := items[itemID]
	delete(items, itemID)
	if len(items) == 0 {
		delete(t.grants, subject)
	}
	return e
}

// removeEntry unlinks e only if it is still the tracked entry.
func (t *Tracker) removeEntry(subject uuid.UUID, itemID string, e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.grants[subject][itemID] == e {
		t.detach(subject, itemID)
	}
}

// Has reports whether a grant is tracked for (subject, itemID).
func (t *Tracker) Has(subject uuid.UUID, itemID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.grants[subject][itemID]
	return ok
}

// Grants returns subject's grants ordered by item id.
func (t *Tracker) Grants(subject uuid.UUID) []Grant {
	var out []Grant
	for _, c := range t.candidates(subject) {
		c.entry.mu.Lock()
		out = append(out, Grant{
			SubjectID: subject,
			ItemID:    c.itemID,
			Purchase:  c.entry.purchase.Clone(),
		})
		c.entry.mu.Unlock()
	}
	return out
}

// DropSubject forgets every grant of subject.
func (t *Tracker) DropSubject(subject uuid.UUID) {
	t.mu.Lock()
	items := t.grants[subject]
	delete(t.grants, subject)
	t.mu.Unlock()

	for _, e := range items {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
}

// CanConsume reports whether subject holds a grant with uses left whose
// item's action template prefixes action.
func (t *Tracker) CanConsume(subject uuid.UUID, action string) bool {
	for _, c := range t.candidates(subject) {
		if !t.matches(c.itemID, action) {
			continue
		}
		c.entry.mu.Lock()
		ok := !c.entry.removed && c.entry.purchase.HasUsesRemaining()
		c.entry.mu.Unlock()
		if ok {
			return true
		}
	}
	return false
}

// Consume spends one use of the first matching grant, in item-id order.
// It returns a copy of the purchase after the decrement and whether a use
// was spent. When the new count cannot be persisted the in-memory count is
// restored and the error returned. A grant that reaches zero is
// deactivated and removed; if only the deactivation fails the use still
// counts and the error is returned alongside consumed == true.
func (t *Tracker) Consume(ctx context.Context, subject uuid.UUID, action string) (*purchase.Purchase, bool, error) {
	for _, c := range t.candidates(subject) {
		if !t.matches(c.itemID, action) {
			continue
		}
		p, consumed, err := t.consume(ctx, subject, c.itemID, c.entry)
		if consumed || err != nil {
			return p, consumed, err
		}
	}
	return nil, false, nil
}

func (t *Tracker) consume(ctx context.Context, subject uuid.UUID, itemID string, e *entry) (*purchase.Purchase, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.purchase
	if e.removed || !p.Active || !p.HasUsesRemaining() {
		return nil, false, nil
	}
	if p.RemainingUses == purchase.Unlimited {
		return p.Clone(), true, nil
	}

	prev := p.RemainingUses
	p.RemainingUses--

	ok, err := t.store.UpdateRemainingUses(ctx, p.ID, p.RemainingUses)
	if err == nil && !ok {
		err = fmt.Errorf("usage: purchase %d vanished from store", p.ID)
	}
	if err != nil {
		p.RemainingUses = prev
		return nil, false, fmt.Errorf("usage: persist remaining uses of purchase %d: %w", p.ID, err)
	}

	if p.RemainingUses > 0 {
		return p.Clone(), true, nil
	}

	p.Active = false
	e.removed = true
	t.removeEntry(subject, itemID, e)

	if _, err := t.store.Deactivate(ctx, p.ID); err != nil {
		t.logger.Warn("usage: exhausted purchase not deactivated",
			"purchase_id", p.ID,
			"subject", subject,
			"error", err,
		)
		return p.Clone(), true, fmt.Errorf("usage: deactivate purchase %d: %w", p.ID, err)
	}
	return p.Clone(), true, nil
}

type candidate struct {
	itemID string
	entry  *entry
}

func (t *Tracker) candidates(subject uuid.UUID) []candidate {
	t.mu.RLock()
	out := make([]candidate, 0, len(t.grants[subject]))
	for itemID, e := range t.grants[subject] {
		out = append(out, candidate{itemID: itemID, entry: e})
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].itemID < out[j].itemID })
	return out
}

func (t *Tracker) matches(itemID, action string) bool {
	item, ok := t.catalog.Lookup(itemID)
	if !ok || item.Action == "" {
		return false
	}
	return strings.HasPrefix(strings.ToLower(action), strings.ToLower(item.Action))
}
