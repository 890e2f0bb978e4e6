// Package catalog describes the purchasable items an entitlement engine
// sells. Items are immutable once loaded.
package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/xraph/warrant/types"
)

// Kind selects the activation strategy for an item.
type Kind string

const (
	// KindTimed grants a capability until a fixed expiry.
	KindTimed Kind = "timed_permission"
	// KindLimited allows an action a fixed number of times.
	KindLimited Kind = "limited_command"
	// KindPermanent grants a capability with no expiry.
	KindPermanent Kind = "permanent_permission"
	// KindOneShot runs an action once at purchase time.
	KindOneShot Kind = "one_time_command"
	// KindResourceLimit raises a quota administered by another system.
	KindResourceLimit Kind = "resource_limit"
)

// ParseKind normalises a kind name. "home_slot" is accepted as an alias
// for KindResourceLimit.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindTimed, KindLimited, KindPermanent, KindOneShot, KindResourceLimit:
		return k, nil
	case "home_slot":
		return KindResourceLimit, nil
	default:
		return "", fmt.Errorf("catalog: unknown item kind %q", s)
	}
}

// GrantsCapability reports whether items of this kind attach a capability.
func (k Kind) GrantsCapability() bool {
	return k == KindTimed || k == KindPermanent
}

// AuditOnly reports whether purchases of this kind are recorded inactive.
func (k Kind) AuditOnly() bool {
	return k == KindOneShot || k == KindResourceLimit
}

// Item is a catalog entry.
type Item struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Price      types.Amount  `json:"price"`
	Kind       Kind          `json:"kind"`
	Duration   time.Duration `json:"duration"`
	Uses       int           `json:"uses"`
	Capability string        `json:"capability,omitempty"`
	Action     string        `json:"action,omitempty"`
}

// Validate checks the fields required by the item's kind. Duration and use
// counts are not checked here: the engine reports them per purchase.
func (it Item) Validate() error {
	if it.ID == "" {
		return fmt.Errorf("catalog: item has empty id")
	}
	if it.Price.IsNegative() {
		return fmt.Errorf("catalog: item %s: negative price %s", it.ID, it.Price)
	}
	if _, err := ParseKind(string(it.Kind)); err != nil {
		return fmt.Errorf("catalog: item %s: %w", it.ID, err)
	}
	if it.Kind.GrantsCapability() && it.Capability == "" {
		return fmt.Errorf("catalog: item %s: kind %s requires a capability", it.ID, it.Kind)
	}
	if (it.Kind == KindLimited || it.Kind == KindOneShot) && it.Action == "" {
		return fmt.Errorf("catalog: item %s: kind %s requires an action", it.ID, it.Kind)
	}
	return nil
}

// Provider resolves item ids.
type Provider interface {
	Lookup(itemID string) (Item, bool)
	Items() []Item
}
