// Package plugin provides an extensible plugin system for Warrant.
// Plugins can hook into entitlement lifecycle events to extend functionality.
package plugin

import (
	"context"

	"github.com/google/uuid"

	"github.com/xraph/warrant/capability"
	"github.com/xraph/warrant/catalog"
	"github.com/xraph/warrant/id"
	"github.com/xraph/warrant/purchase"
	"github.com/xraph/warrant/sweep"
	"github.com/xraph/warrant/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// PurchaseEvent describes an activated purchase.
type PurchaseEvent struct {
	ReceiptID id.ID
	SubjectID uuid.UUID
	Item      catalog.Item
	Purchase  *purchase.Purchase
	// Given is true for operator grants that bypassed the economy.
	Given bool
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, w interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnPurchased is called after a purchase has been activated.
type OnPurchased interface {
	Plugin
	OnPurchased(ctx context.Context, event PurchaseEvent) error
}

// OnPurchaseFailed is called when a purchase is rejected or fails.
type OnPurchaseFailed interface {
	Plugin
	OnPurchaseFailed(ctx context.Context, subject uuid.UUID, itemID string, err error) error
}

// OnDebitFailed is called when the economy could not be debited after a
// successful activation. The activation stands.
type OnDebitFailed interface {
	Plugin
	OnDebitFailed(ctx context.Context, subject uuid.UUID, amount types.Amount, err error) error
}

// ──────────────────────────────────────────────────
// Capability hooks
// ──────────────────────────────────────────────────

// OnCapabilityRevoked is called when an operator revokes a capability.
type OnCapabilityRevoked interface {
	Plugin
	OnCapabilityRevoked(ctx context.Context, subject uuid.UUID, capability string, purchaseID int64) error
}

// OnCapabilityExpired is called when a timed capability reaches its
// deadline and is revoked.
type OnCapabilityExpired interface {
	Plugin
	OnCapabilityExpired(ctx context.Context, expired capability.TimedCapability) error
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnConsumed is called after one use of a limited grant is spent.
type OnConsumed interface {
	Plugin
	OnConsumed(ctx context.Context, p *purchase.Purchase, action string) error
}

// OnConsumableExhausted is called when a limited grant has no uses left.
type OnConsumableExhausted interface {
	Plugin
	OnConsumableExhausted(ctx context.Context, p *purchase.Purchase) error
}

// ──────────────────────────────────────────────────
// Session hooks
// ──────────────────────────────────────────────────

// OnSubjectConnected is called after a subject's entitlements are loaded.
type OnSubjectConnected interface {
	Plugin
	OnSubjectConnected(ctx context.Context, subject uuid.UUID, restored, expired int) error
}

// OnSubjectDisconnected is called after a subject's session state is dropped.
type OnSubjectDisconnected interface {
	Plugin
	OnSubjectDisconnected(ctx context.Context, subject uuid.UUID) error
}

// ──────────────────────────────────────────────────
// Sweep hooks
// ──────────────────────────────────────────────────

// OnSweepCompleted is called after every expiry sweep.
type OnSweepCompleted interface {
	Plugin
	OnSweepCompleted(ctx context.Context, report sweep.Report) error
}
