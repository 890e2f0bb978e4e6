package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/warrant/capability"
	"github.com/xraph/warrant/purchase"
	"github.com/xraph/warrant/sweep"
	"github.com/xraph/warrant/types"
)

// DefaultTimeout bounds a single plugin call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onPurchased           []OnPurchased
	onPurchaseFailed      []OnPurchaseFailed
	onDebitFailed         []OnDebitFailed
	onCapabilityRevoked   []OnCapabilityRevoked
	onCapabilityExpired   []OnCapabilityExpired
	onConsumed            []OnConsumed
	onConsumableExhausted []OnConsumableExhausted
	onSubjectConnected    []OnSubjectConnected
	onSubjectDisconnected []OnSubjectDisconnected
	onSweepCompleted      []OnSweepCompleted
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call plugin timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnPurchased); ok {
		r.onPurchased = append(r.onPurchased, v)
	}
	if v, ok := p.(OnPurchaseFailed); ok {
		r.onPurchaseFailed = append(r.onPurchaseFailed, v)
	}
	if v, ok := p.(OnDebitFailed); ok {
		r.onDebitFailed = append(r.onDebitFailed, v)
	}
	if v, ok := p.(OnCapabilityRevoked); ok {
		r.onCapabilityRevoked = append(r.onCapabilityRevoked, v)
	}
	if v, ok := p.(OnCapabilityExpired); ok {
		r.onCapabilityExpired = append(r.onCapabilityExpired, v)
	}
	if v, ok := p.(OnConsumed); ok {
		r.onConsumed = append(r.onConsumed, v)
	}
	if v, ok := p.(OnConsumableExhausted); ok {
		r.onConsumableExhausted = append(r.onConsumableExhausted, v)
	}
	if v, ok := p.(OnSubjectConnected); ok {
		r.onSubjectConnected = append(r.onSubjectConnected, v)
	}
	if v, ok := p.(OnSubjectDisconnected); ok {
		r.onSubjectDisconnected = append(r.onSubjectDisconnected, v)
	}
	if v, ok := p.(OnSweepCompleted); ok {
		r.onSweepCompleted = append(r.onSweepCompleted, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnPurchased)(nil)).Elem(), "OnPurchased")
	checkInterface(reflect.TypeOf((*OnPurchaseFailed)(nil)).Elem(), "OnPurchaseFailed")
	checkInterface(reflect.TypeOf((*OnDebitFailed)(nil)).Elem(), "OnDebitFailed")
	checkInterface(reflect.TypeOf((*OnCapabilityRevoked)(nil)).Elem(), "OnCapabilityRevoked")
	checkInterface(reflect.TypeOf((*OnCapabilityExpired)(nil)).Elem(), "OnCapabilityExpired")
	checkInterface(reflect.TypeOf((*OnConsumed)(nil)).Elem(), "OnConsumed")
	checkInterface(reflect.TypeOf((*OnConsumableExhausted)(nil)).Elem(), "OnConsumableExhausted")
	checkInterface(reflect.TypeOf((*OnSubjectConnected)(nil)).Elem(), "OnSubjectConnected")
	checkInterface(reflect.TypeOf((*OnSubjectDisconnected)(nil)).Elem(), "OnSubjectDisconnected")
	checkInterface(reflect.TypeOf((*OnSweepCompleted)(nil)).Elem(), "OnSweepCompleted")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, w interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, w)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPurchased emits a purchased event.
func (r *Registry) EmitPurchased(ctx context.Context, event PurchaseEvent) {
	r.mu.RLock()
	plugins := r.onPurchased
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPurchased(ctx, event)
		}); err != nil {
			r.logger.Warn("plugin OnPurchased failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPurchaseFailed emits a purchase failed event.
func (r *Registry) EmitPurchaseFailed(ctx context.Context, subject uuid.UUID, itemID string, err error) {
	r.mu.RLock()
	plugins := r.onPurchaseFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPurchaseFailed(ctx, subject, itemID, err)
		}); err != nil {
			r.logger.Warn("plugin OnPurchaseFailed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitDebitFailed emits a debit failed event.
func (r *Registry) EmitDebitFailed(ctx context.Context, subject uuid.UUID, amount types.Amount, err error) {
	r.mu.RLock()
	plugins := r.onDebitFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnDebitFailed(ctx, subject, amount, err)
		}); err != nil {
			r.logger.Warn("plugin OnDebitFailed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCapabilityRevoked emits a capability revoked event.
func (r *Registry) EmitCapabilityRevoked(ctx context.Context, subject uuid.UUID, capability string, purchaseID int64) {
	r.mu.RLock()
	plugins := r.onCapabilityRevoked
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCapabilityRevoked(ctx, subject, capability, purchaseID)
		}); err != nil {
			r.logger.Warn("plugin OnCapabilityRevoked failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCapabilityExpired emits a capability expired event.
func (r *Registry) EmitCapabilityExpired(ctx context.Context, expired capability.TimedCapability) {
	r.mu.RLock()
	plugins := r.onCapabilityExpired
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCapabilityExpired(ctx, expired)
		}); err != nil {
			r.logger.Warn("plugin OnCapabilityExpired failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitConsumed emits a consumed event.
func (r *Registry) EmitConsumed(ctx context.Context, p *purchase.Purchase, action string) {
	r.mu.RLock()
	plugins := r.onConsumed
	r.mu.RUnlock()

	for _, pl := range plugins {
		if err := r.callWithTimeout(ctx, pl.Name(), func() error {
			return pl.OnConsumed(ctx, p, action)
		}); err != nil {
			r.logger.Warn("plugin OnConsumed failed",
				"plugin", pl.Name(),
				"error", err,
			)
		}
	}
}

// EmitConsumableExhausted emits a consumable exhausted event.
func (r *Registry) EmitConsumableExhausted(ctx context.Context, p *purchase.Purchase) {
	r.mu.RLock()
	plugins := r.onConsumableExhausted
	r.mu.RUnlock()

	for _, pl := range plugins {
		if err := r.callWithTimeout(ctx, pl.Name(), func() error {
			return pl.OnConsumableExhausted(ctx, p)
		}); err != nil {
			r.logger.Warn("plugin OnConsumableExhausted failed",
				"plugin", pl.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubjectConnected emits a subject connected event.
func (r *Registry) EmitSubjectConnected(ctx context.Context, subject uuid.UUID, restored, expired int) {
	r.mu.RLock()
	plugins := r.onSubjectConnected
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubjectConnected(ctx, subject, restored, expired)
		}); err != nil {
			r.logger.Warn("plugin OnSubjectConnected failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubjectDisconnected emits a subject disconnected event.
func (r *Registry) EmitSubjectDisconnected(ctx context.Context, subject uuid.UUID) {
	r.mu.RLock()
	plugins := r.onSubjectDisconnected
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubjectDisconnected(ctx, subject)
		}); err != nil {
			r.logger.Warn("plugin OnSubjectDisconnected failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSweepCompleted emits a sweep completed event.
func (r *Registry) EmitSweepCompleted(ctx context.Context, report sweep.Report) {
	r.mu.RLock()
	plugins := r.onSweepCompleted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSweepCompleted(ctx, report)
		}); err != nil {
			r.logger.Warn("plugin OnSweepCompleted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the entitlement pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
