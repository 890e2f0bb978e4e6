// Package observability provides a metrics extension for warrant that
// records lifecycle event counts through a MetricFactory.
package observability

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/xraph/warrant"
	"github.com/xraph/warrant/capability"
	"github.com/xraph/warrant/plugin"
	"github.com/xraph/warrant/purchase"
	"github.com/xraph/warrant/sweep"
	"github.com/xraph/warrant/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnInit                = (*MetricsExtension)(nil)
	_ plugin.OnPurchased           = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseFailed      = (*MetricsExtension)(nil)
	_ plugin.OnDebitFailed         = (*MetricsExtension)(nil)
	_ plugin.OnCapabilityRevoked   = (*MetricsExtension)(nil)
	_ plugin.OnCapabilityExpired   = (*MetricsExtension)(nil)
	_ plugin.OnConsumed            = (*MetricsExtension)(nil)
	_ plugin.OnConsumableExhausted = (*MetricsExtension)(nil)
	_ plugin.OnSubjectConnected    = (*MetricsExtension)(nil)
	_ plugin.OnSubjectDisconnected = (*MetricsExtension)(nil)
	_ plugin.OnSweepCompleted      = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a warrant plugin to track entitlement metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Purchase metrics
	PurchaseCompleted Counter
	PurchaseGiven     Counter
	PurchaseRejected  Counter
	PurchaseFailed    Counter
	PurchaseRevenue   Histogram
	DebitFailed       Counter

	// Capability metrics
	CapabilityRevoked Counter
	CapabilityExpired Counter

	// Usage metrics
	UsageConsumed  Counter
	UsageExhausted Counter

	// Session metrics
	SubjectConnected    Counter
	SubjectDisconnected Counter
	GrantsRestored      Counter
	GrantsExpiredOnLoad Counter

	// Sweep metrics
	SweepRuns     Counter
	SweepExpired  Counter
	SweepFailures Counter
	SweepLatency  Histogram

	// Error metrics
	StoreErrors Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		PurchaseCompleted: factory.Counter("warrant.purchase.completed"),
		PurchaseGiven:     factory.Counter("warrant.purchase.given"),
		PurchaseRejected:  factory.Counter("warrant.purchase.rejected"),
		PurchaseFailed:    factory.Counter("warrant.purchase.failed"),
		PurchaseRevenue:   factory.Histogram("warrant.purchase.revenue"),
		DebitFailed:       factory.Counter("warrant.debit.failed"),

		CapabilityRevoked: factory.Counter("warrant.capability.revoked"),
		CapabilityExpired: factory.Counter("warrant.capability.expired"),

		UsageConsumed:  factory.Counter("warrant.usage.consumed"),
		UsageExhausted: factory.Counter("warrant.usage.exhausted"),

		SubjectConnected:    factory.Counter("warrant.subject.connected"),
		SubjectDisconnected: factory.Counter("warrant.subject.disconnected"),
		GrantsRestored:      factory.Counter("warrant.subject.grants.restored"),
		GrantsExpiredOnLoad: factory.Counter("warrant.subject.grants.expired"),

		SweepRuns:     factory.Counter("warrant.sweep.runs"),
		SweepExpired:  factory.Counter("warrant.sweep.expired"),
		SweepFailures: factory.Counter("warrant.sweep.failures"),
		SweepLatency:  factory.Histogram("warrant.sweep.latency_ms"),

		StoreErrors: factory.Counter("warrant.store.errors"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnPurchased implements plugin.OnPurchased.
func (m *MetricsExtension) OnPurchased(_ context.Context, event plugin.PurchaseEvent) error {
	if event.Given {
		m.PurchaseGiven.Inc()
		return nil
	}
	m.PurchaseCompleted.Inc()
	m.PurchaseRevenue.Observe(event.Item.Price.Float64())
	return nil
}

// OnPurchaseFailed implements plugin.OnPurchaseFailed. Customer-side
// rejections and engine failures are counted apart.
func (m *MetricsExtension) OnPurchaseFailed(_ context.Context, _ uuid.UUID, _ string, err error) error {
	switch {
	case errors.Is(err, warrant.ErrStorage):
		m.StoreErrors.Inc()
		m.PurchaseFailed.Inc()
	case errors.Is(err, warrant.ErrItemNotFound), errors.Is(err, warrant.ErrInsufficientFunds):
		m.PurchaseRejected.Inc()
	default:
		m.PurchaseFailed.Inc()
	}
	return nil
}

// OnDebitFailed implements plugin.OnDebitFailed.
func (m *MetricsExtension) OnDebitFailed(_ context.Context, _ uuid.UUID, _ types.Amount, _ error) error {
	m.DebitFailed.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Capability hooks
// ──────────────────────────────────────────────────

// OnCapabilityRevoked implements plugin.OnCapabilityRevoked.
func (m *MetricsExtension) OnCapabilityRevoked(_ context.Context, _ uuid.UUID, _ string, _ int64) error {
	m.CapabilityRevoked.Inc()
	return nil
}

// OnCapabilityExpired implements plugin.OnCapabilityExpired.
func (m *MetricsExtension) OnCapabilityExpired(_ context.Context, _ capability.TimedCapability) error {
	m.CapabilityExpired.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnConsumed implements plugin.OnConsumed.
func (m *MetricsExtension) OnConsumed(_ context.Context, _ *purchase.Purchase, _ string) error {
	m.UsageConsumed.Inc()
	return nil
}

// OnConsumableExhausted implements plugin.OnConsumableExhausted.
func (m *MetricsExtension) OnConsumableExhausted(_ context.Context, _ *purchase.Purchase) error {
	m.UsageExhausted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Session hooks
// ──────────────────────────────────────────────────

// OnSubjectConnected implements plugin.OnSubjectConnected.
func (m *MetricsExtension) OnSubjectConnected(_ context.Context, _ uuid.UUID, restored, expired int) error {
	m.SubjectConnected.Inc()
	m.GrantsRestored.Add(float64(restored))
	m.GrantsExpiredOnLoad.Add(float64(expired))
	return nil
}

// OnSubjectDisconnected implements plugin.OnSubjectDisconnected.
func (m *MetricsExtension) OnSubjectDisconnected(_ context.Context, _ uuid.UUID) error {
	m.SubjectDisconnected.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Sweep hooks
// ──────────────────────────────────────────────────

// OnSweepCompleted implements plugin.OnSweepCompleted.
func (m *MetricsExtension) OnSweepCompleted(_ context.Context, report sweep.Report) error {
	m.SweepRuns.Inc()
	m.SweepExpired.Add(float64(report.Expired))
	m.SweepFailures.Add(float64(report.Failed))
	m.SweepLatency.Observe(float64(report.Elapsed.Milliseconds()))
	return nil
}
