// Package audithook bridges warrant lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit system. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/xraph/warrant/capability"
	"github.com/xraph/warrant/id"
	"github.com/xraph/warrant/plugin"
	"github.com/xraph/warrant/purchase"
	"github.com/xraph/warrant/sweep"
	"github.com/xraph/warrant/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnPurchased           = (*Extension)(nil)
	_ plugin.OnPurchaseFailed      = (*Extension)(nil)
	_ plugin.OnDebitFailed         = (*Extension)(nil)
	_ plugin.OnCapabilityRevoked   = (*Extension)(nil)
	_ plugin.OnCapabilityExpired   = (*Extension)(nil)
	_ plugin.OnConsumed            = (*Extension)(nil)
	_ plugin.OnConsumableExhausted = (*Extension)(nil)
	_ plugin.OnSubjectConnected    = (*Extension)(nil)
	_ plugin.OnSubjectDisconnected = (*Extension)(nil)
	_ plugin.OnSweepCompleted      = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a single audit trail entry.
type AuditEvent struct {
	ID         id.ID          `json:"id"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges warrant lifecycle events to an audit trail backend.
type Extension struct {
	recorder    Recorder
	enabled     map[string]bool // nil = all enabled
	quietSweeps bool
	logger      *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnPurchased implements plugin.OnPurchased.
func (e *Extension) OnPurchased(ctx context.Context, event plugin.PurchaseEvent) error {
	action := ActionPurchaseCompleted
	if event.Given {
		action = ActionPurchaseGiven
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourcePurchase, event.ReceiptID.String(), CategoryCommerce, nil,
		"subject_id", event.SubjectID.String(),
		"item_id", event.Item.ID,
		"kind", string(event.Item.Kind),
		"price", event.Item.Price.String(),
		"purchase_id", purchaseID(event.Purchase),
	)
}

// OnPurchaseFailed implements plugin.OnPurchaseFailed.
func (e *Extension) OnPurchaseFailed(ctx context.Context, subject uuid.UUID, itemID string, err error) error {
	return e.record(ctx, ActionPurchaseFailed, SeverityWarning, OutcomeFailure,
		ResourcePurchase, "", CategoryCommerce, err,
		"subject_id", subject.String(),
		"item_id", itemID,
	)
}

// OnDebitFailed implements plugin.OnDebitFailed.
func (e *Extension) OnDebitFailed(ctx context.Context, subject uuid.UUID, amount types.Amount, err error) error {
	return e.record(ctx, ActionDebitFailed, SeverityCritical, OutcomePartial,
		ResourceSubject, subject.String(), CategoryCommerce, err,
		"amount", amount.String(),
	)
}

// ──────────────────────────────────────────────────
// Capability hooks
// ──────────────────────────────────────────────────

// OnCapabilityRevoked implements plugin.OnCapabilityRevoked.
func (e *Extension) OnCapabilityRevoked(ctx context.Context, subject uuid.UUID, capability string, purchaseID int64) error {
	return e.record(ctx, ActionCapabilityRevoked, SeverityInfo, OutcomeSuccess,
		ResourceCapability, capability, CategoryAccess, nil,
		"subject_id", subject.String(),
		"purchase_id", purchaseID,
	)
}

// OnCapabilityExpired implements plugin.OnCapabilityExpired.
func (e *Extension) OnCapabilityExpired(ctx context.Context, expired capability.TimedCapability) error {
	return e.record(ctx, ActionCapabilityExpired, SeverityInfo, OutcomeSuccess,
		ResourceCapability, expired.Capability, CategoryAccess, nil,
		"subject_id", expired.SubjectID.String(),
		"purchase_id", expired.PurchaseID,
		"expired_at", expired.ExpiresAt,
	)
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnConsumed implements plugin.OnConsumed.
func (e *Extension) OnConsumed(ctx context.Context, p *purchase.Purchase, action string) error {
	return e.record(ctx, ActionUsageConsumed, SeverityInfo, OutcomeSuccess,
		ResourcePurchase, fmt.Sprint(p.ID), CategoryUsage, nil,
		"subject_id", p.SubjectID.String(),
		"item_id", p.ItemID,
		"action", action,
		"remaining", p.RemainingUses,
	)
}

// OnConsumableExhausted implements plugin.OnConsumableExhausted.
func (e *Extension) OnConsumableExhausted(ctx context.Context, p *purchase.Purchase) error {
	return e.record(ctx, ActionUsageExhausted, SeverityInfo, OutcomeSuccess,
		ResourcePurchase, fmt.Sprint(p.ID), CategoryUsage, nil,
		"subject_id", p.SubjectID.String(),
		"item_id", p.ItemID,
	)
}

// ──────────────────────────────────────────────────
// Session hooks
// ──────────────────────────────────────────────────

// OnSubjectConnected implements plugin.OnSubjectConnected.
func (e *Extension) OnSubjectConnected(ctx context.Context, subject uuid.UUID, restored, expired int) error {
	return e.record(ctx, ActionSubjectConnected, SeverityInfo, OutcomeSuccess,
		ResourceSubject, subject.String(), CategorySession, nil,
		"restored", restored,
		"expired", expired,
	)
}

// OnSubjectDisconnected implements plugin.OnSubjectDisconnected.
func (e *Extension) OnSubjectDisconnected(ctx context.Context, subject uuid.UUID) error {
	return e.record(ctx, ActionSubjectDisconnected, SeverityInfo, OutcomeSuccess,
		ResourceSubject, subject.String(), CategorySession, nil,
	)
}

// ──────────────────────────────────────────────────
// Sweep hooks
// ──────────────────────────────────────────────────

// OnSweepCompleted implements plugin.OnSweepCompleted.
func (e *Extension) OnSweepCompleted(ctx context.Context, report sweep.Report) error {
	if e.quietSweeps && report.Expired == 0 && report.Failed == 0 {
		return nil
	}

	severity, outcome := SeverityInfo, OutcomeSuccess
	if report.Failed > 0 {
		severity, outcome = SeverityError, OutcomePartial
	}
	return e.record(ctx, ActionSweepCompleted, severity, outcome,
		ResourceSweep, report.RunID.String(), CategorySystem, report.Err(),
		"scanned", report.Scanned,
		"expired", report.Expired,
		"failed", report.Failed,
		"elapsed_ms", report.Elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		ID:         id.NewEventID(),
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

func purchaseID(p *purchase.Purchase) int64 {
	if p == nil {
		return purchase.Unsaved
	}
	return p.ID
}
