package audithook

// Action constants for audit events.
const (
	// Purchase actions
	ActionPurchaseCompleted = "purchase.completed"
	ActionPurchaseGiven     = "purchase.given"
	ActionPurchaseFailed    = "purchase.failed"
	ActionDebitFailed       = "debit.failed"

	// Capability actions
	ActionCapabilityRevoked = "capability.revoked"
	ActionCapabilityExpired = "capability.expired"

	// Usage actions
	ActionUsageConsumed  = "usage.consumed"
	ActionUsageExhausted = "usage.exhausted"

	// Session actions
	ActionSubjectConnected    = "subject.connected"
	ActionSubjectDisconnected = "subject.disconnected"

	// Sweep actions
	ActionSweepCompleted = "sweep.completed"
)

// Resource constants for audit events.
const (
	ResourcePurchase   = "purchase"
	ResourceCapability = "capability"
	ResourceSubject    = "subject"
	ResourceSweep      = "sweep"
)

// Category constants for audit events.
const (
	CategoryCommerce = "commerce"
	CategoryAccess   = "access"
	CategoryUsage    = "usage"
	CategorySession  = "session"
	CategorySystem   = "system"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
