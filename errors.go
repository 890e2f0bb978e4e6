package warrant

import (
	"errors"
	"fmt"

	"github.com/xraph/warrant/types"
)

// Sentinel errors for common failure scenarios.
var (
	// Purchase errors
	ErrItemNotFound      = errors.New("warrant: item not found")
	ErrInsufficientFunds = errors.New("warrant: insufficient funds")
	ErrInvalidDuration   = errors.New("warrant: item has no valid duration")
	ErrInvalidUses       = errors.New("warrant: item has no valid use count")
	ErrUnknownKind       = errors.New("warrant: unknown item kind")

	// Activation errors
	ErrGrantFailed     = errors.New("warrant: capability grant failed")
	ErrActionFailed    = errors.New("warrant: action dispatch failed")
	ErrNoQuotaProvider = errors.New("warrant: no quota provider configured")

	// Collaborator errors
	ErrEconomy = errors.New("warrant: economy provider failed")

	// Store errors
	ErrStorage          = errors.New("warrant: storage failure")
	ErrPurchaseNotFound = errors.New("warrant: purchase not found")
	ErrStoreClosed      = errors.New("warrant: store is closed")
	ErrMigrationFailed  = errors.New("warrant: migration failed")

	// Engine errors
	ErrNotStarted = errors.New("warrant: engine not started")
	ErrNotHeld    = errors.New("warrant: subject holds no active purchase of item")
)

// InsufficientFundsError carries the price and the balance observed when
// the funds check failed.
type InsufficientFundsError struct {
	ItemID  string
	Price   types.Amount
	Balance types.Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("warrant: insufficient funds for %s: price %s, balance %s", e.ItemID, e.Price, e.Balance)
}

// Unwrap makes errors.Is(err, ErrInsufficientFunds) hold.
func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "warrant: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := fmt.Sprintf("warrant: %d errors occurred", len(e.Errors))
	for _, err := range e.Errors {
		msg += "; " + err.Error()
	}
	return msg
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrorOrNil returns nil when nothing was collected, the single error when
// one was, and the MultiError otherwise.
func (e MultiError) ErrorOrNil() error {
	switch len(e.Errors) {
	case 0:
		return nil
	case 1:
		return e.Errors[0]
	default:
		return e
	}
}

// ErrorKind is the presentation category of an engine error.
type ErrorKind string

// Error kinds, one per distinguishable user-facing message.
const (
	KindNone              ErrorKind = ""
	KindItemNotFound      ErrorKind = "item_not_found"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindInvalidDuration   ErrorKind = "invalid_duration"
	KindInvalidUses       ErrorKind = "invalid_uses"
	KindStorage           ErrorKind = "storage"
	KindGrantFailed       ErrorKind = "grant_failed"
	KindActionFailed      ErrorKind = "action_failed"
	KindNoQuotaProvider   ErrorKind = "no_quota_provider"
	KindNotHeld           ErrorKind = "not_held"
	KindInternal          ErrorKind = "internal"
)

// Classify maps err to its presentation category. Storage failures take
// precedence so a failed compensation never hides them.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrStorage):
		return KindStorage
	case errors.Is(err, ErrItemNotFound):
		return KindItemNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrInvalidDuration):
		return KindInvalidDuration
	case errors.Is(err, ErrInvalidUses):
		return KindInvalidUses
	case errors.Is(err, ErrGrantFailed):
		return KindGrantFailed
	case errors.Is(err, ErrActionFailed):
		return KindActionFailed
	case errors.Is(err, ErrNoQuotaProvider):
		return KindNoQuotaProvider
	case errors.Is(err, ErrNotHeld):
		return KindNotHeld
	default:
		return KindInternal
	}
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrPurchaseNotFound)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrEconomy) ||
		errors.Is(err, ErrGrantFailed)
}
