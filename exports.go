package warrant

import (
	"github.com/google/uuid"

	"github.com/xraph/warrant/catalog"
	"github.com/xraph/warrant/purchase"
	"github.com/xraph/warrant/types"
)

// Re-export common types for convenience so users don't have to import
// the leaf packages for everyday calls.

// SubjectID identifies the principal entitlements belong to.
type SubjectID = uuid.UUID

// Amount is re-exported from types package.
type Amount = types.Amount

// Item is re-exported from catalog package.
type Item = catalog.Item

// Purchase is re-exported from purchase package.
type Purchase = purchase.Purchase

// Re-export Amount constructors
var (
	Units       = types.Units
	ParseAmount = types.ParseAmount
)
