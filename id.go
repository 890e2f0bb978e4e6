package warrant

import "github.com/xraph/warrant/id"

// ID is the correlation identifier type used by warrant.
type ID = id.ID

// Prefix identifies the kind of object encoded in an ID.
type Prefix = id.Prefix
