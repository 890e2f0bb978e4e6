// Package warrant provides an entitlement lifecycle engine for Go
// applications that sell access: time-limited capabilities, permanent
// capabilities, counted-use actions, one-shot actions and resource limits.
//
// Warrant is designed as a library, not a service. Import it into the host
// process that owns the subjects (players, users, tenants). It provides:
//
//   - Purchase processing with funds checks, activation and compensation
//   - Timed capabilities that expire on a background sweep
//   - Counted-use grants gated on the host's action names
//   - Reconstruction of live state when a subject connects
//   - Operator give, revoke and holdings queries
//   - Pluggable capability backends (in-memory, Redis)
//   - Audit trail and metrics through plugins
//
// # Quick Start
//
// Create an engine with a store, a catalog and an economy:
//
//	import (
//	    "github.com/xraph/warrant"
//	    "github.com/xraph/warrant/catalog"
//	    "github.com/xraph/warrant/economy"
//	    "github.com/xraph/warrant/store/sqlite"
//	)
//
//	s, err := sqlite.Open("warrant.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	items, err := catalog.LoadFile("catalog.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	w := warrant.New(s, items, economy.NewWallet("$"))
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop(ctx)
//
// # Core Concepts
//
// Items are what a subject can buy. The kind selects how a purchase is
// activated:
//
//	items:
//	  fly_hour:
//	    price: 10
//	    kind: timed_permission
//	    duration: 3600
//	    capability: essentials.fly
//
// Purchases activate an item and debit the economy:
//
//	ent, err := w.Purchase(ctx, subject, "fly_hour")
//	fmt.Println(ent.Summary.DurationText) // 1 hour
//
// Connect restores a subject's live state from the store and Disconnect
// drops it:
//
//	report, err := w.Connect(ctx, subject)
//
// Authorize gates host actions on counted-use items:
//
//	d, err := w.Authorize(ctx, subject, "heal me")
//	if !d.Allowed {
//	    // tell the subject to buy the item named by d.ItemID
//	}
//
// # Stores
//
// Purchases persist through a store.Store: memory for tests, SQLite,
// PostgreSQL or MongoDB in production. store/dial opens one from a driver
// name and DSN.
//
// # Money
//
// Prices are types.Amount, an integer count of hundredths, so arithmetic
// never rounds.
//
// # TypeID
//
// Receipts and sweep runs carry TypeIDs:
//
//	rcpt_01h2xcejqtf2nbrexx3vqjhp41  // Receipt ID
//	swp_01h455vb4pex5vsknk084sn02q   // Sweep run ID
package warrant
