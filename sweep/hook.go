package sweep

import (
	"context"
	"strings"

	"github.com/xraph/warrant/capability"
)

// Matcher selects the capabilities a Hook reacts to.
type Matcher func(capability string) bool

// Exact matches one capability name, ignoring case.
func Exact(name string) Matcher {
	return func(c string) bool { return strings.EqualFold(c, name) }
}

// Suffix matches capabilities ending in suffix, e.g. ".fly".
func Suffix(suffix string) Matcher {
	return func(c string) bool { return strings.HasSuffix(c, suffix) }
}

// Any matches when at least one of ms does.
func Any(ms ...Matcher) Matcher {
	return func(c string) bool {
		for _, m := range ms {
			if m(c) {
				return true
			}
		}
		return false
	}
}

// Hook is a side effect run after a timed capability has been revoked by
// the sweep, such as switching off flight mode once a fly grant ends.
type Hook struct {
	Name  string
	Match Matcher
	Run   func(ctx context.Context, expired capability.TimedCapability) error
}

// Executor runs hook side effects. Hosts with a single-threaded world
// model provide one that hands fn to their main loop.
type Executor interface {
	Submit(fn func())
}

// ExecutorFunc adapts a function to an Executor.
type ExecutorFunc func(fn func())

// Submit implements Executor.
func (f ExecutorFunc) Submit(fn func()) { f(fn) }

// Inline runs side effects on the sweeping goroutine.
var Inline Executor = ExecutorFunc(func(fn func()) { fn() })

// Observer is told about every expiry and every completed sweep.
type Observer interface {
	OnExpired(ctx context.Context, expired capability.TimedCapability)
	OnSweepCompleted(ctx context.Context, report Report)
}
