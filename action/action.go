// Package action defines the collaborators that carry out action-based
// purchases: a dispatcher for action templates and a quota provider for
// resource-limit increases.
package action

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrRejected is returned by dispatchers when the action ran but reported
// failure.
var ErrRejected = errors.New("action: rejected")

// Dispatcher executes an action template on behalf of a subject.
type Dispatcher interface {
	Execute(ctx context.Context, template string, subject uuid.UUID) error
}

// DispatcherFunc adapts a function to a Dispatcher.
type DispatcherFunc func(ctx context.Context, template string, subject uuid.UUID) error

// Execute implements Dispatcher.
func (f DispatcherFunc) Execute(ctx context.Context, template string, subject uuid.UUID) error {
	return f(ctx, template, subject)
}

// QuotaProvider administers an external per-subject resource limit,
// e.g. the number of homes a player may set.
type QuotaProvider interface {
	Name() string
	RaiseLimit(ctx context.Context, subject uuid.UUID, amount int) error
}

// Expand replaces {key} placeholders in template with vars[key].
// {subject} is always bound to the subject id.
func Expand(template string, subject uuid.UUID, vars map[string]string) string {
	pairs := []string{"{subject}", subject.String()}
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
