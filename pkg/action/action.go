// Package action defines the per-candidate side effect invoked by the
// dispatcher and normalizes every collaborator's failure shape into Result.
package action

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
)

// Result is the outcome of one dispatch.
type Result struct {
	Success bool
	Detail  string
}

// Succeeded builds a successful Result.
func Succeeded(detail string) Result {
	return Result{Success: true, Detail: detail}
}

// Failed builds a failed Result.
func Failed(detail string) Result {
	return Result{Success: false, Detail: detail}
}

// FromError maps a nil error to success and anything else to a failure
// carrying the error text.
func FromError(err error) Result {
	if err == nil {
		return Succeeded("")
	}
	return Failed(err.Error())
}

// Action performs the side effect for one candidate.
type Action interface {
	Perform(ctx context.Context, c candidate.Candidate) Result
}

// Func adapts a plain function to Action.
type Func func(ctx context.Context, c candidate.Candidate) Result

// Perform implements Action.
func (f Func) Perform(ctx context.Context, c candidate.Candidate) Result {
	return f(ctx, c)
}

// ErrorFunc adapts an error-returning function to Action.
type ErrorFunc func(ctx context.Context, c candidate.Candidate) error

// Perform implements Action.
func (f ErrorFunc) Perform(ctx context.Context, c candidate.Candidate) Result {
	return FromError(f(ctx, c))
}

// Safe invokes a and turns a panic into a failed Result.
func Safe(ctx context.Context, a Action, c candidate.Candidate) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("component", "action").
				Str("key", c.Key.String()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Action panicked")
			res = Failed(fmt.Sprintf("panic: %v", r))
		}
	}()
	return a.Perform(ctx, c)
}

// DryRun reports success without any side effect.
var DryRun = Func(func(_ context.Context, c candidate.Candidate) Result {
	return Succeeded("dry run")
})
