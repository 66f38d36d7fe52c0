package action

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
)

// Marker flags a record as contacted in the data store.
type Marker interface {
	MarkContacted(ctx context.Context, key candidate.Key) error
}

// MarkContacted wraps next so a successful dispatch also flags the record.
// The email is already out when marking runs, so a marker error is reported
// in Detail but never turns the result into a failure. A marker panic is
// treated as a marker error.
func MarkContacted(next Action, m Marker) Action {
	return Func(func(ctx context.Context, c candidate.Candidate) Result {
		res := next.Perform(ctx, c)
		if !res.Success {
			return res
		}
		if err := mark(ctx, m, c.Key); err != nil {
			log.Warn().
				Str("component", "action").
				Str("key", c.Key.String()).
				Err(err).
				Msg("Failed to mark record as contacted")
			if res.Detail != "" {
				res.Detail += "; "
			}
			res.Detail += "mark contacted: " + err.Error()
		}
		return res
	})
}

func mark(ctx context.Context, m Marker, key candidate.Key) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.MarkContacted(ctx, key)
}
