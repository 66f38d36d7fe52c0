// Package ledger implements the resumable log: a durable, append-only record of
// candidate keys whose side effect has been confirmed. A key is recorded only
// after a successful dispatch, and every record is durable before the next
// dispatch starts, so a killed run resumes without re-sending.
package ledger

import (
	"context"
	"errors"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
)

var (
	// ErrClosed is returned when recording to a closed log.
	ErrClosed = errors.New("ledger closed")

	// ErrEmptyKey is returned when recording an empty key.
	ErrEmptyKey = errors.New("ledger key cannot be empty")
)

// Log is the resumable log of one campaign.
type Log interface {
	// Load returns every key recorded so far. A log that does not exist yet is empty.
	Load(ctx context.Context) (Set, error)

	// Record appends key durably.
	Record(ctx context.Context, key candidate.Key) error

	// Close releases the underlying resource.
	Close() error
}

// Set is an in-memory view of processed keys.
type Set map[candidate.Key]struct{}

// NewSet creates a set holding keys.
func NewSet(keys ...candidate.Key) Set {
	s := make(Set, len(keys))
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

// Has reports whether key was processed.
func (s Set) Has(key candidate.Key) bool {
	_, ok := s[key]
	return ok
}

// Add inserts key.
func (s Set) Add(key candidate.Key) {
	s[key] = struct{}{}
}

// Len returns the number of keys.
func (s Set) Len() int {
	return len(s)
}
