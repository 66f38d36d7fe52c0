// Package candidate defines the unit of outreach work and the typed predicates
// used to select candidates from a data store.
package candidate

import (
	"strings"
	"time"
)

// Key uniquely identifies a candidate within a campaign (an email address, a listing URL).
type Key string

// String returns the key as a plain string.
func (k Key) String() string {
	return string(k)
}

// NormalizeKey trims surrounding whitespace and lowercases the key.
// Email addresses and URLs are compared case-insensitively across runs.
func NormalizeKey(raw string) Key {
	return Key(strings.ToLower(strings.TrimSpace(raw)))
}

// Candidate is a record read from the data store. The dispatcher never mutates it.
type Candidate struct {
	// Key is the dedup identity recorded in the resumable log.
	Key Key

	// Fields holds the payload needed to perform the action (email, name, token, url).
	Fields map[string]string

	// CreatedAt is the stable sort key the store orders pages by.
	CreatedAt time.Time
}

// Field returns the trimmed value of a payload field.
// An empty value is reported as absent.
func (c Candidate) Field(name string) (string, bool) {
	if c.Fields == nil {
		return "", false
	}
	v := strings.TrimSpace(c.Fields[name])
	if v == "" {
		return "", false
	}
	return v, true
}

// Keys returns the keys of cands in order.
func Keys(cands []Candidate) []Key {
	out := make([]Key, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Key)
	}
	return out
}
