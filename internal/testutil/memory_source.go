package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
	"github.com/Sternrassler/outreach-dispatcher/pkg/pagination"
)

// MemorySource is an in-memory candidate store that honors predicates, ordering and paging.
type MemorySource struct {
	mu    sync.Mutex
	rows  []candidate.Candidate
	Calls []pagination.Query

	// FailAtOffset makes FetchPage fail for the page starting at that offset (-1 disables).
	FailAtOffset int

	Marked []candidate.Key
}

// NewMemorySource creates a source holding rows.
func NewMemorySource(rows ...candidate.Candidate) *MemorySource {
	return &MemorySource{rows: rows, FailAtOffset: -1}
}

// Candidates builds n email candidates with increasing creation times.
// Keys are user001@example.com, user002@example.com, ...
func Candidates(n int) []candidate.Candidate {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]candidate.Candidate, 0, n)
	for i := 1; i <= n; i++ {
		email := fmt.Sprintf("user%03d@example.com", i)
		out = append(out, candidate.Candidate{
			Key: candidate.Key(email),
			Fields: map[string]string{
				"email":  email,
				"name":   fmt.Sprintf("User %d", i),
				"status": "new",
			},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

// FetchPage implements pagination.PageSource.
func (s *MemorySource) FetchPage(ctx context.Context, q pagination.Query) ([]candidate.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls = append(s.Calls, q)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.FailAtOffset >= 0 && q.Offset == s.FailAtOffset {
		return nil, fmt.Errorf("simulated store outage at offset %d", q.Offset)
	}

	var matched []candidate.Candidate
	for _, c := range s.rows {
		if candidate.MatchAll(c, q.Where) {
			matched = append(matched, c)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		for _, o := range q.OrderBy {
			a, b := sortValue(matched[i], o.Field), sortValue(matched[j], o.Field)
			if a == b {
				continue
			}
			if o.Descending {
				return a > b
			}
			return a < b
		}
		return false
	})

	if q.Offset >= len(matched) {
		return nil, nil
	}
	end := q.Offset + q.Limit
	if q.Limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	page := make([]candidate.Candidate, end-q.Offset)
	copy(page, matched[q.Offset:end])
	return page, nil
}

// MarkContacted records the key; it lets MemorySource stand in for a store marker.
func (s *MemorySource) MarkContacted(ctx context.Context, key candidate.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Marked = append(s.Marked, key)
	return nil
}

func sortValue(c candidate.Candidate, field string) string {
	if field == "created_at" {
		return c.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if field == "key" {
		return c.Key.String()
	}
	v, _ := c.Field(field)
	return v
}
