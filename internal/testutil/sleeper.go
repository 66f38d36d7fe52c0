package testutil

import (
	"context"
	"sync"
	"time"
)

// RecordingSleeper records requested sleeps without waiting.
type RecordingSleeper struct {
	mu     sync.Mutex
	Sleeps []time.Duration
}

// Sleep records d and returns immediately unless ctx is already done.
func (s *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sleeps = append(s.Sleeps, d)
	return nil
}

// Recorded returns a copy of the recorded sleeps.
func (s *RecordingSleeper) Recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.Sleeps))
	copy(out, s.Sleeps)
	return out
}
