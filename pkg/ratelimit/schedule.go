// Package ratelimit paces sequential dispatch against an external rate ceiling.
// A campaign sleeps a fixed delay between items and, optionally, a longer pause
// after every batch so the provider can settle.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Defaults mirror the transactional email provider ceiling of 2 requests/second.
const (
	// DefaultRPS is the provider's documented request ceiling.
	DefaultRPS = 2.0

	// DefaultMargin widens the derived delay so jitter never crosses the ceiling.
	DefaultMargin = 0.10

	// DefaultBatchPause is the settle time inserted at batch boundaries.
	DefaultBatchPause = 10 * time.Second
)

// ErrInvalidSchedule is returned by Validate for negative or inconsistent settings.
var ErrInvalidSchedule = errors.New("invalid pacing schedule")

// SleepKind labels a pacing sleep for metrics and logs.
type SleepKind string

const (
	// SleepNone means no sleep follows the item (last item of the run).
	SleepNone SleepKind = "none"

	// SleepItem is the inter-item delay D.
	SleepItem SleepKind = "item"

	// SleepBatch is the inter-batch pause D2.
	SleepBatch SleepKind = "batch"
)

// Schedule is the pacing policy of a dispatch run.
type Schedule struct {
	// Delay is the sleep after every item except the last (D).
	Delay time.Duration

	// BatchSize groups items; 0 disables batching (B).
	BatchSize int

	// BatchPause replaces Delay after every BatchSize-th item (D2).
	BatchPause time.Duration
}

// Validate checks the schedule for negative values.
func (s Schedule) Validate() error {
	if s.Delay < 0 {
		return fmt.Errorf("%w: delay must be >= 0 (got %s)", ErrInvalidSchedule, s.Delay)
	}
	if s.BatchSize < 0 {
		return fmt.Errorf("%w: batch size must be >= 0 (got %d)", ErrInvalidSchedule, s.BatchSize)
	}
	if s.BatchPause < 0 {
		return fmt.Errorf("%w: batch pause must be >= 0 (got %s)", ErrInvalidSchedule, s.BatchPause)
	}
	return nil
}

// After returns the sleep that follows item i (1-based) of n.
// The last item never sleeps. A batch boundary sleeps BatchPause instead of Delay.
func (s Schedule) After(i, n int) (time.Duration, SleepKind) {
	if i >= n {
		return 0, SleepNone
	}
	if s.BatchSize > 0 && i%s.BatchSize == 0 {
		return s.BatchPause, SleepBatch
	}
	return s.Delay, SleepItem
}

// MinDuration is the lower bound on wall-clock time for dispatching n items,
// ignoring action latency.
func (s Schedule) MinDuration(n int) time.Duration {
	var total time.Duration
	for i := 1; i <= n; i++ {
		d, _ := s.After(i, n)
		total += d
	}
	return total
}

// DelayForRate derives the inter-item delay for a request ceiling of rps,
// widened by margin (0.10 = 10%). 2 rps with 10% margin gives 550ms.
func DelayForRate(rps, margin float64) (time.Duration, error) {
	if rps <= 0 || math.IsInf(rps, 0) || math.IsNaN(rps) {
		return 0, fmt.Errorf("%w: rate must be > 0 (got %v)", ErrInvalidSchedule, rps)
	}
	if margin < 0 {
		return 0, fmt.Errorf("%w: margin must be >= 0 (got %v)", ErrInvalidSchedule, margin)
	}
	base := float64(time.Second) / rps
	return time.Duration(math.Round(base * (1 + margin))), nil
}
