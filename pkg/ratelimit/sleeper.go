package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for pacing.
var (
	pacingSleepSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outreach_pacing_sleep_seconds",
		Help:    "Pacing sleeps between dispatched items by kind",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind"})
)

// Sleeper blocks for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// ContextSleeper sleeps on a timer and wakes early on context cancellation.
type ContextSleeper struct{}

// Sleep implements Sleeper.
func (ContextSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Observe records a completed pacing sleep.
func Observe(kind SleepKind, d time.Duration) {
	if kind == SleepNone {
		return
	}
	pacingSleepSeconds.WithLabelValues(string(kind)).Observe(d.Seconds())
}
