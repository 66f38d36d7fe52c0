// Package dispatch runs the per-candidate action over an eligible list,
// strictly in order and one at a time, pacing calls to stay under the
// provider's rate ceiling and isolating per-item failures.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/outreach-dispatcher/pkg/action"
	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
	"github.com/Sternrassler/outreach-dispatcher/pkg/ledger"
	"github.com/Sternrassler/outreach-dispatcher/pkg/logging"
	"github.com/Sternrassler/outreach-dispatcher/pkg/outcome"
	"github.com/Sternrassler/outreach-dispatcher/pkg/ratelimit"
)

// ErrRecord is returned when a confirmed send could not be written to the
// resumable log. The run stops because a resume could send that key again.
var ErrRecord = errors.New("record processed key")

var actionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "outreach_action_duration_seconds",
	Help:    "Per-candidate action duration by result",
	Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
}, []string{"result"})

// Config wires a Dispatcher.
type Config struct {
	// Campaign labels logs.
	Campaign string

	// Action is invoked once per eligible candidate (REQUIRED).
	Action action.Action

	// Ledger receives every confirmed key. Nil disables recording.
	Ledger ledger.Log

	// Schedule paces the loop.
	Schedule ratelimit.Schedule

	// Sleeper defaults to ratelimit.ContextSleeper.
	Sleeper ratelimit.Sleeper

	// Aggregator receives every outcome (REQUIRED).
	Aggregator *outcome.Aggregator
}

// Options select the dispatch mode of one Run.
type Options struct {
	// DryRun walks the list without invoking the action, recording or sleeping.
	DryRun bool

	// NoRecord invokes the action but leaves the ledger untouched (test sends).
	NoRecord bool
}

// Dispatcher is the sequential, rate-limited dispatch loop.
type Dispatcher struct {
	action   action.Action
	ledger   ledger.Log
	schedule ratelimit.Schedule
	sleeper  ratelimit.Sleeper
	agg      *outcome.Aggregator
	logger   zerolog.Logger
}

// New validates cfg and creates a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Action == nil {
		return nil, fmt.Errorf("dispatch: action is required")
	}
	if cfg.Aggregator == nil {
		return nil, fmt.Errorf("dispatch: aggregator is required")
	}
	if err := cfg.Schedule.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = ratelimit.ContextSleeper{}
	}

	logger := logging.NewLogger("dispatcher")
	if cfg.Campaign != "" {
		logger = logger.With().Str("campaign", cfg.Campaign).Logger()
	}

	return &Dispatcher{
		action:   cfg.Action,
		ledger:   cfg.Ledger,
		schedule: cfg.Schedule,
		sleeper:  cfg.Sleeper,
		agg:      cfg.Aggregator,
		logger:   logger,
	}, nil
}

// Run dispatches eligible in order. Per-item failures are counted and the
// loop continues; only a ledger write error or ctx cancellation stops it.
// An empty list returns immediately without sleeping.
func (d *Dispatcher) Run(ctx context.Context, eligible []candidate.Candidate, opts Options) error {
	n := len(eligible)
	if n == 0 {
		d.logger.Info().Msg("Nothing to dispatch")
		return nil
	}

	d.logger.Info().
		Int("count", n).
		Bool("dry_run", opts.DryRun).
		Dur("delay", d.schedule.Delay).
		Int("batch_size", d.schedule.BatchSize).
		Dur("min_duration", d.schedule.MinDuration(n)).
		Msg("Starting dispatch")

	for i, c := range eligible {
		if err := ctx.Err(); err != nil {
			d.logger.Warn().Int("done", i).Int("remaining", n-i).Msg("Dispatch cancelled")
			return err
		}

		if opts.DryRun {
			d.agg.Previewed(c.Key)
			d.logger.Info().Int("item", i+1).Str("key", c.Key.String()).Msg("Would dispatch")
			continue
		}

		if err := d.dispatchOne(ctx, c, i+1, n, opts); err != nil {
			return err
		}

		delay, kind := d.schedule.After(i+1, n)
		if kind == ratelimit.SleepNone || delay <= 0 {
			continue
		}
		d.logger.Debug().Str("kind", string(kind)).Dur("delay", delay).Msg("Pacing")
		if err := d.sleeper.Sleep(ctx, delay); err != nil {
			d.logger.Warn().Int("done", i+1).Int("remaining", n-i-1).Msg("Dispatch cancelled")
			return err
		}
		ratelimit.Observe(kind, delay)
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, c candidate.Candidate, item, n int, opts Options) error {
	start := time.Now()
	res := action.Safe(ctx, d.action, c)
	elapsed := time.Since(start)

	if !res.Success {
		actionDuration.WithLabelValues("failed").Observe(elapsed.Seconds())
		d.agg.Failed(c.Key, res.Detail)
		d.logger.Warn().
			Int("item", item).
			Int("of", n).
			Str("key", c.Key.String()).
			Str("detail", res.Detail).
			Dur("duration", elapsed).
			Msg("Dispatch failed")
		return nil
	}
	actionDuration.WithLabelValues("sent").Observe(elapsed.Seconds())

	if !opts.NoRecord && d.ledger != nil {
		// A confirmed send is recorded even while the run is being cancelled.
		if err := d.ledger.Record(context.WithoutCancel(ctx), c.Key); err != nil {
			d.agg.Sent(c.Key)
			d.logger.Error().Err(err).Str("key", c.Key.String()).Msg("Failed to record processed key")
			return fmt.Errorf("%w %s: %w", ErrRecord, c.Key, err)
		}
	}

	d.agg.Sent(c.Key)
	d.logger.Info().
		Int("item", item).
		Int("of", n).
		Str("key", c.Key.String()).
		Str("detail", res.Detail).
		Dur("duration", elapsed).
		Msg("Dispatched")
	return nil
}
