package campaign

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/outreach-dispatcher/pkg/action"
	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
	"github.com/Sternrassler/outreach-dispatcher/pkg/dispatch"
	"github.com/Sternrassler/outreach-dispatcher/pkg/eligibility"
	"github.com/Sternrassler/outreach-dispatcher/pkg/ledger"
	"github.com/Sternrassler/outreach-dispatcher/pkg/logging"
	"github.com/Sternrassler/outreach-dispatcher/pkg/outcome"
	"github.com/Sternrassler/outreach-dispatcher/pkg/pagination"
	"github.com/Sternrassler/outreach-dispatcher/pkg/ratelimit"
)

// Mode selects what a run does.
type Mode string

const (
	// ModePreview walks the eligible list without sending.
	ModePreview Mode = "preview"

	// ModeTest sends one message to a single test recipient.
	ModeTest Mode = "test"

	// ModeBatch sends one numbered slice of the candidate list.
	ModeBatch Mode = "batch"

	// ModeFull sends to every eligible candidate.
	ModeFull Mode = "full"

	// ModeRetry sends to the keys of a failed-output file.
	ModeRetry Mode = "retry"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModePreview, ModeTest, ModeBatch, ModeFull, ModeRetry:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (preview, test, batch, full, retry)", s)
}

// Sends reports whether the mode performs real side effects.
func (m Mode) Sends() bool {
	return m != ModePreview
}

// Options are the per-invocation choices.
type Options struct {
	Mode Mode

	// Batch is the 1-based slice number for ModeBatch.
	Batch int

	// TestTo is the recipient for ModeTest.
	TestTo string

	// RunID labels the run; generated when empty.
	RunID string
}

// Validate checks mode-specific options.
func (o Options) Validate() error {
	if _, err := ParseMode(string(o.Mode)); err != nil {
		return err
	}
	if o.Mode == ModeBatch && o.Batch < 1 {
		return fmt.Errorf("batch mode needs a batch number >= 1 (got %d)", o.Batch)
	}
	if o.Mode == ModeTest && o.TestTo == "" {
		return errors.New("test mode needs a recipient")
	}
	return nil
}

// Deps are the collaborators of a run, built by the caller from config.
type Deps struct {
	// Source feeds the fetcher (the failed-output file in retry mode).
	Source pagination.PageSource

	// Ledger is the campaign's resumable log.
	Ledger ledger.Log

	// Sender delivers rendered messages.
	Sender action.Sender

	// Marker flags contacted records; nil when the campaign does not mark.
	Marker action.Marker

	// Sleeper paces dispatch; defaults to ratelimit.ContextSleeper.
	Sleeper ratelimit.Sleeper

	// Locker serializes runs of the same campaign; nil disables locking.
	Locker Locker

	// Exclusions overrides the definition's exclusions file when non-nil.
	Exclusions ledger.Set

	// Schedule overrides the definition's pacing when non-nil.
	Schedule *ratelimit.Schedule

	// PageSize overrides the definition's page size when > 0.
	PageSize int
}

// Run is the state of one dispatch pass, built once and threaded through
// fetch, filter, dispatch and aggregation.
type Run struct {
	def        *Definition
	opts       Options
	deps       Deps
	fetcher    *pagination.Fetcher
	filter     eligibility.Filter
	dispatcher *dispatch.Dispatcher
	agg        *outcome.Aggregator
	schedule   ratelimit.Schedule
	logger     zerolog.Logger
}

// NewRun validates everything a run needs before anything is fetched or sent.
func NewRun(def *Definition, deps Deps, opts Options) (*Run, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if deps.Source == nil && opts.Mode != ModeTest {
		return nil, errors.New("run: source is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("run: ledger is required")
	}
	if deps.Sender == nil && opts.Mode.Sends() {
		return nil, errors.New("run: sender is required")
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	schedule, err := def.Pacing.Schedule()
	if err != nil {
		return nil, err
	}
	if deps.Schedule != nil {
		schedule = *deps.Schedule
		if err := schedule.Validate(); err != nil {
			return nil, err
		}
	}

	exclusions := deps.Exclusions
	if exclusions == nil {
		if exclusions, err = eligibility.LoadExclusions(def.Resolve(def.ExclusionsFile)); err != nil {
			return nil, err
		}
	}

	filter := eligibility.Filter{
		RequiredFields: def.RequiredFields,
		Exclusions:     exclusions,
		GoalMet:        def.GoalPredicates(),
	}
	if opts.Mode == ModeRetry {
		// Retry keys carry no store fields, so field-based goals cannot be evaluated.
		filter.GoalMet = nil
		filter.RequiredFields = nil
	}

	pageCfg := pagination.DefaultConfig()
	if def.PageSize > 0 {
		pageCfg.PageSize = def.PageSize
	}
	if deps.PageSize > 0 {
		pageCfg.PageSize = deps.PageSize
	}
	pageCfg.MaxRows = def.MaxRows

	act, err := buildAction(def, deps, opts)
	if err != nil {
		return nil, err
	}

	agg := outcome.NewAggregator(def.Name)
	d, err := dispatch.New(dispatch.Config{
		Campaign:   def.Name,
		Action:     act,
		Ledger:     deps.Ledger,
		Schedule:   schedule,
		Sleeper:    deps.Sleeper,
		Aggregator: agg,
	})
	if err != nil {
		return nil, err
	}

	r := &Run{
		def:        def,
		opts:       opts,
		deps:       deps,
		filter:     filter,
		dispatcher: d,
		agg:        agg,
		schedule:   schedule,
		logger: logging.NewLogger("campaign").With().
			Str("campaign", def.Name).
			Str("run_id", opts.RunID).
			Str("mode", string(opts.Mode)).
			Logger(),
	}
	if deps.Source != nil {
		r.fetcher = pagination.NewFetcher(deps.Source, pageCfg)
	}
	return r, nil
}

func buildAction(def *Definition, deps Deps, opts Options) (action.Action, error) {
	if !opts.Mode.Sends() {
		return action.DryRun, nil
	}
	tmpl, err := def.MessageTemplate()
	if err != nil {
		return nil, err
	}
	renderer, err := action.NewRenderer(tmpl)
	if err != nil {
		return nil, err
	}

	emailOpts := []action.EmailOption{action.WithRecipientField(def.RecipientField)}
	if opts.Mode == ModeTest {
		emailOpts = append(emailOpts,
			action.WithOverrideRecipient(opts.TestTo),
			action.WithIdempotencySalt(opts.RunID))
	}
	var act action.Action = action.NewEmail(def.Name, renderer, deps.Sender, emailOpts...)

	if deps.Marker != nil && opts.Mode != ModeTest {
		act = action.MarkContacted(act, deps.Marker)
	}
	return act, nil
}

// Schedule returns the resolved pacing.
func (r *Run) Schedule() ratelimit.Schedule {
	return r.schedule
}

// Execute performs the run. Fetch and ledger errors abort with an error;
// per-item failures only show up in the summary. The failed-output file is
// rewritten by every sending run except test sends.
func (r *Run) Execute(ctx context.Context) (outcome.RunSummary, error) {
	if r.deps.Locker != nil && r.records() {
		release, err := r.deps.Locker.Acquire(ctx, r.def.Name, r.opts.RunID)
		if err != nil {
			return r.summary(), err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn().Err(err).Msg("Failed to release campaign lock")
			}
		}()
	}

	r.logger.Info().
		Dur("delay", r.schedule.Delay).
		Int("batch_size", r.schedule.BatchSize).
		Dur("batch_pause", r.schedule.BatchPause).
		Msg("Starting run")

	eligible, err := r.prepare(ctx)
	if err != nil {
		return r.summary(), err
	}

	runErr := r.dispatcher.Run(ctx, eligible, dispatch.Options{
		DryRun:   !r.opts.Mode.Sends(),
		NoRecord: r.opts.Mode == ModeTest,
	})

	if r.records() {
		if err := r.agg.WriteFailed(r.def.Resolve(r.def.FailedPath)); err != nil {
			r.logger.Error().Err(err).Msg("Failed to write failed-output file")
			runErr = errors.Join(runErr, err)
		}
	}

	summary := r.summary()
	r.logger.Info().
		Int("sent", summary.Sent).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("previewed", summary.Previewed).
		Dur("duration", summary.Duration).
		Msg("Run finished")
	return summary, runErr
}

// records reports whether the run touches the ledger and failed-output file.
func (r *Run) records() bool {
	return r.opts.Mode.Sends() && r.opts.Mode != ModeTest
}

func (r *Run) summary() outcome.RunSummary {
	path := ""
	if r.records() {
		path = r.def.Resolve(r.def.FailedPath)
	}
	return r.agg.Summary(r.opts.RunID, path)
}

// prepare fetches, slices and filters the candidate list.
func (r *Run) prepare(ctx context.Context) ([]candidate.Candidate, error) {
	if r.opts.Mode == ModeTest {
		return []candidate.Candidate{r.testCandidate()}, nil
	}

	processed, err := r.deps.Ledger.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	q := pagination.Query{OrderBy: r.def.Order()}
	if r.opts.Mode != ModeRetry {
		q.Where = r.def.Predicates()
	}
	cands, err := r.fetcher.FetchAll(ctx, q)
	if err != nil {
		return nil, err
	}
	r.logger.Info().Int("rows", len(cands)).Int("processed", processed.Len()).Msg("Fetched candidates")

	if r.opts.Mode == ModeBatch {
		cands = Slice(cands, r.opts.Batch, r.def.SliceSize)
		r.logger.Info().Int("batch", r.opts.Batch).Int("slice_size", r.def.SliceSize).Int("rows", len(cands)).Msg("Selected batch")
	}

	res := r.filter.Apply(cands, processed)
	r.agg.SkippedAll(res.Skipped)
	for reason, n := range res.CountByReason() {
		r.logger.Warn().Str("reason", string(reason)).Int("count", n).Msg("Skipped candidates")
	}
	return res.Eligible, nil
}

func (r *Run) testCandidate() candidate.Candidate {
	fields := map[string]string{r.def.RecipientField: r.opts.TestTo}
	for k, v := range r.def.TestFields {
		fields[k] = v
	}
	return candidate.Candidate{Key: candidate.Key(r.opts.TestTo), Fields: fields}
}

// Slice returns batch n (1-based) of size items: cands[(n-1)*size, n*size).
// The slice is taken before filtering so batch n names the same records on
// every day it is run.
func Slice(cands []candidate.Candidate, n, size int) []candidate.Candidate {
	if n < 1 || size < 1 {
		return nil
	}
	start := (n - 1) * size
	if start >= len(cands) {
		return nil
	}
	end := start + size
	if end > len(cands) {
		end = len(cands)
	}
	return cands[start:end]
}

// String renders a run label for logs.
func (o Options) String() string {
	if o.Mode == ModeBatch {
		return string(o.Mode) + " " + strconv.Itoa(o.Batch)
	}
	return string(o.Mode)
}
