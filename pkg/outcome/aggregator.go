// Package outcome accumulates per-candidate dispatch outcomes into a run
// summary and persists the failed subset for a manual retry run.
package outcome

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
	"github.com/Sternrassler/outreach-dispatcher/pkg/eligibility"
)

// Prometheus metrics for dispatch outcomes.
var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_dispatch_total",
		Help: "Dispatch outcomes by campaign and outcome",
	}, []string{"campaign", "outcome"})

	skippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_skipped_total",
		Help: "Skipped candidates by campaign and reason",
	}, []string{"campaign", "reason"})
)

// Kind is a per-candidate outcome.
type Kind string

const (
	// KindSent means the side effect was confirmed.
	KindSent Kind = "sent"

	// KindSkipped means the candidate was excluded before dispatch.
	KindSkipped Kind = "skipped"

	// KindFailed means the action reported an error.
	KindFailed Kind = "failed"

	// KindPreviewed means a dry run walked past the candidate.
	KindPreviewed Kind = "previewed"
)

// Failure is one failed dispatch.
type Failure struct {
	Key    candidate.Key
	Detail string
}

// Aggregator counts outcomes for one run.
type Aggregator struct {
	campaign string

	mu        sync.Mutex
	sent      int
	previewed int
	skipped   map[eligibility.Reason]int
	failures  []Failure
	started   time.Time
}

// NewAggregator starts an aggregator for campaign.
func NewAggregator(campaign string) *Aggregator {
	return &Aggregator{
		campaign: campaign,
		skipped:  make(map[eligibility.Reason]int),
		started:  time.Now(),
	}
}

// Sent counts a confirmed dispatch.
func (a *Aggregator) Sent(key candidate.Key) {
	a.mu.Lock()
	a.sent++
	a.mu.Unlock()
	dispatchTotal.WithLabelValues(a.campaign, string(KindSent)).Inc()
}

// Failed counts a failed dispatch and keeps it for the failed-output file.
func (a *Aggregator) Failed(key candidate.Key, detail string) {
	a.mu.Lock()
	a.failures = append(a.failures, Failure{Key: key, Detail: detail})
	a.mu.Unlock()
	dispatchTotal.WithLabelValues(a.campaign, string(KindFailed)).Inc()
}

// Skipped counts an excluded candidate.
func (a *Aggregator) Skipped(reason eligibility.Reason) {
	a.mu.Lock()
	a.skipped[reason]++
	a.mu.Unlock()
	dispatchTotal.WithLabelValues(a.campaign, string(KindSkipped)).Inc()
	skippedTotal.WithLabelValues(a.campaign, string(reason)).Inc()
}

// SkippedAll counts every skip of a filter result.
func (a *Aggregator) SkippedAll(skips []eligibility.Skip) {
	for _, s := range skips {
		a.Skipped(s.Reason)
	}
}

// Previewed counts a dry-run item.
func (a *Aggregator) Previewed(key candidate.Key) {
	a.mu.Lock()
	a.previewed++
	a.mu.Unlock()
	dispatchTotal.WithLabelValues(a.campaign, string(KindPreviewed)).Inc()
}

// Failures returns a copy of the failed list in dispatch order.
func (a *Aggregator) Failures() []Failure {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Failure, len(a.failures))
	copy(out, a.failures)
	return out
}

// WriteFailed overwrites path with one failed key per line. A clean run
// leaves an empty file.
func (a *Aggregator) WriteFailed(path string) error {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create failed-output dir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open failed-output file: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, fl := range a.Failures() {
		if _, err := w.WriteString(fl.Key.String() + "\n"); err != nil {
			f.Close()
			return fmt.Errorf("write failed-output file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush failed-output file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync failed-output file: %w", err)
	}
	return f.Close()
}

// Summary snapshots the counters.
func (a *Aggregator) Summary(runID, failedPath string) RunSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	byReason := make(map[eligibility.Reason]int, len(a.skipped))
	total := 0
	for r, n := range a.skipped {
		byReason[r] = n
		total += n
	}

	s := RunSummary{
		Campaign:        a.campaign,
		RunID:           runID,
		Sent:            a.sent,
		Skipped:         total,
		SkippedByReason: byReason,
		Failed:          len(a.failures),
		Previewed:       a.previewed,
		Duration:        time.Since(a.started),
	}
	if s.Failed > 0 {
		s.FailedPath = failedPath
	}
	return s
}

// RunSummary is the end-of-run report.
type RunSummary struct {
	Campaign        string
	RunID           string
	Sent            int
	Skipped         int
	SkippedByReason map[eligibility.Reason]int
	Failed          int
	Previewed       int
	FailedPath      string
	Duration        time.Duration
}

// Attempted is the number of candidates handed to the action.
func (s RunSummary) Attempted() int {
	return s.Sent + s.Failed
}

// Nothing reports a run that had nothing to send, as opposed to one where
// everything failed.
func (s RunSummary) Nothing() bool {
	return s.Attempted() == 0 && s.Previewed == 0
}

// String renders the console summary.
func (s RunSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Campaign %s", s.Campaign)
	if s.RunID != "" {
		fmt.Fprintf(&b, " (run %s)", s.RunID)
	}
	b.WriteString("\n")

	if s.Nothing() {
		fmt.Fprintf(&b, "  nothing to send (%d skipped)\n", s.Skipped)
	}
	if s.Previewed > 0 {
		fmt.Fprintf(&b, "  previewed: %d\n", s.Previewed)
	}
	fmt.Fprintf(&b, "  sent:      %d\n", s.Sent)
	fmt.Fprintf(&b, "  skipped:   %d\n", s.Skipped)

	reasons := make([]string, 0, len(s.SkippedByReason))
	for r := range s.SkippedByReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(&b, "    %-16s %d\n", r+":", s.SkippedByReason[eligibility.Reason(r)])
	}

	fmt.Fprintf(&b, "  failed:    %d\n", s.Failed)
	if s.FailedPath != "" {
		fmt.Fprintf(&b, "  failed keys written to %s\n", s.FailedPath)
	}
	fmt.Fprintf(&b, "  duration:  %s\n", s.Duration.Round(time.Millisecond))
	return b.String()
}
