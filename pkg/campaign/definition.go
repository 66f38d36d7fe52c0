// Package campaign loads campaign definitions and runs one dispatch pass:
// fetch, filter against the resumable log, dispatch, and report.
package campaign

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/outreach-dispatcher/pkg/action"
	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
	"github.com/Sternrassler/outreach-dispatcher/pkg/ratelimit"
)

// ErrInvalid wraps every definition validation error.
var ErrInvalid = errors.New("invalid campaign")

// Source kinds.
const (
	SourcePostgres = "postgres"
	SourceREST     = "rest"
	SourceFile     = "file"
)

// Ledger kinds.
const (
	LedgerFile  = "file"
	LedgerRedis = "redis"
)

// DefaultSliceSize is the numbered-batch slice when slice_size is unset.
const DefaultSliceSize = 100

// Definition is a campaign file.
type Definition struct {
	Name           string            `yaml:"name"`
	Source         Source            `yaml:"source"`
	OrderBy        []OrderTerm       `yaml:"order_by"`
	PageSize       int               `yaml:"page_size"`
	MaxRows        int               `yaml:"max_rows"`
	Where          []Condition       `yaml:"where"`
	RequiredFields []string          `yaml:"required_fields"`
	GoalMet        []Condition       `yaml:"goal_met"`
	ExclusionsFile string            `yaml:"exclusions_file"`
	Ledger         Ledger            `yaml:"ledger"`
	FailedPath     string            `yaml:"failed_path"`
	Pacing         Pacing            `yaml:"pacing"`
	SliceSize      int               `yaml:"slice_size"`
	RecipientField string            `yaml:"recipient_field"`
	Template       Template          `yaml:"template"`
	MarkContacted  *MarkContacted    `yaml:"mark_contacted"`
	TestFields     map[string]string `yaml:"test_fields"`

	// dir is the directory of the campaign file; relative paths resolve against it.
	dir string
}

// Source selects the candidate store.
type Source struct {
	Kind          string   `yaml:"kind"`
	Table         string   `yaml:"table"`
	KeyColumn     string   `yaml:"key_column"`
	CreatedColumn string   `yaml:"created_column"`
	Columns       []string `yaml:"columns"`
	Path          string   `yaml:"path"`
}

// OrderTerm is one sort key.
type OrderTerm struct {
	Field string `yaml:"field"`
	Desc  bool   `yaml:"desc"`
}

// Condition is the YAML form of a typed predicate.
type Condition struct {
	Field  string   `yaml:"field"`
	Op     string   `yaml:"op"`
	Value  string   `yaml:"value"`
	Values []string `yaml:"values"`
}

// Ledger selects the resumable log backend.
type Ledger struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

// Pacing is the YAML form of the dispatch schedule.
type Pacing struct {
	Delay      time.Duration `yaml:"delay"`
	RateRPS    float64       `yaml:"rate_rps"`
	Margin     *float64      `yaml:"margin"`
	BatchSize  int           `yaml:"batch_size"`
	BatchPause time.Duration `yaml:"batch_pause"`
}

// Template is the message definition. *_file entries are read relative to
// the campaign file and win over inline bodies.
type Template struct {
	From     string `yaml:"from"`
	Subject  string `yaml:"subject"`
	HTML     string `yaml:"html"`
	HTMLFile string `yaml:"html_file"`
	Text     string `yaml:"text"`
	TextFile string `yaml:"text_file"`
}

// MarkContacted names the store columns flagged after a send.
type MarkContacted struct {
	Flag  string `yaml:"flag"`
	Stamp string `yaml:"stamp"`
}

// Load reads and validates a campaign file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read campaign: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	def.dir = filepath.Dir(path)
	return def, nil
}

// Parse decodes and validates a campaign definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %w", ErrInvalid, err)
	}
	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) applyDefaults() {
	if d.Source.KeyColumn == "" {
		d.Source.KeyColumn = "email"
	}
	if d.RecipientField == "" {
		d.RecipientField = d.Source.KeyColumn
	}
	if len(d.OrderBy) == 0 {
		d.OrderBy = []OrderTerm{{Field: "created_at"}}
	}
	if d.Ledger.Kind == "" {
		d.Ledger.Kind = LedgerFile
	}
	if d.Ledger.Kind == LedgerFile && d.Ledger.Path == "" && d.Name != "" {
		d.Ledger.Path = filepath.Join("logs", d.Name+".sent")
	}
	if d.FailedPath == "" && d.Name != "" {
		d.FailedPath = filepath.Join("logs", d.Name+".failed")
	}
	if d.SliceSize <= 0 {
		d.SliceSize = DefaultSliceSize
	}
}

// Validate checks the definition.
func (d *Definition) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(d.Name) == "" {
		add("name is required")
	}
	if strings.ContainsAny(d.Name, `/\ `) {
		add("name %q must not contain slashes or spaces", d.Name)
	}

	switch d.Source.Kind {
	case SourcePostgres, SourceREST:
		if d.Source.Table == "" {
			add("source.table is required for %s sources", d.Source.Kind)
		}
	case SourceFile:
		if d.Source.Path == "" {
			add("source.path is required for file sources")
		}
	default:
		add("source.kind %q must be one of postgres, rest, file", d.Source.Kind)
	}

	switch d.Ledger.Kind {
	case LedgerFile:
		if d.Ledger.Path == "" {
			add("ledger.path is required for file ledgers")
		}
	case LedgerRedis:
	default:
		add("ledger.kind %q must be file or redis", d.Ledger.Kind)
	}

	if d.PageSize < 0 || d.MaxRows < 0 {
		add("page_size and max_rows must be >= 0")
	}
	for _, o := range d.OrderBy {
		if o.Field == "" {
			add("order_by entries need a field")
		}
	}
	if _, err := compile(d.Where); err != nil {
		add("where: %v", err)
	}
	if _, err := compile(d.GoalMet); err != nil {
		add("goal_met: %v", err)
	}
	if d.MarkContacted != nil && d.MarkContacted.Flag == "" {
		add("mark_contacted.flag is required")
	}
	if d.MarkContacted != nil && d.Source.Kind == SourceFile {
		add("mark_contacted needs a postgres or rest source")
	}
	if d.Pacing.Delay < 0 || d.Pacing.BatchSize < 0 || d.Pacing.BatchPause < 0 || d.Pacing.RateRPS < 0 {
		add("pacing values must be >= 0")
	}
	if d.Template.From == "" || d.Template.Subject == "" {
		add("template.from and template.subject are required")
	}
	if d.Template.HTML == "" && d.Template.HTMLFile == "" && d.Template.Text == "" && d.Template.TextFile == "" {
		add("template needs an html or text body")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w %q: %w", ErrInvalid, d.Name, errors.Join(errs...))
}

// Predicates compiles the where conditions.
func (d *Definition) Predicates() []candidate.Predicate {
	p, _ := compile(d.Where)
	return p
}

// GoalPredicates compiles the goal_met conditions.
func (d *Definition) GoalPredicates() []candidate.Predicate {
	p, _ := compile(d.GoalMet)
	return p
}

// Order returns the sort terms. The key is appended as a final ascending
// term unless already present, so rows sharing the other values still page
// in a total order.
func (d *Definition) Order() []candidate.Order {
	out := make([]candidate.Order, 0, len(d.OrderBy)+1)
	hasKey := false
	for _, o := range d.OrderBy {
		if o.Field == "key" || o.Field == d.Source.KeyColumn {
			hasKey = true
		}
		out = append(out, candidate.Order{Field: o.Field, Descending: o.Desc})
	}
	if !hasKey {
		out = append(out, candidate.Order{Field: "key"})
	}
	return out
}

// Resolve returns path relative to the campaign file directory.
func (d *Definition) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || d.dir == "" {
		return path
	}
	return filepath.Join(d.dir, path)
}

// MessageTemplate reads template files and returns the renderer input.
func (d *Definition) MessageTemplate() (action.Template, error) {
	t := action.Template{
		From:    d.Template.From,
		Subject: d.Template.Subject,
		HTML:    d.Template.HTML,
		Text:    d.Template.Text,
	}
	if d.Template.HTMLFile != "" {
		b, err := os.ReadFile(d.Resolve(d.Template.HTMLFile))
		if err != nil {
			return action.Template{}, fmt.Errorf("read html template: %w", err)
		}
		t.HTML = string(b)
	}
	if d.Template.TextFile != "" {
		b, err := os.ReadFile(d.Resolve(d.Template.TextFile))
		if err != nil {
			return action.Template{}, fmt.Errorf("read text template: %w", err)
		}
		t.Text = string(b)
	}
	return t, nil
}

// Schedule resolves pacing. An explicit delay wins; otherwise the delay is
// derived from rate_rps (default 2 rps) widened by margin (default 10%).
func (p Pacing) Schedule() (ratelimit.Schedule, error) {
	s := ratelimit.Schedule{
		Delay:      p.Delay,
		BatchSize:  p.BatchSize,
		BatchPause: p.BatchPause,
	}
	if s.Delay == 0 {
		rps := p.RateRPS
		if rps == 0 {
			rps = ratelimit.DefaultRPS
		}
		margin := ratelimit.DefaultMargin
		if p.Margin != nil {
			margin = *p.Margin
		}
		d, err := ratelimit.DelayForRate(rps, margin)
		if err != nil {
			return ratelimit.Schedule{}, err
		}
		s.Delay = d
	}
	if s.BatchSize > 0 && s.BatchPause == 0 {
		s.BatchPause = ratelimit.DefaultBatchPause
	}
	return s, s.Validate()
}

func compile(conds []Condition) ([]candidate.Predicate, error) {
	out := make([]candidate.Predicate, 0, len(conds))
	for i, c := range conds {
		if c.Field == "" {
			return nil, fmt.Errorf("condition %d: field is required", i+1)
		}
		switch candidate.Op(c.Op) {
		case candidate.OpIsNull:
			out = append(out, candidate.FieldIsNull{Field: c.Field})
		case candidate.OpNotNull:
			out = append(out, candidate.FieldNotNull{Field: c.Field})
		case candidate.OpEquals:
			out = append(out, candidate.FieldEquals{Field: c.Field, Value: c.Value})
		case candidate.OpIn:
			if len(c.Values) == 0 {
				return nil, fmt.Errorf("condition %d: op in needs values", i+1)
			}
			out = append(out, candidate.FieldInSet{Field: c.Field, Values: c.Values})
		default:
			return nil, fmt.Errorf("condition %d: unknown op %q", i+1, c.Op)
		}
	}
	return out, nil
}
