package candidate

// Op names a predicate variant. It is also the wire name used in campaign files.
type Op string

const (
	OpIsNull  Op = "is_null"
	OpNotNull Op = "not_null"
	OpEquals  Op = "equals"
	OpIn      Op = "in"
)

// Predicate is a closed set of field conditions. Stores compile predicates into
// their own query language; the eligibility filter evaluates them in memory.
type Predicate interface {
	// Match reports whether c satisfies the predicate.
	Match(c Candidate) bool

	// Column is the field the predicate inspects.
	Column() string

	predicate()
}

// FieldIsNull matches candidates where Field is missing or empty.
type FieldIsNull struct {
	Field string
}

// Match implements Predicate.
func (p FieldIsNull) Match(c Candidate) bool {
	_, ok := c.Field(p.Field)
	return !ok
}

// Column implements Predicate.
func (p FieldIsNull) Column() string { return p.Field }

func (FieldIsNull) predicate() {}

// FieldNotNull matches candidates where Field carries a non-empty value.
type FieldNotNull struct {
	Field string
}

// Match implements Predicate.
func (p FieldNotNull) Match(c Candidate) bool {
	_, ok := c.Field(p.Field)
	return ok
}

// Column implements Predicate.
func (p FieldNotNull) Column() string { return p.Field }

func (FieldNotNull) predicate() {}

// FieldEquals matches candidates where Field equals Value exactly.
type FieldEquals struct {
	Field string
	Value string
}

// Match implements Predicate.
func (p FieldEquals) Match(c Candidate) bool {
	v, ok := c.Field(p.Field)
	return ok && v == p.Value
}

// Column implements Predicate.
func (p FieldEquals) Column() string { return p.Field }

func (FieldEquals) predicate() {}

// FieldInSet matches candidates where Field is one of Values.
type FieldInSet struct {
	Field  string
	Values []string
}

// Match implements Predicate.
func (p FieldInSet) Match(c Candidate) bool {
	v, ok := c.Field(p.Field)
	if !ok {
		return false
	}
	for _, want := range p.Values {
		if v == want {
			return true
		}
	}
	return false
}

// Column implements Predicate.
func (p FieldInSet) Column() string { return p.Field }

func (FieldInSet) predicate() {}

// MatchAll reports whether c satisfies every predicate. An empty list matches.
func MatchAll(c Candidate, preds []Predicate) bool {
	for _, p := range preds {
		if !p.Match(c) {
			return false
		}
	}
	return true
}

// MatchAny reports whether c satisfies at least one predicate. An empty list never matches.
func MatchAny(c Candidate, preds []Predicate) bool {
	for _, p := range preds {
		if p.Match(c) {
			return true
		}
	}
	return false
}

// Order is a sort term applied by the store.
type Order struct {
	Field      string
	Descending bool
}
