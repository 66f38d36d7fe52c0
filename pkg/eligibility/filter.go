// Package eligibility decides which fetched candidates may be dispatched.
// The filter is pure: it reads the candidate list, the processed-key set and
// the exclusion set, and mutates none of them.
package eligibility

import (
	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
	"github.com/Sternrassler/outreach-dispatcher/pkg/ledger"
)

// Reason explains why a candidate was skipped.
type Reason string

const (
	// ReasonNoContactInfo means a required payload field is missing.
	ReasonNoContactInfo Reason = "no_contact_info"

	// ReasonAlreadySent means the key is in the resumable log.
	ReasonAlreadySent Reason = "already_sent"

	// ReasonUnsubscribed means the key is in the exclusion set.
	ReasonUnsubscribed Reason = "unsubscribed"

	// ReasonGoalMet means the candidate already satisfies the campaign goal.
	ReasonGoalMet Reason = "goal_met"

	// ReasonDuplicate means the key appeared earlier in the same candidate list.
	ReasonDuplicate Reason = "duplicate"
)

// Skip is one excluded candidate.
type Skip struct {
	Candidate candidate.Candidate
	Reason    Reason
}

// Result is the partition of a candidate list.
type Result struct {
	Eligible []candidate.Candidate
	Skipped  []Skip
}

// CountByReason tallies skips.
func (r Result) CountByReason() map[Reason]int {
	out := make(map[Reason]int)
	for _, s := range r.Skipped {
		out[s.Reason]++
	}
	return out
}

// Filter holds the campaign's exclusion rules.
type Filter struct {
	// RequiredFields must all be present (e.g. "email").
	RequiredFields []string

	// Exclusions holds unsubscribed / do-not-contact keys.
	Exclusions ledger.Set

	// GoalMet lists conditions under which the action would achieve nothing
	// (e.g. the profile already has a photo). Any match excludes the candidate.
	GoalMet []candidate.Predicate
}

// Apply partitions cands. Eligible keeps the input order.
func (f Filter) Apply(cands []candidate.Candidate, processed ledger.Set) Result {
	var res Result
	seen := make(map[candidate.Key]struct{}, len(cands))

	for _, c := range cands {
		if reason, skip := f.check(c, processed, seen); skip {
			res.Skipped = append(res.Skipped, Skip{Candidate: c, Reason: reason})
			continue
		}
		seen[candidate.NormalizeKey(c.Key.String())] = struct{}{}
		res.Eligible = append(res.Eligible, c)
	}
	return res
}

func (f Filter) check(c candidate.Candidate, processed ledger.Set, seen map[candidate.Key]struct{}) (Reason, bool) {
	if c.Key.String() == "" {
		return ReasonNoContactInfo, true
	}
	for _, field := range f.RequiredFields {
		if _, ok := c.Field(field); !ok {
			return ReasonNoContactInfo, true
		}
	}

	key := candidate.NormalizeKey(c.Key.String())
	if processed.Has(key) {
		return ReasonAlreadySent, true
	}
	if f.Exclusions.Has(key) {
		return ReasonUnsubscribed, true
	}
	if candidate.MatchAny(c, f.GoalMet) {
		return ReasonGoalMet, true
	}
	if _, dup := seen[key]; dup {
		return ReasonDuplicate, true
	}
	return "", false
}
