package eligibility

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
	"github.com/Sternrassler/outreach-dispatcher/pkg/ledger"
)

func person(email string, fields map[string]string) candidate.Candidate {
	f := map[string]string{"email": email}
	for k, v := range fields {
		f[k] = v
	}
	return candidate.Candidate{Key: candidate.Key(email), Fields: f}
}

func TestFilter_Scenario(t *testing.T) {
	// A new, B already in log, C missing required field
	a := person("a@example.com", nil)
	b := person("b@example.com", nil)
	c := candidate.Candidate{Key: "c-profile-id", Fields: map[string]string{"name": "C"}}

	f := Filter{RequiredFields: []string{"email"}}
	res := f.Apply([]candidate.Candidate{a, b, c}, ledger.NewSet("b@example.com"))

	if len(res.Eligible) != 1 || res.Eligible[0].Key != a.Key {
		t.Fatalf("Eligible = %v, want [a]", candidate.Keys(res.Eligible))
	}
	counts := res.CountByReason()
	if counts[ReasonAlreadySent] != 1 {
		t.Errorf("already_sent = %d, want 1", counts[ReasonAlreadySent])
	}
	if counts[ReasonNoContactInfo] != 1 {
		t.Errorf("no_contact_info = %d, want 1", counts[ReasonNoContactInfo])
	}
}

func TestFilter_Reasons(t *testing.T) {
	f := Filter{
		RequiredFields: []string{"email"},
		Exclusions:     ledger.NewSet("unsub@example.com"),
		GoalMet:        []candidate.Predicate{candidate.FieldNotNull{Field: "photo_url"}},
	}

	tests := []struct {
		name      string
		cand      candidate.Candidate
		processed ledger.Set
		want      Reason
	}{
		{"missing email", candidate.Candidate{Key: "x", Fields: map[string]string{}}, nil, ReasonNoContactInfo},
		{"blank key", candidate.Candidate{Fields: map[string]string{"email": "x@example.com"}}, nil, ReasonNoContactInfo},
		{"already sent", person("sent@example.com", nil), ledger.NewSet("sent@example.com"), ReasonAlreadySent},
		{"already sent case-insensitive", person("Sent@Example.com", nil), ledger.NewSet("sent@example.com"), ReasonAlreadySent},
		{"unsubscribed", person("unsub@example.com", nil), nil, ReasonUnsubscribed},
		{"goal met", person("has-photo@example.com", map[string]string{"photo_url": "https://cdn/x.jpg"}), nil, ReasonGoalMet},
		{"eligible", person("ok@example.com", nil), nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.Apply([]candidate.Candidate{tt.cand}, tt.processed)
			if tt.want == "" {
				if len(res.Eligible) != 1 {
					t.Errorf("Expected candidate to be eligible, skipped as %v", res.Skipped)
				}
				return
			}
			if len(res.Skipped) != 1 {
				t.Fatalf("Expected 1 skip, got %d", len(res.Skipped))
			}
			if res.Skipped[0].Reason != tt.want {
				t.Errorf("Reason = %s, want %s", res.Skipped[0].Reason, tt.want)
			}
		})
	}
}

func TestFilter_DuplicateWithinList(t *testing.T) {
	res := Filter{}.Apply([]candidate.Candidate{
		person("a@example.com", nil),
		person("A@example.com", nil),
		person("b@example.com", nil),
	}, ledger.NewSet())

	if got := candidate.Keys(res.Eligible); len(got) != 2 || got[0] != "a@example.com" || got[1] != "b@example.com" {
		t.Errorf("Eligible = %v", got)
	}
	if res.CountByReason()[ReasonDuplicate] != 1 {
		t.Errorf("Expected 1 duplicate skip, got %v", res.CountByReason())
	}
}

func TestFilter_IsPure(t *testing.T) {
	processed := ledger.NewSet("b@example.com")
	cands := []candidate.Candidate{person("a@example.com", nil), person("b@example.com", nil)}

	f := Filter{RequiredFields: []string{"email"}}
	first := f.Apply(cands, processed)
	second := f.Apply(cands, processed)

	if processed.Len() != 1 {
		t.Errorf("processed set mutated: %d keys", processed.Len())
	}
	if len(first.Eligible) != len(second.Eligible) || len(first.Skipped) != len(second.Skipped) {
		t.Error("Apply is not deterministic")
	}
}

func TestFilter_PreservesOrder(t *testing.T) {
	var cands []candidate.Candidate
	for _, e := range []string{"e@x.io", "d@x.io", "c@x.io", "b@x.io", "a@x.io"} {
		cands = append(cands, person(e, nil))
	}

	res := Filter{}.Apply(cands, ledger.NewSet("c@x.io"))
	want := []candidate.Key{"e@x.io", "d@x.io", "b@x.io", "a@x.io"}
	got := candidate.Keys(res.Eligible)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Eligible = %v, want %v", got, want)
		}
	}
}

func TestLoadExclusions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "unsubscribed.txt")
	content := "# opted out via footer link\nOne@Example.com\n\n two@example.com \n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	set, err := LoadExclusions(path)
	if err != nil {
		t.Fatalf("LoadExclusions() error = %v", err)
	}
	if set.Len() != 2 || !set.Has("one@example.com") || !set.Has("two@example.com") {
		t.Errorf("Unexpected exclusions: %v", set)
	}

	missing, err := LoadExclusions(filepath.Join(dir, "nope.txt"))
	if err != nil || missing.Len() != 0 {
		t.Errorf("Missing file should be empty set, got %v, %v", missing, err)
	}

	empty, err := LoadExclusions("")
	if err != nil || empty.Len() != 0 {
		t.Errorf("Empty path should be empty set, got %v, %v", empty, err)
	}
}
