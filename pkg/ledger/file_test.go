package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
)

func TestFileLog_LoadMissing(t *testing.T) {
	l, err := OpenFile(filepath.Join(t.TempDir(), "nested", "sent.log"))
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer l.Close()

	set, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if set.Len() != 0 {
		t.Errorf("Expected empty set, got %d keys", set.Len())
	}
}

func TestFileLog_RecordAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent.log")
	ctx := context.Background()

	l, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	for _, k := range []candidate.Key{"a@example.com", "B@Example.com"} {
		if err := l.Record(ctx, k); err != nil {
			t.Fatalf("Record(%s) error = %v", k, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "a@example.com\nb@example.com\n" {
		t.Errorf("file content = %q", string(data))
	}

	// Reopen: appends after existing content, never rewrites
	l2, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer l2.Close()
	if err := l2.Record(ctx, "c@example.com"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	set, err := l2.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for _, k := range []candidate.Key{"a@example.com", "b@example.com", "c@example.com"} {
		if !set.Has(k) {
			t.Errorf("Expected set to contain %s", k)
		}
	}
	if set.Len() != 3 {
		t.Errorf("set size = %d, want 3", set.Len())
	}
}

func TestFileLog_LoadToleratesBlankAndTornLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent.log")
	content := "a@example.com\n\n  \nb@example.com\nc@exam"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	l, _ := OpenFile(path)
	defer l.Close()

	set, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if set.Len() != 3 {
		t.Errorf("set size = %d, want 3", set.Len())
	}
}

func TestFileLog_RecordAfterTornLine(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []candidate.Key
	}{
		{"torn tail", "a@example.com\nc@exam", []candidate.Key{"a@example.com", "c@exam", "bob@example.com"}},
		{"clean tail", "a@example.com\n", []candidate.Key{"a@example.com", "bob@example.com"}},
		{"empty file", "", []candidate.Key{"bob@example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sent.log")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}

			l, _ := OpenFile(path)
			if err := l.Record(context.Background(), "bob@example.com"); err != nil {
				t.Fatalf("Record() error = %v", err)
			}
			l.Close()

			set, err := l.Load(context.Background())
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if set.Len() != len(tt.want) {
				t.Errorf("set size = %d, want %d", set.Len(), len(tt.want))
			}
			for _, k := range tt.want {
				if !set.Has(k) {
					t.Errorf("missing %q", k)
				}
			}
			if set.Has("c@exambob@example.com") {
				t.Error("new key was glued onto the torn line")
			}

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.HasSuffix(string(data), "\nbob@example.com\n") && string(data) != "bob@example.com\n" {
				t.Errorf("file = %q", data)
			}
		})
	}
}

func TestFileLog_RecordValidation(t *testing.T) {
	l, _ := OpenFile(filepath.Join(t.TempDir(), "sent.log"))
	ctx := context.Background()

	if err := l.Record(ctx, "  "); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Expected ErrEmptyKey, got %v", err)
	}
	if err := l.Record(ctx, "a\nb"); err == nil || !strings.Contains(err.Error(), "line break") {
		t.Errorf("Expected line break error, got %v", err)
	}

	l.Close()
	if err := l.Record(ctx, "a@example.com"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestOpenFile_RequiresPath(t *testing.T) {
	if _, err := OpenFile(""); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestNewRedisLog_Validation(t *testing.T) {
	if _, err := NewRedisLog(nil, "welcome"); err == nil {
		t.Error("Expected error for nil redis client")
	}
}

func TestSet(t *testing.T) {
	s := NewSet("a", "b", "a")
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if !s.Has("a") || s.Has("c") {
		t.Error("Has() returned wrong membership")
	}
}
