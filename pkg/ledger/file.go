package ledger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
)

// FileLog is a newline-delimited key file, one key per line.
// It is opened in append mode and never rewritten.
type FileLog struct {
	path string

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// OpenFile opens (creating parent directories as needed) the log at path.
// The file itself is created on the first Record.
func OpenFile(path string) (*FileLog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	return &FileLog{path: path}, nil
}

// Path returns the file location.
func (l *FileLog) Path() string {
	return l.path
}

// Load reads every recorded key. A missing file is an empty set.
// A trailing line without newline (torn write) is still counted; the key was
// written in full before the sync that confirmed it, or not at all.
func (l *FileLog) Load(ctx context.Context) (Set, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewSet(), nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	set := NewSet()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		set.Add(candidate.NormalizeKey(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return set, nil
}

// Record appends key and fsyncs before returning. If a previous process died
// mid-line, the first Record terminates that line before appending.
func (l *FileLog) Record(ctx context.Context, key candidate.Key) error {
	if strings.TrimSpace(key.String()) == "" {
		return ErrEmptyKey
	}
	if strings.ContainsAny(key.String(), "\r\n") {
		return fmt.Errorf("ledger key %q contains a line break", key)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.file == nil {
		f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return fmt.Errorf("open ledger for append: %w", err)
		}
		if err := terminateTornLine(f); err != nil {
			f.Close()
			return err
		}
		l.file = f
	}

	if _, err := l.file.WriteString(candidate.NormalizeKey(key.String()).String() + "\n"); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

// terminateTornLine appends a newline when f is non-empty and does not end
// with one.
func terminateTornLine(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat ledger: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("read ledger tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.WriteString("\n"); err != nil {
		return fmt.Errorf("repair ledger tail: %w", err)
	}
	return f.Sync()
}

// Close closes the file. Further Record calls fail with ErrClosed.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
