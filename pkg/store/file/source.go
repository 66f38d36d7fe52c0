// Package file serves candidates from a newline-delimited key file, such as
// the failed-output file of a previous run.
package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
	"github.com/Sternrassler/outreach-dispatcher/pkg/pagination"
)

// Source is a pagination.PageSource in file order. Blank lines and lines
// starting with '#' are ignored.
type Source struct {
	keys  []candidate.Key
	field string
}

// Open reads path. Each key is also exposed as the field named keyField
// (e.g. "email") so required-field rules keep working.
func Open(path, keyField string) (*Source, error) {
	if path == "" {
		return nil, errors.New("key file path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open key file: %w", err)
	}
	defer f.Close()

	var keys []candidate.Key
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, candidate.Key(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return &Source{keys: keys, field: keyField}, nil
}

// Len returns the number of keys.
func (s *Source) Len() int {
	return len(s.keys)
}

// FetchPage implements pagination.PageSource. OrderBy is satisfied by file
// order, which is stable.
func (s *Source) FetchPage(ctx context.Context, q pagination.Query) ([]candidate.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var matched []candidate.Candidate
	for _, k := range s.keys {
		c := candidate.Candidate{Key: k, Fields: map[string]string{"key": k.String()}}
		if s.field != "" {
			c.Fields[s.field] = k.String()
		}
		if candidate.MatchAll(c, q.Where) {
			matched = append(matched, c)
		}
	}

	if q.Offset >= len(matched) {
		return nil, nil
	}
	end := len(matched)
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	return matched[q.Offset:end], nil
}
