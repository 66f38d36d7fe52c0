package eligibility

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
	"github.com/Sternrassler/outreach-dispatcher/pkg/ledger"
)

// LoadExclusions reads an unsubscribe list: one key per line, '#' comments allowed.
// An empty path or a missing file yields an empty set.
func LoadExclusions(path string) (ledger.Set, error) {
	set := ledger.NewSet()
	if strings.TrimSpace(path) == "" {
		return set, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return set, nil
		}
		return nil, fmt.Errorf("open exclusions: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set.Add(candidate.NormalizeKey(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read exclusions: %w", err)
	}
	return set, nil
}
