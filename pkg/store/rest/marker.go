package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
)

// ErrNoRow is returned when the PATCH matched no record.
var ErrNoRow = errors.New("no record matches key")

// likeEscaper keeps LIKE wildcards in keys literal.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `*`, `\*`)

// Marker flags contacted records through the REST API.
type Marker struct {
	client *Client
	flag   string
	stamp  string
	now    func() time.Time
}

// NewMarker sets flag = true and, if stamp is set, stamp = now on each mark.
func NewMarker(client *Client, flag, stamp string) (*Marker, error) {
	if client == nil || flag == "" {
		return nil, errors.New("rest marker: client and flag are required")
	}
	return &Marker{client: client, flag: flag, stamp: stamp, now: time.Now}, nil
}

// MarkContacted implements action.Marker. The key is matched
// case-insensitively.
func (m *Marker) MarkContacted(ctx context.Context, key candidate.Key) error {
	patch := map[string]any{m.flag: true}
	if m.stamp != "" {
		patch[m.stamp] = m.now().UTC().Format(time.RFC3339)
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}

	params := url.Values{}
	params.Set(m.client.config.KeyColumn, "ilike."+likeEscaper.Replace(string(candidate.NormalizeKey(key.String()))))
	params.Set("select", m.client.config.KeyColumn)

	req, err := m.client.newRequest(ctx, http.MethodPatch, params, body)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=representation")

	resp, err := m.client.do(req)
	if err != nil {
		return fmt.Errorf("mark %s contacted: %w", key, err)
	}

	var updated []json.RawMessage
	if err := json.Unmarshal(resp, &updated); err == nil && len(updated) == 0 {
		return fmt.Errorf("mark %s contacted: %w", key, ErrNoRow)
	}
	return nil
}
