// Package rest reads candidates from, and flags them in, a PostgREST-style
// HTTP API such as the one fronting a hosted Postgres backend.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
	"github.com/Sternrassler/outreach-dispatcher/pkg/logging"
	"github.com/Sternrassler/outreach-dispatcher/pkg/pagination"
)

// Config holds the API coordinates of one table.
type Config struct {
	// BaseURL is the REST root, e.g. https://xyz.supabase.co/rest/v1.
	BaseURL string

	// APIKey is sent as apikey and as the Bearer token.
	APIKey string

	// Table is the resource name.
	Table string

	// KeyColumn holds the candidate key.
	KeyColumn string

	// CreatedColumn is the creation timestamp column; empty omits it.
	CreatedColumn string

	// Columns are loaded into Candidate.Fields.
	Columns []string

	// Timeout per request.
	Timeout time.Duration
}

// Validate checks the required settings.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.BaseURL) == "":
		return errors.New("rest: base url is required")
	case strings.TrimSpace(c.APIKey) == "":
		return errors.New("rest: api key is required")
	case strings.TrimSpace(c.Table) == "":
		return errors.New("rest: table is required")
	case strings.TrimSpace(c.KeyColumn) == "":
		return errors.New("rest: key column is required")
	}
	return nil
}

// Client talks to one table.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logging.NewLogger("rest-store").With().Str("table", cfg.Table).Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) column(field string) string {
	switch field {
	case "key":
		return c.config.KeyColumn
	case "created_at":
		if c.config.CreatedColumn != "" {
			return c.config.CreatedColumn
		}
	}
	return field
}

// encodeQuery compiles q into PostgREST query parameters.
func (c *Client) encodeQuery(q pagination.Query) (url.Values, error) {
	v := url.Values{}

	sel := []string{c.config.KeyColumn}
	if c.config.CreatedColumn != "" {
		sel = append(sel, c.config.CreatedColumn)
	}
	sel = append(sel, c.config.Columns...)
	v.Set("select", strings.Join(sel, ","))

	for _, p := range q.Where {
		col := c.column(p.Column())
		switch p := p.(type) {
		case candidate.FieldIsNull:
			v.Add(col, "is.null")
		case candidate.FieldNotNull:
			v.Add(col, "not.is.null")
		case candidate.FieldEquals:
			v.Add(col, "eq."+p.Value)
		case candidate.FieldInSet:
			quoted := make([]string, len(p.Values))
			for i, val := range p.Values {
				quoted[i] = quoteListValue(val)
			}
			v.Add(col, "in.("+strings.Join(quoted, ",")+")")
		default:
			return nil, fmt.Errorf("unsupported predicate %T", p)
		}
	}

	if len(q.OrderBy) > 0 {
		order := make([]string, 0, len(q.OrderBy))
		for _, o := range q.OrderBy {
			dir := "asc"
			if o.Descending {
				dir = "desc"
			}
			order = append(order, c.column(o.Field)+"."+dir)
		}
		v.Set("order", strings.Join(order, ","))
	}

	v.Set("offset", strconv.Itoa(q.Offset))
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v, nil
}

// quoteListValue double-quotes values that contain PostgREST list syntax.
func quoteListValue(s string) string {
	if strings.ContainsAny(s, `,()"\ `) {
		return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
	}
	return s
}

// FetchPage implements pagination.PageSource.
func (c *Client) FetchPage(ctx context.Context, q pagination.Query) ([]candidate.Candidate, error) {
	params, err := c.encodeQuery(q)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodGet, params, nil)
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	// Numbers stay literal so bigint keys keep every digit.
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode %s page: %w", c.config.Table, err)
	}

	out := make([]candidate.Candidate, 0, len(records))
	for _, rec := range records {
		out = append(out, c.toCandidate(rec))
	}
	c.logger.Debug().Int("offset", q.Offset).Int("rows", len(out)).Msg("Fetched page")
	return out, nil
}

func (c *Client) toCandidate(rec map[string]any) candidate.Candidate {
	cand := candidate.Candidate{Fields: make(map[string]string, len(rec))}
	for k, raw := range rec {
		if raw == nil {
			continue
		}
		var s string
		switch v := raw.(type) {
		case string:
			s = v
		case json.Number:
			s = v.String()
		case bool:
			s = strconv.FormatBool(v)
		default:
			b, _ := json.Marshal(v)
			s = string(b)
		}
		cand.Fields[k] = s
	}
	cand.Key = candidate.Key(strings.TrimSpace(cand.Fields[c.config.KeyColumn]))
	if ts, ok := cand.Fields[c.config.CreatedColumn]; ok && c.config.CreatedColumn != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			cand.CreatedAt = t
		}
	}
	return cand
}

func (c *Client) newRequest(ctx context.Context, method string, params url.Values, body []byte) (*http.Request, error) {
	u := c.config.BaseURL + "/" + url.PathEscape(c.config.Table) + "?" + params.Encode()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", c.config.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, c.config.Table, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", c.config.Table, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %d: %s", req.Method, c.config.Table, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
