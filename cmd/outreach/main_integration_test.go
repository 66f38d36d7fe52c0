//go:build integration

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/outreach-dispatcher/internal/testutil"
	"github.com/Sternrassler/outreach-dispatcher/pkg/ledger"
)

// startContainer starts req and returns its endpoint.
func startContainer(t *testing.T, req testcontainers.ContainerRequest) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start %s container: %v", req.Image, err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get %s endpoint: %v", req.Image, err)
	}
	return endpoint
}

// setupStack starts Postgres and Redis and returns the DSN and Redis URL.
func setupStack(t *testing.T) (string, string) {
	t.Helper()

	pgEndpoint := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "outreach",
			"POSTGRES_PASSWORD": "outreach",
			"POSTGRES_DB":       "outreach",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	})
	redisEndpoint := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	})

	dsn := fmt.Sprintf("postgres://outreach:outreach@%s/outreach?sslmode=disable", pgEndpoint)
	return dsn, "redis://" + redisEndpoint + "/0"
}

const leadsCampaign = `
name: spring-leads
source:
  kind: postgres
  table: leads
  key_column: email
  created_column: created_at
  columns: [name, contacted]
page_size: 2
where:
  - field: unsubscribed_at
    op: is_null
required_fields: [name]
goal_met:
  - field: contacted
    op: equals
    value: "true"
ledger:
  kind: redis
mark_contacted:
  flag: contacted
  stamp: contacted_at
template:
  from: "Sales <sales@example.com>"
  subject: "Hello {{.name}}"
  html: "<p>Hi {{.name}}</p>"
`

// TestCLI_Integration runs the CLI against Postgres, the Redis ledger and the
// mock provider: first pass sends, second pass resumes with nothing to do.
func TestCLI_Integration(t *testing.T) {
	dsn, redisURL := setupStack(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `
		CREATE TABLE leads (
			email text,
			name text,
			unsubscribed_at timestamptz,
			contacted boolean NOT NULL DEFAULT false,
			contacted_at timestamptz,
			created_at timestamptz NOT NULL
		)`); err != nil {
		t.Fatal(err)
	}
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := []struct {
		email        string
		name         any
		unsubscribed bool
		contacted    bool
	}{
		{"ann@example.com", "Ann", false, false},
		{"bob@example.com", "Bob", true, false},
		{"cid@example.com", nil, false, false},
		{"dee@example.com", "Dee", false, true},
		{"eve@example.com", "Eve", false, false},
		{"fay@example.com", "Fay", false, false},
	}
	for i, r := range rows {
		var unsub any
		if r.unsubscribed {
			unsub = base
		}
		if _, err := pool.Exec(ctx,
			`INSERT INTO leads (email, name, unsubscribed_at, contacted, created_at) VALUES ($1, $2, $3, $4, $5)`,
			r.email, r.name, unsub, r.contacted, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}

	mock := testutil.NewMockProvider()
	defer mock.Close()

	dir := setupCampaign(t)
	if err := os.WriteFile(filepath.Join(dir, "leads.yaml"), []byte(leadsCampaign), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OUTREACH_CAMPAIGN", filepath.Join(dir, "leads.yaml"))
	t.Setenv("EMAIL_API_URL", mock.URL())
	t.Setenv("EMAIL_API_KEY", "re_test")
	t.Setenv("DATABASE_URL", dsn)
	t.Setenv("REDIS_URL", redisURL)

	code, stdout, stderr := runCLI(t, "-mode", "full", "-delay", "5ms")
	if code != exitOK {
		t.Fatalf("exit = %d, stderr = %s", code, stderr)
	}
	if !strings.Contains(stdout, "sent:      3") {
		t.Errorf("summary = %q", stdout)
	}
	for _, to := range []string{"ann@example.com", "eve@example.com", "fay@example.com"} {
		if mock.DeliveredTo(to) != 1 {
			t.Errorf("DeliveredTo(%s) = %d, want 1", to, mock.DeliveredTo(to))
		}
	}
	if mock.DeliveredTo("cid@example.com") != 0 || mock.DeliveredTo("dee@example.com") != 0 {
		t.Error("missing-field and goal-met leads must be skipped")
	}

	var marked int
	if err := pool.QueryRow(ctx,
		`SELECT count(*) FROM leads WHERE contacted AND contacted_at IS NOT NULL`).Scan(&marked); err != nil {
		t.Fatal(err)
	}
	if marked != 3 {
		t.Errorf("marked = %d, want 3", marked)
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()
	log, err := ledger.NewRedisLog(rdb, "spring-leads")
	if err != nil {
		t.Fatal(err)
	}
	processed, err := log.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if processed.Len() != 3 {
		t.Errorf("ledger holds %d keys, want 3", processed.Len())
	}

	code, stdout, _ = runCLI(t, "-mode", "full", "-delay", "5ms")
	if code != exitOK {
		t.Fatalf("second run exit = %d", code)
	}
	if !strings.Contains(stdout, "nothing to send") {
		t.Errorf("second run summary = %q", stdout)
	}
	if got := len(mock.GetDelivered()); got != 3 {
		t.Errorf("delivered = %d after resume, want 3", got)
	}
}
