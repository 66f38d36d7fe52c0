// Package metrics exposes the outreach Prometheus metrics over HTTP.
// All metrics are defined in their respective packages (client, dispatch,
// outcome, pagination, ratelimit) via promauto.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sternrassler/outreach-dispatcher/pkg/logging"
)

// Registry is the default Prometheus registry used by outreach.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Path is where the scrape handler is mounted.
const Path = "/metrics"

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Handler serves the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server serves Path for the lifetime of a run.
type Server struct {
	ln  net.Listener
	srv *http.Server
}

// Listen binds addr. Use ":0" for an ephemeral port.
func Listen(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle(Path, Handler())
	return &Server{
		ln: ln,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve runs until ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	logger := logging.NewLogger("metrics")
	serveErr := make(chan error, 1)
	logger.Info().Str("addr", s.Addr()).Msg("Serving metrics")
	go func() {
		serveErr <- s.srv.Serve(s.ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := s.srv.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve metrics: %w", err)
	}
}

// Metrics Documentation
//
// Provider Metrics (pkg/client):
//   - outreach_provider_requests_total{status} (Counter): Provider requests by HTTP status
//   - outreach_provider_request_duration_seconds (Histogram): Provider request duration
//   - outreach_provider_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - outreach_provider_retries_total{error_class} (Counter): Retry attempts by error class
//   - outreach_provider_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - outreach_provider_retry_exhausted_total{error_class} (Counter): Sends that exhausted max retries
//
// Fetch Metrics (pkg/pagination):
//   - outreach_pages_fetched_total (Counter): Pages requested from the candidate store
//   - outreach_rows_fetched_total (Counter): Rows returned by the candidate store
//
// Dispatch Metrics (pkg/dispatch, pkg/ratelimit):
//   - outreach_action_duration_seconds{result} (Histogram): Action duration by result
//   - outreach_pacing_sleep_seconds{kind} (Histogram): Pacing sleeps by kind (item, batch)
//
// Outcome Metrics (pkg/outcome):
//   - outreach_dispatch_total{campaign, outcome} (Counter): Candidates by outcome (sent, failed, previewed)
//   - outreach_skipped_total{campaign, reason} (Counter): Skipped candidates by reason
//
// Example Prometheus Queries:
//
//   # Send failure ratio per campaign
//   sum by (campaign) (rate(outreach_dispatch_total{outcome="failed"}[5m])) /
//   sum by (campaign) (rate(outreach_dispatch_total[5m]))
//
//   # Effective send rate (must stay below the provider ceiling)
//   rate(outreach_provider_requests_total[1m])
//
//   # Provider throttling
//   rate(outreach_provider_errors_total{class="rate_limit"}[5m])
//
//   # P95 send latency
//   histogram_quantile(0.95, rate(outreach_provider_request_duration_seconds_bucket[5m]))
