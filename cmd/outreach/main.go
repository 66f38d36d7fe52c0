// Command outreach runs one pass of a bulk outreach campaign: it fetches the
// campaign's candidates, filters them against the resumable log, sends at a
// paced rate and prints a summary.
//
// Exit codes: 0 after a summary (per-item failures included), 1 when the run
// aborts on a fetch, ledger or lock error, 2 on usage or configuration errors
// and 130 when interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/outreach-dispatcher/internal/config"
	"github.com/Sternrassler/outreach-dispatcher/pkg/campaign"
	"github.com/Sternrassler/outreach-dispatcher/pkg/logging"
	"github.com/Sternrassler/outreach-dispatcher/pkg/metrics"
)

const (
	exitOK          = 0
	exitRunFailed   = 1
	exitUsage       = 2
	exitInterrupted = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(".env", args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, "outreach:", err)
		return exitUsage
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(stderr, "outreach:", err)
		return exitUsage
	}
	logging.Setup(logging.Config{Level: level, Pretty: cfg.LogPretty, Output: stderr})

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Listen(cfg.MetricsAddr)
		if err != nil {
			log.Error().Err(err).Msg("Failed to start metrics server")
			return exitUsage
		}
		metricsCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		go func() {
			if err := srv.Serve(metricsCtx); err != nil {
				log.Warn().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	w, err := wire(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to prepare run")
		return exitCode(ctx, err)
	}
	defer w.Close()

	r, err := campaign.NewRun(w.def, w.deps, w.opts)
	if err != nil {
		log.Error().Err(err).Msg("Invalid run")
		return exitUsage
	}

	summary, err := r.Execute(ctx)
	fmt.Fprint(stdout, summary.String())
	if err != nil {
		log.Error().Err(err).Str("campaign", w.def.Name).Msg("Run aborted")
		return exitCode(ctx, err)
	}
	return exitOK
}

// exitCode maps a setup or run error to the process exit code.
func exitCode(ctx context.Context, err error) int {
	switch {
	case ctx.Err() != nil:
		return exitInterrupted
	case errors.Is(err, config.ErrUsage),
		errors.Is(err, config.ErrMissingCredentials),
		errors.Is(err, campaign.ErrInvalid):
		return exitUsage
	default:
		return exitRunFailed
	}
}
