// Package logging configures the zerolog logger shared by every outreach component.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Service is attached to every log line.
const Service = "outreach"

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	// Run summaries go to stdout, so logs stay off it.
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// ParseLevel validates an operator-supplied level name.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(output).With().Timestamp().Str("service", Service).Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level. Unknown levels mean info.
func parseLevel(level LogLevel) zerolog.Level {
	l, err := ParseLevel(string(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
// Call it after Setup; the component logger copies the global one.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Per-item detail
//   - Page requests (offset, limit, rows)
//   - Rendered message metadata, idempotency keys
//   - Pacing sleeps
//
// Info: Run lifecycle
//   - Run start with resolved pacing
//   - Fetch totals, selected batch
//   - Each successful send
//   - Run summary
//
// Warn: Conditions that do not stop the run
//   - Skipped candidates by reason
//   - Failed sends (recorded in the failed-output file)
//   - Provider retries
//   - Marker errors after a successful send
//   - Lock release failures
//
// Error: Conditions that abort the run
//   - Fetch errors
//   - Ledger read or write errors
//   - Failed-output file write errors
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (campaign, dispatcher, rest-store)
//   - campaign: campaign name
//   - run_id: per-run identifier
//   - mode: preview, test, batch, full, retry
//   - key: candidate key (normalized email)
//   - detail: action result detail
//   - error_class: provider error class (client, server, rate_limit, network)
