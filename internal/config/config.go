// Package config loads operator settings from the environment, an optional
// .env file and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	// ErrMissingCredentials is returned when a required secret or endpoint is unset.
	ErrMissingCredentials = errors.New("missing required credentials")

	// ErrUsage is returned for invalid command-line arguments.
	ErrUsage = errors.New("invalid arguments")
)

// Email providers.
const (
	ProviderHTTP = "http"
	ProviderSES  = "ses"
)

// Config holds every operator setting.
type Config struct {
	Campaign  string `env:"OUTREACH_CAMPAIGN"`
	Mode      string `env:"OUTREACH_MODE" envDefault:"preview"`
	Batch     int    `env:"OUTREACH_BATCH"`
	TestTo    string `env:"OUTREACH_TEST_TO"`
	RetryFrom string `env:"OUTREACH_RETRY_FROM"`

	Provider        string `env:"EMAIL_PROVIDER" envDefault:"http"`
	ProviderAPIKey  string `env:"EMAIL_API_KEY"`
	ProviderBaseURL string `env:"EMAIL_API_URL" envDefault:"https://api.resend.com"`
	SESRegion       string `env:"AWS_REGION"`
	ProviderRetry   bool   `env:"EMAIL_RETRY"`

	DatabaseURL        string `env:"DATABASE_URL"`
	DatabaseMaxConns   int    `env:"DATABASE_MAX_CONNS" envDefault:"2"`
	DatabaseViaBouncer bool   `env:"DATABASE_VIA_BOUNCER"`
	RestURL            string `env:"REST_URL"`
	RestAPIKey         string `env:"REST_API_KEY"`

	RedisURL string        `env:"REDIS_URL"`
	LockTTL  time.Duration `env:"CAMPAIGN_LOCK_TTL" envDefault:"6h"`

	Delay      time.Duration `env:"DISPATCH_DELAY"`
	RateRPS    float64       `env:"RATE_LIMIT_RPS"`
	RateMargin float64       `env:"RATE_LIMIT_MARGIN" envDefault:"0.10"`
	BatchSize  int           `env:"BATCH_SIZE"`
	BatchPause time.Duration `env:"BATCH_PAUSE"`
	PageSize   int           `env:"PAGE_SIZE"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty   bool   `env:"LOG_PRETTY"`
	MetricsAddr string `env:"METRICS_ADDR"`
}

// Load reads envFile (a missing file is ignored), the process environment
// and args. Flags win over the environment.
func Load(envFile string, args []string, stderr io.Writer) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.parseFlags(args, stderr); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) parseFlags(args []string, stderr io.Writer) error {
	fset := flag.NewFlagSet("outreach", flag.ContinueOnError)
	fset.SetOutput(stderr)

	fset.StringVar(&c.Campaign, "campaign", c.Campaign, "campaign definition file (YAML)")
	fset.StringVar(&c.Mode, "mode", c.Mode, "preview | test | batch | full | retry")
	fset.IntVar(&c.Batch, "batch", c.Batch, "batch number for -mode batch (1-based)")
	fset.StringVar(&c.TestTo, "to", c.TestTo, "recipient for -mode test")
	fset.StringVar(&c.RetryFrom, "retry-from", c.RetryFrom, "key file for -mode retry (default: the campaign's failed-output file)")
	fset.DurationVar(&c.Delay, "delay", c.Delay, "delay between items (overrides rate derivation)")
	fset.IntVar(&c.BatchSize, "batch-size", c.BatchSize, "items between longer pauses (0 disables)")
	fset.DurationVar(&c.BatchPause, "batch-pause", c.BatchPause, "pause after every batch-size items")
	fset.IntVar(&c.PageSize, "page-size", c.PageSize, "rows per fetched page")
	fset.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug | info | warn | error")
	fset.BoolVar(&c.LogPretty, "log-pretty", c.LogPretty, "human-readable log output")

	if err := fset.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	if fset.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments %v", ErrUsage, fset.Args())
	}
	return c.validate()
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Campaign) == "" {
		return fmt.Errorf("%w: -campaign is required", ErrUsage)
	}
	if c.Delay < 0 || c.BatchPause < 0 || c.BatchSize < 0 || c.PageSize < 0 {
		return fmt.Errorf("%w: pacing and page size must be >= 0", ErrUsage)
	}
	if c.RateRPS < 0 || c.RateMargin < 0 {
		return fmt.Errorf("%w: rate limit settings must be >= 0", ErrUsage)
	}
	switch c.Provider {
	case ProviderHTTP, ProviderSES:
	default:
		return fmt.Errorf("%w: EMAIL_PROVIDER %q must be http or ses", ErrUsage, c.Provider)
	}
	return nil
}

// RequireSender checks the email provider credentials.
func (c Config) RequireSender() error {
	switch c.Provider {
	case ProviderSES:
		if c.SESRegion == "" {
			return fmt.Errorf("%w: AWS_REGION", ErrMissingCredentials)
		}
	default:
		if c.ProviderAPIKey == "" {
			return fmt.Errorf("%w: EMAIL_API_KEY", ErrMissingCredentials)
		}
	}
	return nil
}

// RequireSource checks the credentials of a campaign source kind.
func (c Config) RequireSource(kind string) error {
	switch kind {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL", ErrMissingCredentials)
		}
	case "rest":
		var missing []string
		if c.RestURL == "" {
			missing = append(missing, "REST_URL")
		}
		if c.RestAPIKey == "" {
			missing = append(missing, "REST_API_KEY")
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
		}
	}
	return nil
}

// RequireRedis checks the Redis endpoint.
func (c Config) RequireRedis() error {
	if c.RedisURL == "" {
		return fmt.Errorf("%w: REDIS_URL", ErrMissingCredentials)
	}
	return nil
}

// PacingOverrides reports whether any pacing knob was set by env or flags.
func (c Config) PacingOverrides() bool {
	return c.Delay > 0 || c.RateRPS > 0 || c.BatchSize > 0 || c.BatchPause > 0
}
