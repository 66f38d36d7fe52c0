package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/outreach-dispatcher/internal/config"
	"github.com/Sternrassler/outreach-dispatcher/pkg/action"
	"github.com/Sternrassler/outreach-dispatcher/pkg/campaign"
	"github.com/Sternrassler/outreach-dispatcher/pkg/client"
	"github.com/Sternrassler/outreach-dispatcher/pkg/ledger"
	"github.com/Sternrassler/outreach-dispatcher/pkg/store/file"
	"github.com/Sternrassler/outreach-dispatcher/pkg/store/postgres"
	"github.com/Sternrassler/outreach-dispatcher/pkg/store/rest"
)

// wiring holds everything built from configuration for one run.
type wiring struct {
	def  *campaign.Definition
	deps campaign.Deps
	opts campaign.Options

	closers []func()
}

// Close releases connections in reverse order.
func (w *wiring) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
}

func wire(ctx context.Context, cfg config.Config) (_ *wiring, err error) {
	mode, err := campaign.ParseMode(cfg.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrUsage, err)
	}

	def, err := campaign.Load(cfg.Campaign)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrUsage, err)
	}

	w := &wiring{
		def: def,
		opts: campaign.Options{
			Mode:   mode,
			Batch:  cfg.Batch,
			TestTo: cfg.TestTo,
		},
	}
	defer func() {
		if err != nil {
			w.Close()
		}
	}()
	if err := w.opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrUsage, err)
	}

	if err := w.checkCredentials(cfg); err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		if rdb, err = openRedis(ctx, cfg.RedisURL); err != nil {
			return nil, err
		}
		w.closers = append(w.closers, func() { rdb.Close() })
		w.deps.Locker = campaign.NewRedisLocker(rdb, cfg.LockTTL)
	}

	if err := w.wireStore(ctx, cfg); err != nil {
		return nil, err
	}
	if err := w.wireLedger(rdb); err != nil {
		return nil, err
	}
	if mode.Sends() {
		if w.deps.Sender, err = newSender(ctx, cfg); err != nil {
			return nil, err
		}
	}

	if cfg.PacingOverrides() {
		schedule, err := overridePacing(def.Pacing, cfg).Schedule()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrUsage, err)
		}
		w.deps.Schedule = &schedule
	}
	w.deps.PageSize = cfg.PageSize

	return w, nil
}

// fetchesStore reports whether candidates come from the campaign's store.
func (w *wiring) fetchesStore() bool {
	switch w.opts.Mode {
	case campaign.ModePreview, campaign.ModeBatch, campaign.ModeFull:
		return true
	}
	return false
}

// marks reports whether sends flag the store record.
func (w *wiring) marks() bool {
	return w.def.MarkContacted != nil && w.opts.Mode.Sends() && w.opts.Mode != campaign.ModeTest
}

// checkCredentials fails before any connection is opened.
func (w *wiring) checkCredentials(cfg config.Config) error {
	var errs []error
	if w.opts.Mode.Sends() {
		errs = append(errs, cfg.RequireSender())
	}
	if w.fetchesStore() || w.marks() {
		errs = append(errs, cfg.RequireSource(w.def.Source.Kind))
	}
	if w.def.Ledger.Kind == campaign.LedgerRedis {
		errs = append(errs, cfg.RequireRedis())
	}
	return errors.Join(errs...)
}

func (w *wiring) wireStore(ctx context.Context, cfg config.Config) error {
	def := w.def
	if w.opts.Mode == campaign.ModeRetry {
		path := cfg.RetryFrom
		if path == "" {
			path = def.Resolve(def.FailedPath)
		}
		src, err := file.Open(path, def.RecipientField)
		if err != nil {
			return fmt.Errorf("%w: retry source: %w", config.ErrUsage, err)
		}
		w.deps.Source = src
	}
	if !w.fetchesStore() && !w.marks() {
		return nil
	}

	switch def.Source.Kind {
	case campaign.SourcePostgres:
		pool, err := postgres.OpenPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns, cfg.DatabaseViaBouncer)
		if err != nil {
			return err
		}
		w.closers = append(w.closers, pool.Close)
		return w.wirePostgres(pool)

	case campaign.SourceREST:
		c, err := rest.New(rest.Config{
			BaseURL:       cfg.RestURL,
			APIKey:        cfg.RestAPIKey,
			Table:         def.Source.Table,
			KeyColumn:     def.Source.KeyColumn,
			CreatedColumn: def.Source.CreatedColumn,
			Columns:       def.Source.Columns,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", config.ErrUsage, err)
		}
		if w.fetchesStore() {
			w.deps.Source = c
		}
		if w.marks() {
			m, err := rest.NewMarker(c, def.MarkContacted.Flag, def.MarkContacted.Stamp)
			if err != nil {
				return fmt.Errorf("%w: %w", campaign.ErrInvalid, err)
			}
			w.deps.Marker = m
		}

	case campaign.SourceFile:
		if w.fetchesStore() {
			src, err := file.Open(def.Resolve(def.Source.Path), def.RecipientField)
			if err != nil {
				return fmt.Errorf("%w: %w", campaign.ErrInvalid, err)
			}
			w.deps.Source = src
		}
	}
	return nil
}

func (w *wiring) wirePostgres(pool *pgxpool.Pool) error {
	def := w.def
	if w.fetchesStore() {
		src, err := postgres.NewSource(pool, postgres.Table{
			Name:          def.Source.Table,
			KeyColumn:     def.Source.KeyColumn,
			CreatedColumn: def.Source.CreatedColumn,
			Columns:       def.Source.Columns,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", campaign.ErrInvalid, err)
		}
		w.deps.Source = src
	}
	if w.marks() {
		m, err := postgres.NewMarker(pool, def.Source.Table, def.Source.KeyColumn, def.MarkContacted.Flag, def.MarkContacted.Stamp)
		if err != nil {
			return fmt.Errorf("%w: %w", campaign.ErrInvalid, err)
		}
		w.deps.Marker = m
	}
	return nil
}

func (w *wiring) wireLedger(rdb *redis.Client) error {
	var (
		l   ledger.Log
		err error
	)
	switch w.def.Ledger.Kind {
	case campaign.LedgerRedis:
		l, err = ledger.NewRedisLog(rdb, w.def.Name)
	default:
		l, err = ledger.OpenFile(w.def.Resolve(w.def.Ledger.Path))
	}
	if err != nil {
		return err
	}
	w.closers = append(w.closers, func() { l.Close() })
	w.deps.Ledger = l
	return nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: REDIS_URL: %w", config.ErrUsage, err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return rdb, nil
}

func newSender(ctx context.Context, cfg config.Config) (action.Sender, error) {
	if cfg.Provider == config.ProviderSES {
		return action.LoadSESSender(ctx, cfg.SESRegion, cfg.ProviderRetry)
	}
	clientCfg := client.DefaultConfig(cfg.ProviderAPIKey)
	clientCfg.BaseURL = cfg.ProviderBaseURL
	clientCfg.RetryPerClass = cfg.ProviderRetry
	c, err := client.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrUsage, err)
	}
	return action.ProviderSender{Client: c}, nil
}

// overridePacing applies operator pacing settings on top of the campaign's.
// A rate given without a delay replaces the campaign delay.
func overridePacing(p campaign.Pacing, cfg config.Config) campaign.Pacing {
	if cfg.RateRPS > 0 {
		p.RateRPS = cfg.RateRPS
		margin := cfg.RateMargin
		p.Margin = &margin
		p.Delay = 0
	}
	if cfg.Delay > 0 {
		p.Delay = cfg.Delay
	}
	if cfg.BatchSize > 0 {
		p.BatchSize = cfg.BatchSize
	}
	if cfg.BatchPause > 0 {
		p.BatchPause = cfg.BatchPause
	}
	return p
}
