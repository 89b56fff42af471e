// Package app initializes and holds long-lived application services, acting as a
// dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/thesis-harvester/internal/api"
	"github.com/JakeFAU/thesis-harvester/internal/classifier"
	"github.com/JakeFAU/thesis-harvester/internal/clock/system"
	"github.com/JakeFAU/thesis-harvester/internal/config"
	"github.com/JakeFAU/thesis-harvester/internal/crawler"
	collyfetcher "github.com/JakeFAU/thesis-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/thesis-harvester/internal/id/uuid"
	"github.com/JakeFAU/thesis-harvester/internal/metrics"
	"github.com/JakeFAU/thesis-harvester/internal/parser"
	"github.com/JakeFAU/thesis-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/thesis-harvester/internal/storage/local"
	"github.com/JakeFAU/thesis-harvester/internal/storage/postgres"
	"github.com/JakeFAU/thesis-harvester/internal/storage/sqlite"
	"github.com/JakeFAU/thesis-harvester/internal/syncer"
)

// Store is the persistence surface shared by the crawl controller and sync manager.
type Store interface {
	crawler.Store
	crawler.FileStore
}

// Harvester is the set of operations the CLI drives.
type Harvester interface {
	Crawl(ctx context.Context) (crawler.Report, error)
	Sync(ctx context.Context) (syncer.Result, error)
	Run(ctx context.Context) (crawler.Report, syncer.Result, error)
	Status(ctx context.Context) (syncer.Status, error)
	Summary(ctx context.Context) (crawler.StoreSummary, error)
	Serve(ctx context.Context) error
	Close() error
}

// App holds the shared, long-lived services for one CLI invocation.
type App struct {
	cfg     config.Config
	runID   string
	logger  *zap.Logger
	store   Store
	fetcher *collyfetcher.Fetcher
	engine  crawler.Crawler
	syncer  *syncer.Syncer
}

var _ Harvester = (*App)(nil)

// New builds every service from cfg. It fails fast when a critical dependency
// cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.New().MustRunID()
	logger = logger.With(zap.String("run_id", runID))
	metrics.Init()

	store, err := openStore(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	a, err := newWithStore(cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.runID = runID
	logger.Info("application services initialized",
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("sync_dir", cfg.Sync.BaseDir),
	)
	return a, nil
}

func newWithStore(cfg config.Config, store Store, logger *zap.Logger) (*App, error) {
	clk := system.New()

	frontier, err := crawler.NewFrontier(crawler.FrontierConfig{
		BaseURL:        cfg.Crawler.BaseURL,
		SearchPath:     cfg.Crawler.SearchPath,
		Query:          cfg.Crawler.Query,
		SortBy:         cfg.Crawler.SortBy,
		Order:          cfg.Crawler.Order,
		ResultsPerPage: cfg.Crawler.ResultsPerPage,
	})
	if err != nil {
		return nil, fmt.Errorf("build frontier: %w", err)
	}

	crawlCfg := crawler.Config{
		MaxPage:       cfg.Crawler.MaxPage,
		MaxDocuments:  cfg.Crawler.MaxDocuments,
		FailurePolicy: cfg.Crawler.FailurePolicy(),
		CacheDir:      cfg.Crawler.CacheDir,
	}
	if err := crawlCfg.Validate(); err != nil {
		return nil, err
	}

	fetcher := collyfetcher.New(
		collyfetcher.Config{
			UserAgent:     cfg.Fetcher.UserAgent,
			RespectRobots: cfg.Fetcher.RespectRobots,
			Timeout:       cfg.Fetcher.Timeout,
			MaxBodyBytes:  cfg.Fetcher.MaxBodyBytes,
		},
		ratelimit.New(cfg.Fetcher.Delay, clk),
		cfg.Fetcher.RetryPolicy(),
		clk,
		logger.Named("fetcher"),
	)

	engine := crawler.NewEngine(
		crawlCfg,
		frontier,
		fetcher,
		parser.New(logger.Named("parser")),
		classifier.New(cfg.Classifier.Constraints()),
		store,
		clk,
		logger.Named("crawler"),
	)

	blobs, err := local.New(local.Config{BaseDir: cfg.Sync.BaseDir})
	if err != nil {
		return nil, fmt.Errorf("init sync directory: %w", err)
	}
	sync := syncer.New(store, fetcher, blobs, ratelimit.NewPacer(cfg.Sync.CourtesyDelay), logger.Named("syncer"))

	return &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		fetcher: fetcher,
		engine:  engine,
		syncer:  sync,
	}, nil
}

func openStore(ctx context.Context, cfg config.DBConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		store, err := sqlite.Open(cfg.Path, sqlite.Options{CreateIfNotExists: true, BusyTimeout: cfg.BusyTimeout})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown db driver: %s", cfg.Driver)
	}
}

// RunID identifies this invocation in logs.
func (a *App) RunID() string {
	return a.runID
}

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Crawl walks the listing and persists documents and kept files.
func (a *App) Crawl(ctx context.Context) (crawler.Report, error) {
	report, err := a.engine.Run(ctx)
	if err != nil {
		return report, fmt.Errorf("crawl: %w", err)
	}
	return report, nil
}

// Sync downloads every pending file.
func (a *App) Sync(ctx context.Context) (syncer.Result, error) {
	res, err := a.syncer.SyncPending(ctx)
	if err != nil {
		return res, fmt.Errorf("sync: %w", err)
	}
	return res, nil
}

// Run crawls and then syncs. A canceled crawl skips the sync step.
func (a *App) Run(ctx context.Context) (crawler.Report, syncer.Result, error) {
	report, err := a.Crawl(ctx)
	if err != nil || report.Canceled {
		return report, syncer.Result{}, err
	}
	res, err := a.Sync(ctx)
	return report, res, err
}

// Status reports sync progress from committed state.
func (a *App) Status(ctx context.Context) (syncer.Status, error) {
	st, err := a.syncer.Status(ctx)
	if err != nil {
		return st, fmt.Errorf("status: %w", err)
	}
	return st, nil
}

// Summary counts the rows of every relation.
func (a *App) Summary(ctx context.Context) (crawler.StoreSummary, error) {
	sum, err := a.store.Summary(ctx)
	if err != nil {
		return sum, fmt.Errorf("summary: %w", err)
	}
	return sum, nil
}

// Server builds the read-only HTTP status surface.
func (a *App) Server() *api.Server {
	return api.NewServer(a.store, a.syncer, a.logger.Named("api"))
}

// Serve runs the status server until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	return a.Server().ListenAndServe(ctx, a.cfg.Server.Addr)
}

// Close releases the store and flushes the logger.
func (a *App) Close() error {
	a.logger.Info("shutting down application services")
	var errs []error
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	_ = a.logger.Sync() // best-effort flush
	return errors.Join(errs...)
}
