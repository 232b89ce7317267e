// Package app builds the crawler's dependencies from configuration and runs one crawl.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/fightgraph-crawler/internal/api"
	"github.com/JakeFAU/fightgraph-crawler/internal/archive"
	gcsarchive "github.com/JakeFAU/fightgraph-crawler/internal/archive/gcs"
	localarchive "github.com/JakeFAU/fightgraph-crawler/internal/archive/local"
	memoryarchive "github.com/JakeFAU/fightgraph-crawler/internal/archive/memory"
	"github.com/JakeFAU/fightgraph-crawler/internal/clock/system"
	"github.com/JakeFAU/fightgraph-crawler/internal/config"
	"github.com/JakeFAU/fightgraph-crawler/internal/crawl"
	"github.com/JakeFAU/fightgraph-crawler/internal/fetch"
	"github.com/JakeFAU/fightgraph-crawler/internal/id/uuid"
	"github.com/JakeFAU/fightgraph-crawler/internal/ingest"
	"github.com/JakeFAU/fightgraph-crawler/internal/logging"
	memorynotify "github.com/JakeFAU/fightgraph-crawler/internal/notify/memory"
	pubsubnotify "github.com/JakeFAU/fightgraph-crawler/internal/notify/pubsub"
	"github.com/JakeFAU/fightgraph-crawler/internal/resume"
	"github.com/JakeFAU/fightgraph-crawler/internal/retry"
	"github.com/JakeFAU/fightgraph-crawler/internal/store"
	"github.com/JakeFAU/fightgraph-crawler/internal/store/memory"
	"github.com/JakeFAU/fightgraph-crawler/internal/store/postgres"
	"github.com/JakeFAU/fightgraph-crawler/internal/store/sqlite"
)

const (
	shutdownTimeout   = 30 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// App contains the dependencies of one crawl run.
type App struct {
	cfg    config.Config
	runID  string
	logger *zap.Logger

	store     store.Store
	pipeline  *ingest.Pipeline
	engine    *fetch.CollyEngine
	runner    *crawl.Runner
	apiServer *api.Server

	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsubnotify.Publisher
	storageClient   *gstorage.Client
}

// Build creates the application's dependencies for the named family. Fetches are bound to ctx:
// canceling it aborts in-flight requests.
func Build(ctx context.Context, cfg config.Config, family string) (*App, error) {
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	runID, err := uuid.NewRunID()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	a := &App{cfg: cfg, runID: runID, logger: logger.With(zap.String("run_id", runID))}
	if err := a.build(ctx, family); err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, familyName string) error {
	a.logger.Info("building application dependencies", zap.String("family", familyName))
	clock := system.New()

	var err error
	if a.store, err = a.setupStore(ctx); err != nil {
		return err
	}

	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	a.pipeline = ingest.New(ingest.Config{
		BatchSize:     a.cfg.Pipeline.BatchSize,
		Workers:       a.cfg.Pipeline.Workers,
		QueueDepth:    a.cfg.Pipeline.QueueDepth,
		DrainAttempts: a.cfg.Pipeline.DrainAttempts,
		DrainDelay:    a.cfg.Pipeline.DrainDelay,
		Policies:      a.cfg.HashPolicies(),
		Topic:         a.notifyTopic(),
		RunID:         a.runID,
	}, a.store, publisher, clock, a.logger.Named("pipeline"))

	resumer, err := resume.New(a.store, a.cfg.Resume.CacheSize, a.logger.Named("resume"))
	if err != nil {
		return fmt.Errorf("resume controller init failed: %w", err)
	}

	familyCfg := a.cfg.Family(familyName)
	family, err := crawl.NewFamily(familyName, crawl.FamilyOptions{
		Seeds:     familyCfg.Seeds,
		PageCount: familyCfg.PageCount,
		Store:     a.store,
	})
	if err != nil {
		return err
	}

	a.engine, err = fetch.NewCollyEngine(ctx, fetch.Config{
		UserAgent:      a.cfg.Crawler.UserAgent,
		Concurrency:    a.cfg.Crawler.Concurrency,
		RequestTimeout: a.cfg.Crawler.RequestTimeout,
		RatePerDomain:  a.cfg.Crawler.RatePerDomain,
		Burst:          a.cfg.Crawler.Burst,
		Proxies:        a.cfg.Crawler.Proxies,
		MaxAttempts:    a.cfg.Crawler.MaxAttempts,
		RetryHTTPCodes: a.cfg.Crawler.RetryHTTPCodes,
		Backoff:        fetch.Backoff{Base: a.cfg.Crawler.BackoffInitial, Max: a.cfg.Crawler.BackoffMax},
		RespectRobots:  a.cfg.Crawler.RespectRobots,
	}, a.logger.Named("fetch"))
	if err != nil {
		return fmt.Errorf("fetch engine init failed: %w", err)
	}
	a.logger.Info("fetch engine configured",
		zap.String("user_agent", a.cfg.Crawler.UserAgent),
		zap.Int("concurrency", a.cfg.Crawler.Concurrency),
		zap.Float64("rate_per_domain", a.cfg.Crawler.RatePerDomain),
		zap.Int("proxies", len(a.cfg.Crawler.Proxies)),
	)

	archiver, err := a.setupArchive(ctx, clock)
	if err != nil {
		return err
	}

	deps := crawl.Deps{
		Engine:   a.engine,
		Pipeline: a.pipeline,
		Resume:   resumer,
		Retry:    retry.New(a.logger.Named("retry")),
		Logger:   a.logger.Named("crawl"),
	}
	if archiver != nil {
		deps.Archive = archiver
	}
	a.runner, err = crawl.NewRunner(family, deps)
	if err != nil {
		return fmt.Errorf("runner init failed: %w", err)
	}
	a.engine.Handle(a.runner)

	a.apiServer = api.NewServer(api.Options{
		RunID:    a.runID,
		Family:   family.Name(),
		Pipeline: a.pipeline,
		Crawl:    a.runner,
		Store:    a.store,
		Logger:   a.logger.Named("api"),
	})
	return nil
}

func (a *App) setupStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch a.cfg.Store.Backend {
	case config.BackendPostgres:
		a.logger.Info("using postgres store")
		st, err = postgres.New(ctx, postgres.Config{
			DSN:             a.cfg.Store.Postgres.DSN,
			MaxConns:        a.cfg.Store.Postgres.MaxConns,
			MinConns:        a.cfg.Store.Postgres.MinConns,
			MaxConnLifetime: a.cfg.Store.Postgres.MaxConnLifetime,
		})
	case config.BackendSQLite:
		a.logger.Info("using sqlite store", zap.String("path", a.cfg.Store.SQLite.Path))
		st, err = sqlite.Open(ctx, sqlite.Config{
			Path:          a.cfg.Store.SQLite.Path,
			BusyTimeoutMS: a.cfg.Store.SQLite.BusyTimeoutMS,
		})
	default:
		a.logger.Warn("using in-memory store; records are lost on exit")
		st = memory.New()
	}
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	breaker := a.cfg.Store.Breaker
	if !breaker.Enabled {
		return st, nil
	}
	a.logger.Debug("store circuit breaker enabled",
		zap.Uint32("failure_threshold", breaker.FailureThreshold),
		zap.Duration("open_timeout", breaker.OpenTimeout),
	)
	return store.NewBreaker(st, store.BreakerConfig{
		Name:             a.cfg.Store.Backend,
		FailureThreshold: breaker.FailureThreshold,
		OpenTimeout:      breaker.OpenTimeout,
		HalfOpenRequests: breaker.HalfOpenRequests,
	}, a.logger.Named("breaker")), nil
}

// setupPublisher returns a nil Publisher when notifications are off.
func (a *App) setupPublisher(ctx context.Context) (ingest.Publisher, error) {
	switch a.cfg.Notify.Backend {
	case config.BackendPubSub:
		var err error
		a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.Notify.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubPublisher, err = pubsubnotify.New(a.pubsubClient)
		if err != nil {
			return nil, err
		}
		if err := a.pubsubPublisher.CheckTopic(ctx, a.cfg.Notify.PubSub.Topic); err != nil {
			a.logger.Warn("flush topic check failed", zap.Error(err))
		}
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Notify.PubSub.ProjectID),
			zap.String("topic", a.cfg.Notify.PubSub.Topic),
		)
		return a.pubsubPublisher, nil
	case config.BackendMemory:
		a.logger.Info("using in-memory flush publisher")
		return memorynotify.New(), nil
	default:
		a.logger.Info("flush notifications disabled")
		return nil, nil
	}
}

func (a *App) notifyTopic() string {
	if a.cfg.Notify.Backend == config.BackendNone {
		return ""
	}
	return a.cfg.Notify.PubSub.Topic
}

// setupArchive returns nil when raw pages are not kept.
func (a *App) setupArchive(ctx context.Context, clock archive.Clock) (*archive.Archiver, error) {
	var (
		blobs archive.BlobStore
		err   error
	)
	switch a.cfg.Archive.Backend {
	case config.BackendGCS:
		a.storageClient, err = gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err = gcsarchive.New(a.storageClient, a.cfg.Archive.GCS)
		a.logger.Info("archiving pages to GCS", zap.String("bucket", a.cfg.Archive.GCS.Bucket))
	case config.BackendLocal:
		blobs, err = localarchive.New(a.cfg.Archive.Local)
		a.logger.Info("archiving pages to disk", zap.String("path", a.cfg.Archive.Local.BaseDir))
	case config.BackendMemory:
		blobs = memoryarchive.NewBlobStore()
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive init failed: %w", err)
	}
	return archive.New(blobs, clock, a.logger.Named("archive"))
}

// Run crawls the family and serves status until the crawl finishes or ctx is canceled, then drains
// the pipeline and releases every dependency.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	if a.cfg.Status.Addr != "" {
		srv := &http.Server{
			Addr:              a.cfg.Status.Addr,
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
		}
		g.Go(func() error {
			a.logger.Info("status server started", zap.String("addr", a.cfg.Status.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), readHeaderTimeout)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("status server shutdown error", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		// Ending the crawl also stops the status server.
		defer cancel()
		return a.crawl(gctx)
	})

	runErr := g.Wait()
	closeCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer done()
	closeErr := a.Close(closeCtx)
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func (a *App) crawl(ctx context.Context) error {
	if err := a.pipeline.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare store: %w", err)
	}
	a.pipeline.Start(ctx)
	if err := a.runner.Run(ctx); err != nil {
		// Let in-flight fetches finish before the pipeline is closed.
		a.engine.Wait()
		return err
	}
	return nil
}

// Close drains the pipeline and releases all clients. The engine must be idle.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.pipeline != nil {
		if err = a.pipeline.Close(ctx); err != nil {
			a.logger.Error("pipeline drain failed; buffered records were not written", zap.Error(err))
		}
	}
	a.closeInfrastructure()
	if serr := a.logger.Sync(); serr != nil {
		a.logger.Debug("logger sync failed", zap.Error(serr))
	}
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}

// RunID identifies this run in logs and flush notifications.
func (a *App) RunID() string {
	return a.runID
}

// Stats reports the pipeline and runner counters.
func (a *App) Stats() (ingest.Stats, crawl.Stats) {
	return a.pipeline.Stats(), a.runner.Stats()
}
