// Package app wires configuration into stores, pools, the repository,
// the cache, the jobs and the HTTP servers.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/nimbus/internal/blob"
	s3blob "github.com/fruitsalade/nimbus/internal/blob/s3"
	"github.com/fruitsalade/nimbus/internal/cache"
	"github.com/fruitsalade/nimbus/internal/config"
	"github.com/fruitsalade/nimbus/internal/cost"
	"github.com/fruitsalade/nimbus/internal/docstore"
	docmem "github.com/fruitsalade/nimbus/internal/docstore/memory"
	"github.com/fruitsalade/nimbus/internal/docstore/mongo"
	"github.com/fruitsalade/nimbus/internal/docstore/postgres"
	"github.com/fruitsalade/nimbus/internal/jobs"
	"github.com/fruitsalade/nimbus/internal/logging"
	"github.com/fruitsalade/nimbus/internal/repository"
	"github.com/fruitsalade/nimbus/internal/retry"
	"github.com/fruitsalade/nimbus/internal/search"
	"github.com/fruitsalade/nimbus/internal/server"
	"github.com/fruitsalade/nimbus/internal/service"
	"github.com/fruitsalade/nimbus/internal/signer"
	"github.com/fruitsalade/nimbus/internal/workers"
)

// App is a fully wired nimbus process.
type App struct {
	cfg *config.Config

	docs      docstore.Store
	blobs     blob.Store
	index     search.Index
	metaPool  *workers.Pool
	cachePool *workers.Pool

	Repo      *repository.Repository
	Cache     *cache.LocalCache
	Service   *service.Service
	Scheduler *jobs.Scheduler

	closers []func() error
}

// New connects every backend named in cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg

	docs, err := openDocStore(ctx, cfg.DocStore)
	if err != nil {
		return err
	}
	a.docs = docs
	a.closers = append(a.closers, docs.Close)

	index, err := openSearch(ctx, cfg.Search)
	if err != nil {
		return err
	}
	a.index = index
	if c, ok := index.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	blobs, err := s3blob.New(ctx, s3blob.Config{
		Endpoint:        s3Endpoint(cfg.S3),
		Bucket:          cfg.S3.Bucket,
		AccessKey:       cfg.S3.AccessKey,
		SecretKey:       cfg.S3.SecretKey,
		Region:          cfg.S3.Region,
		PresignValidity: cfg.S3.PresignValidity,
	})
	if err != nil {
		return fmt.Errorf("connect object store: %w", err)
	}
	if cfg.S3.CreateBucket {
		if err := blobs.EnsureBucket(ctx); err != nil {
			return err
		}
	}
	a.blobs = blobs

	a.metaPool = workers.New("metadata", cfg.Pools.MetadataWorkers, cfg.Pools.MetadataQueue)
	a.cachePool = workers.New("cache", cfg.Pools.CacheWorkers, cfg.Pools.CacheQueue)
	a.metaPool.Start(context.Background())
	a.cachePool.Start(context.Background())

	a.Repo = repository.New(docs, index, a.metaPool)
	if err := a.Repo.EnsureRoot(ctx); err != nil {
		return err
	}

	if cfg.Cache.Enabled {
		mac, err := signer.NewMAC([]byte(cfg.Cache.SigningSecret))
		if err != nil {
			return err
		}
		a.Cache, err = cache.New(cache.Config{
			Dir:           cfg.Cache.Dir,
			BaseURL:       cfg.Server.BaseURL,
			TokenValidity: cfg.Cache.TokenValidity,
		}, blobs, mac, a.cachePool)
		if err != nil {
			return err
		}
	}

	a.Service = service.New(a.Repo, blobs, index, a.Cache, a.cachePool)

	model, err := costModel(cfg.Cost)
	if err != nil {
		return err
	}
	a.Scheduler, err = buildScheduler(cfg, a.Repo, blobs, index, model)
	return err
}

// Run serves HTTP and runs the scheduler until ctx is done.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	public := server.NewHTTPServer(a.cfg.Server.ListenAddr, server.New(a.Cache).Handler())
	g.Go(func() error { return server.Serve(ctx, "public", public) })

	if a.cfg.Server.MetricsAddr != "" {
		metricsSrv := server.NewHTTPServer(a.cfg.Server.MetricsAddr, server.MetricsHandler())
		g.Go(func() error { return server.Serve(ctx, "metrics", metricsSrv) })
	}

	g.Go(func() error {
		a.Scheduler.Start(ctx)
		<-ctx.Done()
		a.Scheduler.Stop()
		return nil
	})

	return g.Wait()
}

// RunJob runs one job to completion.
func (a *App) RunJob(ctx context.Context, name string) error {
	return a.Scheduler.Trigger(ctx, name)
}

// Close drains the pools and closes every backend.
func (a *App) Close() error {
	if a.metaPool != nil {
		a.metaPool.Stop()
	}
	if a.cachePool != nil {
		a.cachePool.Stop()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openDocStore(ctx context.Context, cfg config.DocStoreConfig) (docstore.Store, error) {
	switch cfg.Backend {
	case "memory":
		logging.Warn("using in-memory document store; records are lost on exit")
		return docmem.New(), nil
	case "postgres":
		return postgres.New(ctx, cfg.DatabaseURL, cfg.MaxConns)
	case "mongo":
		return mongo.New(ctx, cfg.MongoURI, cfg.MongoDB)
	default:
		return nil, fmt.Errorf("unknown docstore backend %q", cfg.Backend)
	}
}

func openSearch(ctx context.Context, cfg config.SearchConfig) (search.Index, error) {
	switch cfg.Backend {
	case "", "none":
		return search.Noop{}, nil
	case "memory":
		return search.NewMemory(), nil
	case "redis":
		return search.NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.KeyPrefix)
	default:
		return nil, fmt.Errorf("unknown search backend %q", cfg.Backend)
	}
}

// s3Endpoint adds a scheme to a bare host:port endpoint.
func s3Endpoint(cfg config.S3Config) string {
	if cfg.Endpoint == "" || strings.Contains(cfg.Endpoint, "://") {
		return cfg.Endpoint
	}
	if cfg.UseSSL {
		return "https://" + cfg.Endpoint
	}
	return "http://" + cfg.Endpoint
}

func costModel(cfg config.CostConfig) (*cost.Analyzer, error) {
	specs, err := cfg.ParseTiers()
	if err != nil {
		return nil, err
	}
	tiers := make([]cost.Tier, 0, len(specs))
	for _, s := range specs {
		price, err := decimal.NewFromString(s.CostPerGBMonth)
		if err != nil {
			return nil, fmt.Errorf("cost tier %q: price: %w", s.Name, err)
		}
		tiers = append(tiers, cost.Tier{Name: s.Name, DaysSinceLastAccess: s.DaysSinceUsed, CostPerGBMonth: price})
	}
	return cost.NewAnalyzer(tiers)
}

func policy(c config.JobConfig) retry.Policy {
	p := retry.Policy{MaxRetries: c.BackoffMaxRetries, Backoff: c.BackoffThrottle}
	if p.MaxRetries <= 0 {
		p.MaxRetries = retry.DefaultPolicy().MaxRetries
	}
	return p
}

func spec(name string, c config.JobConfig) jobs.JobSpec {
	return jobs.JobSpec{Name: name, RunOnStartup: c.RunOnStartup, RunOnSchedule: c.RunOnSchedule, Cron: c.Cron}
}

func buildScheduler(cfg *config.Config, t jobs.Tree, blobs blob.Store, index search.Index, model cost.Model) (*jobs.Scheduler, error) {
	sizer := jobs.NewSizer(t, blobs, model, policy(cfg.Sizer))
	reaper := jobs.NewReaper(t, blobs, policy(cfg.Reaper.JobConfig), cfg.Reaper.IterationThrottle, cfg.S3.MetadataPrefix)
	indexer := jobs.NewIndexer(t, blobs, index, policy(cfg.Indexer.JobConfig), cfg.Indexer.ClearFirst)

	s := jobs.NewScheduler()
	for _, reg := range []struct {
		spec jobs.JobSpec
		job  jobs.Job
	}{
		{spec(sizer.Name(), cfg.Sizer), sizer},
		{spec(reaper.Name(), cfg.Reaper.JobConfig), reaper},
		{spec(indexer.Name(), cfg.Indexer.JobConfig), indexer},
	} {
		if err := s.Register(reg.spec, reg.job); err != nil {
			return nil, err
		}
		logging.Debug("registered job",
			zap.String("job", reg.spec.Name),
			zap.Bool("startup", reg.spec.RunOnStartup),
			zap.String("cron", reg.spec.Cron))
	}
	return s, nil
}
