// Package app builds the load service components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"go.ngs.io/dsg-ingest/internal/adapter/dataset"
	"go.ngs.io/dsg-ingest/internal/adapter/store"
	boltstore "go.ngs.io/dsg-ingest/internal/adapter/store/bolt"
	"go.ngs.io/dsg-ingest/internal/adapter/store/postgres"
	"go.ngs.io/dsg-ingest/internal/adapter/store/terrain"
	"go.ngs.io/dsg-ingest/internal/config"
	"go.ngs.io/dsg-ingest/internal/derive"
	"go.ngs.io/dsg-ingest/internal/events"
	"go.ngs.io/dsg-ingest/internal/logger"
	"go.ngs.io/dsg-ingest/internal/metrics"
	"go.ngs.io/dsg-ingest/internal/registry"
	"go.ngs.io/dsg-ingest/internal/usecase"
)

// App holds the wired components of one process.
type App struct {
	Config   *config.Config
	Logger   logger.Logger
	Store    store.Datastore
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	Loads    *usecase.LoadUseCase

	closers []func() error
}

// New opens the datastore and optional backends named by cfg.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	if log == nil {
		log = logger.NopLogger
	}
	a := &App{Config: cfg, Logger: log}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	var cache registry.Cache = registry.NewMemoryCache()
	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = a.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		log.Infof("parameter cache: redis %s", cfg.Redis.Addr)
		cache = registry.NewRedisCache(client, "dsg:", cfg.Redis.TTL)
		a.closers = append(a.closers, client.Close)
	}

	var grid terrain.Grid
	if cfg.TerrainGridPath != "" {
		log.Infof("terrain grid: %s", cfg.TerrainGridPath)
		grid = terrain.NewGMTGrid(cfg.TerrainGridPath)
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.Kafka.Enabled() {
		log.Infof("load events: kafka topic %s", cfg.Kafka.TopicLoads)
		p := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicLoads)
		publisher = p
		a.closers = append(a.closers, p.Close)
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	a.Loads = usecase.NewLoadUseCase(usecase.LoadDeps{
		Datastore: st,
		Opener: &dataset.Opener{
			Fetcher: dataset.NewFetcher(dataset.FetcherConfig{
				CacheDir: cfg.DatasetCacheDir,
				Timeout:  cfg.HTTPTimeout,
				Retries:  cfg.ReadRetries,
				Logger:   log,
			}),
			Retry:  retryPolicy(cfg.ReadRetries),
			Logger: log,
		},
		Cache:     cache,
		Pipeline:  derive.DefaultPipeline(),
		Terrain:   grid,
		Metrics:   a.Metrics,
		Publisher: publisher,
		Logger:    log,
	})
	return a, nil
}

func retryPolicy(retries int) dataset.RetryPolicy {
	p := dataset.DefaultRetryPolicy
	p.MaxRetries = retries
	return p
}

func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (store.Datastore, error) {
	switch cfg.Datastore {
	case config.DatastorePostgres:
		st, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		log.Infof("datastore: postgres")
		return st, nil
	case config.DatastoreBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.BoltPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create datastore directory: %w", err)
		}
		st, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		log.Infof("datastore: bolt %s", cfg.BoltPath)
		return st, nil
	}
	return nil, fmt.Errorf("unknown datastore %q", cfg.Datastore)
}

// Close releases every opened backend in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
