package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nihr43/object-ingest/internal/classify"
	"github.com/nihr43/object-ingest/internal/config"
	"github.com/nihr43/object-ingest/internal/lock"
	"github.com/nihr43/object-ingest/internal/metrics"
	"github.com/nihr43/object-ingest/internal/processor"
	"github.com/nihr43/object-ingest/internal/queue"
	"github.com/nihr43/object-ingest/internal/redisholder"
	"github.com/nihr43/object-ingest/internal/report"
	"github.com/nihr43/object-ingest/internal/s3store"
	"github.com/nihr43/object-ingest/internal/transform"
	use_case "github.com/nihr43/object-ingest/internal/use-case"
)

type Sweeper interface {
	Process(ctx context.Context) (*report.Report, error)
	Inspect(ctx context.Context) (*report.Report, error)
	Unlock(ctx context.Context) (lock.SweepStats, error)
}

type App struct {
	Sweeper

	cfg     *config.Config
	metrics *metrics.Metrics
	redis   redis.UniversalClient
	log     zerolog.Logger
}

// New wires every component from cfg. Redis is optional: when it is not
// configured or cannot be reached, results are only printed.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	store, err := s3store.NewStorage(ctx, &cfg.Store, log.With().Str("component", "s3store").Logger())
	if err != nil {
		return nil, err
	}

	m := metrics.New(prometheus.NewRegistry())
	store.SetObserver(m.ObserveStore)

	rules := classify.NewRules(cfg.Convert)
	locks := lock.NewManager(store, lock.Options{
		LeaseTTL:    cfg.Lock.LeaseTTL,
		VerifyOwner: cfg.Lock.Verify(),
	}, log.With().Str("component", "lock").Logger())

	transformLog := log.With().Str("component", "transform").Logger()
	runner := queue.NewRunner(
		locks,
		rules,
		store,
		transform.NewConverter(store, processor.NewConverter(cfg.Convert.Quality), rules, transformLog),
		transform.NewRepairer(store, rules, transformLog),
		queue.RunnerOptions{
			Timeout:        cfg.Dispatch.JobTimeout,
			ReleaseTimeout: cfg.Lock.ReleaseTimeout,
			Recorder:       m,
		},
		log.With().Str("component", "runner").Logger(),
	)

	a := &App{cfg: cfg, metrics: m, log: log}

	deps := use_case.Deps{
		Lister:     store,
		Runner:     runner,
		Unlocker:   locks,
		Dispatcher: queue.NewDispatcher(cfg.Dispatch.Workers, log.With().Str("component", "dispatcher").Logger()),
		Tally:      m,
	}
	if cfg.Redis.Enabled() {
		rc, err := redisholder.Build(ctx, &cfg.Redis, log)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable; results will not be published")
		} else {
			a.redis = rc
			deps.Publisher = queue.NewProducer(rc, cfg.Redis.Stream, cfg.Redis.MaxLen)
		}
	}

	a.Sweeper = use_case.New(cfg.Store.Bucket, deps, log)
	return a, nil
}

// PushMetrics sends the run's metrics to the configured Pushgateway, if any.
func (a *App) PushMetrics(ctx context.Context) error {
	if a.cfg.Metrics.PushgatewayURL == "" {
		return nil
	}
	return a.metrics.Push(ctx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job)
}

func (a *App) Close() error {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			return fmt.Errorf("close redis: %w", err)
		}
	}
	return nil
}
