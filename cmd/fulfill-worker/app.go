package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/FulfillBox/config"
	"github.com/BearBump/FulfillBox/internal/broker/kafka"
	"github.com/BearBump/FulfillBox/internal/broker/messages"
	"github.com/BearBump/FulfillBox/internal/broker/taskqueue"
	"github.com/BearBump/FulfillBox/internal/cache"
	"github.com/BearBump/FulfillBox/internal/cache/rediscache"
	"github.com/BearBump/FulfillBox/internal/integrations/setup"
	"github.com/BearBump/FulfillBox/internal/integrations/storefront"
	"github.com/BearBump/FulfillBox/internal/integrations/supplier"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/services/statusupdater"
	"github.com/BearBump/FulfillBox/internal/services/sweep"
	"github.com/BearBump/FulfillBox/internal/storage/pgtrack"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// workerStorage is everything the worker reads and writes in Postgres.
type workerStorage interface {
	sweep.Repository
	statusupdater.TrackWriter
	GetStore(ctx context.Context, id uint64) (*models.Store, error)
}

type taskConsumer interface {
	Consume(ctx context.Context, handler func(ctx context.Context, key, value []byte) error) error
	Close() error
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (repo workerStorage, closeFn func(), err error)
	newProducer    func(cfg *config.Config) (pub taskqueue.Publisher, closeFn func())
	newConsumer    func(cfg *config.Config, topic, group string) taskConsumer
	newRedis       func(cfg *config.Config) (rl sweep.RateLimiter, locker cache.Locker, closeFn func())
	newSuppliers   func(cfg *config.Config) (*supplier.Registry, error)
	newStorefronts func(cfg *config.Config) (*storefront.Registry, error)
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			st, err := pgtrack.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) (taskqueue.Publisher, func()) {
			p := kafka.NewProducer(cfg.Kafka.Brokers())
			return p, func() { _ = p.Close() }
		},
		newConsumer: func(cfg *config.Config, topic, group string) taskConsumer {
			return kafka.NewConsumer(cfg.Kafka.Brokers(), topic, group)
		},
		newRedis: func(cfg *config.Config) (sweep.RateLimiter, cache.Locker, func()) {
			c := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
			return rediscache.NewRateLimiterWithClient(c), rediscache.NewLocker(c), func() { _ = c.Close() }
		},
		newSuppliers: func(cfg *config.Config) (*supplier.Registry, error) {
			return setup.Suppliers(cfg.Suppliers)
		},
		newStorefronts: func(cfg *config.Config) (*storefront.Registry, error) {
			return setup.Storefronts(cfg.Storefronts)
		},
	}
}

func sweepSettings(cfg *config.Config) sweep.Settings {
	fb := cfg.FulfillBox
	return sweep.Settings{
		PollInterval:       config.Seconds(fb.WorkerPollIntervalSeconds, 0),
		BatchSize:          fb.WorkerBatchSize,
		Concurrency:        fb.WorkerConcurrency,
		Lease:              config.Seconds(fb.WorkerLeaseSeconds, 0),
		Budget:             config.Seconds(fb.WorkerBudgetSeconds, 0),
		RateLimitPerMinute: int64(fb.WorkerRateLimitPerMinute),
		SupplierRateLimits: setup.SupplierRateLimits(cfg.Suppliers),
		MaxFailures:        int32(fb.WorkerMaxFailures),
		WriteBackDelay:     config.Seconds(fb.WorkerWriteBackDelaySeconds, 0),
	}
}

func plannerConfig(cfg *config.Config) sweep.PlannerConfig {
	fb := cfg.FulfillBox
	return sweep.PlannerConfig{
		OrderedMinDelay: config.Seconds(fb.WorkerNextCheckOrderedMinSeconds, 0),
		OrderedMaxDelay: config.Seconds(fb.WorkerNextCheckOrderedMaxSeconds, 0),
		PartialDelay:    config.Seconds(fb.WorkerNextCheckPartialSeconds, 0),
		PendingDelay:    config.Seconds(fb.WorkerNextCheckPendingSeconds, 0),
		Backoff1:        config.Seconds(fb.WorkerBackoff1Seconds, 0),
		Backoff2:        config.Seconds(fb.WorkerBackoff2Seconds, 0),
		Backoff3:        config.Seconds(fb.WorkerBackoff3Seconds, 0),
		Backoff4:        config.Seconds(fb.WorkerBackoff4Seconds, 0),
	}
}

// RunFulfillWorker runs the supplier sweep, the delayed-task consumer and the
// worker HTTP server until ctx is done or one of them fails.
func RunFulfillWorker(ctx context.Context, cfg *config.Config, f workerFactories, httpOpts workerHTTPOpts) error {
	topic := cfg.Kafka.TasksTopicName
	if topic == "" {
		topic = "fulfillbox.tasks"
	}
	group := cfg.FulfillBox.KafkaConsumerGroup
	if group == "" {
		group = "fulfill-worker"
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	fronts, err := f.newStorefronts(cfg)
	if err != nil {
		return err
	}
	suppliers, err := f.newSuppliers(cfg)
	if err != nil {
		return err
	}
	pub, closePub := f.newProducer(cfg)
	if closePub != nil {
		defer closePub()
	}
	rl, locker, closeRedis := f.newRedis(cfg)
	if closeRedis != nil {
		defer closeRedis()
	}
	consumer := f.newConsumer(cfg, topic, group)
	defer func() { _ = consumer.Close() }()

	dir := storefront.NewDirectory(repo, fronts)
	queue := taskqueue.New(pub, topic)
	updater := statusupdater.New(dir, locker, repo, queue, statusupdater.Config{
		LockTTL:     config.Seconds(cfg.FulfillBox.NoteLockTTLSeconds, 0),
		LockWait:    config.Seconds(cfg.FulfillBox.NoteLockWaitSeconds, 0),
		NoteLimit:   cfg.FulfillBox.NoteLimit,
		MaxAttempts: cfg.FulfillBox.TaskMaxAttempts,
		RetryStep:   config.Seconds(cfg.FulfillBox.TaskRetryStepSeconds, 0),
	})

	sw, err := sweep.New(repo, repo, suppliers, rl, updater).
		WithSettings(sweepSettings(cfg)).
		WithPlanner(plannerConfig(cfg)).
		WithSupplierKinds(setup.SupplierKinds(cfg.Suppliers)).
		WithTranslations(cfg.StatusTranslations)
	if err != nil {
		return err
	}

	runner := taskqueue.NewRunner().
		WithRequeue(queue).
		Handle(messages.KindSaveChanges, updater.HandleTask).
		Handle(messages.KindShipment, updater.HandleTask)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sw.Run(gctx) })
	g.Go(func() error {
		slog.Info("task consumer started", "topic", topic, "group", group)
		return consumer.Consume(gctx, runner.Dispatch)
	})
	if httpOpts.swaggerPath != "" {
		httpOpts.sweeper = sw
		httpOpts.cfg = cfg
		g.Go(func() error { return runWorkerHTTPServer(gctx, httpOpts) })
	} else {
		slog.Warn("worker swaggerPath not set, HTTP server disabled")
	}

	start := time.Now()
	err = g.Wait()
	slog.Info("worker stopped", "uptime", time.Since(start).Round(time.Second), "err", err)
	return err
}
