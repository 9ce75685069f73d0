package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/FulfillBox/config"
	"github.com/BearBump/FulfillBox/internal/api/fulfillapi"
	"github.com/BearBump/FulfillBox/internal/broker/kafka"
	"github.com/BearBump/FulfillBox/internal/broker/taskqueue"
	"github.com/BearBump/FulfillBox/internal/cache/rediscache"
	"github.com/BearBump/FulfillBox/internal/integrations/setup"
	"github.com/BearBump/FulfillBox/internal/integrations/storefront"
	"github.com/BearBump/FulfillBox/internal/services/builder"
	"github.com/BearBump/FulfillBox/internal/services/remotecache"
	"github.com/BearBump/FulfillBox/internal/services/resolver"
	"github.com/BearBump/FulfillBox/internal/services/statusupdater"
	"github.com/BearBump/FulfillBox/internal/services/tracks"
	"github.com/BearBump/FulfillBox/internal/storage/pgtrack"
)

const defaultTasksTopic = "fulfillbox.tasks"

type fulfillAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    fulfillAPIOpts
	api     *fulfillapi.API
	db      *pgtrack.Storage
	closers []func()
}

func mustBootstrapFulfillAPI() *fulfillAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config parse failed: %v", err))
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.FulfillBox.SlogLevel()})))

	httpAddr := cfg.FulfillBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	topic := cfg.Kafka.TasksTopicName
	if topic == "" {
		topic = defaultTasksTopic
	}

	st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
	rc := rediscache.New(cfg.Redis.Addr())
	producer := kafka.NewProducer(cfg.Kafka.Brokers())
	queue := taskqueue.New(producer, topic)

	fronts, err := setup.Storefronts(cfg.Storefronts)
	if err != nil {
		panic(err)
	}
	suppliers, err := setup.Suppliers(cfg.Suppliers)
	if err != nil {
		panic(err)
	}
	dir := storefront.NewDirectory(st, fronts)

	fb := cfg.FulfillBox
	tracksSvc := tracks.New(st, rc, config.Seconds(fb.TrackListTTLSeconds, 30*time.Second))
	remote := remotecache.New(rc, dir, fb.RemoteCacheBatchSize, fb.RemoteCacheConcurrency)
	updater := statusupdater.New(dir, rediscache.NewLocker(rc.Client()), st, queue, updaterConfig(fb), remote, tracksSvc)
	res := resolver.New(st)
	b := builder.New(st, dir, res, suppliers, tracksSvc, updater, config.Seconds(fb.NoteDelaySeconds, 0))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &fulfillAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: fulfillAPIOpts{
			httpAddr:    httpAddr,
			swaggerPath: swaggerPath,
		},
		api: fulfillapi.New(b, tracksSvc, updater, st, res, remote),
		db:  st,
		closers: []func(){
			func() { _ = producer.Close() },
			func() { _ = rc.Close() },
			st.Close,
		},
	}
}

func updaterConfig(fb config.FulfillBoxConfig) statusupdater.Config {
	return statusupdater.Config{
		LockTTL:     config.Seconds(fb.NoteLockTTLSeconds, 0),
		LockWait:    config.Seconds(fb.NoteLockWaitSeconds, 0),
		NoteLimit:   fb.NoteLimit,
		MaxAttempts: fb.TaskMaxAttempts,
		RetryStep:   config.Seconds(fb.TaskRetryStepSeconds, 0),
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgtrack.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgtrack.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		slog.Warn("postgres not ready, retrying", "err", err)
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *fulfillAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for _, c := range a.closers {
		c()
	}
}

func (a *fulfillAPIApp) Run() error {
	return runFulfillAPI(a.ctx, a.opts, a.api, a.db)
}
