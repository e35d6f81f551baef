package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"sync/atomic"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/broker"
	"main/internal/broker/delegator/rest"
	"main/internal/engine"
	"main/internal/events"
	"main/internal/ingest"
	"main/internal/model"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/persist"
	"main/internal/risk"
	"main/internal/sched"
	"main/internal/store"
	"main/internal/watch"
	"main/pkg/conn"
)

// intentSink breaks the construction cycle between the scheduler, the
// stop-loss listener and the coordinator.
type intentSink struct {
	coord atomic.Pointer[engine.Coordinator]
}

func (s *intentSink) Submit(intent model.Intent) error {
	c := s.coord.Load()
	if c == nil {
		return errors.New("coordinator not ready")
	}
	return c.Submit(intent)
}

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	configReload := flag.Duration("config-reload-interval", 2*time.Second, "Config reload interval (0=disable)")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disabled)")
	metricsInterval := flag.Duration("metrics-interval", time.Minute, "Metrics snapshot log interval (0=disable)")
	paperMode := flag.Bool("paper", false, "Force the paper broker regardless of config")
	flag.Parse()

	if err := run(*configPath, *configReload, *pyroscopeAddr, *metricsInterval, *paperMode); err != nil {
		logs.Errorf("engine exited, err: %+v", err)
		os.Exit(1)
	}
}

func run(configPath string, configReload time.Duration, pyroscopeAddr string, metricsInterval time.Duration, paperMode bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loaded, err := ops.Load(configPath)
	if err != nil {
		return err
	}

	if pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "strategy-engine",
			ServerAddress:   pyroscopeAddr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseObjects,
			},
		})
		if err != nil {
			return err
		}
		defer func() { _ = profiler.Stop() }()
	}

	var repo *persist.Repo
	if loaded.Postgres.Host != "" {
		client, err := conn.New(loaded.Postgres)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		repo = persist.NewRepo(client.DB())
		if err := repo.Migrate(); err != nil {
			return err
		}
	} else {
		logs.Warnf("no postgres configured, running without definitions and audit")
	}

	adapter, err := buildBroker(ctx, loaded.Broker, paperMode)
	if err != nil {
		return err
	}

	sink := &intentSink{}
	scheduler, err := sched.New(loaded.Market, sink)
	if err != nil {
		return err
	}
	listener := watch.New(sink)
	riskEngine := risk.NewEngine(loaded.Risk)
	runtimeStore := store.NewMemory()
	metrics := obs.NewMetrics()

	deps := engine.Deps{
		Store:     runtimeStore,
		Broker:    adapter,
		Risk:      riskEngine,
		Triggers:  scheduler,
		Watcher:   listener,
		Publisher: events.NewPublisher(runtimeStore),
		Metrics:   metrics,
	}
	if repo != nil {
		deps.Definitions = repo
		deps.Audit = repo
	}
	coordinator := engine.New(loaded.Engine, deps)
	sink.coord.Store(coordinator)

	if repo != nil {
		if err := startActiveStrategies(ctx, coordinator, repo); err != nil {
			return err
		}
	}

	// Only risk limits hot-reload; everything else needs a restart.
	if configReload > 0 {
		go watchConfig(ctx, configPath, configReload, func(next ops.Loaded) {
			riskEngine.Update(next.Risk)
		})
	}

	var feed *ingest.Feed
	if loaded.Feed.URL != "" {
		feed = ingest.NewFeed(ctx, loaded.Feed.URL)
		if err := feed.Start(ctx); err != nil {
			return err
		}
		defer feed.Close()

		if err := feed.SubscribeTrades(ctx, loaded.Feed.Symbols...); err != nil {
			return err
		}
		unsubscribe := feed.ObserveTicks(ctx, listener.OnTick)
		defer unsubscribe()
	}

	go scheduler.Run(ctx)
	go listener.Run(ctx)
	go coordinator.Run(ctx)
	if metricsInterval > 0 {
		go logMetrics(ctx, metrics, metricsInterval)
	}

	logs.Info("strategy execution engine started")
	select {
	case <-sys.Shutdown():
	case <-ctx.Done():
	}

	coordinator.Close()
	logs.Info("strategy execution engine stopped")
	return nil
}

func buildBroker(ctx context.Context, spec ops.BrokerSpec, paperMode bool) (broker.Adapter, error) {
	if paperMode || spec.Kind == "paper" {
		logs.Warnf("using paper broker, no real orders will be placed")
		return broker.NewPaper(), nil
	}

	delegator := rest.NewDelegator(rest.Config{
		BaseURL: spec.BaseURL,
		APIKey:  spec.APIKey,
		Secret:  spec.Secret,
		Timeout: spec.Timeout,
	})
	if err := delegator.Connect(ctx, nil); err != nil {
		return nil, err
	}
	return delegator, nil
}

// startActiveStrategies rebuilds runtime state from the definitions marked
// active in the relational store.
func startActiveStrategies(ctx context.Context, coordinator *engine.Coordinator, repo *persist.Repo) error {
	defs, err := repo.ListActiveDefinitions(ctx)
	if err != nil {
		return err
	}

	started := 0
	for _, def := range defs {
		if err := coordinator.StartStrategy(ctx, def.ID); err != nil {
			if errors.Is(err, engine.ErrAlreadyRunning) {
				continue
			}
			logs.Errorf("start strategy %s failed, err: %+v", def.ID, err)
			continue
		}
		started++
	}

	logs.Infof("started %d/%d active strategies", started, len(defs))
	return nil
}

func watchConfig(ctx context.Context, path string, interval time.Duration, update func(ops.Loaded)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				logs.Warnf("config stat failed, err: %+v", err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			loaded, err := ops.Load(path)
			if err != nil {
				logs.Errorf("config reload failed, err: %+v", err)
				continue
			}
			update(loaded)
			lastMod = info.ModTime()
			logs.Infof("config reloaded: %s", path)
		}
	}
}

func logMetrics(ctx context.Context, metrics *obs.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := metrics.Snapshot()
			logs.Infof("metrics: intents=%v moot=%d retries=%d queue_drops=%d store_refusals=%d order_latency=%+v lock_wait=%+v",
				snapshot.IntentCounts, snapshot.MootIntents, snapshot.BrokerRetries,
				snapshot.QueueDrops, snapshot.StoreRefusals, snapshot.OrderLatency, snapshot.LockWait)
		}
	}
}
