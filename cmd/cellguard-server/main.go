package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/samijaber1/cellguard/internal/agentconfig"
	"github.com/samijaber1/cellguard/internal/agents"
	"github.com/samijaber1/cellguard/internal/api"
	"github.com/samijaber1/cellguard/internal/broadcast"
	"github.com/samijaber1/cellguard/internal/budget"
	"github.com/samijaber1/cellguard/internal/catalog"
	"github.com/samijaber1/cellguard/internal/chaos"
	"github.com/samijaber1/cellguard/internal/classifier"
	"github.com/samijaber1/cellguard/internal/config"
	"github.com/samijaber1/cellguard/internal/controlplane"
	"github.com/samijaber1/cellguard/internal/dispatch"
	"github.com/samijaber1/cellguard/internal/ledger"
	"github.com/samijaber1/cellguard/internal/metrics"
	"github.com/samijaber1/cellguard/internal/scheduler"
	"github.com/samijaber1/cellguard/internal/scorecard"
	"github.com/samijaber1/cellguard/internal/storage/sqlstore"
	"github.com/samijaber1/cellguard/internal/telemetry"
	"github.com/samijaber1/cellguard/internal/utils"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	logger.Info("starting cellguard server",
		"addr", cfg.Addr(),
		"database", cfg.Database.Driver,
		"catalog", cfg.Catalog.Directory,
		"dispatch", cfg.Dispatch.Mode,
		"demo_mode", cfg.DemoMode)

	tcfg := telemetry.DefaultConfig()
	tcfg.Exporter = cfg.Telemetry.Exporter
	shutdownTracing, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	store, err := sqlstore.Open(sqlstore.Dialect(cfg.Database.Driver), cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	budgets := budget.NewEvaluator(store, logger)
	execLedger := ledger.New(store, logger)
	resolver := agentconfig.NewResolver(store)

	chaosCfg := chaos.DefaultConfig()
	chaosCfg.RedisContainer = cfg.Chaos.RedisContainer
	chaosCfg.DockerNetwork = cfg.Chaos.DockerNetwork
	chaosCfg.TCInterface = cfg.Chaos.TCInterface
	chaosCfg.UseSudo = cfg.Chaos.UseSudo
	chaosCfg.ReversalInterval = cfg.Chaos.ReversalInterval
	runner := chaos.ExecRunner{}
	reverser := chaos.NewReverser(store, runner, chaosCfg, logger)
	chaosSvc := chaos.NewService(chaosCfg, runner, store, reverser, logger)
	go reverser.Start(ctx)

	var cls classifier.Classifier
	if cfg.Classifier.Stub {
		logger.Info("using classifier stub")
		cls = classifier.NewStub()
	} else {
		ccfg := classifier.DefaultConfig(cfg.Classifier.URL)
		ccfg.Timeout = cfg.Classifier.Timeout
		ccfg.MaxConcurrency = cfg.Classifier.Concurrency
		ccfg.RetryCount = cfg.Classifier.Retries
		cls = classifier.NewHTTPClient(ccfg)
		logger.Info("using classifier service", "url", cfg.Classifier.URL)
	}

	var nc *nats.Conn
	if cfg.Dispatch.Mode == "nats" || cfg.Broadcast.NATS {
		nc, err = nats.Connect(cfg.Dispatch.NATSURL, nats.Name("cellguard-server"))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Drain()
	}

	hub := broadcast.NewHub(nil, logger)
	var broadcaster broadcast.Broadcaster = hub
	if cfg.Broadcast.NATS {
		broadcaster = broadcast.Multi{hub, broadcast.NewNATS(nc, cfg.Broadcast.Subject)}
	}

	env := agents.NewEnv(store, budgets, chaosSvc, cfg.DemoMode, logger)
	agentRunner := agents.NewRunner(env, execLedger, resolver, broadcaster)
	registry := agents.DefaultRegistry(env)

	cp := controlplane.New(controlplane.Deps{
		Store:      store,
		Budgets:    budgets,
		Classifier: cls,
		Chaos:      chaosSvc,
		Runner:     agentRunner,
		Registry:   registry,
		Logger:     logger,
	}, controlplane.Config{
		DemoMode:    cfg.DemoMode,
		IngestToken: cfg.IngestToken,
	})
	if _, err := cp.Seed(ctx); err != nil {
		return fmt.Errorf("seed default service: %w", err)
	}

	syncer, err := catalog.NewSyncer(cfg.Catalog.Directory, store, budgets, logger)
	if err != nil {
		return fmt.Errorf("create catalog syncer: %w", err)
	}
	res, err := syncer.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync catalog: %w", err)
	}
	logger.Info("catalog synced", "services", res.Services, "created", res.Created, "updated", res.Updated)
	if cfg.Catalog.Watch {
		watcher := catalog.NewWatcher(syncer, catalog.DefaultDebounce)
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("catalog watcher stopped", "error", err)
			}
		}()
	}

	sched := scheduler.New(agentRunner, registry, execLedger, scheduler.Options{
		ReaperInterval: cfg.Agents.ReaperInterval,
		StaleAfter:     cfg.Agents.StaleAfter,
	}, logger)

	var local *dispatch.Local
	switch cfg.Dispatch.Mode {
	case "nats":
		sched.SetDispatcher(dispatch.NewNATS(nc, cfg.Dispatch.Subject))
		worker := dispatch.NewWorker(nc, cfg.Dispatch.Subject, sched.Handle, logger)
		if err := worker.Start(ctx); err != nil {
			return fmt.Errorf("start dispatch worker: %w", err)
		}
		defer worker.Stop()
	default:
		local = dispatch.NewLocal(sched.Handle, cfg.Dispatch.Concurrency, logger)
		sched.SetDispatcher(local)
	}
	hub.SetCommander(sched)

	if cfg.Agents.SchedulerEnabled {
		if err := sched.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	apiServer := api.NewServer(api.Deps{
		ControlPlane: cp,
		Scheduler:    sched,
		Scorecards:   scorecard.New(store, resolver),
		Hub:          hub,
		Broadcaster:  broadcaster,
		Gatherer:     prometheus.DefaultGatherer,
		Logger:       logger,
	}, api.Options{
		Addr:         cfg.Addr(),
		TriggerRPS:   cfg.RateLimit.RPS,
		TriggerBurst: cfg.RateLimit.Burst,
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- apiServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case sig := <-shutdown:
		logger.Info("received signal", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
		defer cancel()

		logger.Info("shutting down server")
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down server", "error", err)
		}

		stop()
		if local != nil {
			local.Wait()
		}
		logger.Info("shutdown complete")
	}
	return nil
}

func parseFlags() (*config.Config, error) {
	configPath := flag.String("config", "", "Path to a YAML config file (defaults to $CELLGUARD_CONFIG)")
	host := flag.String("host", "", "HTTP server host")
	port := flag.Int("port", 0, "HTTP server port")
	catalogDir := flag.String("catalog-dir", "", "Directory containing service definition YAML files")
	dsn := flag.String("dsn", "", "Database DSN (SQLite path or postgres:// URL)")
	demo := flag.Bool("demo", false, "Enable demo endpoints and chaos commands")
	flag.Parse()

	cfg, err := config.Load(*configPath, os.Getenv)
	if err != nil {
		return nil, err
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *catalogDir != "" {
		cfg.Catalog.Directory = *catalogDir
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
		if strings.HasPrefix(*dsn, "postgres") {
			cfg.Database.Driver = "postgres"
		}
	}
	if *demo {
		cfg.DemoMode = true
	}
	return cfg, cfg.Validate()
}
