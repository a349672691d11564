package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/samijaber1/cellguard/internal/agentconfig"
	"github.com/samijaber1/cellguard/internal/agents"
	"github.com/samijaber1/cellguard/internal/broadcast"
	"github.com/samijaber1/cellguard/internal/budget"
	"github.com/samijaber1/cellguard/internal/chaos"
	"github.com/samijaber1/cellguard/internal/classifier"
	"github.com/samijaber1/cellguard/internal/config"
	"github.com/samijaber1/cellguard/internal/controlplane"
	"github.com/samijaber1/cellguard/internal/ledger"
	"github.com/samijaber1/cellguard/internal/scheduler"
	"github.com/samijaber1/cellguard/internal/storage/sqlstore"
	"github.com/samijaber1/cellguard/internal/utils"
)

// stack is the control plane wired against the configured store, without the
// HTTP surface or background loops. Chaos reversals scheduled here are
// persisted and picked up by the server's reverser.
type stack struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *sqlstore.Store
	budgets   *budget.Evaluator
	ledger    *ledger.Ledger
	resolver  *agentconfig.Resolver
	cp        *controlplane.ControlPlane
	scheduler *scheduler.Scheduler
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath, os.Getenv)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openStack() (*stack, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := utils.NewLoggerTo(os.Stderr, logLevel, "text", true)

	store, err := sqlstore.Open(sqlstore.Dialect(cfg.Database.Driver), cfg.Database.DSN)
	if err != nil {
		return nil, utils.NewAppError("open", "failed to open store", err)
	}

	s := &stack{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		budgets:  budget.NewEvaluator(store, logger),
		ledger:   ledger.New(store, logger),
		resolver: agentconfig.NewResolver(store),
	}

	chaosCfg := chaos.DefaultConfig()
	chaosCfg.RedisContainer = cfg.Chaos.RedisContainer
	chaosCfg.DockerNetwork = cfg.Chaos.DockerNetwork
	chaosCfg.TCInterface = cfg.Chaos.TCInterface
	chaosCfg.UseSudo = cfg.Chaos.UseSudo
	runner := chaos.ExecRunner{}
	chaosSvc := chaos.NewService(chaosCfg, runner, store, chaos.NewReverser(store, runner, chaosCfg, logger), logger)

	var cls classifier.Classifier = classifier.NewStub()
	if !cfg.Classifier.Stub {
		ccfg := classifier.DefaultConfig(cfg.Classifier.URL)
		ccfg.Timeout = cfg.Classifier.Timeout
		ccfg.MaxConcurrency = cfg.Classifier.Concurrency
		ccfg.RetryCount = cfg.Classifier.Retries
		cls = classifier.NewHTTPClient(ccfg)
	}

	env := agents.NewEnv(store, s.budgets, chaosSvc, cfg.DemoMode, logger)
	agentRunner := agents.NewRunner(env, s.ledger, s.resolver, broadcast.Noop{})
	registry := agents.DefaultRegistry(env)

	s.cp = controlplane.New(controlplane.Deps{
		Store:      store,
		Budgets:    s.budgets,
		Classifier: cls,
		Chaos:      chaosSvc,
		Runner:     agentRunner,
		Registry:   registry,
		Logger:     logger,
	}, controlplane.Config{DemoMode: cfg.DemoMode, IngestToken: cfg.IngestToken})
	s.scheduler = scheduler.New(agentRunner, registry, s.ledger, scheduler.Options{
		StaleAfter: cfg.Agents.StaleAfter,
	}, logger)

	if _, err := s.cp.Seed(context.Background()); err != nil {
		store.Close()
		return nil, utils.NewAppError("seed", "failed to seed default service", err)
	}
	return s, nil
}

func (s *stack) Close() error {
	return s.store.Close()
}
