package chaos

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samijaber1/cellguard/internal/metrics"
	"github.com/samijaber1/cellguard/internal/storage"
)

// Service runs partition and degrade drills and heals them.
type Service struct {
	config   Config
	runner   CommandRunner
	reverser *Reverser
	store    storage.ReversalStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a chaos service. Disruptions are undone through reverser.
func NewService(config Config, runner CommandRunner, store storage.ReversalStore, reverser *Reverser, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config:   config,
		runner:   runner,
		reverser: reverser,
		store:    store,
		logger:   logger.With("component", "chaos"),
		now:      time.Now,
	}
}

// Execute runs op with params. A command that fails returns a failed Result,
// not an error; unknown operations and modes return ErrUnknownOperation.
func (s *Service) Execute(ctx context.Context, op Operation, params Params) (Result, error) {
	switch op {
	case OpPartition:
		mode := params.Mode
		if mode == "" {
			mode = ModeDocker
		}
		switch mode {
		case ModeDocker:
			return s.partitionDocker(ctx, durationOr(params.DurationSeconds, 20))
		case ModeTC:
			return s.degradeTC(ctx, params)
		default:
			return Result{}, fmt.Errorf("%w: mode %q", ErrUnknownOperation, mode)
		}
	case OpDegrade:
		return s.degradeTC(ctx, params)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
}

func (s *Service) partitionDocker(ctx context.Context, duration int) (Result, error) {
	network, container := s.config.DockerNetwork, s.config.RedisContainer
	result := Result{
		Operation: "partition_docker",
		Status:    StatusSuccess,
		Duration:  duration,
	}

	reversal := map[string]any{"network": network, "container": container}
	if err := s.disrupt(ctx, &result, reverseDockerConnect, reversal, duration, func() error {
		return dockerNetwork(ctx, s.runner, "disconnect", network, container)
	}); err != nil {
		s.logger.Warn("docker partition failed", "network", network, "container", container, "error", err)
	}

	metrics.ObserveChaos(result.Operation, result.Status)
	return result, nil
}

func (s *Service) degradeTC(ctx context.Context, params Params) (Result, error) {
	iface := s.config.TCInterface
	delay := durationOr(params.DelayMs, 250)
	loss := durationOr(params.LossPercent, 5)
	duration := durationOr(params.DurationSeconds, 20)

	result := Result{
		Operation:   "degrade_tc",
		Status:      StatusSuccess,
		Duration:    duration,
		DelayMs:     delay,
		LossPercent: loss,
	}

	if err := s.disrupt(ctx, &result, reverseTCClear, map[string]any{"iface": iface}, duration, func() error {
		return s.config.addNetem(ctx, s.runner, iface, delay, loss)
	}); err != nil {
		s.logger.Warn("tc degrade failed", "iface", iface, "error", err)
	}

	metrics.ObserveChaos(result.Operation, result.Status)
	return result, nil
}

// disrupt persists the reversal, then runs the disruptive command. A command
// that fails cancels its reversal; a reversal that cannot be persisted keeps
// the command from running at all.
func (s *Service) disrupt(ctx context.Context, result *Result, operation string, params map[string]any, seconds int, command func() error) error {
	var id int64
	if s.reverser != nil {
		dueAt := s.now().Add(time.Duration(seconds) * time.Second)
		var err error
		if id, err = s.reverser.Schedule(ctx, operation, params, dueAt); err != nil {
			result.Status = StatusFailed
			result.Error = fmt.Sprintf("failed to schedule reversal: %v", err)
			return err
		}
	}

	if err := command(); err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		if id != 0 {
			if cerr := s.reverser.Cancel(ctx, id, err.Error()); cerr != nil {
				s.logger.Error("failed to cancel chaos reversal", "reversal_id", id, "error", cerr)
			}
		}
		return err
	}
	result.AutoHealScheduled = id != 0
	return nil
}

// Heal removes every disruption this service can create and closes any
// pending reversal, since nothing is left to undo.
func (s *Service) Heal(ctx context.Context) HealResult {
	tcErr := s.config.delNetem(ctx, s.runner, s.config.TCInterface)
	dockerErr := dockerNetwork(ctx, s.runner, "connect", s.config.DockerNetwork, s.config.RedisContainer)

	result := HealResult{
		TCHeal:     StepResult{Operation: "heal_tc", Success: tcErr == nil},
		DockerHeal: StepResult{Operation: "heal_docker", Success: dockerErr == nil},
	}
	metrics.ObserveChaos(result.TCHeal.Operation, statusOf(result.TCHeal.Success))
	metrics.ObserveChaos(result.DockerHeal.Operation, statusOf(result.DockerHeal.Success))

	if s.store != nil {
		if n, err := s.store.CompleteAllReversals(ctx, s.now(), "healed"); err != nil {
			s.logger.Error("failed to close pending reversals", "error", err)
		} else if n > 0 {
			s.logger.Info("closed pending reversals after heal", "count", n)
		}
	}
	return result
}

func statusOf(ok bool) string {
	if ok {
		return StatusSuccess
	}
	return StatusFailed
}

func durationOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
