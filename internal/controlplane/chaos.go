package controlplane

import (
	"context"
	"fmt"

	"github.com/samijaber1/cellguard/internal/chaos"
)

// PartitionRequest is a manual chaos request. Zero fields take defaults.
type PartitionRequest struct {
	Mode            string
	DurationSeconds int
	DelayMs         int
	LossPercent     int
}

// ChaosPartition runs a manual disruption. Demo mode only. A command that
// fails returns its result together with ErrChaosFailed.
func (c *ControlPlane) ChaosPartition(ctx context.Context, req PartitionRequest) (*chaos.Result, error) {
	if err := c.requireDemo(); err != nil {
		return nil, err
	}
	if c.chaos == nil {
		return nil, fmt.Errorf("%w: no chaos service configured", ErrChaosFailed)
	}
	if req.Mode == "" {
		req.Mode = chaos.ModeDocker
	}
	if req.DurationSeconds <= 0 {
		req.DurationSeconds = 20
	}

	params := chaos.Params{Mode: req.Mode, DurationSeconds: req.DurationSeconds}
	switch req.Mode {
	case chaos.ModeDocker:
	case chaos.ModeTC:
		params.DelayMs = req.DelayMs
		if params.DelayMs <= 0 {
			params.DelayMs = 250
		}
		params.LossPercent = req.LossPercent
		if params.LossPercent <= 0 {
			params.LossPercent = 5
		}
	default:
		return nil, fmt.Errorf("%w: unknown_mode %q", ErrValidation, req.Mode)
	}

	res, err := c.chaos.Execute(ctx, chaos.OpPartition, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChaosFailed, err)
	}
	if !res.Succeeded() {
		return &res, fmt.Errorf("%w: %s", ErrChaosFailed, res.Error)
	}
	c.logger.Warn("manual chaos started", "operation", res.Operation, "duration", res.Duration)
	return &res, nil
}

// ChaosHeal reverses every active disruption. Demo mode only.
func (c *ControlPlane) ChaosHeal(ctx context.Context) (*chaos.HealResult, error) {
	if err := c.requireDemo(); err != nil {
		return nil, err
	}
	if c.chaos == nil {
		return nil, fmt.Errorf("%w: no chaos service configured", ErrChaosFailed)
	}
	res := c.chaos.Heal(ctx)
	c.logger.Info("manual heal attempted", "success", res.Succeeded())
	return &res, nil
}
