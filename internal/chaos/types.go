package chaos

import (
	"errors"
	"time"
)

// Operation names a disruptive chaos operation.
type Operation string

const (
	OpPartition Operation = "partition"
	OpDegrade   Operation = "degrade"
)

// Modes of a partition.
const (
	ModeDocker = "docker"
	ModeTC     = "tc"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ErrUnknownOperation is returned for operations or modes the service cannot run.
var ErrUnknownOperation = errors.New("unknown chaos operation")

// Params bound one disruption.
type Params struct {
	Mode            string `json:"mode,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	DelayMs         int    `json:"delay_ms,omitempty"`
	LossPercent     int    `json:"loss_percent,omitempty"`
}

// Map renders params for action logs and audit metadata.
func (p Params) Map() map[string]any {
	m := map[string]any{}
	if p.Mode != "" {
		m["mode"] = p.Mode
	}
	if p.DurationSeconds != 0 {
		m["duration_seconds"] = p.DurationSeconds
	}
	if p.DelayMs != 0 {
		m["delay_ms"] = p.DelayMs
	}
	if p.LossPercent != 0 {
		m["loss_percent"] = p.LossPercent
	}
	return m
}

// Result describes one executed disruption.
type Result struct {
	Operation         string `json:"operation"`
	Status            string `json:"status"`
	Duration          int    `json:"duration"`
	DelayMs           int    `json:"delay_ms,omitempty"`
	LossPercent       int    `json:"loss_percent,omitempty"`
	AutoHealScheduled bool   `json:"auto_heal_scheduled"`
	Error             string `json:"error,omitempty"`
}

// Succeeded reports whether the disruption command ran.
func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess
}

// StepResult is the outcome of one heal command.
type StepResult struct {
	Operation string `json:"operation"`
	Success   bool   `json:"success"`
}

// HealResult covers both kinds of disruption.
type HealResult struct {
	TCHeal     StepResult `json:"tc_heal"`
	DockerHeal StepResult `json:"docker_heal"`
}

// Succeeded reports whether any heal command ran.
func (h HealResult) Succeeded() bool {
	return h.TCHeal.Success || h.DockerHeal.Success
}

// Config holds the chaos targets.
type Config struct {
	RedisContainer   string
	DockerNetwork    string
	TCInterface      string
	UseSudo          bool
	ReversalInterval time.Duration
	MaxAttempts      int
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		RedisContainer:   "sidekiq-cellguard-redis-1",
		DockerNetwork:    "infrastructure_internal_grid",
		TCInterface:      "eth0",
		UseSudo:          true,
		ReversalInterval: 5 * time.Second,
		MaxAttempts:      5,
	}
}

// FromEnv overlays REDIS_CONTAINER, DOCKER_NETWORK and TC_IFACE on c.
func (c Config) FromEnv(getenv func(string) string) Config {
	if v := getenv("REDIS_CONTAINER"); v != "" {
		c.RedisContainer = v
	}
	if v := getenv("DOCKER_NETWORK"); v != "" {
		c.DockerNetwork = v
	}
	if v := getenv("TC_IFACE"); v != "" {
		c.TCInterface = v
	}
	return c
}
