// Package agentconfig resolves agent settings: a stored override wins over a
// CELLGUARD_<KEY> environment variable, which wins over the built-in default.
package agentconfig

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/samijaber1/cellguard/internal/storage"
)

// EnvPrefix is prepended to the upper-cased key for environment lookups.
const EnvPrefix = "CELLGUARD_"

// Keys
const (
	KeyAgentsEnabled                = "agents_enabled"
	KeyExecutionIntervalSeconds     = "agent_execution_interval_seconds"
	KeyBudgetGuardThresholdHours    = "budget_guard_exhaustion_threshold_hours"
	KeyBudgetGuardCriticalBurnRate  = "budget_guard_critical_burn_rate"
	KeyBudgetGuardCriticalRemaining = "budget_guard_critical_remaining"
	KeyBudgetGuardAutoChaos         = "budget_guard_auto_chaos"
	KeyChaosOrchestratorEnabled     = "chaos_orchestrator_enabled"
	KeyChaosMinIntervalHours        = "chaos_min_interval_hours"
	KeyChaosMaxBlastRadius          = "chaos_max_blast_radius"
	KeyIncidentAutoRunbooks         = "incident_auto_runbook_suggestions"
	KeyHealingAutoRecover           = "healing_auto_recover"
	KeyHealingMaxRetryAttempts      = "healing_max_retry_attempts"
)

// Defaults holds the built-in value of every known key.
var Defaults = map[string]string{
	"agents_enabled":                          "true",
	"agent_execution_interval_seconds":        "60",
	"budget_guard_enabled":                    "true",
	"budget_guard_exhaustion_threshold_hours": "24",
	"budget_guard_critical_burn_rate":         "2.0",
	"budget_guard_critical_remaining":         "0.3",
	"budget_guard_auto_chaos":                 "false",
	"chaos_orchestrator_enabled":              "false",
	"chaos_min_interval_hours":                "24",
	"chaos_max_blast_radius":                  "shard-default",
	"incident_response_enabled":               "true",
	"incident_auto_runbook_suggestions":       "true",
	"healing_agent_enabled":                   "true",
	"healing_auto_recover":                    "false",
	"healing_max_retry_attempts":              "3",
}

// EnabledKey returns the key that switches an agent on or off.
func EnabledKey(agent string) string {
	if agent == "healing" {
		return "healing_agent_enabled"
	}
	return agent + "_enabled"
}

// EnvKey returns the environment variable consulted for key.
func EnvKey(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}

// Resolver reads settings through the three tiers.
type Resolver struct {
	store  storage.ConfigStore
	getenv func(string) string
}

// NewResolver creates a resolver; store may be nil to skip overrides.
func NewResolver(store storage.ConfigStore) *Resolver {
	return &Resolver{store: store, getenv: os.Getenv}
}

// SetEnv replaces the environment lookup.
func (r *Resolver) SetEnv(getenv func(string) string) {
	r.getenv = getenv
}

// Get resolves one key. Blank values fall through to the next tier.
func (r *Resolver) Get(ctx context.Context, key string) (string, error) {
	if r.store != nil {
		v, ok, err := r.store.GetConfigValue(ctx, key)
		if err != nil {
			return "", err
		}
		if ok && strings.TrimSpace(v) != "" {
			return v, nil
		}
	}
	if v := r.getenv(EnvKey(key)); strings.TrimSpace(v) != "" {
		return v, nil
	}
	return Defaults[key], nil
}

// Set stores an override.
func (r *Resolver) Set(ctx context.Context, key, value string) error {
	if r.store == nil {
		return fmt.Errorf("no config store for %s", key)
	}
	return r.store.SetConfigValue(ctx, key, value)
}

// SetAgentEnabled toggles an agent through its override key.
func (r *Resolver) SetAgentEnabled(ctx context.Context, agent string, enabled bool) error {
	return r.Set(ctx, EnabledKey(agent), strconv.FormatBool(enabled))
}

// Snapshot resolves every known key at once. Agents take one snapshot per run
// so a run never sees a setting change halfway through.
func (r *Resolver) Snapshot(ctx context.Context, extra ...string) (Snapshot, error) {
	keys := make([]string, 0, len(Defaults)+len(extra))
	for k := range Defaults {
		keys = append(keys, k)
	}
	keys = append(keys, extra...)
	sort.Strings(keys)

	values := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := r.Get(ctx, k)
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to resolve %s: %w", k, err)
		}
		values[k] = v
	}
	return Snapshot{values: values}, nil
}

// Snapshot is an immutable set of resolved settings.
type Snapshot struct {
	values map[string]string
}

// NewSnapshot builds a snapshot from defaults plus the given overrides.
func NewSnapshot(overrides map[string]string) Snapshot {
	values := make(map[string]string, len(Defaults)+len(overrides))
	for k, v := range Defaults {
		values[k] = v
	}
	for k, v := range overrides {
		values[k] = v
	}
	return Snapshot{values: values}
}

// String returns the raw value of key.
func (s Snapshot) String(key string) string {
	if v, ok := s.values[key]; ok {
		return v
	}
	return Defaults[key]
}

// Bool follows the usual form-value rules: blank is false, and
// 0/f/false/off (any case) are false; anything else is true.
func (s Snapshot) Bool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(s.String(key)))
	switch v {
	case "", "0", "f", "false", "off":
		return false
	}
	return true
}

// Int parses key as an integer; unparsable values read as 0.
func (s Snapshot) Int(key string) int {
	v := strings.TrimSpace(s.String(key))
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return int(f)
	}
	return 0
}

// Float parses key as a float; unparsable values read as 0.
func (s Snapshot) Float(key string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s.String(key)), 64)
	if err != nil {
		return 0
	}
	return f
}

// GlobalEnabled reports the master switch.
func (s Snapshot) GlobalEnabled() bool {
	return s.Bool(KeyAgentsEnabled)
}

// AgentEnabled reports whether an agent may run.
func (s Snapshot) AgentEnabled(agent string) bool {
	return s.Bool(EnabledKey(agent))
}
