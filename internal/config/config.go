package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Chaos      ChaosConfig      `yaml:"chaos"`
	Agents     AgentsConfig     `yaml:"agents"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`

	// IngestToken authorizes job-stat ingestion outside demo mode.
	IngestToken string `yaml:"ingestToken"`
	// DemoMode enables failure injection, chaos endpoints and open ingestion.
	DemoMode bool `yaml:"demoMode"`
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Host                    string        `yaml:"host"`
	Port                    int           `yaml:"port"`
	GracefulShutdownTimeout time.Duration `yaml:"gracefulShutdownTimeout"`
}

// DatabaseConfig selects the durable store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CatalogConfig points at the service definitions.
type CatalogConfig struct {
	Directory string `yaml:"directory"`
	Watch     bool   `yaml:"watch"`
}

// ClassifierConfig selects the remote classifier or the local stub.
type ClassifierConfig struct {
	URL         string        `yaml:"url"`
	Stub        bool          `yaml:"stub"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int64         `yaml:"concurrency"`
	Retries     int           `yaml:"retries"`
}

// ChaosConfig is the disruption target and reversal cadence.
type ChaosConfig struct {
	RedisContainer   string        `yaml:"redisContainer"`
	DockerNetwork    string        `yaml:"dockerNetwork"`
	TCInterface      string        `yaml:"tcInterface"`
	UseSudo          bool          `yaml:"useSudo"`
	ReversalInterval time.Duration `yaml:"reversalInterval"`
}

// AgentsConfig controls the background scheduler and reaper.
type AgentsConfig struct {
	SchedulerEnabled bool          `yaml:"schedulerEnabled"`
	ReaperInterval   time.Duration `yaml:"reaperInterval"`
	StaleAfter       time.Duration `yaml:"staleAfter"`
}

// DispatchConfig selects where background agent jobs run.
type DispatchConfig struct {
	Mode        string `yaml:"mode"`
	Concurrency int64  `yaml:"concurrency"`
	NATSURL     string `yaml:"natsURL"`
	Subject     string `yaml:"subject"`
}

// BroadcastConfig controls activity fan-out beyond the websocket hub.
type BroadcastConfig struct {
	NATS    bool   `yaml:"nats"`
	Subject string `yaml:"subject"`
}

// RateLimitConfig throttles the agent trigger endpoints.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	Exporter string `yaml:"exporter"`
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Server.Port))
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database driver must be 'sqlite' or 'postgres', got %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}

	switch c.Dispatch.Mode {
	case "local":
	case "nats":
		if c.Dispatch.NATSURL == "" {
			errs = append(errs, errors.New("NATS URL required when dispatch mode is 'nats'"))
		}
	default:
		errs = append(errs, fmt.Errorf("dispatch mode must be 'local' or 'nats', got %q", c.Dispatch.Mode))
	}
	if c.Broadcast.NATS && c.Dispatch.NATSURL == "" {
		errs = append(errs, errors.New("NATS URL required when NATS broadcast is enabled"))
	}

	if !c.Classifier.Stub && c.Classifier.URL == "" {
		errs = append(errs, errors.New("classifier URL required unless the stub is enabled"))
	}

	switch c.Telemetry.Exporter {
	case "stdout", "none":
	default:
		errs = append(errs, fmt.Errorf("telemetry exporter must be 'stdout' or 'none', got %q", c.Telemetry.Exporter))
	}

	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate limit must not be negative"))
	}

	return errors.Join(errs...)
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:                    "0.0.0.0",
			Port:                    8080,
			GracefulShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "cellguard.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Catalog: CatalogConfig{
			Directory: "services",
		},
		Classifier: ClassifierConfig{
			URL:         "http://localhost:8090",
			Timeout:     5 * time.Second,
			Concurrency: 10,
			Retries:     1,
		},
		Chaos: ChaosConfig{
			RedisContainer:   "sidekiq-cellguard-redis-1",
			DockerNetwork:    "infrastructure_internal_grid",
			TCInterface:      "eth0",
			UseSudo:          true,
			ReversalInterval: 5 * time.Second,
		},
		Agents: AgentsConfig{
			SchedulerEnabled: true,
			ReaperInterval:   time.Minute,
			StaleAfter:       15 * time.Minute,
		},
		Dispatch: DispatchConfig{
			Mode:        "local",
			Concurrency: 4,
			Subject:     "cellguard.agents.run",
		},
		Broadcast: BroadcastConfig{
			Subject: "cellguard.activity",
		},
		RateLimit: RateLimitConfig{
			RPS:   1,
			Burst: 5,
		},
		Telemetry: TelemetryConfig{
			Exporter: "none",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment. An empty path falls back to CELLGUARD_CONFIG.
func Load(path string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if path == "" {
		path = getenv("CELLGUARD_CONFIG")
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg, getenv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides layers CELLGUARD_* variables and the legacy names on cfg.
// The CELLGUARD_* name wins when both are set.
func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	env := envReader{getenv: getenv}

	env.setString(&cfg.Server.Host, "CELLGUARD_HOST")
	env.setInt(&cfg.Server.Port, "CELLGUARD_PORT")
	env.setDuration(&cfg.Server.GracefulShutdownTimeout, "CELLGUARD_GRACEFUL_TIMEOUT")

	env.setString(&cfg.Database.Driver, "CELLGUARD_DB_DRIVER")
	env.setString(&cfg.Database.DSN, "CELLGUARD_DB_DSN", "DATABASE_URL")
	if getenv("CELLGUARD_DB_DRIVER") == "" && strings.HasPrefix(cfg.Database.DSN, "postgres") {
		cfg.Database.Driver = "postgres"
	}

	env.setString(&cfg.Logging.Level, "CELLGUARD_LOG_LEVEL")
	env.setString(&cfg.Logging.Format, "CELLGUARD_LOG_FORMAT")

	env.setString(&cfg.Catalog.Directory, "CELLGUARD_CATALOG_DIR")
	env.setBool(&cfg.Catalog.Watch, "CELLGUARD_CATALOG_WATCH")

	env.setString(&cfg.Classifier.URL, "CELLGUARD_CLASSIFIER_URL", "CLASSIFIER_URL")
	env.setBool(&cfg.Classifier.Stub, "CELLGUARD_CLASSIFIER_STUB", "CLASSIFIER_STUB")
	env.setDuration(&cfg.Classifier.Timeout, "CELLGUARD_CLASSIFIER_TIMEOUT")
	env.setInt64(&cfg.Classifier.Concurrency, "CELLGUARD_CLASSIFIER_CONCURRENCY")
	env.setInt(&cfg.Classifier.Retries, "CELLGUARD_CLASSIFIER_RETRIES")

	env.setString(&cfg.Chaos.RedisContainer, "CELLGUARD_REDIS_CONTAINER", "REDIS_CONTAINER")
	env.setString(&cfg.Chaos.DockerNetwork, "CELLGUARD_DOCKER_NETWORK", "DOCKER_NETWORK")
	env.setString(&cfg.Chaos.TCInterface, "CELLGUARD_TC_IFACE", "TC_IFACE")
	env.setBool(&cfg.Chaos.UseSudo, "CELLGUARD_CHAOS_SUDO")
	env.setDuration(&cfg.Chaos.ReversalInterval, "CELLGUARD_REVERSAL_INTERVAL")

	env.setBool(&cfg.Agents.SchedulerEnabled, "CELLGUARD_SCHEDULER_ENABLED")
	env.setDuration(&cfg.Agents.ReaperInterval, "CELLGUARD_REAPER_INTERVAL")
	env.setDuration(&cfg.Agents.StaleAfter, "CELLGUARD_STALE_AFTER")

	env.setString(&cfg.Dispatch.Mode, "CELLGUARD_DISPATCH_MODE")
	env.setInt64(&cfg.Dispatch.Concurrency, "CELLGUARD_DISPATCH_CONCURRENCY")
	env.setString(&cfg.Dispatch.NATSURL, "CELLGUARD_NATS_URL", "NATS_URL")
	env.setString(&cfg.Dispatch.Subject, "CELLGUARD_DISPATCH_SUBJECT")

	env.setBool(&cfg.Broadcast.NATS, "CELLGUARD_BROADCAST_NATS")
	env.setString(&cfg.Broadcast.Subject, "CELLGUARD_BROADCAST_SUBJECT")

	env.setFloat(&cfg.RateLimit.RPS, "CELLGUARD_RATE_LIMIT_RPS")
	env.setInt(&cfg.RateLimit.Burst, "CELLGUARD_RATE_LIMIT_BURST")

	env.setString(&cfg.Telemetry.Exporter, "CELLGUARD_TELEMETRY_EXPORTER")

	env.setString(&cfg.IngestToken, "CELLGUARD_TOKEN", "CELLGUARD_INGEST_TOKEN")
	env.setBool(&cfg.DemoMode, "CELLGUARD_DEMO_MODE", "ALLOW_DEMO_ENDPOINTS")

	return env.err()
}

// envReader collects parse errors instead of failing on the first one.
type envReader struct {
	getenv func(string) string
	errs   []error
}

func (e *envReader) lookup(names []string) (string, string) {
	for _, name := range names {
		if v := strings.TrimSpace(e.getenv(name)); v != "" {
			return name, v
		}
	}
	return "", ""
}

func (e *envReader) fail(name, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("invalid %s=%q: %w", name, v, err))
}

func (e *envReader) setString(dst *string, names ...string) {
	if _, v := e.lookup(names); v != "" {
		*dst = v
	}
}

func (e *envReader) setBool(dst *bool, names ...string) {
	name, v := e.lookup(names)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = b
}

func (e *envReader) setInt(dst *int, names ...string) {
	name, v := e.lookup(names)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = n
}

func (e *envReader) setInt64(dst *int64, names ...string) {
	name, v := e.lookup(names)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = n
}

func (e *envReader) setFloat(dst *float64, names ...string) {
	name, v := e.lookup(names)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = f
}

func (e *envReader) setDuration(dst *time.Duration, names ...string) {
	name, v := e.lookup(names)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = d
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}
