package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// Config captures every setting required to boot the resilience engine.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Tracing      TracingConfig      `yaml:"tracing"`
	Cache        CacheConfig        `yaml:"cache"`
	Health       HealthConfig       `yaml:"health"`
	Prediction   PredictionConfig   `yaml:"prediction"`
	Analytics    AnalyticsConfig    `yaml:"analytics"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Bus          BusConfig          `yaml:"bus"`
	Audit        AuditConfig        `yaml:"audit"`
	Clients      ClientsConfig      `yaml:"clients"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address          string        `yaml:"address"`
	MetricsAddress   string        `yaml:"metricsAddress"`
	GracefulTimeout  time.Duration `yaml:"gracefulTimeout"`
	EnableReflection bool          `yaml:"enableReflection"`
	MaxRecvMsgBytes  int           `yaml:"maxRecvMsgBytes"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// TracingConfig controls the OpenTelemetry exporter. An empty endpoint keeps spans local.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"serviceName"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// CacheConfig controls the shared Redis-compatible result cache.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Addr          string        `yaml:"addr"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	MaxRetries    int           `yaml:"maxRetries"`
	TLS           bool          `yaml:"tls"`
	KeyPrefix     string        `yaml:"keyPrefix"`
	LocalCapacity int           `yaml:"localCapacity"`
	HealthTTL     time.Duration `yaml:"healthTTL"`
	PatternsTTL   time.Duration `yaml:"patternsTTL"`
}

// HealthConfig tunes the per-layer health state machine.
type HealthConfig struct {
	Window                    time.Duration `yaml:"window"`
	BaselineRequestsPerMinute float64       `yaml:"baselineRequestsPerMinute"`
	DegradedThreshold         float64       `yaml:"degradedThreshold"`
	CriticalThreshold         float64       `yaml:"criticalThreshold"`
	EmergencyThreshold        float64       `yaml:"emergencyThreshold"`
	CleanChecks               int           `yaml:"cleanChecks"`
	TickInterval              time.Duration `yaml:"tickInterval"`
	SnapshotInterval          time.Duration `yaml:"snapshotInterval"`
}

// PredictionConfig tunes the ensemble prediction engine.
type PredictionConfig struct {
	LatencyBudget     time.Duration      `yaml:"latencyBudget"`
	CacheTTL          time.Duration      `yaml:"cacheTTL"`
	Estimators        []string           `yaml:"estimators"`
	Weights           map[string]float64 `yaml:"weights"`
	RevenuePerError   float64            `yaml:"revenuePerError"`
	CustomersPerError float64            `yaml:"customersPerError"`
	BatchConcurrency  int                `yaml:"batchConcurrency"`
}

// AnalyticsConfig tunes range aggregation and anomaly detection.
type AnalyticsConfig struct {
	AggregationBudget   time.Duration `yaml:"aggregationBudget"`
	MinuteRetention     time.Duration `yaml:"minuteRetention"`
	HourRetention       time.Duration `yaml:"hourRetention"`
	AnomalyThreshold    float64       `yaml:"anomalyThreshold"`
	CacheTTL            time.Duration `yaml:"cacheTTL"`
	MaxSamplesPerBucket int           `yaml:"maxSamplesPerBucket"`
	MaxBuckets          int           `yaml:"maxBuckets"`
	RealtimeWindow      time.Duration `yaml:"realtimeWindow"`
	// Detector selects the outlier detector: "mad" or "zscore".
	Detector string `yaml:"detector"`
}

// OrchestratorConfig tunes containment decisions and continuity playbooks.
type OrchestratorConfig struct {
	HighLoadThreshold   float64             `yaml:"highLoadThreshold"`
	PlaybooksPath       string              `yaml:"playbooksPath"`
	Dependents          map[string][]string `yaml:"dependents"`
	MaxPropagationDepth int                 `yaml:"maxPropagationDepth"`
	JobWorkers          int                 `yaml:"jobWorkers"`
	JobQueueSize        int                 `yaml:"jobQueueSize"`
}

// BusConfig configures event ingestion and directive publishing. An empty URL uses the in-memory bus.
type BusConfig struct {
	NATSURL          string        `yaml:"natsURL"`
	EventSubject     string        `yaml:"eventSubject"`
	DirectiveSubject string        `yaml:"directiveSubject"`
	JobSubject       string        `yaml:"jobSubject"`
	ConnectTimeout   time.Duration `yaml:"connectTimeout"`
}

// AuditConfig selects the audit trail store. An empty DSN keeps records in memory.
type AuditConfig struct {
	PostgresDSN string `yaml:"postgresDSN"`
	Table       string `yaml:"table"`
}

// ClientsConfig groups upstream integrations.
type ClientsConfig struct {
	Events EventsClientConfig `yaml:"events"`
}

// EventsClientConfig configures the pull source for historical error events.
type EventsClientConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	EventsPath     string        `yaml:"eventsPath"`
	Timeout        time.Duration `yaml:"timeout"`
	BreakerTimeout time.Duration `yaml:"breakerTimeout"`
	MaxFailures    uint32        `yaml:"maxFailures"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_RESILIENCE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := defaultConfig()
	return &cfg
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:          ":50051",
			MetricsAddress:   ":2112",
			GracefulTimeout:  10 * time.Second,
			EnableReflection: true,
			MaxRecvMsgBytes:  8 << 20,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Tracing: TracingConfig{
			ServiceName: "mirador-resilience",
			Insecure:    true,
			SampleRatio: 1,
		},
		Cache: CacheConfig{
			Enabled:       false,
			DialTimeout:   2 * time.Second,
			ReadTimeout:   500 * time.Millisecond,
			WriteTimeout:  500 * time.Millisecond,
			MaxRetries:    2,
			KeyPrefix:     "mirador:resilience:",
			LocalCapacity: 4096,
			HealthTTL:     24 * time.Hour,
			PatternsTTL:   6 * time.Hour,
		},
		Health: HealthConfig{
			Window:                    5 * time.Minute,
			BaselineRequestsPerMinute: 20,
			DegradedThreshold:         0.05,
			CriticalThreshold:         0.15,
			EmergencyThreshold:        0.35,
			CleanChecks:               3,
			TickInterval:              15 * time.Second,
			SnapshotInterval:          time.Minute,
		},
		Prediction: PredictionConfig{
			LatencyBudget: 100 * time.Millisecond,
			CacheTTL:      time.Minute,
			Estimators:    []string{"ewma", "linear_trend", "threshold_rules"},
			Weights: map[string]float64{
				"ewma":            0.4,
				"linear_trend":    0.35,
				"threshold_rules": 0.25,
			},
			RevenuePerError:   25,
			CustomersPerError: 0.3,
			BatchConcurrency:  8,
		},
		Analytics: AnalyticsConfig{
			AggregationBudget:   5 * time.Second,
			MinuteRetention:     48 * time.Hour,
			HourRetention:       90 * 24 * time.Hour,
			AnomalyThreshold:    3.0,
			CacheTTL:            30 * time.Second,
			MaxSamplesPerBucket: 50,
			MaxBuckets:          10080,
			RealtimeWindow:      60 * time.Second,
			Detector:            "mad",
		},
		Orchestrator: OrchestratorConfig{
			HighLoadThreshold:   0.8,
			PlaybooksPath:       "configs/playbooks/default.yaml",
			MaxPropagationDepth: 3,
			JobWorkers:          4,
			JobQueueSize:        256,
		},
		Bus: BusConfig{
			EventSubject:     "mirador.resilience.events",
			DirectiveSubject: "mirador.resilience.directives",
			JobSubject:       "mirador.resilience.jobs",
			ConnectTimeout:   5 * time.Second,
		},
		Audit: AuditConfig{Table: "cascade_prevention_records"},
		Clients: ClientsConfig{
			Events: EventsClientConfig{
				EventsPath:     "/api/v1/errors/events",
				Timeout:        5 * time.Second,
				BreakerTimeout: 30 * time.Second,
				MaxFailures:    5,
			},
		},
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	const op = "config.Validate"
	h := c.Health
	if !(h.DegradedThreshold > 0 && h.DegradedThreshold < h.CriticalThreshold && h.CriticalThreshold < h.EmergencyThreshold && h.EmergencyThreshold <= 1) {
		return utils.NewConfigurationError(op, fmt.Sprintf("health thresholds must be strictly increasing within (0,1], got %.3f/%.3f/%.3f",
			h.DegradedThreshold, h.CriticalThreshold, h.EmergencyThreshold))
	}
	if h.CleanChecks <= 0 {
		return utils.NewConfigurationError(op, "health.cleanChecks must be positive")
	}
	if len(c.Prediction.Estimators) < 2 {
		return utils.NewConfigurationError(op, "at least two prediction estimators must be enabled")
	}
	if c.Prediction.BatchConcurrency <= 0 {
		return utils.NewConfigurationError(op, "prediction.batchConcurrency must be positive")
	}
	positive := map[string]time.Duration{
		"health.window":                 h.Window,
		"health.tickInterval":           h.TickInterval,
		"prediction.latencyBudget":      c.Prediction.LatencyBudget,
		"analytics.aggregationBudget":   c.Analytics.AggregationBudget,
		"analytics.minuteRetention":     c.Analytics.MinuteRetention,
		"analytics.hourRetention":       c.Analytics.HourRetention,
		"analytics.realtimeWindow":      c.Analytics.RealtimeWindow,
		"server.gracefulTimeout":        c.Server.GracefulTimeout,
		"clients.events.timeout":        c.Clients.Events.Timeout,
		"clients.events.breakerTimeout": c.Clients.Events.BreakerTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			return utils.NewConfigurationError(op, name+" must be positive")
		}
	}
	if c.Analytics.MaxBuckets <= 0 {
		return utils.NewConfigurationError(op, "analytics.maxBuckets must be positive")
	}
	if c.Analytics.AnomalyThreshold <= 0 {
		return utils.NewConfigurationError(op, "analytics.anomalyThreshold must be positive")
	}
	switch c.Analytics.Detector {
	case "", "mad", "zscore":
	default:
		return utils.NewConfigurationError(op, fmt.Sprintf("unknown analytics.detector %q", c.Analytics.Detector))
	}
	if c.Orchestrator.HighLoadThreshold <= 0 || c.Orchestrator.HighLoadThreshold > 1 {
		return utils.NewConfigurationError(op, "orchestrator.highLoadThreshold must be within (0,1]")
	}
	if c.Server.MaxRecvMsgBytes < 0 {
		return utils.NewConfigurationError(op, "server.maxRecvMsgBytes must not be negative")
	}
	if c.Orchestrator.MaxPropagationDepth <= 0 {
		return utils.NewConfigurationError(op, "orchestrator.maxPropagationDepth must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_RESILIENCE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_RESILIENCE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_RESILIENCE_GRPC_REFLECTION"); v != "" {
		cfg.Server.EnableReflection = isTrue(v)
	}
	if v := os.Getenv("MIRADOR_RESILIENCE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_RESILIENCE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_RESILIENCE_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("MIRADOR_RESILIENCE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = isTrue(v)
	}
	if v := os.Getenv("MIRADOR_RESILIENCE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_RESILIENCE_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_RESILIENCE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_RESILIENCE_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_RESILIENCE_CACHE_TLS"); isTrue(v) {
		cfg.Cache.TLS = true
	}
	envDuration("MIRADOR_RESILIENCE_HEALTH_WINDOW", &cfg.Health.Window)
	envFloat("MIRADOR_RESILIENCE_HEALTH_DEGRADED_THRESHOLD", &cfg.Health.DegradedThreshold)
	envFloat("MIRADOR_RESILIENCE_HEALTH_CRITICAL_THRESHOLD", &cfg.Health.CriticalThreshold)
	envFloat("MIRADOR_RESILIENCE_HEALTH_EMERGENCY_THRESHOLD", &cfg.Health.EmergencyThreshold)
	if v := os.Getenv("MIRADOR_RESILIENCE_HEALTH_CLEAN_CHECKS"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Health.CleanChecks = k
		}
	}
	envDuration("MIRADOR_RESILIENCE_PREDICTION_BUDGET", &cfg.Prediction.LatencyBudget)
	envDuration("MIRADOR_RESILIENCE_PREDICTION_CACHE_TTL", &cfg.Prediction.CacheTTL)
	if v := os.Getenv("MIRADOR_RESILIENCE_ESTIMATORS"); v != "" {
		var names []string
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		cfg.Prediction.Estimators = names
	}
	envDuration("MIRADOR_RESILIENCE_AGGREGATION_BUDGET", &cfg.Analytics.AggregationBudget)
	envDuration("MIRADOR_RESILIENCE_ANALYTICS_CACHE_TTL", &cfg.Analytics.CacheTTL)
	if v := os.Getenv("MIRADOR_RESILIENCE_ANOMALY_DETECTOR"); v != "" {
		cfg.Analytics.Detector = strings.ToLower(v)
	}
	envFloat("MIRADOR_RESILIENCE_HIGH_LOAD_THRESHOLD", &cfg.Orchestrator.HighLoadThreshold)
	if v := os.Getenv("MIRADOR_RESILIENCE_PLAYBOOKS_PATH"); v != "" {
		cfg.Orchestrator.PlaybooksPath = v
	}
	if v := os.Getenv("MIRADOR_RESILIENCE_NATS_URL"); v != "" {
		cfg.Bus.NATSURL = v
	}
	if v := os.Getenv("MIRADOR_RESILIENCE_AUDIT_DSN"); v != "" {
		cfg.Audit.PostgresDSN = v
	}
	if v := os.Getenv("MIRADOR_RESILIENCE_EVENTS_BASE_URL"); v != "" {
		cfg.Clients.Events.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_RESILIENCE_EVENTS_PATH"); v != "" {
		cfg.Clients.Events.EventsPath = v
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func isTrue(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
