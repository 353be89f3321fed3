package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Inference InferenceConfig `yaml:"inference"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Baseline  BaselineConfig  `yaml:"baseline"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// ProviderConfig describes one entry of the inference fallback chain.
type ProviderConfig struct {
	ID           string  `yaml:"id"`
	Kind         string  `yaml:"kind"` // adapter registered under this kind
	Endpoint     string  `yaml:"endpoint"`
	APIKey       string  `yaml:"api_key"`
	Model        string  `yaml:"model"`
	CostPerImage float64 `yaml:"cost_per_image"`
	MultiImage   bool    `yaml:"multi_image"`
	Clips        bool    `yaml:"clips"`
}

type InferenceConfig struct {
	Chain            []ProviderConfig `yaml:"chain"`
	AttemptTimeout   time.Duration    `yaml:"attempt_timeout"`
	OverallDeadline  time.Duration    `yaml:"overall_deadline"`
	TransientRetries int              `yaml:"transient_retries"`
	DailyBudgetUSD   float64          `yaml:"daily_budget_usd"`   // 0 disables the ceiling
	MonthlyBudgetUSD float64          `yaml:"monthly_budget_usd"` // 0 disables the ceiling
	// BudgetPolicy: "fallback" routes to the last chain entry when the
	// ceiling is hit, "fail" fails fast with a cost-limit error.
	BudgetPolicy string `yaml:"budget_policy"`
}

type ResolverConfig struct {
	ModelsDir       string        `yaml:"models_dir"`
	MatchThreshold  float64       `yaml:"match_threshold"`   // strong match floor (cosine)
	AmbiguousBand   float64       `yaml:"ambiguous_band"`    // weak candidate floor (cosine)
	RecencyHorizon  time.Duration `yaml:"recency_horizon"`   // candidate window
	FullSearchEvery int           `yaml:"full_search_every"` // every Nth resolve ignores the horizon
	MaxCandidates   int           `yaml:"max_candidates"`
}

type BaselineConfig struct {
	DecayHalfLife time.Duration `yaml:"decay_half_life"`
	MinWindow     time.Duration `yaml:"min_window"` // below this the baseline is immature
	HourWeight    float64       `yaml:"hour_weight"`
	TypeWeight    float64       `yaml:"type_weight"`
	CountWeight   float64       `yaml:"count_weight"`
}

type AlertsConfig struct {
	WorkerCount int        `yaml:"worker_count"`
	MQTT        MQTTConfig `yaml:"mqtt"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"` // empty disables the sink
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
}

type StorageConfig struct {
	FrameRetention int `yaml:"frame_retention"` // objects kept per camera; 0 disables cleanup
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Inference.AttemptTimeout == 0 {
		cfg.Inference.AttemptTimeout = 10 * time.Second
	}
	if cfg.Inference.OverallDeadline == 0 {
		cfg.Inference.OverallDeadline = 30 * time.Second
	}
	if cfg.Inference.TransientRetries == 0 {
		cfg.Inference.TransientRetries = 1
	}
	if cfg.Inference.BudgetPolicy == "" {
		cfg.Inference.BudgetPolicy = "fallback"
	}
	if cfg.Resolver.MatchThreshold == 0 {
		cfg.Resolver.MatchThreshold = 0.80
	}
	if cfg.Resolver.AmbiguousBand == 0 {
		cfg.Resolver.AmbiguousBand = 0.60
	}
	if cfg.Resolver.RecencyHorizon == 0 {
		cfg.Resolver.RecencyHorizon = 30 * 24 * time.Hour
	}
	if cfg.Resolver.FullSearchEvery == 0 {
		cfg.Resolver.FullSearchEvery = 50
	}
	if cfg.Resolver.MaxCandidates == 0 {
		cfg.Resolver.MaxCandidates = 10
	}
	if cfg.Baseline.DecayHalfLife == 0 {
		cfg.Baseline.DecayHalfLife = 14 * 24 * time.Hour
	}
	if cfg.Baseline.MinWindow == 0 {
		cfg.Baseline.MinWindow = 7 * 24 * time.Hour
	}
	if cfg.Baseline.HourWeight == 0 {
		cfg.Baseline.HourWeight = 0.4
	}
	if cfg.Baseline.TypeWeight == 0 {
		cfg.Baseline.TypeWeight = 0.3
	}
	if cfg.Baseline.CountWeight == 0 {
		cfg.Baseline.CountWeight = 0.3
	}
	if cfg.Alerts.WorkerCount == 0 {
		cfg.Alerts.WorkerCount = 4
	}
	if cfg.Alerts.MQTT.ClientID == "" {
		cfg.Alerts.MQTT.ClientID = "vigil-worker"
	}
	if cfg.Alerts.MQTT.Topic == "" {
		cfg.Alerts.MQTT.Topic = "vigil/alerts"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Resolver.AmbiguousBand > cfg.Resolver.MatchThreshold {
		return fmt.Errorf("resolver: ambiguous_band %.2f must not exceed match_threshold %.2f",
			cfg.Resolver.AmbiguousBand, cfg.Resolver.MatchThreshold)
	}
	switch cfg.Inference.BudgetPolicy {
	case "fallback", "fail":
	default:
		return fmt.Errorf("inference: unknown budget_policy %q", cfg.Inference.BudgetPolicy)
	}
	seen := make(map[string]bool, len(cfg.Inference.Chain))
	for _, p := range cfg.Inference.Chain {
		if p.ID == "" {
			return fmt.Errorf("inference: provider without id in chain")
		}
		if seen[p.ID] {
			return fmt.Errorf("inference: duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VIGIL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VIGIL_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("VIGIL_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("VIGIL_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("VIGIL_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("VIGIL_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("VIGIL_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("VIGIL_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("VIGIL_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("VIGIL_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("VIGIL_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("VIGIL_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("VIGIL_MODELS_DIR"); v != "" {
		cfg.Resolver.ModelsDir = v
	}
	if v := os.Getenv("VIGIL_MQTT_BROKER"); v != "" {
		cfg.Alerts.MQTT.Broker = v
	}
	if v := os.Getenv("VIGIL_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Alerts.WorkerCount = n
		}
	}
	if v := os.Getenv("VIGIL_DAILY_BUDGET_USD"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.Inference.DailyBudgetUSD = f
		}
	}
	if v := os.Getenv("VIGIL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
