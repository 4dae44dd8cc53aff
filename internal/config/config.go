package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Platform      string         `yaml:"platform"`
	Storage       StorageConfig  `yaml:"storage"`
	Provider      ProviderConfig `yaml:"provider"`
	Backend       BackendConfig  `yaml:"backend"`
	Sync          SyncConfig     `yaml:"sync"`
	Webhook       WebhookConfig  `yaml:"webhook"`
	Status        StatusConfig   `yaml:"status"`
	PurgeInterval time.Duration  `yaml:"purge_interval"`
	LogLevel      string         `yaml:"log_level"`
}

type StorageConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type ProviderConfig struct {
	HealthKit     HealthKitConfig     `yaml:"healthkit"`
	HealthConnect HealthConnectConfig `yaml:"healthconnect"`
}

type HealthKitConfig struct {
	ExportDir     string   `yaml:"export_dir"`
	ObservedTypes []string `yaml:"observed_types"`
}

type HealthConnectConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Retry   RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type BackendConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIToken          string        `yaml:"api_token"`
	TokenFile         string        `yaml:"token_file"`
	Timeout           time.Duration `yaml:"timeout"`
	BatchSize         int           `yaml:"batch_size"`
	MetricFetchLimit  int           `yaml:"metric_fetch_limit"`
	WorkoutFetchLimit int           `yaml:"workout_fetch_limit"`
	SleepFetchLimit   int           `yaml:"sleep_fetch_limit"`
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
}

type SyncConfig struct {
	Interval         time.Duration `yaml:"interval"`
	FullDays         int           `yaml:"full_days"`
	IncrementalDays  int           `yaml:"incremental_days"`
	Overlap          time.Duration `yaml:"overlap"`
	ObserverThrottle time.Duration `yaml:"observer_throttle"`
	ObserverRequeue  time.Duration `yaml:"observer_requeue"`
}

type WebhookConfig struct {
	ExternalURL   string        `yaml:"external_url"`
	MaxRetries    int           `yaml:"max_retries"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepBatch    int           `yaml:"sweep_batch"`
}

type StatusConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// minSyncInterval is the platform-enforced floor for background wake-ups.
const minSyncInterval = 15 * time.Minute

func (c *Config) setDefaults() {
	if c.Platform == "" {
		c.Platform = "healthkit"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "healthsync.db"
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 90
	}
	if c.Provider.HealthConnect.BaseURL == "" {
		c.Provider.HealthConnect.BaseURL = "http://127.0.0.1:9022"
	}
	if c.Provider.HealthConnect.Timeout == 0 {
		c.Provider.HealthConnect.Timeout = 30 * time.Second
	}
	if c.Provider.HealthConnect.Retry.MaxAttempts == 0 {
		c.Provider.HealthConnect.Retry.MaxAttempts = 3
	}
	if c.Provider.HealthConnect.Retry.InitialBackoff == 0 {
		c.Provider.HealthConnect.Retry.InitialBackoff = 1 * time.Second
	}
	if c.Provider.HealthConnect.Retry.MaxBackoff == 0 {
		c.Provider.HealthConnect.Retry.MaxBackoff = 30 * time.Second
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 30 * time.Second
	}
	if c.Backend.BatchSize == 0 {
		c.Backend.BatchSize = 100
	}
	if c.Backend.MetricFetchLimit == 0 {
		c.Backend.MetricFetchLimit = 200
	}
	if c.Backend.WorkoutFetchLimit == 0 {
		c.Backend.WorkoutFetchLimit = 100
	}
	if c.Backend.SleepFetchLimit == 0 {
		c.Backend.SleepFetchLimit = 100
	}
	if c.Backend.MaxAttempts == 0 {
		c.Backend.MaxAttempts = 4
	}
	if c.Backend.InitialBackoff == 0 {
		c.Backend.InitialBackoff = 750 * time.Millisecond
	}
	if c.Backend.MaxBackoff == 0 {
		c.Backend.MaxBackoff = 30 * time.Second
	}
	if c.Sync.Interval < minSyncInterval {
		c.Sync.Interval = minSyncInterval
	}
	if c.Sync.FullDays == 0 {
		c.Sync.FullDays = 7
	}
	if c.Sync.IncrementalDays == 0 {
		c.Sync.IncrementalDays = 1
	}
	if c.Sync.Overlap == 0 {
		c.Sync.Overlap = 180 * time.Minute
	}
	if c.Sync.ObserverThrottle == 0 {
		c.Sync.ObserverThrottle = 15 * time.Second
	}
	if c.Sync.ObserverRequeue == 0 {
		c.Sync.ObserverRequeue = 5 * time.Second
	}
	if c.Webhook.MaxRetries == 0 {
		c.Webhook.MaxRetries = 5
	}
	if c.Webhook.SweepInterval == 0 {
		c.Webhook.SweepInterval = time.Minute
	}
	if c.Webhook.SweepBatch == 0 {
		c.Webhook.SweepBatch = 20
	}
	if c.PurgeInterval == 0 {
		c.PurgeInterval = 24 * time.Hour
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	switch c.Platform {
	case "healthkit", "healthconnect":
	default:
		return fmt.Errorf("unknown platform %q", c.Platform)
	}
	return nil
}
