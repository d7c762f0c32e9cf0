package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/list-rotator/internal/domain"
)

// Config holds all configuration for the list rotation engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Ongage   OngageConfig   `yaml:"ongage"`
	Advisor  AdvisorConfig  `yaml:"advisor"`
	Notify   NotifyConfig   `yaml:"notify"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Rotation RotationConfig `yaml:"rotation"`
}

// ServerConfig holds HTTP server settings for the trigger API.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds PostgreSQL settings for the ledger and audit log.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds Redis settings for the state cache, rate limiter, and
// list-set lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// OngageConfig holds credentials and list mapping for the remote list store.
type OngageConfig struct {
	BaseURL        string `yaml:"base_url"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	AccountCode    string `yaml:"account_code"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// Per-second call budget against the provider API.
	RatePerSecond int `yaml:"rate_per_second"`
	// Remote list IDs keyed by logical handle.
	MasterListID      string `yaml:"master_list_id"`
	Campaign1ListID   string `yaml:"campaign_1_list_id"`
	Campaign2ListID   string `yaml:"campaign_2_list_id"`
	Campaign3ListID   string `yaml:"campaign_3_list_id"`
	SuppressionListID string `yaml:"suppression_list_id"`
}

// AdvisorConfig holds AWS Bedrock settings for the advisory component.
type AdvisorConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ModelID        string `yaml:"model_id"`
	Region         string `yaml:"region"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// NotifyConfig holds SES settings for run notifications.
type NotifyConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Region    string   `yaml:"region"`
	AccessKey string   `yaml:"access_key"`
	SecretKey string   `yaml:"secret_key"`
	From      string   `yaml:"from"`
	To        []string `yaml:"to"`
}

// ArchiveConfig holds S3 settings for finalized-run snapshots.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	Prefix  string `yaml:"prefix"`
}

// RotationConfig holds the engine's safety knobs.
type RotationConfig struct {
	// TolerancePct is the maximum allowed campaign-list deviation (percent).
	TolerancePct float64 `yaml:"tolerance_pct"`
	// SuppressionCapPct caps accepted suppressions per run, as a percentage
	// of the combined campaign-list size.
	SuppressionCapPct float64 `yaml:"suppression_cap_pct"`
	// CacheFreshnessMinutes bounds how old cached list metadata may be.
	CacheFreshnessMinutes int `yaml:"cache_freshness_minutes"`
	// PostSendGateHours is the minimum elapsed time after a send before
	// post-send maintenance is eligible.
	PostSendGateHours int `yaml:"post_send_gate_hours"`
	// MaxInflightCalls bounds per-run concurrency against the provider.
	MaxInflightCalls int `yaml:"max_inflight_calls"`
	// LockTTLMinutes is the lease on the five-list lock.
	LockTTLMinutes int `yaml:"lock_ttl_minutes"`
	// Workers is the background worker pool size.
	Workers int `yaml:"workers"`
	// SweepIntervalHours is how often the hourly eligibility sweep runs.
	SweepIntervalHours int `yaml:"sweep_interval_hours"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Ongage.BaseURL == "" {
		cfg.Ongage.BaseURL = "https://api.ongage.net"
	}
	if cfg.Ongage.TimeoutSeconds == 0 {
		cfg.Ongage.TimeoutSeconds = 60
	}
	if cfg.Ongage.RatePerSecond == 0 {
		cfg.Ongage.RatePerSecond = 25
	}
	if cfg.Advisor.ModelID == "" {
		cfg.Advisor.ModelID = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	if cfg.Advisor.Region == "" {
		cfg.Advisor.Region = "us-east-1"
	}
	if cfg.Advisor.TimeoutSeconds == 0 {
		cfg.Advisor.TimeoutSeconds = 30
	}
	if cfg.Notify.Region == "" {
		cfg.Notify.Region = "us-west-2"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "maintenance-runs"
	}
	if cfg.Rotation.TolerancePct == 0 {
		cfg.Rotation.TolerancePct = 5.0
	}
	if cfg.Rotation.SuppressionCapPct == 0 {
		cfg.Rotation.SuppressionCapPct = 10.0
	}
	if cfg.Rotation.CacheFreshnessMinutes == 0 {
		cfg.Rotation.CacheFreshnessMinutes = 60
	}
	if cfg.Rotation.PostSendGateHours == 0 {
		cfg.Rotation.PostSendGateHours = 24
	}
	if cfg.Rotation.MaxInflightCalls == 0 {
		cfg.Rotation.MaxInflightCalls = 10
	}
	if cfg.Rotation.LockTTLMinutes == 0 {
		cfg.Rotation.LockTTLMinutes = 30
	}
	if cfg.Rotation.Workers == 0 {
		cfg.Rotation.Workers = 3
	}
	if cfg.Rotation.SweepIntervalHours == 0 {
		cfg.Rotation.SweepIntervalHours = 1
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first, so secrets can live in .env
// locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ONGAGE_BASE_URL"); v != "" {
		cfg.Ongage.BaseURL = v
	}
	if v := os.Getenv("ONGAGE_USERNAME"); v != "" {
		cfg.Ongage.Username = v
	}
	if v := os.Getenv("ONGAGE_PASSWORD"); v != "" {
		cfg.Ongage.Password = v
	}
	if v := os.Getenv("ONGAGE_ACCOUNT_CODE"); v != "" {
		cfg.Ongage.AccountCode = v
	}
	if v := os.Getenv("BEDROCK_MODEL_ID"); v != "" {
		cfg.Advisor.ModelID = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Advisor.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY"); v != "" {
		cfg.Notify.AccessKey = v
	}
	if v := os.Getenv("SES_SECRET_KEY"); v != "" {
		cfg.Notify.SecretKey = v
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
		cfg.Archive.Enabled = true
	}

	return cfg, nil
}

// ListIDs returns the remote list id for each logical handle.
func (c OngageConfig) ListIDs() map[domain.ListHandle]string {
	return map[domain.ListHandle]string{
		domain.ListMaster:      c.MasterListID,
		domain.ListCampaign1:   c.Campaign1ListID,
		domain.ListCampaign2:   c.Campaign2ListID,
		domain.ListCampaign3:   c.Campaign3ListID,
		domain.ListSuppression: c.SuppressionListID,
	}
}

// CacheFreshness returns the freshness window as a duration.
func (c RotationConfig) CacheFreshness() time.Duration {
	return time.Duration(c.CacheFreshnessMinutes) * time.Minute
}

// PostSendGate returns the minimum elapsed time gate as a duration.
func (c RotationConfig) PostSendGate() time.Duration {
	return time.Duration(c.PostSendGateHours) * time.Hour
}

// LockTTL returns the list-set lock lease as a duration.
func (c RotationConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// AdvisorTimeout returns the advisory call deadline as a duration.
func (c AdvisorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
