package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Growth   GrowthConfig   `yaml:"growth"`
	Digest   DigestConfig   `yaml:"digest"`
	SES      SESConfig      `yaml:"ses"`
	SQS      SQSConfig      `yaml:"sqs"`
	Tracking TrackingConfig `yaml:"tracking"`
	Export   ExportConfig   `yaml:"export"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                int      `yaml:"port"`
	Host                string   `yaml:"host"`
	AllowedOrigins      []string `yaml:"allowed_origins"`
	ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// ReadTimeout returns the configured read timeout as a duration
func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the configured write timeout as a duration
func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis settings. An empty URL disables Redis; snowball
// counters then live in PostgreSQL and locks use advisory locks.
type RedisConfig struct {
	URL               string `yaml:"url"`
	SnowballMaxEvents int    `yaml:"snowball_max_events"`
}

// Enabled reports whether a Redis URL is configured.
func (c RedisConfig) Enabled() bool { return c.URL != "" }

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Pretty    bool   `yaml:"pretty"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on. It defaults to true.
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// GrowthConfig holds admission gate and import settings
type GrowthConfig struct {
	BaseCSVTrustScore       float64 `yaml:"base_csv_trust_score"`
	SnowballBaseScore       float64 `yaml:"snowball_base_score"`
	VerifiedReferrerTrust   float64 `yaml:"verified_referrer_trust"`
	ImportConcurrency       int     `yaml:"import_concurrency"`
	MaxUploadBytes          int64   `yaml:"max_upload_bytes"`
	DefaultForwardThreshold int     `yaml:"default_forward_threshold"`
	DefaultQualityThreshold float64 `yaml:"default_quality_threshold"`
}

// DigestConfig holds digest scheduling and rendering settings
type DigestConfig struct {
	Enabled             bool   `yaml:"enabled"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	MaxConcurrent       int    `yaml:"max_concurrent"`
	ContentLimit        int    `yaml:"content_limit"`
	FromEmail           string `yaml:"from_email"`
	FromName            string `yaml:"from_name"`
	ReplyTo             string `yaml:"reply_to"`
	SubjectTemplate     string `yaml:"subject_template"`
	BodyTemplate        string `yaml:"body_template"`
	UnsubscribeURL      string `yaml:"unsubscribe_url"`
	LockTTLSeconds      int    `yaml:"lock_ttl_seconds"`
	StaleAfterMinutes   int    `yaml:"stale_after_minutes"`
	FeedTimeoutSeconds  int    `yaml:"feed_timeout_seconds"`
	FeedMaxRetries      int    `yaml:"feed_max_retries"`
}

// Interval returns the poll interval as a duration
func (c DigestConfig) Interval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// LockTTL returns the distributed lock TTL as a duration
func (c DigestConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// StaleAfter returns how long a dispatched job may run before it is failed
func (c DigestConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

// FeedTimeout returns the feed fetch timeout as a duration
func (c DigestConfig) FeedTimeout() time.Duration {
	return time.Duration(c.FeedTimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES settings
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	Concurrency      int    `yaml:"concurrency"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SQSConfig holds the feedback queue settings
type SQSConfig struct {
	QueueURL    string `yaml:"queue_url"`
	Region      string `yaml:"region"`
	WaitSeconds int    `yaml:"wait_seconds"`
}

// Enabled reports whether a queue is configured.
func (c SQSConfig) Enabled() bool { return c.QueueURL != "" }

// TrackingConfig holds the public tracking endpoint settings
type TrackingConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// ExportConfig holds export archive settings
type ExportConfig struct {
	Type       string `yaml:"type"` // "", "local" or "s3"
	LocalPath  string `yaml:"local_path"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	AWSProfile string `yaml:"aws_profile"`
	Prefix     string `yaml:"prefix"`
}

// GetAWSProfile returns the AWS profile, preferring the environment
func (c ExportConfig) GetAWSProfile() string {
	if profile := os.Getenv("AWS_PROFILE"); profile != "" {
		return profile
	}
	return c.AWSProfile
}

// Load reads the YAML file at path and applies defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with only defaults applied
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 30
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 120
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.SnowballMaxEvents == 0 {
		cfg.Redis.SnowballMaxEvents = 500
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Growth.BaseCSVTrustScore == 0 {
		cfg.Growth.BaseCSVTrustScore = 0.5
	}
	if cfg.Growth.SnowballBaseScore == 0 {
		cfg.Growth.SnowballBaseScore = 0.4
	}
	if cfg.Growth.VerifiedReferrerTrust == 0 {
		cfg.Growth.VerifiedReferrerTrust = 0.9
	}
	if cfg.Growth.ImportConcurrency == 0 {
		cfg.Growth.ImportConcurrency = 8
	}
	if cfg.Growth.MaxUploadBytes == 0 {
		cfg.Growth.MaxUploadBytes = 32 << 20
	}
	if cfg.Growth.DefaultForwardThreshold == 0 {
		cfg.Growth.DefaultForwardThreshold = 3
	}
	if cfg.Growth.DefaultQualityThreshold == 0 {
		cfg.Growth.DefaultQualityThreshold = 0.4
	}

	if cfg.Digest.PollIntervalSeconds == 0 {
		cfg.Digest.PollIntervalSeconds = 300
	}
	if cfg.Digest.MaxConcurrent == 0 {
		cfg.Digest.MaxConcurrent = 5
	}
	if cfg.Digest.ContentLimit == 0 {
		cfg.Digest.ContentLimit = 10
	}
	if cfg.Digest.LockTTLSeconds == 0 {
		cfg.Digest.LockTTLSeconds = 600
	}
	if cfg.Digest.StaleAfterMinutes == 0 {
		cfg.Digest.StaleAfterMinutes = 60
	}
	if cfg.Digest.FeedTimeoutSeconds == 0 {
		cfg.Digest.FeedTimeoutSeconds = 30
	}
	if cfg.Digest.FeedMaxRetries == 0 {
		cfg.Digest.FeedMaxRetries = 3
	}

	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.SES.Concurrency == 0 {
		cfg.SES.Concurrency = 8
	}
	if cfg.SQS.Region == "" {
		cfg.SQS.Region = cfg.SES.Region
	}
	if cfg.SQS.WaitSeconds == 0 {
		cfg.SQS.WaitSeconds = 20
	}
	if cfg.Tracking.Port == 0 {
		cfg.Tracking.Port = 8081
	}
	if cfg.Export.S3Region == "" {
		cfg.Export.S3Region = cfg.SES.Region
	}
	if cfg.Export.Prefix == "" {
		cfg.Export.Prefix = "exports"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars. A missing
// config file is not an error; defaults plus environment are used.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("DIGEST_FROM_EMAIL"); v != "" {
		cfg.Digest.FromEmail = v
	}
	if v := os.Getenv("DIGEST_QUEUE_URL"); v != "" {
		cfg.SQS.QueueURL = v
	}
	if v := os.Getenv("EXPORT_S3_BUCKET"); v != "" {
		cfg.Export.S3Bucket = v
		if cfg.Export.Type == "" {
			cfg.Export.Type = "s3"
		}
	}

	return cfg, nil
}
