package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Log        LogConfig
	HTTP       HTTPConfig
	Sync       SyncConfig
	Webhook    WebhookConfig
	Encryption EncryptionConfig
	Scheduler  SchedulerConfig
	Storage    StorageConfig
	Telemetry  TelemetryConfig
	Platforms  PlatformsConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
	// PublicURL is the externally reachable base URL, used for OAuth redirects
	PublicURL string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	AutoMigrate     bool
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig holds JWT settings for operator API tokens and OAuth state
type JWTConfig struct {
	Secret        string
	Issuer        string
	OAuthStateTTL time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodySize       int64
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	TrustedProxies    []string
}

// SyncConfig holds orchestration, retry and client limits
type SyncConfig struct {
	PageSize         int
	ProgressInterval int
	MaxResultErrors  int
	RefreshThreshold time.Duration
	RequestTimeout   time.Duration
	// Retry wrapper
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	// Circuit breaker
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration
	// Per integration rate limit
	RateLimitCapacity int
	RateLimitRefill   float64
	// ConflictPolicy is last_write_wins or most_recent_wins
	ConflictPolicy string
}

// WebhookConfig holds webhook ingestion settings
type WebhookConfig struct {
	MaxBodyBytes   int64
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	IdempotencyTTL time.Duration
	ArchiveEnabled bool
}

// EncryptionConfig holds credential encryption keys
type EncryptionConfig struct {
	// ActiveKeyID seals new credentials
	ActiveKeyID string
	// Keys maps key id to a 32 byte hex or base64 master key
	Keys map[string]string
}

// SchedulerConfig holds periodic sync scheduler configuration
type SchedulerConfig struct {
	Enabled    bool
	Interval   time.Duration
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	RetryDelay time.Duration
	MaxRetries int
}

// StorageConfig holds S3-compatible storage for archived webhook payloads
type StorageConfig struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
	Prefix       string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration
}

// PlatformsConfig holds per-platform application credentials
type PlatformsConfig struct {
	Shopify  ShopifyConfig
	NetSuite NetSuiteConfig
}

// ShopifyConfig holds the storefront app registration
type ShopifyConfig struct {
	ClientID     string
	ClientSecret string
	APIVersion   string
	Scopes       []string
	LocationIDs  []string
}

// NetSuiteConfig holds the ERP app registration
type NetSuiteConfig struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with SYNC_ prefix (e.g., SYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name:      v.GetString("app.name"),
			Env:       v.GetString("app.env"),
			Port:      v.GetString("app.port"),
			PublicURL: v.GetString("app.public_url"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:        v.GetString("jwt.secret"),
			Issuer:        v.GetString("jwt.issuer"),
			OAuthStateTTL: v.GetDuration("jwt.oauth_state_ttl"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			MaxBodySize:       v.GetInt64("http.max_body_size"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
			TrustedProxies:    v.GetStringSlice("http.trusted_proxies"),
		},
		Sync: SyncConfig{
			PageSize:                v.GetInt("sync.page_size"),
			ProgressInterval:        v.GetInt("sync.progress_interval"),
			MaxResultErrors:         v.GetInt("sync.max_result_errors"),
			RefreshThreshold:        v.GetDuration("sync.refresh_threshold"),
			RequestTimeout:          v.GetDuration("sync.request_timeout"),
			RetryMaxAttempts:        v.GetInt("sync.retry_max_attempts"),
			RetryBaseDelay:          v.GetDuration("sync.retry_base_delay"),
			RetryMaxDelay:           v.GetDuration("sync.retry_max_delay"),
			BreakerFailureThreshold: v.GetInt("sync.breaker_failure_threshold"),
			BreakerCooldown:         v.GetDuration("sync.breaker_cooldown"),
			RateLimitCapacity:       v.GetInt("sync.rate_limit_capacity"),
			RateLimitRefill:         v.GetFloat64("sync.rate_limit_refill"),
			ConflictPolicy:          v.GetString("sync.conflict_policy"),
		},
		Webhook: WebhookConfig{
			MaxBodyBytes:   v.GetInt64("webhook.max_body_bytes"),
			PollInterval:   v.GetDuration("webhook.poll_interval"),
			BatchSize:      v.GetInt("webhook.batch_size"),
			MaxAttempts:    v.GetInt("webhook.max_attempts"),
			IdempotencyTTL: v.GetDuration("webhook.idempotency_ttl"),
			ArchiveEnabled: v.GetBool("webhook.archive_enabled"),
		},
		Encryption: EncryptionConfig{
			ActiveKeyID: v.GetString("encryption.active_key_id"),
			Keys:        v.GetStringMapString("encryption.keys"),
		},
		Scheduler: SchedulerConfig{
			Enabled:    v.GetBool("scheduler.enabled"),
			Interval:   v.GetDuration("scheduler.interval"),
			Workers:    v.GetInt("scheduler.workers"),
			QueueSize:  v.GetInt("scheduler.queue_size"),
			JobTimeout: v.GetDuration("scheduler.job_timeout"),
			RetryDelay: v.GetDuration("scheduler.retry_delay"),
			MaxRetries: v.GetInt("scheduler.max_retries"),
		},
		Storage: StorageConfig{
			Bucket:       v.GetString("storage.bucket"),
			Region:       v.GetString("storage.region"),
			Endpoint:     v.GetString("storage.endpoint"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UseSSL:       v.GetBool("storage.use_ssl"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
			Prefix:       v.GetString("storage.prefix"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
		},
		Platforms: PlatformsConfig{
			Shopify: ShopifyConfig{
				ClientID:     v.GetString("platforms.shopify.client_id"),
				ClientSecret: v.GetString("platforms.shopify.client_secret"),
				APIVersion:   v.GetString("platforms.shopify.api_version"),
				Scopes:       v.GetStringSlice("platforms.shopify.scopes"),
				LocationIDs:  v.GetStringSlice("platforms.shopify.location_ids"),
			},
			NetSuite: NetSuiteConfig{
				ClientID:     v.GetString("platforms.netsuite.client_id"),
				ClientSecret: v.GetString("platforms.netsuite.client_secret"),
				Scopes:       v.GetStringSlice("platforms.netsuite.scopes"),
			},
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "erp-syncengine"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.App.PublicURL == "" {
		cfg.App.PublicURL = "http://localhost:" + cfg.App.Port
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "syncengine"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "syncengine.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "erp-syncengine"
	}
	if cfg.JWT.OAuthStateTTL == 0 {
		cfg.JWT.OAuthStateTTL = 10 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.HTTP.RateLimitRequests == 0 {
		cfg.HTTP.RateLimitRequests = 600
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}
	if cfg.Sync.PageSize == 0 {
		cfg.Sync.PageSize = 100
	}
	if cfg.Sync.ProgressInterval == 0 {
		cfg.Sync.ProgressInterval = 100
	}
	if cfg.Sync.MaxResultErrors == 0 {
		cfg.Sync.MaxResultErrors = 100
	}
	if cfg.Sync.RefreshThreshold == 0 {
		cfg.Sync.RefreshThreshold = 10 * time.Minute
	}
	if cfg.Sync.RequestTimeout == 0 {
		cfg.Sync.RequestTimeout = 30 * time.Second
	}
	if cfg.Sync.RetryMaxAttempts == 0 {
		cfg.Sync.RetryMaxAttempts = 4
	}
	if cfg.Sync.RetryBaseDelay == 0 {
		cfg.Sync.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.Sync.RetryMaxDelay == 0 {
		cfg.Sync.RetryMaxDelay = 30 * time.Second
	}
	if cfg.Sync.BreakerFailureThreshold == 0 {
		cfg.Sync.BreakerFailureThreshold = 5
	}
	if cfg.Sync.BreakerCooldown == 0 {
		cfg.Sync.BreakerCooldown = time.Minute
	}
	if cfg.Sync.RateLimitCapacity == 0 {
		cfg.Sync.RateLimitCapacity = 10
	}
	if cfg.Sync.RateLimitRefill == 0 {
		cfg.Sync.RateLimitRefill = 4
	}
	if cfg.Sync.ConflictPolicy == "" {
		cfg.Sync.ConflictPolicy = "last_write_wins"
	}
	if cfg.Webhook.MaxBodyBytes == 0 {
		cfg.Webhook.MaxBodyBytes = 1 << 20 // 1MB
	}
	if cfg.Webhook.PollInterval == 0 {
		cfg.Webhook.PollInterval = 2 * time.Second
	}
	if cfg.Webhook.BatchSize == 0 {
		cfg.Webhook.BatchSize = 50
	}
	if cfg.Webhook.MaxAttempts == 0 {
		cfg.Webhook.MaxAttempts = 5
	}
	if cfg.Webhook.IdempotencyTTL == 0 {
		cfg.Webhook.IdempotencyTTL = 72 * time.Hour
	}
	if cfg.Encryption.ActiveKeyID == "" {
		cfg.Encryption.ActiveKeyID = "default"
	}
	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = 15 * time.Minute
	}
	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 3
	}
	if cfg.Scheduler.QueueSize == 0 {
		cfg.Scheduler.QueueSize = 100
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 30 * time.Minute
	}
	if cfg.Scheduler.RetryDelay == 0 {
		cfg.Scheduler.RetryDelay = time.Minute
	}
	if cfg.Scheduler.MaxRetries == 0 {
		cfg.Scheduler.MaxRetries = 3
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "webhooks/"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "erp-syncengine"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Platforms.Shopify.APIVersion == "" {
		cfg.Platforms.Shopify.APIVersion = "2024-10"
	}
	if len(cfg.Platforms.Shopify.Scopes) == 0 {
		cfg.Platforms.Shopify.Scopes = []string{"read_products", "read_inventory"}
	}
	if len(cfg.Platforms.NetSuite.Scopes) == 0 {
		cfg.Platforms.NetSuite.Scopes = []string{"rest_webservices"}
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > 10000 {
		return fmt.Errorf("sync.page_size must be between 1 and 10000, got %d", c.Sync.PageSize)
	}
	if c.Sync.RetryMaxAttempts < 1 {
		return fmt.Errorf("sync.retry_max_attempts must be at least 1")
	}
	switch c.Sync.ConflictPolicy {
	case "last_write_wins", "most_recent_wins":
	default:
		return fmt.Errorf("sync.conflict_policy must be last_write_wins or most_recent_wins, got %q", c.Sync.ConflictPolicy)
	}
	if _, ok := c.Encryption.Keys[c.Encryption.ActiveKeyID]; len(c.Encryption.Keys) > 0 && !ok {
		return fmt.Errorf("encryption.active_key_id %q has no key in encryption.keys", c.Encryption.ActiveKeyID)
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if len(c.Encryption.Keys) == 0 {
			return fmt.Errorf("encryption.keys is required in production")
		}
		if c.Database.Driver != "postgres" {
			return fmt.Errorf("database.driver must be postgres in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// IsProduction reports whether the app runs in production
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
