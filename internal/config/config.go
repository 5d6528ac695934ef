// Package config provides configuration management for the access service.
// It supports environment variable-based configuration with validation and default values
// for all service components, plus YAML overlays for structured operational settings
// such as alert thresholds and retry strategies.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// MinJWTSecretLength is the minimum required length for JWT secret.
	MinJWTSecretLength = 32
	// MinPortNumber is the minimum valid port number.
	MinPortNumber = 1
	// MaxPortNumber is the maximum valid port number.
	MaxPortNumber = 65535
	// HardUsageLimit is the largest max_usage_count a bulk code may carry.
	HardUsageLimit = 400
)

// Storage backends for codes, sessions and the usage ledger.
const (
	BackendAuto     = "auto"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config represents the complete configuration for the access service,
// aggregating all component-specific configurations.
type Config struct {
	// Environment holds environment-specific settings.
	Environment EnvironmentConfig `envconfig:"ENVIRONMENT"`
	// Server contains HTTP server configuration including ports, timeouts, and TLS settings.
	Server ServerConfig `envconfig:"SERVER"`
	// Redis contains Redis connection and pool configuration.
	Redis RedisConfig `envconfig:"REDIS"`
	// PostgresDatabase contains PostgreSQL database configuration.
	PostgresDatabase DatabaseConfig `envconfig:"POSTGRES"`
	// MySQLDatabase contains MySQL configuration for the audit event store.
	MySQLDatabase MySQLConfig `envconfig:"MYSQL"`
	// Kafka contains lifecycle event publishing configuration.
	Kafka KafkaConfig `envconfig:"KAFKA"`
	// Events controls the asynchronous event dispatcher.
	Events EventsConfig `envconfig:"EVENTS"`
	// ServiceClient contains OAuth2 client credentials used for outbound service calls.
	ServiceClient ClientConfig `envconfig:"SERVICE_CLIENT"`
	// JWT contains session token and admin token settings.
	JWT JWTConfig `envconfig:"JWT"`
	// Access contains redemption and session lifecycle settings.
	Access AccessConfig `envconfig:"ACCESS"`
	// Cache contains capacity cache settings.
	Cache CacheConfig `envconfig:"CACHE"`
	// Monitor contains performance monitor settings.
	Monitor MonitorConfig `envconfig:"MONITOR"`
	// Recovery contains retry policy settings.
	Recovery RecoveryConfig `envconfig:"RECOVERY"`
	// Security contains security-related settings like CORS and rate limiting.
	Security SecurityConfig `envconfig:"SECURITY"`
	// Logging contains logging configuration.
	Logging LoggingConfig `envconfig:"LOGGING"`
	// Notification contains operator alert settings.
	Notification NotificationConfig `envconfig:"NOTIFICATION"`
	// Telemetry contains tracing exporter settings.
	Telemetry TelemetryConfig `envconfig:"TELEMETRY"`
	// CodeSeed contains startup code seeding configuration.
	CodeSeed CodeSeedConfig `envconfig:"CODE_SEED"`
}

type Environment string

const (
	Local   Environment = "LOCAL"
	NonProd Environment = "NONPROD"
	Prod    Environment = "PROD"
)

// EnvironmentConfig holds environment-specific settings.
type EnvironmentConfig struct {
	// Environment indicates the current running environment (LOCAL, NONPROD, PROD).
	Environment Environment `envconfig:"ENV" default:"LOCAL"`
}

// ServerConfig holds HTTP server configuration including network settings,
// timeouts, and TLS certificate paths.
type ServerConfig struct {
	Port            int           `envconfig:"PORT"             default:"8080"`
	Host            string        `envconfig:"HOST"             default:"0.0.0.0"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT"     default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT"    default:"15s"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT"     default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	TLSCert         string        `envconfig:"TLS_CERT"`
	TLSKey          string        `envconfig:"TLS_KEY"`
}

// RedisConfig contains Redis connection configuration including
// connection pool settings and timeouts.
type RedisConfig struct {
	// URL is the Redis connection URL.
	URL string `envconfig:"URL"           default:"redis://localhost:6379"`
	// Password is the Redis authentication password.
	Password string `envconfig:"PASSWORD"`
	// DB is the Redis database number to use.
	DB int `envconfig:"DB"            default:"0"`
	// MaxRetries is the maximum number of retry attempts for failed operations.
	MaxRetries int `envconfig:"MAX_RETRIES"   default:"3"`
	// PoolSize is the maximum number of socket connections.
	PoolSize int `envconfig:"POOL_SIZE"     default:"20"`
	// MinIdleConn is the minimum number of idle connections.
	MinIdleConn int `envconfig:"MIN_IDLE_CONN" default:"5"`
	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration `envconfig:"DIAL_TIMEOUT"  default:"5s"`
	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT"  default:"3s"`
	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
	// PoolTimeout is the amount of time client waits for connection.
	PoolTimeout time.Duration `envconfig:"POOL_TIMEOUT"  default:"4s"`
	// IdleTimeout is the amount of time after which client closes idle connections.
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT"  default:"300s"`
}

// DatabaseConfig contains PostgreSQL database connection configuration
// including connection pool settings and health check parameters.
type DatabaseConfig struct {
	Host              string        `envconfig:"HOST"                default:"localhost"`
	Port              int           `envconfig:"PORT"                default:"5432"`
	Database          string        `envconfig:"DB"                  default:"access"`
	Schema            string        `envconfig:"SCHEMA"              default:"public"`
	User              string        `envconfig:"ACCESS_DB_USER"`
	Password          string        `envconfig:"ACCESS_DB_PASSWORD"`
	SSLMode           string        `envconfig:"SSL_MODE"            default:"require"`
	MaxConn           int32         `envconfig:"MAX_CONN"            default:"25"`
	MinConn           int32         `envconfig:"MIN_CONN"            default:"5"`
	MaxConnLifetime   time.Duration `envconfig:"MAX_CONN_LIFETIME"   default:"1h"`
	MaxConnIdleTime   time.Duration `envconfig:"MAX_CONN_IDLE_TIME"  default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"HEALTH_CHECK_PERIOD" default:"30s"`
	ConnectTimeout    time.Duration `envconfig:"CONNECT_TIMEOUT"     default:"10s"`
	// AutoMigrate applies embedded migrations on startup.
	AutoMigrate bool `envconfig:"AUTO_MIGRATE" default:"false"`
}

// MySQLConfig contains MySQL connection configuration for the audit event store.
type MySQLConfig struct {
	Host              string        `envconfig:"HOST"                default:"localhost"`
	Port              int           `envconfig:"PORT"                default:"3306"`
	Database          string        `envconfig:"DB"                  default:"access_audit"`
	User              string        `envconfig:"AUDIT_DB_USER"`
	Password          string        `envconfig:"AUDIT_DB_PASSWORD"`
	MaxConn           int           `envconfig:"MAX_CONN"            default:"10"`
	MinConn           int           `envconfig:"MIN_CONN"            default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"MAX_CONN_LIFETIME"   default:"1h"`
	MaxConnIdleTime   time.Duration `envconfig:"MAX_CONN_IDLE_TIME"  default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"HEALTH_CHECK_PERIOD" default:"30s"`
	ConnectTimeout    time.Duration `envconfig:"CONNECT_TIMEOUT"     default:"10s"`
	AutoMigrate       bool          `envconfig:"AUTO_MIGRATE"        default:"false"`
}

// KafkaConfig contains lifecycle event producer settings. Publishing is
// disabled when no brokers are configured.
type KafkaConfig struct {
	Brokers      []string      `envconfig:"BROKERS"`
	Topic        string        `envconfig:"TOPIC"         default:"access.lifecycle"`
	ClientID     string        `envconfig:"CLIENT_ID"     default:"access-service"`
	Compression  string        `envconfig:"COMPRESSION"   default:"snappy"`
	RequiredAcks int           `envconfig:"REQUIRED_ACKS" default:"-1"`
	BatchTimeout time.Duration `envconfig:"BATCH_TIMEOUT" default:"50ms"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s"`
}

// EventsConfig controls the asynchronous lifecycle event dispatcher.
type EventsConfig struct {
	// QueueSize is the number of events buffered before new events are dropped.
	QueueSize int `envconfig:"QUEUE_SIZE" default:"1024"`
	// Workers is the number of goroutines draining the queue.
	Workers int `envconfig:"WORKERS" default:"2"`
}

// ClientConfig contains OAuth2 client credentials configuration.
type ClientConfig struct {
	ClientID     string `envconfig:"CLIENT_ID"     default:"access-service-client-id"`
	ClientSecret string `envconfig:"CLIENT_SECRET" default:"access-service-client-secret"`
}

// JWTConfig contains signing settings for session tokens and the
// validation settings for admin tokens.
type JWTConfig struct {
	// Secret is the signing secret for JWT tokens (required, minimum 32 characters).
	Secret string `envconfig:"SECRET" required:"true"`
	// SessionTokenExpiry caps the lifetime of session tokens; tokens never outlive their code.
	SessionTokenExpiry time.Duration `envconfig:"SESSION_TOKEN_EXPIRY" default:"12h"`
	// Issuer is the JWT issuer claim.
	Issuer string `envconfig:"ISSUER" default:"access-service"`
	// Algorithm is the JWT signing algorithm (HS256, HS384, HS512).
	Algorithm string `envconfig:"ALGORITHM" default:"HS256"`
	// AdminScope is the scope an admin token must carry.
	AdminScope string `envconfig:"ADMIN_SCOPE" default:"admin"`
}

// AccessConfig contains redemption and session lifecycle settings.
type AccessConfig struct {
	// Backend selects the store: auto, postgres, redis or memory.
	Backend string `envconfig:"BACKEND" default:"auto"`
	// DefaultCodeExpiry is applied to new codes created without an explicit expiry.
	DefaultCodeExpiry time.Duration `envconfig:"DEFAULT_CODE_EXPIRY" default:"24h"`
	// MaxUsageLimit bounds max_usage_count on new bulk codes.
	MaxUsageLimit int `envconfig:"MAX_USAGE_LIMIT" default:"400"`
	// IdleTimeout is how long a session may go without activity before it is swept.
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT" default:"30m"`
	// CleanupEnabled runs the periodic lifecycle sweep.
	CleanupEnabled bool `envconfig:"CLEANUP_ENABLED" default:"true"`
	// CleanupInterval is the period of the lifecycle sweep.
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"5m"`
	// SweepBatchSize bounds the number of idle sessions handled per sweep.
	SweepBatchSize int `envconfig:"SWEEP_BATCH_SIZE" default:"500"`
	// OperationTimeout bounds a single redemption end to end.
	OperationTimeout time.Duration `envconfig:"OPERATION_TIMEOUT" default:"30s"`
}

// CacheConfig contains capacity cache settings.
type CacheConfig struct {
	CodeTTL          time.Duration `envconfig:"CODE_TTL"          default:"30s"`
	SnapshotTTL      time.Duration `envconfig:"SNAPSHOT_TTL"      default:"5s"`
	MaxEntries       int           `envconfig:"MAX_ENTRIES"       default:"1000"`
	EvictionFraction float64       `envconfig:"EVICTION_FRACTION" default:"0.1"`
	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL"    default:"1m"`
}

// MonitorConfig contains performance monitor settings. Alert thresholds are
// read from the YAML overlay.
type MonitorConfig struct {
	RawRetention          time.Duration   `envconfig:"RAW_RETENTION"           default:"24h"`
	StatsIdleTTL          time.Duration   `envconfig:"STATS_IDLE_TTL"          default:"1h"`
	ConcurrencyWindow     time.Duration   `envconfig:"CONCURRENCY_WINDOW"      default:"5m"`
	PurgeInterval         time.Duration   `envconfig:"PURGE_INTERVAL"          default:"10m"`
	MaxRawMetrics         int             `envconfig:"MAX_RAW_METRICS"         default:"10000"`
	MaxConcurrencySamples int             `envconfig:"MAX_CONCURRENCY_SAMPLES" default:"10000"`
	Thresholds            AlertThresholds `envconfig:"-"`
}

// AlertThresholds holds the warning and critical levels evaluated by the monitor.
type AlertThresholds struct {
	AvgDurationWarning      time.Duration `mapstructure:"avg_duration_warning"`
	AvgDurationCritical     time.Duration `mapstructure:"avg_duration_critical"`
	SuccessRateWarning      float64       `mapstructure:"success_rate_warning"`
	SuccessRateCritical     float64       `mapstructure:"success_rate_critical"`
	PeakConcurrencyWarning  int           `mapstructure:"peak_concurrency_warning"`
	PeakConcurrencyCritical int           `mapstructure:"peak_concurrency_critical"`
}

// RecoveryConfig contains retry policy settings. Per-kind strategies are
// read from the YAML overlay and keyed by error kind.
type RecoveryConfig struct {
	// MaxElapsed bounds the total time spent retrying one operation.
	MaxElapsed time.Duration                  `envconfig:"MAX_ELAPSED" default:"30s"`
	Strategies map[string]RetryStrategyConfig `envconfig:"-"`
}

// RetryStrategyConfig describes the retry behavior for one error kind.
type RetryStrategyConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
}

// SecurityConfig contains security-related settings including
// rate limiting and CORS configuration.
type SecurityConfig struct {
	RateLimitRPS     int           `envconfig:"RATE_LIMIT_RPS"    default:"100"`
	RateLimitBurst   int           `envconfig:"RATE_LIMIT_BURST"  default:"200"`
	// RedeemRateLimit caps redemptions per client IP within RateLimitWindow.
	RedeemRateLimit  int           `envconfig:"REDEEM_RATE_LIMIT" default:"60"`
	RateLimitWindow  time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	AllowedOrigins   []string      `envconfig:"ALLOWED_ORIGINS"   default:"*"`
	AllowedMethods   []string      `envconfig:"ALLOWED_METHODS"   default:"GET,POST,DELETE,OPTIONS"`
	AllowedHeaders   []string      `envconfig:"ALLOWED_HEADERS"   default:"*"`
	ExposedHeaders   []string      `envconfig:"EXPOSED_HEADERS"`
	AllowCredentials bool          `envconfig:"ALLOW_CREDENTIALS" default:"true"`
	MaxAge           int           `envconfig:"MAX_AGE"           default:"86400"`
	TrustedProxies   []string      `envconfig:"TRUSTED_PROXIES"`
}

// LoggingConfig contains logging configuration including
// log level, format, and output destination.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `envconfig:"LEVEL"              default:"info"`
	// Format is the log output format (json, text).
	Format string `envconfig:"FORMAT"             default:"json"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `envconfig:"OUTPUT"             default:"stdout"`
	// ConsoleFormat is the format for console output (text, json).
	ConsoleFormat string `envconfig:"CONSOLE_FORMAT"     default:"text"`
	// FileFormat is the format for file output (text, json).
	FileFormat string `envconfig:"FILE_FORMAT"        default:"json"`
	// FilePath is the path to the log file for dual output.
	FilePath string `envconfig:"FILE_PATH"`
	// EnableDualOutput enables both console and file logging simultaneously.
	EnableDualOutput bool `envconfig:"ENABLE_DUAL_OUTPUT" default:"false"`
}

// NotificationConfig controls operator alerts sent through the notification service.
type NotificationConfig struct {
	Enabled        bool          `envconfig:"ENABLED"         default:"false"`
	Timeout        time.Duration `envconfig:"TIMEOUT"         default:"10s"`
	OperatorEmails []string      `envconfig:"OPERATOR_EMAILS"`
}

// TelemetryConfig contains tracing exporter settings. Tracing is a no-op
// when no endpoint is configured.
type TelemetryConfig struct {
	OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"access-service"`
	Insecure     bool   `envconfig:"INSECURE"     default:"true"`
}

// CodeSeedConfig contains startup seeding of access codes from a file.
type CodeSeedConfig struct {
	Enabled    bool   `envconfig:"ENABLED"     default:"false"`
	ConfigPath string `envconfig:"CONFIG_PATH" default:"configs/codes.json"`
}

// Load reads configuration from environment variables, applies the YAML
// operational overlay and returns a validated Config instance.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg.Monitor.Thresholds = DefaultAlertThresholds()
	cfg.Recovery.Strategies = DefaultRetryStrategies()

	if err := applyYAMLOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply YAML configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// DefaultAlertThresholds returns the built-in monitor alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		AvgDurationWarning:      1000 * time.Millisecond,
		AvgDurationCritical:     5000 * time.Millisecond,
		SuccessRateWarning:      95,
		SuccessRateCritical:     90,
		PeakConcurrencyWarning:  50,
		PeakConcurrencyCritical: 100,
	}
}

// DefaultRetryStrategies returns the built-in retry strategies keyed by error kind.
// Kinds without an entry are not retried.
func DefaultRetryStrategies() map[string]RetryStrategyConfig {
	system := RetryStrategyConfig{
		MaxAttempts:    3,
		InitialBackoff: 1000 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2,
	}
	return map[string]RetryStrategyConfig{
		"concurrent_access_conflict": {
			MaxAttempts:    5,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2,
		},
		"capacity_check_failed":   system,
		"usage_increment_failed":  system,
		"session_creation_failed": system,
		"database_error":          system,
	}
}

// Validate performs comprehensive validation of all configuration values,
// ensuring they meet security and operational requirements.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("JWT secret is required")
	}

	if len(c.JWT.Secret) < MinJWTSecretLength {
		return fmt.Errorf("JWT secret must be at least %d characters long", MinJWTSecretLength)
	}

	if c.Server.Port < MinPortNumber || c.Server.Port > MaxPortNumber {
		return errors.New("server port must be between 1 and 65535")
	}

	if c.JWT.SessionTokenExpiry < time.Minute {
		return errors.New("session token expiry must be at least 1 minute")
	}

	validAlgorithms := map[string]bool{"HS256": true, "HS384": true, "HS512": true}
	if !validAlgorithms[c.JWT.Algorithm] {
		return fmt.Errorf("unsupported JWT algorithm: %s", c.JWT.Algorithm)
	}

	switch c.Access.Backend {
	case BackendAuto, BackendPostgres, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unsupported access backend: %s", c.Access.Backend)
	}

	if c.Access.MaxUsageLimit < 1 || c.Access.MaxUsageLimit > HardUsageLimit {
		return fmt.Errorf("max usage limit must be between 1 and %d", HardUsageLimit)
	}

	if c.Access.IdleTimeout <= 0 {
		return errors.New("idle timeout must be positive")
	}

	if c.Cache.MaxEntries < 1 {
		return errors.New("cache max entries must be at least 1")
	}

	if c.Cache.EvictionFraction <= 0 || c.Cache.EvictionFraction > 1 {
		return errors.New("cache eviction fraction must be in (0, 1]")
	}

	for kind, strategy := range c.Recovery.Strategies {
		if strategy.MaxAttempts < 1 {
			return fmt.Errorf("retry strategy %q must allow at least 1 attempt", kind)
		}
		if strategy.MaxAttempts > 1 && strategy.InitialBackoff <= 0 {
			return fmt.Errorf("retry strategy %q needs a positive initial backoff", kind)
		}
	}

	t := c.Monitor.Thresholds
	if t.AvgDurationCritical < t.AvgDurationWarning {
		return errors.New("critical duration threshold must not be below the warning threshold")
	}
	if t.SuccessRateCritical > t.SuccessRateWarning {
		return errors.New("critical success rate threshold must not exceed the warning threshold")
	}
	if t.PeakConcurrencyCritical < t.PeakConcurrencyWarning {
		return errors.New("critical concurrency threshold must not be below the warning threshold")
	}

	return nil
}

// ServerAddr returns the formatted server address string in host:port format.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsTLSEnabled returns true if both TLS certificate and key paths are configured.
func (c *Config) IsTLSEnabled() bool {
	return c.Server.TLSCert != "" && c.Server.TLSKey != ""
}

// PostgresDatabaseDSN returns the PostgreSQL connection string (Data Source Name).
func (c *Config) PostgresDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s search_path=%s",
		c.PostgresDatabase.Host,
		c.PostgresDatabase.Port,
		c.PostgresDatabase.Database,
		c.PostgresDatabase.User,
		c.PostgresDatabase.Password,
		c.PostgresDatabase.SSLMode,
		c.PostgresDatabase.Schema,
	)
}

// PostgresMigrationURL returns the postgres:// URL form used by golang-migrate.
func (c *Config) PostgresMigrationURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&search_path=%s",
		c.PostgresDatabase.User,
		c.PostgresDatabase.Password,
		c.PostgresDatabase.Host,
		c.PostgresDatabase.Port,
		c.PostgresDatabase.Database,
		c.PostgresDatabase.SSLMode,
		c.PostgresDatabase.Schema,
	)
}

// MySQLDSN returns the MySQL connection string (Data Source Name).
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		c.MySQLDatabase.User,
		c.MySQLDatabase.Password,
		c.MySQLDatabase.Host,
		c.MySQLDatabase.Port,
		c.MySQLDatabase.Database,
	)
}

// IsPostgresDatabaseConfigured returns true if PostgreSQL database user and password are configured.
func (c *Config) IsPostgresDatabaseConfigured() bool {
	return c.PostgresDatabase.User != "" && c.PostgresDatabase.Password != ""
}

// IsMySQLDatabaseConfigured returns true if MySQL database user and password are configured.
func (c *Config) IsMySQLDatabaseConfigured() bool {
	return c.MySQLDatabase.User != "" && c.MySQLDatabase.Password != ""
}

// IsKafkaConfigured returns true if at least one Kafka broker is configured.
func (c *Config) IsKafkaConfigured() bool {
	return len(c.Kafka.Brokers) > 0
}
