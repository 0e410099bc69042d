package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Timeout ceilings accepted from the environment, in seconds
const (
	MaxHTTPClientTimeout    = 120
	MaxDatabaseQueryTimeout = 60
	MaxRequestTimeout       = 120

	DefaultHTTPClientTimeout    = 30
	DefaultDatabaseQueryTimeout = 10
	DefaultRequestTimeout       = 30
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	NATS       NATSConfig
	RateLimit  RateLimitConfig
	Resilience ResilienceConfig
	Timeout    TimeoutConfig
	MPesa      MPesaConfig
	Settlement SettlementConfig
	Escrow     EscrowConfig
	Tracing    TracingConfig
	Sentry     SentryConfig
	Twilio     TwilioConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         string
	Environment  string
	ServiceName  string
	ReadTimeout  int
	WriteTimeout int
	CORSOrigins  string // Comma-separated list of allowed origins
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host        string
	Port        string
	User        string
	Password    string
	DBName      string
	SSLMode     string
	MaxConns    int
	MinConns    int
	AutoMigrate bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	PoolSize int
}

// JWTConfig holds the keys used to verify access tokens issued by the auth service
type JWTConfig struct {
	Secret         string
	KeyFile        string
	RefreshMinutes int
}

// NATSConfig holds JetStream connection settings
type NATSConfig struct {
	Enabled    bool
	URL        string
	StreamName string
	MaxDeliver int
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool
	WindowSeconds     int
	DefaultLimit      int
	DefaultBurst      int
	AnonymousLimit    int
	AnonymousBurst    int
	RedisPrefix       string
	EndpointOverrides map[string]EndpointRateLimitConfig
}

// EndpointRateLimitConfig overrides limits for one "METHOD:/route"
type EndpointRateLimitConfig struct {
	AuthenticatedLimit int `json:"authenticated_limit"`
	AuthenticatedBurst int `json:"authenticated_burst"`
	AnonymousLimit     int `json:"anonymous_limit"`
	AnonymousBurst     int `json:"anonymous_burst"`
	WindowSeconds      int `json:"window_seconds"`
}

// ResilienceConfig groups runtime resilience controls
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// CircuitBreakerConfig captures default and per-service breaker tuning
type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	SuccessThreshold int
	TimeoutSeconds   int
	IntervalSeconds  int
	ServiceOverrides map[string]CircuitBreakerSettings
}

// CircuitBreakerSettings overrides defaults for a specific upstream service
type CircuitBreakerSettings struct {
	FailureThreshold int `json:"failure_threshold"`
	SuccessThreshold int `json:"success_threshold"`
	TimeoutSeconds   int `json:"timeout_seconds"`
	IntervalSeconds  int `json:"interval_seconds"`
}

// TimeoutConfig holds outbound and inbound timeouts in seconds
type TimeoutConfig struct {
	HTTPClientTimeout     int
	DatabaseQueryTimeout  int
	DefaultRequestTimeout int
	RouteOverrides        map[string]int
}

// MPesaConfig holds Safaricom Daraja credentials and local amount bounds (whole KES)
type MPesaConfig struct {
	BaseURL            string
	ConsumerKey        string
	ConsumerSecret     string
	ShortCode          string
	PassKey            string
	B2CShortCode       string
	InitiatorName      string
	SecurityCredential string
	CallbackBaseURL    string
	CallbackToken      string
	MinAmount          int64
	MaxAmount          int64
}

// SettlementConfig tunes the reconciler that polls pending gateway transactions
type SettlementConfig struct {
	Enabled             bool
	PollIntervalSeconds int
	InitialDelaySeconds int
	BackoffSeconds      int
	MaxBackoffSeconds   int
	BackoffMultiplier   float64
	MaxAttempts         int
	BatchSize           int
	Concurrency         int
}

// EscrowConfig holds escrow policy
type EscrowConfig struct {
	PlatformFeeBPS int64
}

// TracingConfig holds OpenTelemetry exporter settings
type TracingConfig struct {
	Enabled      bool
	OTLPEndpoint string
	SampleRate   float64
}

// SentryConfig holds error tracking settings
type SentryConfig struct {
	DSN              string
	TracesSampleRate float64
}

// TwilioConfig holds SMS credentials for driver notices
type TwilioConfig struct {
	Enabled    bool
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ServiceName:  serviceName,
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 10),
			CORSOrigins:  getEnv("CORS_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnv("DB_PORT", "5432"),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", "postgres"),
			DBName:      getEnv("DB_NAME", "settlement"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			MaxConns:    getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:    getEnvAsInt("DB_MIN_CONNS", 5),
			AutoMigrate: getEnvAsBool("DB_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 20),
		},
		JWT: JWTConfig{
			Secret:         getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			KeyFile:        getEnv("JWT_KEY_FILE", ""),
			RefreshMinutes: getEnvAsInt("JWT_KEY_REFRESH_MINUTES", 5),
		},
		NATS: NATSConfig{
			Enabled:    getEnvAsBool("NATS_ENABLED", false),
			URL:        getEnv("NATS_URL", "nats://localhost:4222"),
			StreamName: getEnv("NATS_STREAM", "SETTLEMENT"),
			MaxDeliver: getEnvAsInt("NATS_MAX_DELIVER", 5),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvAsBool("RATE_LIMIT_ENABLED", false),
			WindowSeconds:  getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			DefaultLimit:   getEnvAsInt("RATE_LIMIT_DEFAULT_LIMIT", 120),
			DefaultBurst:   getEnvAsInt("RATE_LIMIT_DEFAULT_BURST", 20),
			AnonymousLimit: getEnvAsInt("RATE_LIMIT_ANON_LIMIT", 60),
			AnonymousBurst: getEnvAsInt("RATE_LIMIT_ANON_BURST", 10),
			RedisPrefix:    getEnv("RATE_LIMIT_REDIS_PREFIX", "rate-limit"),
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          getEnvAsBool("CB_ENABLED", true),
				FailureThreshold: getEnvAsInt("CB_FAILURE_THRESHOLD", 5),
				SuccessThreshold: getEnvAsInt("CB_SUCCESS_THRESHOLD", 1),
				TimeoutSeconds:   getEnvAsInt("CB_TIMEOUT_SECONDS", 30),
				IntervalSeconds:  getEnvAsInt("CB_INTERVAL_SECONDS", 60),
			},
		},
		Timeout: TimeoutConfig{
			HTTPClientTimeout:     getEnvAsInt("HTTP_CLIENT_TIMEOUT", DefaultHTTPClientTimeout),
			DatabaseQueryTimeout:  getEnvAsInt("DB_QUERY_TIMEOUT", DefaultDatabaseQueryTimeout),
			DefaultRequestTimeout: getEnvAsInt("DEFAULT_REQUEST_TIMEOUT", DefaultRequestTimeout),
		},
		MPesa: MPesaConfig{
			BaseURL:            getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:        getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret:     getEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:          getEnv("MPESA_SHORTCODE", "174379"),
			PassKey:            getEnv("MPESA_PASSKEY", ""),
			B2CShortCode:       getEnv("MPESA_B2C_SHORTCODE", "600000"),
			InitiatorName:      getEnv("MPESA_INITIATOR_NAME", "testapi"),
			SecurityCredential: getEnv("MPESA_SECURITY_CREDENTIAL", ""),
			CallbackBaseURL:    getEnv("MPESA_CALLBACK_BASE_URL", "http://localhost:8080"),
			CallbackToken:      getEnv("MPESA_CALLBACK_TOKEN", ""),
			MinAmount:          getEnvAsInt64("MPESA_MIN_AMOUNT", 100),
			MaxAmount:          getEnvAsInt64("MPESA_MAX_AMOUNT", 50000),
		},
		Settlement: SettlementConfig{
			Enabled:             getEnvAsBool("RECONCILER_ENABLED", true),
			PollIntervalSeconds: getEnvAsInt("RECONCILER_POLL_INTERVAL_SECONDS", 5),
			InitialDelaySeconds: getEnvAsInt("RECONCILER_INITIAL_DELAY_SECONDS", 10),
			BackoffSeconds:      getEnvAsInt("RECONCILER_BACKOFF_SECONDS", 5),
			MaxBackoffSeconds:   getEnvAsInt("RECONCILER_MAX_BACKOFF_SECONDS", 60),
			BackoffMultiplier:   getEnvAsFloat("RECONCILER_BACKOFF_MULTIPLIER", 1.5),
			MaxAttempts:         getEnvAsInt("RECONCILER_MAX_ATTEMPTS", 12),
			BatchSize:           getEnvAsInt("RECONCILER_BATCH_SIZE", 50),
			Concurrency:         getEnvAsInt("RECONCILER_CONCURRENCY", 4),
		},
		Escrow: EscrowConfig{
			PlatformFeeBPS: getEnvAsInt64("ESCROW_PLATFORM_FEE_BPS", 0),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvAsBool("TRACING_ENABLED", false),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:   getEnvAsFloat("TRACING_SAMPLE_RATE", 0.1),
		},
		Sentry: SentryConfig{
			DSN:              getEnv("SENTRY_DSN", ""),
			TracesSampleRate: getEnvAsFloat("SENTRY_TRACES_SAMPLE_RATE", 0.1),
		},
		Twilio: TwilioConfig{
			Enabled:    getEnvAsBool("TWILIO_ENABLED", false),
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber: getEnv("TWILIO_FROM_NUMBER", ""),
		},
	}

	if overrides := getEnv("RATE_LIMIT_ENDPOINTS", ""); overrides != "" {
		var endpointConfig map[string]EndpointRateLimitConfig
		if err := json.Unmarshal([]byte(overrides), &endpointConfig); err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_ENDPOINTS value: %w", err)
		}
		cfg.RateLimit.EndpointOverrides = endpointConfig
	}

	if breakerOverrides := getEnv("CB_SERVICE_OVERRIDES", ""); breakerOverrides != "" {
		var serviceConfig map[string]CircuitBreakerSettings
		if err := json.Unmarshal([]byte(breakerOverrides), &serviceConfig); err != nil {
			return nil, fmt.Errorf("invalid CB_SERVICE_OVERRIDES value: %w", err)
		}
		cfg.Resilience.CircuitBreaker.ServiceOverrides = serviceConfig
	}

	if routeOverrides := getEnv("ROUTE_TIMEOUTS", ""); routeOverrides != "" {
		var routes map[string]int
		if err := json.Unmarshal([]byte(routeOverrides), &routes); err != nil {
			return nil, fmt.Errorf("invalid ROUTE_TIMEOUTS value: %w", err)
		}
		cfg.Timeout.RouteOverrides = routes
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings that would make settlement unsafe or nonsensical.
func (c *Config) Validate() error {
	if c.Timeout.HTTPClientTimeout > MaxHTTPClientTimeout {
		return fmt.Errorf("HTTP_CLIENT_TIMEOUT must be <= %d seconds", MaxHTTPClientTimeout)
	}
	if c.Timeout.DatabaseQueryTimeout > MaxDatabaseQueryTimeout {
		return fmt.Errorf("DB_QUERY_TIMEOUT must be <= %d seconds", MaxDatabaseQueryTimeout)
	}
	if c.Timeout.DefaultRequestTimeout > MaxRequestTimeout {
		return fmt.Errorf("DEFAULT_REQUEST_TIMEOUT must be <= %d seconds", MaxRequestTimeout)
	}
	if c.MPesa.MinAmount <= 0 || c.MPesa.MaxAmount < c.MPesa.MinAmount {
		return fmt.Errorf("MPESA_MIN_AMOUNT/MPESA_MAX_AMOUNT must satisfy 0 < min <= max, got %d/%d",
			c.MPesa.MinAmount, c.MPesa.MaxAmount)
	}
	if c.Escrow.PlatformFeeBPS < 0 || c.Escrow.PlatformFeeBPS > 10000 {
		return fmt.Errorf("ESCROW_PLATFORM_FEE_BPS must be between 0 and 10000, got %d", c.Escrow.PlatformFeeBPS)
	}
	if c.Settlement.MaxAttempts < 1 {
		return fmt.Errorf("RECONCILER_MAX_ATTEMPTS must be at least 1")
	}

	if c.Settlement.PollIntervalSeconds <= 0 {
		c.Settlement.PollIntervalSeconds = 5
	}
	if c.Settlement.BackoffMultiplier < 1 {
		c.Settlement.BackoffMultiplier = 1
	}
	if c.Settlement.BatchSize <= 0 {
		c.Settlement.BatchSize = 50
	}
	if c.Settlement.Concurrency <= 0 {
		c.Settlement.Concurrency = 1
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = int((time.Minute).Seconds())
	}
	if c.Resilience.CircuitBreaker.TimeoutSeconds <= 0 {
		c.Resilience.CircuitBreaker.TimeoutSeconds = 30
	}
	if c.Resilience.CircuitBreaker.IntervalSeconds <= 0 {
		c.Resilience.CircuitBreaker.IntervalSeconds = 60
	}
	if c.Resilience.CircuitBreaker.FailureThreshold <= 0 {
		c.Resilience.CircuitBreaker.FailureThreshold = 5
	}
	if c.Resilience.CircuitBreaker.SuccessThreshold <= 0 {
		c.Resilience.CircuitBreaker.SuccessThreshold = 1
	}

	return nil
}

// SettingsFor returns effective breaker settings for a specific upstream service name
func (c CircuitBreakerConfig) SettingsFor(service string) CircuitBreakerSettings {
	settings := CircuitBreakerSettings{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		TimeoutSeconds:   c.TimeoutSeconds,
		IntervalSeconds:  c.IntervalSeconds,
	}

	if override, ok := c.ServiceOverrides[service]; ok {
		if override.FailureThreshold > 0 {
			settings.FailureThreshold = override.FailureThreshold
		}
		if override.SuccessThreshold > 0 {
			settings.SuccessThreshold = override.SuccessThreshold
		}
		if override.TimeoutSeconds > 0 {
			settings.TimeoutSeconds = override.TimeoutSeconds
		}
		if override.IntervalSeconds > 0 {
			settings.IntervalSeconds = override.IntervalSeconds
		}
	}

	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = 1
	}
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.TimeoutSeconds <= 0 {
		settings.TimeoutSeconds = 30
	}
	if settings.IntervalSeconds <= 0 {
		settings.IntervalSeconds = 60
	}

	return settings
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// URL returns the database connection string in URL form, as golang-migrate expects it
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Window returns the configured rate limit window duration
func (c RateLimitConfig) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

// HTTPClientDuration returns the outbound HTTP timeout
func (c TimeoutConfig) HTTPClientDuration() time.Duration {
	if c.HTTPClientTimeout <= 0 {
		return DefaultHTTPClientTimeout * time.Second
	}
	return time.Duration(c.HTTPClientTimeout) * time.Second
}

// DatabaseQueryDuration returns the per-query timeout
func (c TimeoutConfig) DatabaseQueryDuration() time.Duration {
	if c.DatabaseQueryTimeout <= 0 {
		return DefaultDatabaseQueryTimeout * time.Second
	}
	return time.Duration(c.DatabaseQueryTimeout) * time.Second
}

// TimeoutForRoute returns the inbound request timeout for "METHOD:/path", falling back to the default
func (c TimeoutConfig) TimeoutForRoute(route string) time.Duration {
	if seconds, ok := c.RouteOverrides[route]; ok && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if c.DefaultRequestTimeout <= 0 {
		return DefaultRequestTimeout * time.Second
	}
	return time.Duration(c.DefaultRequestTimeout) * time.Second
}

// PollInterval returns the reconciler tick
func (c SettlementConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// InitialDelay returns how long a fresh transaction waits before its first status query
func (c SettlementConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelaySeconds) * time.Second
}

// Origins splits CORSOrigins into a clean list
func (c ServerConfig) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
