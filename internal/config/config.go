package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	Redis      RedisConfig
	Lockout    LockoutConfig
	Session    SessionConfig
	QueryGuard QueryGuardConfig
	Monitor    MonitorConfig
	Notify     NotifyConfig
	GeoIP      GeoIPConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	RunMigrations     bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string
	AllowedOrigins []string
	AuthRateLimit  int // requests per minute per IP on /auth endpoints
	// Rejected logins are padded to LoginFailureDelay plus up to LoginFailureJitter
	LoginFailureDelay  time.Duration
	LoginFailureJitter time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
}

// RedisConfig selects the counter store. An empty Addr uses the in-memory store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	EnableTLS bool
	Namespace string
	Timeout   time.Duration
}

type LockoutConfig struct {
	MaxAttempts        int
	AttemptWindow      time.Duration
	IPLockoutEnabled   bool
	IPMaxAttempts      int
	IPAttemptWindow    time.Duration
	BaseDuration       time.Duration
	MaxMultiplierExp   int
	PermanentThreshold int
	LockoutCountTTL    time.Duration
	IPLockoutDuration  time.Duration
}

type SessionConfig struct {
	Timeout          time.Duration
	IdleTimeout      time.Duration
	MaxConcurrent    int
	RotationInterval time.Duration
	RotationGrace    time.Duration
	AuditRetention   time.Duration
	TrackIP          bool
	TrackUserAgent   bool
	RequireSecure    bool
}

type QueryGuardConfig struct {
	Enabled            bool
	SlowQueryThreshold time.Duration
}

type MonitorConfig struct {
	RetentionDays        int
	CleanupInterval      time.Duration
	Thresholds           map[string]int
	BurstThreshold       int
	BurstWindow          time.Duration
	CoordinatedThreshold int
	CoordinatedWindow    time.Duration
}

type NotifyConfig struct {
	EmailEnabled  bool
	AWSRegion     string
	FromAddress   string
	AlertEmails   []string
	WebhookURLs   []string
	WebhookSecret string
	Timeout       time.Duration
}

// GeoIPConfig points at a MaxMind City database. An empty path disables geo enrichment.
type GeoIPConfig struct {
	CityDBPath string
	ASNDBPath  string
}

// defaultThresholds are hourly alert thresholds per event type
var defaultThresholds = map[string]int{
	"failed_login":          50,
	"account_lockout":       10,
	"ip_lockout":            5,
	"suspicious_query":      5,
	"unparameterized_query": 20,
	"suspicious_parameter":  10,
	"session_anomaly":       20,
	"rate_limit_exceeded":   100,
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bastion"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			RunMigrations:     getEnvAsBool("DB_RUN_MIGRATIONS", true),
		},
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			Env:                env,
			LogLevel:           getEnv("LOG_LEVEL", "info"),
			TrustedProxies:     getEnvAsList("TRUSTED_PROXIES"),
			AllowedOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS"),
			AuthRateLimit:      getEnvAsInt("AUTH_RATE_LIMIT_PER_MINUTE", 30),
			LoginFailureDelay:  getEnvAsDuration("LOGIN_FAILURE_DELAY", 100*time.Millisecond),
			LoginFailureJitter: getEnvAsDuration("LOGIN_FAILURE_JITTER", 50*time.Millisecond),
			ReadTimeout:        getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:        getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			EnableTLS: getEnvAsBool("REDIS_ENABLE_TLS", false),
			Namespace: getEnv("REDIS_NAMESPACE", "bastion"),
			Timeout:   getEnvAsDuration("STORE_TIMEOUT", 500*time.Millisecond),
		},
		Lockout: LockoutConfig{
			MaxAttempts:        getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", 5),
			AttemptWindow:      getEnvAsDuration("LOCKOUT_ATTEMPT_WINDOW", 30*time.Minute),
			IPLockoutEnabled:   getEnvAsBool("LOCKOUT_IP_ENABLED", true),
			IPMaxAttempts:      getEnvAsInt("LOCKOUT_IP_MAX_ATTEMPTS", 20),
			IPAttemptWindow:    getEnvAsDuration("LOCKOUT_IP_ATTEMPT_WINDOW", 60*time.Minute),
			BaseDuration:       getEnvAsDuration("LOCKOUT_BASE_DURATION", 15*time.Minute),
			MaxMultiplierExp:   getEnvAsInt("LOCKOUT_MAX_MULTIPLIER_EXP", 5),
			PermanentThreshold: getEnvAsInt("LOCKOUT_PERMANENT_THRESHOLD", 10),
			LockoutCountTTL:    getEnvAsDuration("LOCKOUT_COUNT_TTL", 30*24*time.Hour),
			IPLockoutDuration:  getEnvAsDuration("LOCKOUT_IP_DURATION", 1*time.Hour),
		},
		Session: SessionConfig{
			Timeout:          getEnvAsDuration("SESSION_TIMEOUT", 2*time.Hour),
			IdleTimeout:      getEnvAsDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
			MaxConcurrent:    getEnvAsInt("SESSION_MAX_CONCURRENT", 3),
			RotationInterval: getEnvAsDuration("SESSION_ROTATION_INTERVAL", 5*time.Minute),
			RotationGrace:    getEnvAsDuration("SESSION_ROTATION_GRACE", 30*time.Second),
			AuditRetention:   getEnvAsDuration("SESSION_AUDIT_RETENTION", 24*time.Hour),
			TrackIP:          getEnvAsBool("SESSION_TRACK_IP", true),
			TrackUserAgent:   getEnvAsBool("SESSION_TRACK_USER_AGENT", true),
			RequireSecure:    getEnvAsBool("SESSION_REQUIRE_SECURE", env == "production"),
		},
		QueryGuard: QueryGuardConfig{
			Enabled:            getEnvAsBool("QUERY_GUARD_ENABLED", true),
			SlowQueryThreshold: getEnvAsDuration("QUERY_SLOW_THRESHOLD", 5*time.Second),
		},
		Monitor: MonitorConfig{
			RetentionDays:        getEnvAsInt("MONITOR_RETENTION_DAYS", 90),
			CleanupInterval:      getEnvAsDuration("MONITOR_CLEANUP_INTERVAL", 24*time.Hour),
			Thresholds:           loadThresholds(),
			BurstThreshold:       getEnvAsInt("MONITOR_BURST_THRESHOLD", 10),
			BurstWindow:          getEnvAsDuration("MONITOR_BURST_WINDOW", 10*time.Minute),
			CoordinatedThreshold: getEnvAsInt("MONITOR_COORDINATED_THRESHOLD", 5),
			CoordinatedWindow:    getEnvAsDuration("MONITOR_COORDINATED_WINDOW", 5*time.Minute),
		},
		Notify: NotifyConfig{
			EmailEnabled:  getEnvAsBool("ALERT_EMAIL_ENABLED", false),
			AWSRegion:     getEnv("AWS_REGION", "us-east-1"),
			FromAddress:   getEnv("ALERT_FROM_ADDRESS", ""),
			AlertEmails:   getEnvAsList("ALERT_EMAILS"),
			WebhookURLs:   getEnvAsList("ALERT_WEBHOOK_URLS"),
			WebhookSecret: getEnv("ALERT_WEBHOOK_SECRET", ""),
			Timeout:       getEnvAsDuration("ALERT_TIMEOUT", 5*time.Second),
		},
		GeoIP: GeoIPConfig{
			CityDBPath: getEnv("GEOIP_CITY_DB", ""),
			ASNDBPath:  getEnv("GEOIP_ASN_DB", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings that would disable a defense silently
func (c *Config) Validate() error {
	if c.Lockout.MaxAttempts < 1 {
		return fmt.Errorf("LOCKOUT_MAX_ATTEMPTS must be at least 1")
	}
	if c.Lockout.IPLockoutEnabled && c.Lockout.IPMaxAttempts < 1 {
		return fmt.Errorf("LOCKOUT_IP_MAX_ATTEMPTS must be at least 1")
	}
	if c.Lockout.PermanentThreshold < 1 {
		return fmt.Errorf("LOCKOUT_PERMANENT_THRESHOLD must be at least 1")
	}
	if c.Lockout.BaseDuration <= 0 {
		return fmt.Errorf("LOCKOUT_BASE_DURATION must be positive")
	}
	if c.Session.MaxConcurrent < 1 {
		return fmt.Errorf("SESSION_MAX_CONCURRENT must be at least 1")
	}
	if c.Session.IdleTimeout > c.Session.Timeout {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT (%s) cannot exceed SESSION_TIMEOUT (%s)",
			c.Session.IdleTimeout, c.Session.Timeout)
	}
	if c.Monitor.RetentionDays < 1 {
		return fmt.Errorf("MONITOR_RETENTION_DAYS must be at least 1")
	}
	if c.Notify.EmailEnabled && (c.Notify.FromAddress == "" || len(c.Notify.AlertEmails) == 0) {
		return fmt.Errorf("ALERT_FROM_ADDRESS and ALERT_EMAILS are required when ALERT_EMAIL_ENABLED is set")
	}
	if c.Server.Env == "production" && c.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required in production")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// loadThresholds merges MONITOR_THRESHOLD_<EVENT_TYPE> overrides into the defaults
func loadThresholds() map[string]int {
	thresholds := make(map[string]int, len(defaultThresholds))
	for eventType, limit := range defaultThresholds {
		key := "MONITOR_THRESHOLD_" + strings.ToUpper(eventType)
		thresholds[eventType] = getEnvAsInt(key, limit)
	}
	return thresholds
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
