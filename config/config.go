package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DatabaseDriverMySQL  = "mysql"
	DatabaseDriverSQLite = "sqlite"
)

type Config struct {
	App               AppConfig
	HTTP              ServerConfig
	GRPC              ServerConfig
	Database          DatabaseConfig
	Log               LogConfig
	Xendit            XenditConfig
	Payments          PaymentsConfig
	Redis             RedisConfig
	AMQP              AMQPConfig
	Jobs              JobsConfig
	InternalEndpoints InternalEndpointsConfig
}

type AppConfig struct {
	ServiceName string
	APIKey      string
}

type ServerConfig struct {
	Host string
	Port string
}

type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type XenditConfig struct {
	SecretKey       string
	CallbackToken   string
	BaseURL         string
	HTTPTimeout     time.Duration
	InvoiceDuration time.Duration
}

type PaymentsConfig struct {
	Currency            string
	GatewayMaxAttempts  int
	GatewayBackoff      time.Duration
	PollMaxAttempts     int
	PollInterval        time.Duration
	ReconcileStaleAfter time.Duration
	OrphanAfter         time.Duration
	ExpiryGrace         time.Duration
	JobBatchSize        int32
	StatusCacheTTL      time.Duration
}

type RedisConfig struct {
	URL string
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

// InternalEndpointsConfig points at the internal auth service. An empty
// address falls back to APP_API_KEY.
type InternalEndpointsConfig struct {
	AuthGRPCAddr string
}

type JobsConfig struct {
	ReconcileInterval        time.Duration
	ExpirePendingInterval    time.Duration
	OrphanRecoveryInterval   time.Duration
	DeadLetterReplayInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	driver := strings.ToLower(getEnv("DB_DRIVER", DatabaseDriverMySQL))
	var dsn string
	switch driver {
	case DatabaseDriverMySQL:
		dsn = os.Getenv("MYSQL_DSN")
		if dsn == "" {
			return nil, errors.New("MYSQL_DSN environment variable is required")
		}
	case DatabaseDriverSQLite:
		dsn = getEnv("SQLITE_PATH", "payments.db")
	default:
		return nil, errors.New("DB_DRIVER must be mysql or sqlite")
	}

	secretKey := strings.TrimSpace(os.Getenv("XENDIT_SECRET_KEY"))
	if secretKey == "" {
		return nil, errors.New("XENDIT_SECRET_KEY environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "carwash-payments"),
			APIKey:      getEnv("APP_API_KEY", ""),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		Database: DatabaseConfig{
			Driver:          driver,
			DSN:             dsn,
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("DB_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Xendit: XenditConfig{
			SecretKey:       secretKey,
			CallbackToken:   getEnv("XENDIT_CALLBACK_TOKEN", ""),
			BaseURL:         getEnv("XENDIT_BASE_URL", "https://api.xendit.co"),
			HTTPTimeout:     getSecondsEnv("XENDIT_HTTP_TIMEOUT_SECONDS", 15*time.Second),
			InvoiceDuration: getSecondsEnv("XENDIT_INVOICE_DURATION_SECONDS", 24*time.Hour),
		},
		Payments: PaymentsConfig{
			Currency:            strings.ToUpper(getEnv("PAYMENTS_CURRENCY", "PHP")),
			GatewayMaxAttempts:  getIntEnv("PAYMENTS_GATEWAY_MAX_ATTEMPTS", 3),
			GatewayBackoff:      getMillisEnv("PAYMENTS_GATEWAY_BACKOFF_MILLIS", 500*time.Millisecond),
			PollMaxAttempts:     getIntEnv("PAYMENTS_POLL_MAX_ATTEMPTS", 60),
			PollInterval:        getSecondsEnv("PAYMENTS_POLL_INTERVAL_SECONDS", 5*time.Second),
			ReconcileStaleAfter: getMinutesEnv("PAYMENTS_RECONCILE_STALE_AFTER_MINUTES", 10*time.Minute),
			OrphanAfter:         getMinutesEnv("PAYMENTS_ORPHAN_AFTER_MINUTES", 5*time.Minute),
			ExpiryGrace:         getMinutesEnv("PAYMENTS_EXPIRY_GRACE_MINUTES", 5*time.Minute),
			JobBatchSize:        int32(getIntEnv("PAYMENTS_JOB_BATCH_SIZE", 100)),
			StatusCacheTTL:      getSecondsEnv("PAYMENTS_STATUS_CACHE_TTL_SECONDS", 30*time.Second),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		AMQP: AMQPConfig{
			URL:      getEnv("AMQP_URL", ""),
			Exchange: getEnv("AMQP_EXCHANGE", "carwash.payments"),
		},
		Jobs: JobsConfig{
			ReconcileInterval:        getMinutesEnv("PAYMENTS_RECONCILE_INTERVAL_MINUTES", 2*time.Minute),
			ExpirePendingInterval:    getMinutesEnv("PAYMENTS_EXPIRE_PENDING_INTERVAL_MINUTES", 5*time.Minute),
			OrphanRecoveryInterval:   getMinutesEnv("PAYMENTS_ORPHAN_RECOVERY_INTERVAL_MINUTES", 5*time.Minute),
			DeadLetterReplayInterval: getMinutesEnv("PAYMENTS_DEAD_LETTER_REPLAY_INTERVAL_MINUTES", 10*time.Minute),
		},
		InternalEndpoints: InternalEndpointsConfig{
			AuthGRPCAddr: strings.TrimSpace(getEnv("AUTH_SERVICE_GRPC_ADDR", "")),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getMillisEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if millis, err := strconv.Atoi(value); err == nil {
			return time.Duration(millis) * time.Millisecond
		}
	}
	return defaultValue
}
