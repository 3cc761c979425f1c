package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App               AppConfig
	HTTP              ServerConfig
	GRPC              ServerConfig
	MySQL             MySQLConfig
	Log               LogConfig
	InternalEndpoints InternalEndpointsConfig
	Redis             RedisConfig
	Kafka             KafkaConfig
	Vendor            VendorConfig
	Stripe            StripeConfig
	Email             EmailConfig
	Provisioning      ProvisioningConfig
	Notifications     NotificationsConfig
	Jobs              JobsConfig
	Settings          SettingsConfig
}

type AppConfig struct {
	ServiceName string
	APIKey      string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type LogConfig struct {
	Level string
}

type InternalEndpointsConfig struct {
	AuthGRPCAddr string
}

// RedisConfig is optional. An empty Addr keeps order leases in-process.
type RedisConfig struct {
	Addr string
}

// KafkaConfig is optional. Without brokers provisioned-order events are dropped.
type KafkaConfig struct {
	Brokers          []string
	ProvisionedTopic string
	PublishTimeout   time.Duration
}

type VendorConfig struct {
	BaseURL           string
	AccessCode        string
	SecretKey         string
	HTTPTimeout       time.Duration
	RequestsPerSecond int
	PriceMultiplier   int64
}

type StripeConfig struct {
	WebhookSecret             string
	SignatureToleranceSeconds int64
}

type EmailConfig struct {
	BaseURL         string
	APIKey          string
	From            string
	ReadyTemplateID string
	HTTPTimeout     time.Duration
}

type ProvisioningConfig struct {
	TransactionIDPrefix string
	PollAttempts        int
	PollInterval        time.Duration
	RetryBatchSize      int32
	SyncPageSize        int32
	UsageChunkSize      int
	LeaseTTL            time.Duration
}

// leaseSlack covers the database writes around the vendor calls of one attempt.
const leaseSlack = 30 * time.Second

// AttemptBudget is the longest one provisioning attempt can spend on the
// vendor: the order placement, then every poll, each bounded by vendorTimeout,
// with the poll interval between polls.
func (c ProvisioningConfig) AttemptBudget(vendorTimeout time.Duration) time.Duration {
	if c.PollAttempts <= 0 {
		return vendorTimeout
	}
	return time.Duration(c.PollAttempts+1)*vendorTimeout + time.Duration(c.PollAttempts-1)*c.PollInterval
}

type NotificationsConfig struct {
	MaxAttempts   int32
	RetryInterval time.Duration
	BatchSize     int32
}

type JobsConfig struct {
	OrderRetryInterval           time.Duration
	ProfileSyncInterval          time.Duration
	NotificationDispatchInterval time.Duration
}

type SettingsConfig struct {
	RefreshInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	cfg := &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "esim-service"),
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
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
			AutoMigrate:     getBoolEnv("MYSQL_AUTO_MIGRATE", false),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		InternalEndpoints: InternalEndpointsConfig{
			AuthGRPCAddr: getEnv("AUTH_SERVICE_GRPC_ADDR", "localhost:9090"),
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", ""),
		},
		Kafka: KafkaConfig{
			Brokers:          getListEnv("KAFKA_BROKERS"),
			ProvisionedTopic: getEnv("KAFKA_ORDER_PROVISIONED_TOPIC", "esim.order.provisioned"),
			PublishTimeout:   getSecondsEnv("KAFKA_PUBLISH_TIMEOUT_SECONDS", 5*time.Second),
		},
		Vendor: VendorConfig{
			BaseURL:           getEnv("VENDOR_BASE_URL", "https://api.esimaccess.com"),
			AccessCode:        getEnv("VENDOR_ACCESS_CODE", ""),
			SecretKey:         getEnv("VENDOR_SECRET_KEY", ""),
			HTTPTimeout:       getSecondsEnv("VENDOR_HTTP_TIMEOUT_SECONDS", 15*time.Second),
			RequestsPerSecond: getIntEnv("VENDOR_REQUESTS_PER_SECOND", 8),
			PriceMultiplier:   int64(getIntEnv("VENDOR_PRICE_MULTIPLIER", 100)),
		},
		Stripe: StripeConfig{
			WebhookSecret:             getEnv("STRIPE_WEBHOOK_SECRET", ""),
			SignatureToleranceSeconds: int64(getIntEnv("STRIPE_SIGNATURE_TOLERANCE_SECONDS", 300)),
		},
		Email: EmailConfig{
			BaseURL:         getEnv("EMAIL_BASE_URL", ""),
			APIKey:          getEnv("EMAIL_API_KEY", ""),
			From:            getEnv("EMAIL_FROM", ""),
			ReadyTemplateID: getEnv("EMAIL_READY_TEMPLATE_ID", "esim-ready"),
			HTTPTimeout:     getSecondsEnv("EMAIL_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Provisioning: ProvisioningConfig{
			TransactionIDPrefix: getEnv("PROVISIONING_TRANSACTION_ID_PREFIX", "stripe_"),
			PollAttempts:        getIntEnv("PROVISIONING_POLL_ATTEMPTS", 10),
			PollInterval:        getSecondsEnv("PROVISIONING_POLL_INTERVAL_SECONDS", 3*time.Second),
			RetryBatchSize:      int32(getIntEnv("PROVISIONING_RETRY_BATCH_SIZE", 10)),
			SyncPageSize:        int32(getIntEnv("PROVISIONING_SYNC_PAGE_SIZE", 100)),
			UsageChunkSize:      getIntEnv("PROVISIONING_USAGE_CHUNK_SIZE", 50),
			LeaseTTL:            getSecondsEnv("PROVISIONING_LEASE_TTL_SECONDS", 5*time.Minute),
		},
		Notifications: NotificationsConfig{
			MaxAttempts:   int32(getIntEnv("NOTIFICATIONS_MAX_ATTEMPTS", 8)),
			RetryInterval: getMinutesEnv("NOTIFICATIONS_RETRY_INTERVAL_MINUTES", 5*time.Minute),
			BatchSize:     int32(getIntEnv("NOTIFICATIONS_BATCH_SIZE", 50)),
		},
		Jobs: JobsConfig{
			OrderRetryInterval:           getMinutesEnv("JOBS_ORDER_RETRY_INTERVAL_MINUTES", 5*time.Minute),
			ProfileSyncInterval:          getMinutesEnv("JOBS_PROFILE_SYNC_INTERVAL_MINUTES", 30*time.Minute),
			NotificationDispatchInterval: getSecondsEnv("JOBS_NOTIFICATION_DISPATCH_INTERVAL_SECONDS", 30*time.Second),
		},
		Settings: SettingsConfig{
			RefreshInterval: getSecondsEnv("SETTINGS_REFRESH_INTERVAL_SECONDS", time.Minute),
		},
	}

	// the lease must outlive the attempt it guards, including the inline ready email
	minLease := cfg.Provisioning.AttemptBudget(cfg.Vendor.HTTPTimeout) + cfg.Email.HTTPTimeout + leaseSlack
	if cfg.Provisioning.LeaseTTL < minLease {
		cfg.Provisioning.LeaseTTL = minLease
	}

	return cfg, nil
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

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

func getListEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	items := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}
