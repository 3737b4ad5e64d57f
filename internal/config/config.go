package config

import (
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string
	NodeID      int64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis   RedisConfig
	Gateway GatewayConfig

	BillingKeySecret string
	FeeConfigPath    string

	Settlement SettlementConfig
	Scheduler  SchedulerConfig
	Tracing    TracingConfig
}

type SettlementConfig struct {
	// TimeZone is the IANA zone settlement months are cut in.
	TimeZone string
}

// Location resolves TimeZone. A blank zone means UTC.
func (c SettlementConfig) Location() (*time.Location, error) {
	zone := strings.TrimSpace(c.TimeZone)
	if zone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(zone)
}

type TracingConfig struct {
	Enabled       bool
	Endpoint      string
	Protocol      string
	SamplingRatio float64
}

type SchedulerConfig struct {
	Enabled             bool
	Interval            time.Duration
	SettlementSyncBatch int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis address was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type GatewayConfig struct {
	BaseURL       string
	ClientID      string
	ClientKey     string
	RefundKey     string
	Referer       string
	Timeout       time.Duration
	WebhookSecret string

	AuthPath          string
	ApprovalPath      string
	RefundPath        string
	SimplePaymentPath string
	AccountCheckPath  string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:           getenv("APP_SERVICE", "contentmarket"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		LogLevel:          strings.ToLower(getenv("LOG_LEVEL", "info")),
		NodeID:            int64(getenvInt("NODE_ID", 1)),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "contentmarket"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Gateway: GatewayConfig{
			BaseURL:           strings.TrimRight(getenv("GATEWAY_BASE_URL", "https://democpay.payple.kr"), "/"),
			ClientID:          strings.TrimSpace(getenv("GATEWAY_CLIENT_ID", "")),
			ClientKey:         strings.TrimSpace(getenv("GATEWAY_CLIENT_KEY", "")),
			RefundKey:         strings.TrimSpace(getenv("GATEWAY_REFUND_KEY", "")),
			Referer:           strings.TrimSpace(getenv("GATEWAY_REFERER", "")),
			Timeout:           time.Duration(getenvInt("GATEWAY_TIMEOUT_SECONDS", 15)) * time.Second,
			WebhookSecret:     strings.TrimSpace(getenv("GATEWAY_WEBHOOK_SECRET", "")),
			AuthPath:          getenv("GATEWAY_AUTH_PATH", "/php/auth.php"),
			ApprovalPath:      getenv("GATEWAY_APPROVAL_PATH", "/php/PayCardConfirmAct.php?ACT_=PAYM"),
			RefundPath:        getenv("GATEWAY_REFUND_PATH", "/php/account/api/cPayCAct.php"),
			SimplePaymentPath: getenv("GATEWAY_SIMPLE_PAYMENT_PATH", "/php/SimplePayCardAct.php?ACT_=PAYM"),
			AccountCheckPath:  getenv("GATEWAY_ACCOUNT_CHECK_PATH", "/inquiry/real_name"),
		},
		BillingKeySecret: strings.TrimSpace(getenv("BILLING_KEY_SECRET", "")),
		FeeConfigPath:    strings.TrimSpace(getenv("FEE_CONFIG_PATH", "")),
		Settlement: SettlementConfig{
			TimeZone: strings.TrimSpace(getenv("SETTLEMENT_TIMEZONE", "Asia/Seoul")),
		},
		Scheduler: SchedulerConfig{
			Enabled:             getenvBool("SCHEDULER_ENABLED", true),
			Interval:            time.Duration(getenvInt("SCHEDULER_INTERVAL_SECONDS", 60)) * time.Second,
			SettlementSyncBatch: getenvInt("SETTLEMENT_SYNC_BATCH", 100),
		},
		Tracing: TracingConfig{
			Enabled:       getenvBool("OTEL_ENABLED", false),
			Endpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")),
			Protocol:      strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
	}
}

// IsProduction reports whether the service runs in production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
