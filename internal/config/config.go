package config

import (
	"os"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type PostgresConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled     bool
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout int
	Timeout     int
	Prefix      string
}

type S3Config struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
	Prefix          string
}

type LogConfig struct {
	Level  string
	Format string
}

// SettlementConfig drives the background sweep.
type SettlementConfig struct {
	ThresholdHours     int
	Cron               string
	LockTTLSeconds     int
	BatchSize          int
	ReportRetentionHrs int
}

// PolicyConfig carries the business parameters of splitting and pricing.
type PolicyConfig struct {
	MaxDepartmentDiscount    decimal.Decimal
	ReferralBonusPercent     decimal.Decimal
	PartnerDiscountPercent   decimal.Decimal
	ReferralUpgradeThreshold int
	SplitModelCacheTTLSecs   int
}

type AppConfig struct {
	Port              string
	Postgres          PostgresConfig
	Redis             RedisConfig
	S3                S3Config
	Log               LogConfig
	Settlement        SettlementConfig
	Policy            PolicyConfig
	ReportDir         string
	FilesPublicPrefix string
	ExternalURL       string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		logrus.Fatalf("invalid int value %q: %v", s, err)
	}
	return i
}

func mustBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		logrus.Fatalf("invalid bool value %q: %v", s, err)
	}
	return b
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		logrus.Fatalf("invalid decimal value %q: %v", s, err)
	}
	return d
}

func Load() AppConfig {
	return AppConfig{
		Port: getenv("APP_PORT", "8010"),
		Postgres: PostgresConfig{
			Host:         getenv("PG_HOST", "127.0.0.1"),
			Port:         mustAtoi(getenv("PG_PORT", "5432")),
			User:         getenv("PG_USER", "root"),
			Password:     getenv("PG_PASSWORD", "hello-world"),
			DBName:       getenv("PG_DB", "revenue_ledger"),
			SSLMode:      getenv("PG_SSLMODE", "disable"),
			MaxOpenConns: mustAtoi(getenv("PG_MAX_OPEN_CONNS", "20")),
			MaxIdleConns: mustAtoi(getenv("PG_MAX_IDLE_CONNS", "5")),
		},
		Redis: RedisConfig{
			Enabled:     mustBool(getenv("REDIS_ENABLED", "true")),
			Addr:        getenv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:    getenv("REDIS_PASSWORD", ""),
			DB:          mustAtoi(getenv("REDIS_DB", "0")),
			MaxRetries:  mustAtoi(getenv("REDIS_MAX_RETRIES", "5")),
			DialTimeout: mustAtoi(getenv("REDIS_DIAL_TIMEOUT", "10")),
			Timeout:     mustAtoi(getenv("REDIS_TIMEOUT", "5")),
			Prefix:      getenv("REDIS_PREFIX", "revenue_ledger_"),
		},
		S3: S3Config{
			Enabled:         mustBool(getenv("S3_ENABLED", "false")),
			Endpoint:        getenv("S3_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getenv("S3_ACCESS_KEY", "minio"),
			SecretAccessKey: getenv("S3_SECRET_KEY", "minio123"),
			Bucket:          getenv("S3_BUCKET", "settlement-reports"),
			Region:          getenv("S3_REGION", "us-east-1"),
			UseSSL:          mustBool(getenv("S3_USE_SSL", "false")),
			Prefix:          getenv("S3_PREFIX", "settlement/"),
		},
		Log: LogConfig{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "text"),
		},
		Settlement: SettlementConfig{
			ThresholdHours:     mustAtoi(getenv("SETTLEMENT_THRESHOLD_HOURS", "48")),
			Cron:               getenv("SETTLEMENT_CRON", "@every 5m"),
			LockTTLSeconds:     mustAtoi(getenv("SETTLEMENT_LOCK_TTL_SECONDS", "240")),
			BatchSize:          mustAtoi(getenv("SETTLEMENT_BATCH_SIZE", "500")),
			ReportRetentionHrs: mustAtoi(getenv("REPORT_RETENTION_HOURS", "720")),
		},
		Policy: PolicyConfig{
			MaxDepartmentDiscount:    mustDecimal(getenv("MAX_DEPARTMENT_DISCOUNT_PERCENT", "10")),
			ReferralBonusPercent:     mustDecimal(getenv("REFERRAL_BONUS_PERCENT", "10")),
			PartnerDiscountPercent:   mustDecimal(getenv("PARTNER_DISCOUNT_PERCENT", "50")),
			ReferralUpgradeThreshold: mustAtoi(getenv("REFERRAL_UPGRADE_THRESHOLD", "2")),
			SplitModelCacheTTLSecs:   mustAtoi(getenv("SPLIT_MODEL_CACHE_TTL_SECONDS", "300")),
		},
		ReportDir:         getenv("REPORT_DIR", "./reports"),
		FilesPublicPrefix: getenv("FILES_PUBLIC_PREFIX", "/files"),
		ExternalURL:       getenv("EXTERNAL_URL", ""),
	}
}
