package config

import (
	"log"
	"os"
	"strconv"
)

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout int
	Timeout     int
	Prefix      string
}

type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string
}

type SMSConfig struct {
	APIURL    string
	APIKey    string
	PartnerID string
	ShortCode string
}

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
	Prefix          string
}

type StorageConfig struct {
	// Backend is "local" or "s3".
	Backend           string
	ExportDir         string
	FilesPublicPrefix string
	ExternalURL       string
	S3                S3Config
}

type AppConfig struct {
	Port          string
	SchedulerHour int
	Postgres      PostgresConfig
	Redis         RedisConfig
	Mpesa         MpesaConfig
	SMS           SMSConfig
	Storage       StorageConfig
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
		log.Fatalf("invalid int value %q: %v", s, err)
	}
	return i
}

func mustBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		log.Fatalf("invalid bool value %q: %v", s, err)
	}
	return b
}

func Load() AppConfig {
	return AppConfig{
		Port:          getenv("APP_PORT", "8020"),
		SchedulerHour: mustAtoi(getenv("SCHEDULER_HOUR", "9")),
		Postgres: PostgresConfig{
			Host:     getenv("PG_HOST", "127.0.0.1"),
			Port:     mustAtoi(getenv("PG_PORT", "5432")),
			User:     getenv("PG_USER", "root"),
			Password: getenv("PG_PASSWORD", "hello-world"),
			DBName:   getenv("PG_DB", "blaiz_loans"),
			SSLMode:  getenv("PG_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:        getenv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:    getenv("REDIS_PASSWORD", ""),
			DB:          mustAtoi(getenv("REDIS_DB", "0")),
			MaxRetries:  mustAtoi(getenv("REDIS_MAX_RETRIES", "5")),
			DialTimeout: mustAtoi(getenv("REDIS_DIAL_TIMEOUT", "10")),
			Timeout:     mustAtoi(getenv("REDIS_TIMEOUT", "5")),
			Prefix:      getenv("REDIS_PREFIX", "blaiz_loan_"),
		},
		Mpesa: MpesaConfig{
			BaseURL:        getenv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:    getenv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret: getenv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:      getenv("MPESA_SHORTCODE", "174379"),
			PassKey:        getenv("MPESA_PASSKEY", ""),
			CallbackURL:    getenv("MPESA_CALLBACK_URL", ""),
		},
		SMS: SMSConfig{
			APIURL:    getenv("SMS_API_URL", ""),
			APIKey:    getenv("SMS_API_KEY", ""),
			PartnerID: getenv("SMS_PARTNER_ID", ""),
			ShortCode: getenv("SMS_SHORTCODE", ""),
		},
		Storage: StorageConfig{
			Backend:           getenv("STORAGE_BACKEND", "local"),
			ExportDir:         getenv("EXPORT_DIR", "./registers"),
			FilesPublicPrefix: getenv("FILES_PUBLIC_PREFIX", "/files"),
			ExternalURL:       getenv("EXTERNAL_URL", ""),
			S3: S3Config{
				Endpoint:        getenv("S3_ENDPOINT", "localhost:9000"),
				AccessKeyID:     getenv("S3_ACCESS_KEY", "minio"),
				SecretAccessKey: getenv("S3_SECRET_KEY", "minio123"),
				Bucket:          getenv("S3_BUCKET", "registers"),
				Region:          getenv("S3_REGION", "us-east-1"),
				UseSSL:          mustBool(getenv("S3_USE_SSL", "false")),
				Prefix:          getenv("S3_PREFIX", ""),
			},
		},
	}
}
