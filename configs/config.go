package config

import (
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
}

type Worker struct {
	Concurrency     int
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	CallTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type Reconciler struct {
	TickInterval    time.Duration
	TokenLeadWindow time.Duration
	MetricsFresh    time.Duration
	MetricsFreshOld time.Duration
	MetricsDecayAge time.Duration
	StrandedAfter   time.Duration
	BatchSize       int
}

type RateLimit struct {
	Capacity       int
	RefillRate     int
	RefillInterval time.Duration
}

type Config struct {
	InstagramClientID     string
	InstagramClientSecret string
	TiktokClientKey       string
	TiktokClientSecret    string
	GoogleClientID        string
	GoogleClientSecret    string
	PostgresURI           string
	RedisURI              string
	OpsAddr               string
	SecretKey             string
	R2                    R2
	Worker                Worker
	Reconciler            Reconciler
	RateLimit             RateLimit
}

func LoadConfig() *Config {
	return &Config{
		InstagramClientID:     getEnv("INSTAGRAM_CLIENT_ID", ""),
		InstagramClientSecret: getEnv("INSTAGRAM_CLIENT_SECRET", ""),
		TiktokClientKey:       getEnv("TIKTOK_CLIENT_KEY", ""),
		TiktokClientSecret:    getEnv("TIKTOK_CLIENT_SECRET", ""),
		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		PostgresURI:           getEnv("POSTGRES_URI", ""),
		RedisURI:              getEnv("REDIS_URI", "localhost:6379"),
		OpsAddr:               getEnv("OPS_ADDR", ":9090"),
		SecretKey:             getEnv("SECRET_KEY", ""),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
		},
		Worker: Worker{
			Concurrency:     getEnvInt("WORKER_CONCURRENCY", 10),
			MaxAttempts:     getEnvInt("WORKER_MAX_ATTEMPTS", 5),
			BackoffBase:     getEnvDuration("WORKER_BACKOFF_BASE", 30*time.Second),
			BackoffCap:      getEnvDuration("WORKER_BACKOFF_CAP", 30*time.Minute),
			CallTimeout:     getEnvDuration("WORKER_CALL_TIMEOUT", 2*time.Minute),
			ShutdownTimeout: getEnvDuration("WORKER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Reconciler: Reconciler{
			TickInterval:    getEnvDuration("RECONCILER_TICK", 30*time.Second),
			TokenLeadWindow: getEnvDuration("TOKEN_LEAD_WINDOW", 10*time.Minute),
			MetricsFresh:    getEnvDuration("METRICS_FRESH", time.Hour),
			MetricsFreshOld: getEnvDuration("METRICS_FRESH_OLD", 24*time.Hour),
			MetricsDecayAge: getEnvDuration("METRICS_DECAY_AGE", 7*24*time.Hour),
			StrandedAfter:   getEnvDuration("RECONCILER_STRANDED_AFTER", 5*time.Minute),
			BatchSize:       getEnvInt("RECONCILER_BATCH_SIZE", 100),
		},
		RateLimit: RateLimit{
			Capacity:       getEnvInt("RATE_LIMIT_CAPACITY", 10),
			RefillRate:     getEnvInt("RATE_LIMIT_REFILL_RATE", 10),
			RefillInterval: getEnvDuration("RATE_LIMIT_REFILL_INTERVAL", time.Minute),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
