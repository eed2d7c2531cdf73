package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds shared runtime configuration for the API service and the
// one-shot CLI.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string

	// Scheduler knobs.
	MaxConcurrent         int
	DelayMs               int
	MinDelayMs            int
	MaxDelayMs            int
	BurstLimit            int
	TimeWindowMs          int
	MaxRetries            int
	RetryBaseDelayMs      int
	RetryBackoffMult      float64
	RetryDelayCapMs       int
	RetryJitterMs         int
	BatchSize             int
	DelayBetweenBatchesMs int
	SlotWaitTimeout       time.Duration
	ThrottleEvalEvery     int
	ThrottleHigh          float64
	ThrottleLow           float64
	ThrottleRecoverAfter  int

	// Fetcher.
	FetchTimeout   time.Duration
	UserAgents     []string
	PerHostLimit   int64
	SitesConfigDir string

	// Per-site distributed politeness limiter (Redis).
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	SiteLimitCapacity int
	SiteLimitRefill   float64
	SiteLimitTTL      time.Duration

	// Archive (Postgres).
	PostgresDSN string

	// Asset thumbnails and result export.
	AssetOutputDir  string
	AssetMaxBytes   int64
	AssetThumbWidth int
	ExportS3Bucket  string
	ExportS3Region  string
	ExportS3Prefix  string
	S3Endpoint      string
	S3PathStyle     bool
}

// Load reads configuration from environment variables with sane defaults
// for local development.
func Load() Config {
	return Config{
		Env:         getEnv("APP_ENV", "dev"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		MaxConcurrent:         getEnvInt("MAX_CONCURRENT", 5),
		DelayMs:               getEnvInt("DELAY_MS", 0),
		MinDelayMs:            getEnvInt("MIN_DELAY_MS", 0),
		MaxDelayMs:            getEnvInt("MAX_DELAY_MS", 30000),
		BurstLimit:            getEnvInt("BURST_LIMIT", 20),
		TimeWindowMs:          getEnvInt("TIME_WINDOW_MS", 10000),
		MaxRetries:            getEnvInt("MAX_RETRIES", 2),
		RetryBaseDelayMs:      getEnvInt("RETRY_BASE_DELAY_MS", 1000),
		RetryBackoffMult:      getEnvFloat("RETRY_BACKOFF_MULTIPLIER", 2),
		RetryDelayCapMs:       getEnvInt("RETRY_DELAY_CAP_MS", 30000),
		RetryJitterMs:         getEnvInt("RETRY_JITTER_MS", 250),
		BatchSize:             getEnvInt("BATCH_SIZE", 0),
		DelayBetweenBatchesMs: getEnvInt("DELAY_BETWEEN_BATCHES_MS", 500),
		SlotWaitTimeout:       getEnvDuration("SLOT_WAIT_TIMEOUT", 2*time.Minute),
		ThrottleEvalEvery:     getEnvInt("THROTTLE_EVAL_EVERY", 20),
		ThrottleHigh:          getEnvFloat("THROTTLE_HIGH_WATERMARK", 0.3),
		ThrottleLow:           getEnvFloat("THROTTLE_LOW_WATERMARK", 0.05),
		ThrottleRecoverAfter:  getEnvInt("THROTTLE_RECOVER_WINDOWS", 3),

		FetchTimeout: getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		UserAgents: getEnvList("USER_AGENTS", []string{
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
		}),
		PerHostLimit:   int64(getEnvInt("PER_HOST_LIMIT", 2)),
		SitesConfigDir: getEnv("SITES_CONFIG_DIR", "./sites"),

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		SiteLimitCapacity: getEnvInt("SITE_LIMIT_CAPACITY", 10),
		SiteLimitRefill:   getEnvFloat("SITE_LIMIT_REFILL_PER_SEC", 2),
		SiteLimitTTL:      getEnvDuration("SITE_LIMIT_TTL", time.Hour),

		PostgresDSN: getEnv("POSTGRES_DSN", ""),

		AssetOutputDir:  getEnv("ASSET_OUTPUT_DIR", "./output"),
		AssetMaxBytes:   int64(getEnvInt("ASSET_MAX_BYTES", 25*1024*1024)),
		AssetThumbWidth: getEnvInt("ASSET_THUMB_WIDTH", 320),
		ExportS3Bucket:  getEnv("EXPORT_S3_BUCKET", ""),
		ExportS3Region:  getEnv("EXPORT_S3_REGION", "us-east-1"),
		ExportS3Prefix:  getEnv("EXPORT_S3_PREFIX", "scrapes"),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3PathStyle:     getEnvBool("S3_PATH_STYLE", false),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

// SchedulerMs converts a millisecond knob into a duration.
func SchedulerMs(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
