package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	MinProgressInterval = 5 * time.Second
	MaxProgressInterval = 30 * time.Second
)

type Config struct {
	// Supabase
	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseJWTSecret      string
	SupabaseStorageBucket  string

	// Scoped status-channel tokens
	AccessTokenSecret string
	AccessTokenTTL    time.Duration

	// Job trigger webhook
	WebhookSecret string

	// Database
	DatabaseURL string

	// Worker
	FFmpegPath        string
	FFprobePath       string
	ScratchDir        string
	ProgressInterval  time.Duration
	WorkerConcurrency int
	SignedURLTTL      time.Duration

	// Server
	Port        string
	Environment string
	LogLevel    string
	LogFormat   string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		SupabaseURL:            getEnv("SUPABASE_URL", ""),
		SupabaseServiceRoleKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseJWTSecret:      getEnv("SUPABASE_JWT_SECRET", ""),
		SupabaseStorageBucket:  getEnv("SUPABASE_STORAGE_BUCKET", "videos"),

		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),
		ScratchDir:  getEnv("SCRATCH_DIR", os.TempDir()),

		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
	}
	cfg.AccessTokenSecret = getEnv("ACCESS_TOKEN_SECRET", cfg.SupabaseJWTSecret)

	var err error
	if cfg.AccessTokenTTL, err = getDuration("ACCESS_TOKEN_TTL", time.Hour); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.SignedURLTTL, err = getDuration("SIGNED_URL_TTL", time.Hour); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.ProgressInterval, err = getDuration("PROGRESS_INTERVAL", MinProgressInterval); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.WorkerConcurrency, err = getInt("WORKER_CONCURRENCY", 2); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.ProgressInterval = ClampProgressInterval(cfg.ProgressInterval)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseServiceRoleKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_ROLE_KEY is required")
	}
	if c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be positive")
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	return nil
}

// ClampProgressInterval keeps progress write-backs between 5s and 30s apart.
func ClampProgressInterval(d time.Duration) time.Duration {
	if d < MinProgressInterval {
		return MinProgressInterval
	}
	if d > MaxProgressInterval {
		return MaxProgressInterval
	}
	return d
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
