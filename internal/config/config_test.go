package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-effects-backend/internal/config"
)

func setRequired(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service-role")
	t.Setenv("SUPABASE_JWT_SECRET", "jwt-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "videos", cfg.SupabaseStorageBucket)
	assert.Equal(t, "jwt-secret", cfg.AccessTokenSecret)
	assert.Equal(t, time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 5*time.Second, cfg.ProgressInterval)
	assert.Equal(t, 2, cfg.WorkerConcurrency)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ACCESS_TOKEN_SECRET", "other")
	t.Setenv("PROGRESS_INTERVAL", "2m")
	t.Setenv("WORKER_CONCURRENCY", "4")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "other", cfg.AccessTokenSecret)
	assert.Equal(t, 30*time.Second, cfg.ProgressInterval)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "x")
	t.Setenv("SUPABASE_JWT_SECRET", "y")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SUPABASE_URL is required")
}

func TestLoad_BadDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("ACCESS_TOKEN_TTL", "soon")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACCESS_TOKEN_TTL")
}

func TestClampProgressInterval(t *testing.T) {
	assert.Equal(t, 5*time.Second, config.ClampProgressInterval(time.Second))
	assert.Equal(t, 10*time.Second, config.ClampProgressInterval(10*time.Second))
	assert.Equal(t, 30*time.Second, config.ClampProgressInterval(time.Minute))
}
