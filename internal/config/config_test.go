package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/magick")

	cfg := Load()

	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, time.Hour, cfg.LocalCacheTTL)
	assert.Equal(t, 5, cfg.CircuitBreakerFailureThreshold)
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/magick")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("LOCAL_CACHE_TTL", "10m")

	cfg := Load()

	assert.Equal(t, "9090", cfg.AppPort)
	assert.False(t, cfg.RedisEnabled)
	assert.Equal(t, 10*time.Minute, cfg.LocalCacheTTL)
}
