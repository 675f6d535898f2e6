package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_DSN", "postgres://localhost:5432/practicum")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "09:00", cfg.Clinic.OpensAt)
	assert.Equal(t, "20:00", cfg.Clinic.ClosesAt)
	assert.Equal(t, 50, cfg.Clinic.DefaultDurationMins)
	assert.Equal(t, 24*time.Hour, cfg.Clinic.CancellationNotice)
	assert.False(t, cfg.Clinic.EnforceCancellationNotice)
	assert.Equal(t, "none", cfg.Email.Provider)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
}

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("JWT_SECRET", "test-secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_DSN")
}

func TestLoadRejectsInvertedHours(t *testing.T) {
	setRequired(t)
	t.Setenv("CLINIC_OPENS_AT", "18:00")
	t.Setenv("CLINIC_CLOSES_AT", "08:00")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before CLINIC_CLOSES_AT")
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	setRequired(t)
	t.Setenv("EMAIL_PROVIDER", "smtp")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMAIL_PROVIDER")
}

func TestLoadParsesRedisURL(t *testing.T) {
	setRequired(t)
	t.Setenv("REDIS_URL", "redis://user:pw@cache:6380")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, "user", cfg.RedisUsername)
	assert.Equal(t, "pw", cfg.RedisPassword)
}

func TestGetDurationAcceptsSecondsAndUnits(t *testing.T) {
	t.Setenv("X_DURATION", "30")
	assert.Equal(t, 30*time.Second, getDuration("X_DURATION", time.Minute))

	t.Setenv("X_DURATION", "2h")
	assert.Equal(t, 2*time.Hour, getDuration("X_DURATION", time.Minute))

	t.Setenv("X_DURATION", "soon")
	assert.Equal(t, time.Minute, getDuration("X_DURATION", time.Minute))
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 570, m)

	_, err = ParseClock("9.30")
	assert.Error(t, err)
}
