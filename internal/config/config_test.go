package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "STORE", "SWEEP_INTERVAL", "SWEEP_ENABLED", "OTP_BCRYPT_COST", "KAFKA_BROKERS"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.True(t, cfg.SweepEnabled)
	assert.Equal(t, 10, cfg.OTPBcryptCost)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE", "Memory")
	t.Setenv("SWEEP_INTERVAL", "15m")
	t.Setenv("SWEEP_ENABLED", "false")
	t.Setenv("OTP_RATE_PER_MIN", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("SMTP_SERVER", "smtp.example.com")

	cfg := Load()
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	assert.False(t, cfg.SweepEnabled)
	assert.Equal(t, 3, cfg.OTPRatePerMin)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "smtp.example.com", cfg.SMTP.Server)
}

func TestBadValuesFallBack(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "soon")
	t.Setenv("OTP_BCRYPT_COST", "-1")
	t.Setenv("SWEEP_ENABLED", "maybe")

	cfg := Load()
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, 10, cfg.OTPBcryptCost)
	assert.True(t, cfg.SweepEnabled)
}
