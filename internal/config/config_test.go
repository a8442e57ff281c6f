package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if !had {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultTrialDays, cfg.TrialDays)
	assert.Equal(t, DefaultNotifyTimeout, cfg.NotifyTimeout)
	assert.Equal(t, DefaultInvoiceJobAt, cfg.InvoiceJobAt)
	assert.Equal(t, DefaultSweepJobAt, cfg.SweepJobAt)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "TRIAL_DAYS", "14")
	setEnv(t, "NOTIFY_TIMEOUT", "5s")
	setEnv(t, "WHATSAPP_GATEWAY_URL", "http://gateway:3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 14, cfg.TrialDays)
	assert.Equal(t, 5*time.Second, cfg.NotifyTimeout)
	assert.Equal(t, "http://gateway:3000", cfg.WhatsAppGatewayURL)
}

func TestConfig_Validate(t *testing.T) {
	base := func() Config {
		return Config{
			Env:          "development",
			InvoiceJobAt: "03:00",
			SweepJobAt:   "10:00",
			Timezone:     "UTC",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"production without admin secret", func(c *Config) { c.Env = "production" }, "ADMIN_SECRET"},
		{"stripe without webhook secret", func(c *Config) { c.StripeSecretKey = "sk_test" }, "STRIPE_WEBHOOK_SECRET"},
		{"bad job time", func(c *Config) { c.SweepJobAt = "25:99" }, "SWEEP_JOB_AT"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "TIMEZONE"},
		{"negative trial", func(c *Config) { c.TrialDays = -1 }, "TRIAL_DAYS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseJobTime(t *testing.T) {
	h, m, err := ParseJobTime("03:00")
	require.NoError(t, err)
	assert.Equal(t, 3, h)
	assert.Equal(t, 0, m)

	_, _, err = ParseJobTime("3pm")
	assert.Error(t, err)
}

func TestConfig_Location(t *testing.T) {
	cfg := Config{Timezone: "America/Sao_Paulo"}
	assert.Equal(t, "America/Sao_Paulo", cfg.Location().String())

	cfg.Timezone = "nowhere"
	assert.Equal(t, time.UTC, cfg.Location())
}
