package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 5, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, "console", cfg.Notification.Provider)
	assert.False(t, cfg.LegacyDirectory.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("SCHEDULER_POLL_INTERVAL", "250ms")
	t.Setenv("SCHEDULER_LEASE_DURATION", "90")
	t.Setenv("SCHEDULER_BATCH_SIZE", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.PollInterval)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.LeaseDuration)
	assert.Equal(t, 3, cfg.Scheduler.BatchSize)
	assert.True(t, cfg.Auth.Required, "auth should default on in production")
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero attempts", map[string]string{"SCHEDULER_MAX_ATTEMPTS": "0"}},
		{"zero batch", map[string]string{"SCHEDULER_BATCH_SIZE": "0"}},
		{"unknown provider", map[string]string{"NOTIFICATION_PROVIDER": "pigeon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
