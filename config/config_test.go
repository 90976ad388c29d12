package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_DefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
http:
  address: ":8081"
database:
  driver: memory
booking:
  timezone: Europe/Berlin
  commit_timeout_seconds: 3
kafka:
  brokers: ["localhost:9092"]
  notifications_topic: appointment-notifications
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTP.Address)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 3*time.Second, cfg.Booking.CommitTimeout())
	assert.Equal(t, 5, cfg.Booking.SlotsPerSession)
	assert.Equal(t, 100, cfg.Notifications.JournalSize)
	assert.Equal(t, 256, cfg.Notifications.QueueSize)
	assert.Equal(t, 10*time.Second, cfg.Notifications.DeliveryTimeout())
	assert.True(t, cfg.Kafka.Enabled())
	assert.False(t, cfg.Redis.Enabled())

	cal, err := cfg.Booking.Calendar()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cal.Location().String())
}

func TestLoadConfig_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"unknown driver", "database:\n  driver: sqlite\n"},
		{"indivisible window", "booking:\n  slots_per_session: 7\n  morning_window: \"07:00-12:00\"\n"},
		{"bad timezone", "booking:\n  timezone: Mars/Olympus\n"},
		{"reminder without redis", "reminder:\n  enabled: true\n"},
		{"no delivery timeout", "notifications:\n  delivery_timeout_seconds: 0\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
