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
	path := filepath.Join(t.TempDir(), "sensors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
sensors:
  "E0:D0:98:47:DD:CC":
    name: Kitchen
  "c4:11:22:33:44:55":
    name: Garage
temperature_format: c
update_interval_seconds: 2
offline_time_seconds: 120
low_battery_threshold: 2000
database:
  sqlite:
    path: /tmp/test.db
history:
  retention_hours: 48
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "C", cfg.TemperatureFormat)
	assert.Equal(t, 2*time.Second, cfg.UpdateInterval)
	assert.Equal(t, 2*time.Minute, cfg.OfflineTime)
	assert.Equal(t, 2000, cfg.LowBatteryThreshold)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/test.db", cfg.Database.SQLite.Path)
	assert.Equal(t, 48*time.Hour, cfg.History.Retention)
	assert.Equal(t, time.Hour, cfg.History.TrimInterval)
	assert.Equal(t, map[string]string{
		"E0:D0:98:47:DD:CC": "Kitchen",
		"c4:11:22:33:44:55": "Garage",
	}, cfg.SensorNames())
	assert.Len(t, cfg.SensorMACs(), 2)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "F", cfg.TemperatureFormat)
	assert.Equal(t, 5*time.Second, cfg.UpdateInterval)
	assert.Equal(t, 5*time.Minute, cfg.OfflineTime)
	assert.Equal(t, 1800, cfg.LowBatteryThreshold)
	assert.Equal(t, 24*time.Hour, cfg.History.Retention)
	assert.Equal(t, "sensors.db", cfg.Database.SQLite.Path)
	assert.Empty(t, cfg.Sensors)
	assert.False(t, cfg.Push.Enabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BLE_SENSORS_TEMPERATURE_FORMAT", "C")
	t.Setenv("BLE_SENSORS_USE_TEST_DATA", "true")
	t.Setenv("BLE_SENSORS_DB_PATH", "/var/lib/sensors.db")
	t.Setenv("BLE_SENSORS_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(writeConfig(t, "temperature_format: F\n"))
	require.NoError(t, err)

	assert.Equal(t, "C", cfg.TemperatureFormat)
	assert.True(t, cfg.UseTestData)
	assert.Equal(t, "/var/lib/sensors.db", cfg.Database.SQLite.Path)
	assert.True(t, cfg.Publish.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Publish.Kafka.Brokers)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad temperature format", "temperature_format: K\n"},
		{"unknown driver", "database:\n  driver: oracle\n"},
		{"postgres without host", "database:\n  driver: postgres\n"},
		{"half vapid pair", "push:\n  vapid_public_key: abc\n"},
		{"kafka without brokers", "publish:\n  kafka:\n    enabled: true\n"},
		{"malformed yaml", "sensors: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{SQLite: SQLiteConfig{Path: "x.db"}}
	d.applyDefaults()
	assert.Equal(t, "file:x.db?_foreign_keys=1&_busy_timeout=5000", d.DSN())

	d = DatabaseConfig{Driver: "postgres", PostgreSQL: PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "sensors"}}
	d.applyDefaults()
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=sensors sslmode=disable connect_timeout=5", d.DSN())
}
