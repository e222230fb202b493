package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ble-sensors.klederson.com/internal/config"
	"ble-sensors.klederson.com/internal/sensor"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sensors.yaml")
	body := fmt.Sprintf(`sensors:
  "AA:BB:CC:DD:EE:01":
    name: Kitchen
temperature_format: F
logging:
  log_file: %q
database:
  driver: sqlite
  sqlite:
    path: %q
`, filepath.Join(dir, "test.log"), filepath.Join(dir, "sensors.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv(config.DefaultConfigEnv, "")
	assert.Equal(t, config.DefaultConfigPath, resolveConfigPath(""))

	t.Setenv(config.DefaultConfigEnv, "/etc/ble/sensors.yaml")
	assert.Equal(t, "/etc/ble/sensors.yaml", resolveConfigPath(""))
	assert.Equal(t, "local.yaml", resolveConfigPath("local.yaml"))
}

func TestParseID(t *testing.T) {
	id, err := parseID("7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}

func TestIngestion_DemoSourceFillsTableAndHistory(t *testing.T) {
	rt, err := openRuntime(writeConfig(t), false, true)
	require.NoError(t, err)
	defer rt.Close()

	ing, err := rt.startIngestion()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return ing.table.Len() > 0 }, 5*time.Second, 50*time.Millisecond)
	ing.Stop()

	name, ok := ing.names.Lookup(sensor.CanonicalMAC("AA:BB:CC:DD:EE:01"))
	assert.True(t, ok)
	assert.Equal(t, "Kitchen", name)

	count, err := rt.store.Count(context.Background())
	require.NoError(t, err)
	assert.Positive(t, count)
	assert.Positive(t, ing.pipeline.Stats().Stored)
}

func TestSensorsCommands(t *testing.T) {
	path := writeConfig(t)

	rt, err := openRuntime(path, false, false)
	require.NoError(t, err)
	s, err := rt.store.RegisterOrUpdate(context.Background(), "aa:bb:cc:dd:ee:01", "Kitchen")
	require.NoError(t, err)
	rt.Close()

	out, err := execute(t, "--config", path, "sensors", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "aa:bb:cc:dd:ee:01")
	assert.Contains(t, out, "Kitchen")

	id := fmt.Sprint(s.ID)
	out, err = execute(t, "--config", path, "sensors", "rename", id, "Back", "Porch")
	require.NoError(t, err)
	assert.Contains(t, out, `renamed to "Back Porch"`)

	out, err = execute(t, "--config", path, "sensors", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Back Porch")

	_, err = execute(t, "--config", path, "sensors", "rename", "999", "Nowhere")
	assert.Error(t, err)

	out, err = execute(t, "--config", path, "sensors", "delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")

	out, err = execute(t, "--config", path, "sensors", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no sensors registered")
}

func TestHistoryAndTrimCommands(t *testing.T) {
	path := writeConfig(t)

	rt, err := openRuntime(path, false, false)
	require.NoError(t, err)
	ctx := context.Background()
	mac := "aa:bb:cc:dd:ee:01"
	now := time.Now()
	for i, age := range []time.Duration{3 * time.Hour, 2 * time.Hour, time.Minute} {
		require.NoError(t, rt.store.Append(ctx, sensor.Reading{
			MAC:         mac,
			Name:        "Kitchen",
			Temperature: 68 + float64(i),
			Humidity:    50,
			CapturedAt:  now.Add(-age),
		}))
	}
	rt.Close()

	_, err = execute(t, "--config", path, "history", "not-a-mac")
	assert.Error(t, err)

	out, err := execute(t, "--config", path, "history", "AA:BB:CC:DD:EE:01")
	require.NoError(t, err)
	assert.Contains(t, out, "3 readings")
	assert.Contains(t, out, "68.0")
	assert.Contains(t, out, "70.0")

	out, err = execute(t, "--config", path, "trim", "--hours", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 2 readings")

	out, err = execute(t, "--config", path, "history", mac)
	require.NoError(t, err)
	assert.Contains(t, out, "1 readings")
}
