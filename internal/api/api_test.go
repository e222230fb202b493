package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ble-sensors.klederson.com/internal/config"
	"ble-sensors.klederson.com/internal/history"
	"ble-sensors.klederson.com/internal/logging"
	"ble-sensors.klederson.com/internal/pipeline"
	"ble-sensors.klederson.com/internal/sensor"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var now = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

type fakePipeline struct{}

func (fakePipeline) ID() string            { return "p-1" }
func (fakePipeline) State() pipeline.State { return pipeline.StateOpen }
func (fakePipeline) Stats() pipeline.Stats { return pipeline.Stats{Received: 3, Stored: 3} }

type fixture struct {
	router *gin.Engine
	store  *history.Store
	table  *sensor.Table
	names  *sensor.Names
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.Discard()
	db, err := history.Open(config.DatabaseConfig{
		Driver:         "sqlite",
		TimeoutSeconds: 5,
		SQLite:         config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "sensors.db")},
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close(db) })

	f := &fixture{
		store: history.NewStore(db, logger),
		table: sensor.NewTable(),
		names: sensor.NewNames(map[string]string{"aa:bb:cc:dd:ee:01": "Kitchen"}),
	}
	h := NewHandler(Deps{
		Table:      f.table,
		Store:      f.store,
		Names:      f.names,
		Pipeline:   fakePipeline{},
		Unit:       sensor.Fahrenheit,
		Thresholds: sensor.Thresholds{OfflineAfter: 5 * time.Minute, LowBatteryMV: 1800},
		Interval:   20 * time.Millisecond,
	}, logger)
	h.now = func() time.Time { return now }

	f.router = NewRouter(h, config.HTTPConfig{RateLimitPerSec: 100, RateLimitBurst: 100, CacheTTLSeconds: 60}, logger)
	return f
}

func (f *fixture) do(method, path string, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req, _ = http.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, path, nil)
	}
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		r := sensor.Reading{
			MAC:         "aa:bb:cc:dd:ee:01",
			Name:        "Kitchen",
			CapturedAt:  now.Add(time.Duration(i-3) * time.Hour),
			Temperature: 68 + float64(i),
			Humidity:    50,
		}
		require.NoError(t, f.store.Append(ctx, r))
	}
	f.table.Put("aa:bb:cc:dd:ee:01", sensor.Reading{MAC: "aa:bb:cc:dd:ee:01", Name: "Kitchen", CapturedAt: now, Temperature: 70, BatteryMV: 3000})
	f.table.Put("aa:bb:cc:dd:ee:02", sensor.Reading{MAC: "aa:bb:cc:dd:ee:02", Name: "Attic", CapturedAt: now.Add(-time.Hour), Temperature: 90})
}

func TestGetSensors(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	w := f.do(http.MethodGet, "/api/sensors", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "Attic", got[0]["name"])
	assert.Equal(t, "offline", got[0]["status"])
	assert.Equal(t, "Kitchen", got[1]["name"])
	assert.Equal(t, "normal", got[1]["status"])
	assert.Equal(t, "F", got[1]["unit"])
}

func TestGetHistory(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	w := f.do(http.MethodGet, "/api/sensors/AA-BB-CC-DD-EE-01/history", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got historyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "aa:bb:cc:dd:ee:01", got.MAC)
	require.Len(t, got.Points, 3)
	assert.Equal(t, 0.0, got.Points[0].ElapsedHours)
	assert.InDelta(t, 2.0, got.Points[2].ElapsedHours, 1e-9)

	from := now.Add(-150 * time.Minute).Format(time.RFC3339)
	w = f.do(http.MethodGet, "/api/sensors/aa:bb:cc:dd:ee:01/history?from="+from, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got.Points, 2)
}

func TestGetHistory_BadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		path string
	}{
		{"invalid mac", "/api/sensors/kitchen/history"},
		{"invalid from", "/api/sensors/aa:bb:cc:dd:ee:01/history?from=yesterday"},
		{"inverted range", "/api/sensors/aa:bb:cc:dd:ee:01/history?from=2024-06-02T00:00:00Z&to=2024-06-01T00:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodGet, tt.path, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRegistry_RenameUpdatesLiveNames(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	s, err := f.store.SensorByMAC(context.Background(), "aa:bb:cc:dd:ee:01")
	require.NoError(t, err)

	w := f.do(http.MethodPut, fmt.Sprintf("/api/registry/%d", s.ID), `{"name":"Pantry"}`)
	require.Equal(t, http.StatusOK, w.Code)

	name, ok := f.names.Lookup("aa:bb:cc:dd:ee:01")
	require.True(t, ok)
	assert.Equal(t, "Pantry", name)

	w = f.do(http.MethodGet, "/api/registry", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"Pantry"`)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, fmt.Sprintf("/api/registry/%d", s.ID), `{"name":"  "}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/registry/abc", `{"name":"x"}`).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPut, "/api/registry/999", `{"name":"x"}`).Code)
}

func TestRegistry_DeleteRemovesHistoryAndLiveEntry(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	s, err := f.store.SensorByMAC(context.Background(), "aa:bb:cc:dd:ee:01")
	require.NoError(t, err)

	w := f.do(http.MethodDelete, fmt.Sprintf("/api/registry/%d", s.ID), "")
	require.Equal(t, http.StatusNoContent, w.Code)

	n, err := f.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	_, ok := f.table.Get("aa:bb:cc:dd:ee:01")
	assert.False(t, ok)
	_, ok = f.names.Lookup("aa:bb:cc:dd:ee:01")
	assert.False(t, ok)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, fmt.Sprintf("/api/registry/%d", s.ID), "").Code)
}

func TestRegistry_DeleteFlushesCachedHistory(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	s, err := f.store.SensorByMAC(context.Background(), "aa:bb:cc:dd:ee:01")
	require.NoError(t, err)

	path := "/api/sensors/aa:bb:cc:dd:ee:01/history"
	var got historyResponse
	require.NoError(t, json.Unmarshal(f.do(http.MethodGet, path, "").Body.Bytes(), &got))
	require.Len(t, got.Points, 3)
	assert.Equal(t, "HIT", f.do(http.MethodGet, path, "").Header().Get("X-Cache"))

	require.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, fmt.Sprintf("/api/registry/%d", s.ID), "").Code)

	w := f.do(http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-Cache"))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Empty(t, got.Points)
}

func TestGetHealth(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	w := f.do(http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, 3.0, got["readings"])
	assert.Equal(t, "open", got["pipeline"].(map[string]any)["state"])
}

func TestStreamSensors(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 2; i++ {
		var msg snapshotMessage
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "snapshot", msg.Type)
		assert.Len(t, msg.Sensors, 2)
	}
}
