package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ble-sensors.klederson.com/internal/bluetooth"
	"ble-sensors.klederson.com/internal/config"
	"ble-sensors.klederson.com/internal/history"
	"ble-sensors.klederson.com/internal/logging"
	"ble-sensors.klederson.com/internal/sensor"
)

var fixedNow = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *history.Store {
	t.Helper()
	cfg := config.DatabaseConfig{
		Driver:         "sqlite",
		TimeoutSeconds: 5,
		SQLite:         config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "sensors.db")},
	}
	logger := logging.Discard()

	db, err := history.Open(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close(db) })
	return history.NewStore(db, logger)
}

func newNormalizer(names map[string]string, format sensor.TemperatureFormat) *sensor.Normalizer {
	return sensor.NewNormalizer(sensor.NewNames(names), format).WithClock(func() time.Time { return fixedNow })
}

// scriptedSource emits a fixed list of broadcasts and then blocks until
// cancelled, unless err is set.
type scriptedSource struct {
	broadcasts []broadcast
	err        error
	panics     bool
}

type broadcast struct {
	identity string
	raw      sensor.RawFields
}

func (s *scriptedSource) Scan(ctx context.Context, emit bluetooth.EmitFunc) error {
	if s.panics {
		panic("radio exploded")
	}
	for _, b := range s.broadcasts {
		emit(b.identity, b.raw)
	}
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return nil
}

type failingHistory struct {
	mu      sync.Mutex
	appends int
}

func (f *failingHistory) RegisterOrUpdate(context.Context, string, string) (*history.Sensor, error) {
	return nil, errors.New("disk I/O error")
}

func (f *failingHistory) Append(context.Context, sensor.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	return errors.New("disk I/O error")
}

// slowHistory blocks every call until its context expires.
type slowHistory struct{}

func (slowHistory) RegisterOrUpdate(ctx context.Context, _, _ string) (*history.Sensor, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowHistory) Append(ctx context.Context, _ sensor.Reading) error {
	<-ctx.Done()
	return ctx.Err()
}

type recordingSink struct {
	mu       sync.Mutex
	readings []sensor.Reading
	err      error
}

func (r *recordingSink) Publish(_ context.Context, reading sensor.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.readings = append(r.readings, reading)
	return nil
}

func (r *recordingSink) Close() error { return nil }

func TestPipeline_HandleStoresNamedFahrenheitReading(t *testing.T) {
	store := newTestStore(t)
	table := sensor.NewTable()
	sink := &recordingSink{}
	p := New(nil, newNormalizer(map[string]string{"AA:BB:CC:DD:EE:01": "Kitchen"}, sensor.Fahrenheit),
		table, store, logging.Discard(), WithSinks(sink))

	p.Handle("AA:BB:CC:DD:EE:01", sensor.RawFields{"temperature": 20.0, "humidity": 50.0})

	got, ok := table.Get("AA:BB:CC:DD:EE:01")
	require.True(t, ok)
	assert.InDelta(t, 68.0, got.Temperature, 1e-9)
	assert.Equal(t, 50.0, got.Humidity)
	assert.Equal(t, "Kitchen", got.Name)
	assert.Equal(t, fixedNow, got.CapturedAt)
	assert.True(t, table.HasPendingChanges())

	points, err := store.HistoryFor(context.Background(), "AA:BB:CC:DD:EE:01", nil)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 68.0, points[0].Temperature, 1e-9)

	sensors, err := store.ListSensors(context.Background())
	require.NoError(t, err)
	require.Len(t, sensors, 1)
	assert.Equal(t, "Kitchen", sensors[0].Name)

	require.Len(t, sink.readings, 1)
	assert.Equal(t, Stats{Received: 1, Stored: 1, Published: 1}, p.Stats())
}

func TestPipeline_UnnamedSensorIsStoredUnderItsIdentity(t *testing.T) {
	store := newTestStore(t)
	p := New(nil, newNormalizer(nil, sensor.Celsius), sensor.NewTable(), store, logging.Discard())

	p.Handle("aa:bb:cc:dd:ee:09", sensor.RawFields{"temperature": 21.5, "humidity": 40})

	s, err := store.SensorByMAC(context.Background(), "aa:bb:cc:dd:ee:09")
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:09", s.Name)
}

func TestPipeline_LastWriteWins(t *testing.T) {
	table := sensor.NewTable()
	p := New(nil, newNormalizer(nil, sensor.Celsius), table, nil, logging.Discard())

	p.Handle("aa:bb:cc:dd:ee:01", sensor.RawFields{"temperature": 20.0, "humidity": 50.0, "measurement_sequence_number": 7})
	p.Handle("aa:bb:cc:dd:ee:01", sensor.RawFields{"temperature": 19.0, "humidity": 51.0, "measurement_sequence_number": 3})

	got, ok := table.Get("aa:bb:cc:dd:ee:01")
	require.True(t, ok)
	assert.Equal(t, 19.0, got.Temperature)
	assert.Equal(t, 3, got.SequenceNumber)
	assert.Equal(t, 1, table.Len())
}

func TestPipeline_MalformedBroadcastIsDropped(t *testing.T) {
	store := newTestStore(t)
	table := sensor.NewTable()
	p := New(nil, newNormalizer(nil, sensor.Celsius), table, store, logging.Discard())

	p.Handle("aa:bb:cc:dd:ee:01", sensor.RawFields{"humidity": 50.0})
	p.Handle("aa:bb:cc:dd:ee:01", sensor.RawFields{"temperature": "hot", "humidity": 50.0})
	p.Handle("aa:bb:cc:dd:ee:02", sensor.RawFields{"temperature": 21.0, "humidity": 45.0})

	_, ok := table.Get("aa:bb:cc:dd:ee:01")
	assert.False(t, ok)
	_, ok = table.Get("aa:bb:cc:dd:ee:02")
	assert.True(t, ok)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stats := p.Stats()
	assert.Equal(t, uint64(3), stats.Received)
	assert.Equal(t, uint64(2), stats.Dropped)
	assert.Equal(t, uint64(1), stats.Stored)
}

func TestPipeline_StorageFailureKeepsIngesting(t *testing.T) {
	hist := &failingHistory{}
	table := sensor.NewTable()
	sink := &recordingSink{}
	p := New(nil, newNormalizer(nil, sensor.Celsius), table, hist, logging.Discard(), WithSinks(sink))

	p.Handle("aa:bb:cc:dd:ee:01", sensor.RawFields{"temperature": 20.0, "humidity": 50.0})
	p.Handle("aa:bb:cc:dd:ee:02", sensor.RawFields{"temperature": 21.0, "humidity": 51.0})

	assert.Equal(t, 2, table.Len())
	assert.Len(t, sink.readings, 2)
	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.StoreFailures)
	assert.Zero(t, stats.Stored)
}

func TestPipeline_SlowStorageIsBounded(t *testing.T) {
	table := sensor.NewTable()
	p := New(nil, newNormalizer(nil, sensor.Celsius), table, slowHistory{}, logging.Discard(),
		WithStoreTimeout(20*time.Millisecond))

	done := make(chan struct{})
	go func() {
		p.Handle("aa:bb:cc:dd:ee:01", sensor.RawFields{"temperature": 20.0, "humidity": 50.0})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handle blocked on slow storage")
	}
	assert.Equal(t, 1, table.Len())
	assert.Equal(t, uint64(1), p.Stats().StoreFailures)
}

func TestPipeline_SinkFailureIsCounted(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	p := New(nil, newNormalizer(nil, sensor.Celsius), sensor.NewTable(), nil, logging.Discard(), WithSinks(sink))

	p.Handle("aa:bb:cc:dd:ee:01", sensor.RawFields{"temperature": 20.0, "humidity": 50.0})

	assert.Equal(t, uint64(1), p.Stats().PublishFailures)
	assert.NoError(t, p.CloseSinks())
}

func TestPipeline_Lifecycle(t *testing.T) {
	source := &scriptedSource{broadcasts: []broadcast{
		{"aa:bb:cc:dd:ee:01", sensor.RawFields{"temperature": 20.0, "humidity": 50.0}},
	}}
	table := sensor.NewTable()
	p := New(source, newNormalizer(nil, sensor.Celsius), table, nil, logging.Discard())

	assert.Equal(t, StateClosed, p.State())
	assert.NoError(t, p.Close(), "closing an unopened pipeline is a no-op")

	require.NoError(t, p.Open())
	assert.Equal(t, StateOpen, p.State())
	assert.ErrorIs(t, p.Open(), ErrAlreadyOpen)

	require.Eventually(t, func() bool { return table.Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Close())
	assert.Equal(t, StateClosed, p.State())
	assert.NoError(t, p.Close())
	assert.ErrorIs(t, p.Open(), ErrClosed)
}

func TestPipeline_CloseFromManyGoroutines(t *testing.T) {
	mock := bluetooth.NewMockScanner([]string{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02"}, time.Millisecond)
	table := sensor.NewTable()
	store := newTestStore(t)
	p := New(mock, newNormalizer(nil, sensor.Celsius), table, store, logging.Discard())
	require.NoError(t, p.Open())

	require.Eventually(t, func() bool { return table.Len() > 0 }, 2*time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Close())
		}()
	}
	wg.Wait()
	assert.Equal(t, StateClosed, p.State())

	received := p.Stats().Received
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, received, p.Stats().Received, "no broadcasts after close")

	// Every write committed before close is still there.
	ctx := context.Background()
	stats := p.Stats()
	assert.Zero(t, stats.StoreFailures)
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(stats.Stored), n)

	for mac := range table.Snapshot() {
		points, err := store.HistoryFor(ctx, mac, nil)
		require.NoError(t, err)
		assert.NotEmpty(t, points, mac)
	}
}

func TestPipeline_SourceErrorStillCloses(t *testing.T) {
	p := New(&scriptedSource{err: errors.New("adapter not found")},
		newNormalizer(nil, sensor.Celsius), sensor.NewTable(), nil, logging.Discard())
	require.NoError(t, p.Open())

	done := make(chan error, 1)
	go func() { done <- p.Close() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close did not return after source error")
	}
}

func TestPipeline_SourcePanicStillCloses(t *testing.T) {
	p := New(&scriptedSource{panics: true},
		newNormalizer(nil, sensor.Celsius), sensor.NewTable(), nil, logging.Discard())
	require.NoError(t, p.Open())
	assert.NoError(t, p.Close())
	assert.Equal(t, StateClosed, p.State())
}

func TestPipeline_IDIsUnique(t *testing.T) {
	n := newNormalizer(nil, sensor.Celsius)
	a := New(nil, n, sensor.NewTable(), nil, logging.Discard())
	b := New(nil, n, sensor.NewTable(), nil, logging.Discard())
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestPipeline_WithID(t *testing.T) {
	n := newNormalizer(nil, sensor.Celsius)
	p := New(nil, n, sensor.NewTable(), nil, logging.Discard(), WithID("run-1"))
	assert.Equal(t, "run-1", p.ID())

	p = New(nil, n, sensor.NewTable(), nil, logging.Discard(), WithID(""))
	assert.NotEmpty(t, p.ID())
}
