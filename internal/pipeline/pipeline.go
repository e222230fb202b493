// Package pipeline binds a data source to the latest-reading table and the
// history store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ble-sensors.klederson.com/internal/bluetooth"
	"ble-sensors.klederson.com/internal/history"
	"ble-sensors.klederson.com/internal/publish"
	"ble-sensors.klederson.com/internal/sensor"
)

// DefaultStoreTimeout bounds every storage and sink call made for a single
// broadcast.
const DefaultStoreTimeout = 5 * time.Second

var (
	ErrAlreadyOpen = errors.New("pipeline already open")
	ErrClosed      = errors.New("pipeline closed")
)

// State is the lifecycle state of a Pipeline.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// HistoryWriter is the part of the history store the pipeline writes to.
type HistoryWriter interface {
	RegisterOrUpdate(ctx context.Context, mac, name string) (*history.Sensor, error)
	Append(ctx context.Context, r sensor.Reading) error
}

// Stats counts what happened to the broadcasts a pipeline received.
type Stats struct {
	Received        uint64 `json:"received"`
	Dropped         uint64 `json:"dropped"`
	Stored          uint64 `json:"stored"`
	StoreFailures   uint64 `json:"store_failures"`
	Published       uint64 `json:"published"`
	PublishFailures uint64 `json:"publish_failures"`
}

type counters struct {
	received, dropped, stored, storeFailures, published, publishFailures atomic.Uint64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSinks forwards every stored reading to sinks.
func WithSinks(sinks ...publish.Sink) Option {
	return func(p *Pipeline) {
		p.sinks = append(p.sinks, sinks...)
	}
}

// WithID replaces the generated pipeline id, so sinks built beforehand can
// tag their messages with it.
func WithID(id string) Option {
	return func(p *Pipeline) {
		if id != "" {
			p.id = id
		}
	}
}

// WithStoreTimeout overrides DefaultStoreTimeout. Non-positive values are
// ignored.
func WithStoreTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.storeTimeout = d
		}
	}
}

// Pipeline runs one data source on a dedicated goroutine and processes every
// broadcast it emits: normalize, update the table, then persist.
type Pipeline struct {
	id           string
	source       bluetooth.Scanner
	normalizer   *sensor.Normalizer
	table        *sensor.Table
	history      HistoryWriter
	sinks        []publish.Sink
	storeTimeout time.Duration
	log          *logrus.Entry

	mu       sync.Mutex
	state    State
	finished bool
	cancel   context.CancelFunc
	done     chan struct{}

	registeredMu sync.Mutex
	registered   map[string]string

	stats counters
}

// New creates a closed pipeline. history may be nil, in which case readings
// only reach the table and the sinks.
func New(source bluetooth.Scanner, normalizer *sensor.Normalizer, table *sensor.Table, hist HistoryWriter, logger *logrus.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		id:           uuid.NewString(),
		source:       source,
		normalizer:   normalizer,
		table:        table,
		history:      hist,
		storeTimeout: DefaultStoreTimeout,
		registered:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logger.WithFields(logrus.Fields{"component": "pipeline", "pipeline": p.id})
	return p
}

// ID returns the unique id of this pipeline instance.
func (p *Pipeline) ID() string {
	return p.id
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns a snapshot of the broadcast counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:        p.stats.received.Load(),
		Dropped:         p.stats.dropped.Load(),
		Stored:          p.stats.stored.Load(),
		StoreFailures:   p.stats.storeFailures.Load(),
		Published:       p.stats.published.Load(),
		PublishFailures: p.stats.publishFailures.Load(),
	}
}

// Open starts the data source on its own goroutine. A pipeline can be opened
// once; after Close it stays closed.
func (p *Pipeline) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return ErrClosed
	}
	if p.state != StateClosed {
		return ErrAlreadyOpen
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.state = StateOpen

	go p.run(ctx, p.done)

	p.log.Info("pipeline opened")
	return nil
}

func (p *Pipeline) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("panic", r).Error("data source panicked")
		}
	}()

	if err := p.source.Scan(ctx, p.Handle); err != nil && !errors.Is(err, context.Canceled) {
		p.log.WithError(err).Error("data source stopped")
		return
	}
	p.log.Debug("data source stopped")
}

// Close asks the data source to stop and waits until its goroutine has
// exited. It is safe to call from any goroutine and more than once; closing a
// pipeline that was never opened does nothing.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	switch {
	case p.state == StateClosed:
		p.mu.Unlock()
		return nil
	case p.state == StateClosing:
		done := p.done
		p.mu.Unlock()
		<-done
		return nil
	}
	p.state = StateClosing
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done

	p.mu.Lock()
	p.state = StateClosed
	p.finished = true
	p.mu.Unlock()

	stats := p.Stats()
	p.log.WithFields(logrus.Fields{
		"received": stats.Received,
		"stored":   stats.Stored,
		"dropped":  stats.Dropped,
	}).Info("pipeline closed")
	return nil
}

// Handle processes one broadcast. It is the callback handed to the data
// source and may be called concurrently.
func (p *Pipeline) Handle(identity string, raw sensor.RawFields) {
	p.stats.received.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.stats.dropped.Add(1)
			p.log.WithFields(logrus.Fields{"mac": identity, "panic": r}).Error("broadcast handling panicked")
		}
	}()

	reading, err := p.normalizer.Normalize(identity, raw)
	if err != nil {
		p.stats.dropped.Add(1)
		p.log.WithField("mac", identity).WithError(err).Warn("dropping malformed broadcast")
		return
	}

	p.table.Put(identity, reading)

	if p.history != nil {
		if err := p.persist(reading); err != nil {
			p.stats.storeFailures.Add(1)
		} else {
			p.stats.stored.Add(1)
		}
	}

	p.publish(reading)
}

func (p *Pipeline) persist(r sensor.Reading) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.storeTimeout)
	defer cancel()

	name := r.DisplayName()
	if p.needsRegister(r.MAC, name) {
		if _, err := p.history.RegisterOrUpdate(ctx, r.MAC, name); err != nil {
			return fmt.Errorf("register %s: %w", r.MAC, err)
		}
		p.markRegistered(r.MAC, name)
	}
	return p.history.Append(ctx, r)
}

func (p *Pipeline) needsRegister(mac, name string) bool {
	p.registeredMu.Lock()
	defer p.registeredMu.Unlock()
	known, ok := p.registered[mac]
	return !ok || known != name
}

func (p *Pipeline) markRegistered(mac, name string) {
	p.registeredMu.Lock()
	defer p.registeredMu.Unlock()
	p.registered[mac] = name
}

func (p *Pipeline) publish(r sensor.Reading) {
	for _, sink := range p.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), p.storeTimeout)
		err := sink.Publish(ctx, r)
		cancel()
		if err != nil {
			p.stats.publishFailures.Add(1)
			p.log.WithField("mac", r.MAC).WithError(err).Warn("failed to publish reading")
			continue
		}
		p.stats.published.Add(1)
	}
}

// CloseSinks closes every configured sink.
func (p *Pipeline) CloseSinks() error {
	var errs []error
	for _, sink := range p.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
