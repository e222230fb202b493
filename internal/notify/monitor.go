package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"ble-sensors.klederson.com/internal/sensor"
)

// Dispatcher receives alerts produced by a Monitor.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert Alert)
}

// Monitor polls the latest-reading table and raises an alert whenever a
// sensor moves from normal into offline or low battery.
type Monitor struct {
	table      *sensor.Table
	thresholds sensor.Thresholds
	interval   time.Duration
	dispatcher Dispatcher
	log        *logrus.Entry
	now        func() time.Time

	last map[string]sensor.Status
}

// NewMonitor creates a Monitor checking every interval.
func NewMonitor(table *sensor.Table, thresholds sensor.Thresholds, interval time.Duration, d Dispatcher, logger *logrus.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		table:      table,
		thresholds: thresholds,
		interval:   interval,
		dispatcher: d,
		log:        logger.WithField("component", "monitor"),
		now:        time.Now,
		last:       make(map[string]sensor.Status),
	}
}

// Run blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check evaluates every sensor once and dispatches the transitions. It is not
// safe for concurrent use; Run calls it from a single goroutine.
func (m *Monitor) Check(ctx context.Context) []Alert {
	now := m.now()
	var alerts []Alert

	for mac, r := range m.table.Snapshot() {
		status := sensor.Evaluate(r, now, m.thresholds)
		prev, seen := m.last[mac]
		m.last[mac] = status
		if seen && prev == status {
			continue
		}
		if !seen && status == sensor.StatusNormal {
			continue
		}

		alert := Alert{MAC: mac, Name: r.DisplayName(), Status: status, At: now}
		if status == sensor.StatusNormal {
			m.log.WithField("mac", mac).Info(alert.Message())
			continue
		}
		m.log.WithFields(logrus.Fields{"mac": mac, "status": status.String()}).Warn(alert.Message())
		alerts = append(alerts, alert)
		if m.dispatcher != nil {
			m.dispatcher.Dispatch(ctx, alert)
		}
	}
	return alerts
}
