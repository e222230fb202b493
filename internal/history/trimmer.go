package history

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Trimmer removes expired readings once at start and then on every interval.
type Trimmer struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	log       *logrus.Entry
}

// NewTrimmer creates a Trimmer. Non-positive durations fall back to the
// 24 hour retention and an hourly interval.
func NewTrimmer(store *Store, retention, interval time.Duration, logger *logrus.Logger) *Trimmer {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Trimmer{
		store:     store,
		retention: retention,
		interval:  interval,
		log:       logger.WithField("component", "trimmer"),
	}
}

// Run blocks until ctx is cancelled.
func (t *Trimmer) Run(ctx context.Context) {
	t.log.WithFields(logrus.Fields{
		"retention": t.retention.String(),
		"interval":  t.interval.String(),
	}).Info("starting history trimmer")

	t.TrimOnce(ctx)

	timer := time.NewTimer(t.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			t.log.Info("history trimmer shutting down")
			return
		case <-timer.C:
			t.TrimOnce(ctx)
			timer.Reset(t.interval)
		}
	}
}

// TrimOnce runs a single trim. Errors are already logged by the store.
func (t *Trimmer) TrimOnce(ctx context.Context) {
	_, _ = t.store.Trim(ctx, t.retention)
}
