// Package api exposes the live sensor table and the history store over HTTP.
package api

import (
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"ble-sensors.klederson.com/internal/history"
	"ble-sensors.klederson.com/internal/pipeline"
	"ble-sensors.klederson.com/internal/sensor"
)

// PipelineStatus is the part of the ingestion pipeline reported by the health
// endpoint.
type PipelineStatus interface {
	ID() string
	State() pipeline.State
	Stats() pipeline.Stats
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	table      *sensor.Table
	store      *history.Store
	names      *sensor.Names
	pipeline   PipelineStatus
	unit       sensor.TemperatureFormat
	thresholds sensor.Thresholds
	interval   time.Duration
	log        *logrus.Entry
	now        func() time.Time

	// historyCache backs the cached history route; registry changes flush it.
	historyCache *cache.Cache
}

// Deps lists everything the handlers read from or write to.
type Deps struct {
	Table      *sensor.Table
	Store      *history.Store
	Names      *sensor.Names
	Pipeline   PipelineStatus
	Unit       sensor.TemperatureFormat
	Thresholds sensor.Thresholds
	Interval   time.Duration
}

// NewHandler creates a new API handler.
func NewHandler(d Deps, logger *logrus.Logger) *Handler {
	interval := d.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Handler{
		table:      d.Table,
		store:      d.Store,
		names:      d.Names,
		pipeline:   d.Pipeline,
		unit:       d.Unit,
		thresholds: d.Thresholds,
		interval:   interval,
		log:        logger.WithField("component", "api"),
		now:        time.Now,
	}
}

func (h *Handler) flushHistoryCache() {
	if h.historyCache != nil {
		h.historyCache.Flush()
	}
}
