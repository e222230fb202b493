package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"ble-sensors.klederson.com/internal/config"
	"ble-sensors.klederson.com/internal/mw"
)

// NewRouter creates and configures the gin engine serving the API.
func NewRouter(h *Handler, cfg config.HTTPConfig, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.LoggerWithWriter(logger.WithField("component", "http").WriterLevel(logrus.DebugLevel)))
	r.Use(gin.Recovery())

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	h.historyCache = cache.New(ttl, 2*ttl)
	caching := mw.Cache(h.historyCache, ttl)

	api := r.Group("/api")
	api.GET("/health", h.GetHealth)
	api.GET("/ws", h.StreamSensors)

	limited := api.Group("")
	limited.Use(rateLimiter)
	{
		limited.GET("/sensors", h.GetSensors)
		limited.GET("/sensors/:mac/history", caching, h.GetHistory)

		limited.GET("/registry", h.GetRegistry)
		limited.PUT("/registry/:id", h.RenameSensor)
		limited.DELETE("/registry/:id", h.DeleteSensor)
	}

	return r
}
