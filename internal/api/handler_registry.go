package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"ble-sensors.klederson.com/internal/history"
)

// GetRegistry handles GET /api/registry.
func (h *Handler) GetRegistry(c *gin.Context) {
	sensors, err := h.store.ListSensors(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to list sensors"})
		return
	}
	if sensors == nil {
		sensors = []history.Sensor{}
	}
	c.JSON(http.StatusOK, sensors)
}

type renameRequest struct {
	Name string `json:"name" binding:"required"`
}

// RenameSensor handles PUT /api/registry/:id.
func (h *Handler) RenameSensor(c *gin.Context) {
	id, ok := sensorID(c)
	if !ok {
		return
	}

	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	name := strings.TrimSpace(req.Name)

	ctx := c.Request.Context()
	if err := h.store.RenameSensor(ctx, id, name); err != nil {
		abortStoreError(c, err)
		return
	}

	s, err := h.store.SensorByID(ctx, id)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	if h.names != nil {
		h.names.Set(s.MAC, name)
	}
	h.flushHistoryCache()
	h.log.WithField("mac", s.MAC).WithField("name", name).Info("renamed sensor")
	c.JSON(http.StatusOK, s)
}

// DeleteSensor handles DELETE /api/registry/:id. The sensor's history goes
// with it.
func (h *Handler) DeleteSensor(c *gin.Context) {
	id, ok := sensorID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	s, err := h.store.SensorByID(ctx, id)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	if err := h.store.DeleteSensor(ctx, id); err != nil {
		abortStoreError(c, err)
		return
	}
	if h.names != nil {
		h.names.Delete(s.MAC)
	}
	h.table.Delete(s.MAC)
	h.flushHistoryCache()
	c.Status(http.StatusNoContent)
}

func sensorID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid sensor ID"})
		return 0, false
	}
	return id, true
}

func abortStoreError(c *gin.Context, err error) {
	if errors.Is(err, history.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "sensor not found"})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "database error"})
}
