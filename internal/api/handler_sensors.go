package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ble-sensors.klederson.com/internal/history"
	"ble-sensors.klederson.com/internal/sensor"
)

// sensorResponse is one row of the live table.
type sensorResponse struct {
	sensor.Reading
	Status    string  `json:"status"`
	Unit      string  `json:"unit"`
	AgeSecond float64 `json:"age_seconds"`
}

func (h *Handler) snapshot() []sensorResponse {
	now := h.now()
	readings := h.table.Sorted()
	out := make([]sensorResponse, 0, len(readings))
	for _, r := range readings {
		out = append(out, sensorResponse{
			Reading:   r,
			Status:    sensor.Evaluate(r, now, h.thresholds).String(),
			Unit:      string(h.unit),
			AgeSecond: r.Age(now).Seconds(),
		})
	}
	return out
}

// GetSensors handles GET /api/sensors.
func (h *Handler) GetSensors(c *gin.Context) {
	c.JSON(http.StatusOK, h.snapshot())
}

type pointResponse struct {
	Temperature  float64   `json:"temperature"`
	Humidity     float64   `json:"humidity"`
	CapturedAt   time.Time `json:"captured_at"`
	ElapsedHours float64   `json:"elapsed_hours"`
}

type historyResponse struct {
	MAC    string          `json:"mac"`
	Unit   string          `json:"unit"`
	Points []pointResponse `json:"points"`
}

// GetHistory handles GET /api/sensors/:mac/history. Optional from and to
// query parameters (RFC3339) narrow the range; without them the whole stored
// history is returned.
func (h *Handler) GetHistory(c *gin.Context) {
	mac := sensor.CanonicalMAC(c.Param("mac"))
	if !sensor.IsValidMAC(mac) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid MAC address"})
		return
	}

	fromParam, toParam := c.Query("from"), c.Query("to")

	var points []history.Point
	var err error
	if fromParam == "" && toParam == "" {
		points, err = h.store.HistoryFor(c.Request.Context(), mac, nil)
	} else {
		from, to, perr := parseRange(fromParam, toParam, h.now())
		if perr != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": perr.Error()})
			return
		}
		points, err = h.store.HistoryBetween(c.Request.Context(), mac, from, to)
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	resp := historyResponse{MAC: mac, Unit: string(h.unit), Points: make([]pointResponse, 0, len(points))}
	for _, p := range points {
		resp.Points = append(resp.Points, pointResponse{
			Temperature:  p.Temperature,
			Humidity:     p.Humidity,
			CapturedAt:   p.CapturedAt,
			ElapsedHours: p.ElapsedHours(),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func parseRange(fromParam, toParam string, now time.Time) (time.Time, time.Time, error) {
	from, to := time.Time{}, now
	var err error
	if fromParam != "" {
		if from, err = time.Parse(time.RFC3339, fromParam); err != nil {
			return from, to, errors.New("invalid 'from' timestamp format. Use RFC3339")
		}
	}
	if toParam != "" {
		if to, err = time.Parse(time.RFC3339, toParam); err != nil {
			return from, to, errors.New("invalid 'to' timestamp format. Use RFC3339")
		}
	}
	if to.Before(from) {
		return from, to, errors.New("'to' is before 'from'")
	}
	return from, to, nil
}

// GetHealth handles GET /api/health.
func (h *Handler) GetHealth(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"sensors": h.table.Len(),
	}
	if h.pipeline != nil {
		resp["pipeline"] = gin.H{
			"id":    h.pipeline.ID(),
			"state": h.pipeline.State().String(),
			"stats": h.pipeline.Stats(),
		}
	}

	readings, err := h.store.Count(c.Request.Context())
	if err != nil {
		resp["status"] = "degraded"
		resp["database"] = "unavailable"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	resp["database"] = "ok"
	resp["readings"] = readings
	c.JSON(http.StatusOK, resp)
}
