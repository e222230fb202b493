package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ble-sensors.klederson.com/internal/sensor"
)

// Sink receives every normalized reading after it has been stored.
type Sink interface {
	Publish(ctx context.Context, r sensor.Reading) error
	Close() error
}

// ReadingMessage is the wire form of a reading sent to external systems.
type ReadingMessage struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	MAC         string    `json:"mac"`
	Name        string    `json:"name"`
	CapturedAt  time.Time `json:"captured_at"`
	Temperature float64   `json:"temperature"`
	Unit        string    `json:"unit"`
	Humidity    float64   `json:"humidity"`
	Pressure    float64   `json:"pressure"`
	BatteryMV   int       `json:"battery_mv"`
	TxPower     int       `json:"tx_power"`
	RSSI        int       `json:"rssi"`
}

// NewMessage wraps r with a fresh message id. source identifies the
// publishing pipeline.
func NewMessage(r sensor.Reading, unit sensor.TemperatureFormat, source string) ReadingMessage {
	return ReadingMessage{
		ID:          uuid.NewString(),
		Source:      source,
		MAC:         r.MAC,
		Name:        r.DisplayName(),
		CapturedAt:  r.CapturedAt.UTC(),
		Temperature: r.Temperature,
		Unit:        string(unit),
		Humidity:    r.Humidity,
		Pressure:    r.Pressure,
		BatteryMV:   r.BatteryMV,
		TxPower:     r.TxPower,
		RSSI:        r.RSSI,
	}
}

// Encode marshals the message as JSON.
func (m ReadingMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reading: %w", err)
	}
	return data, nil
}
