package sensor

import "time"

// RawFields is the per-broadcast field mapping produced by a data source.
// Keys follow the Ruuvi naming, values are any numeric kind or a numeric
// string.
type RawFields map[string]any

// Well-known RawFields keys.
const (
	FieldDataFormat      = "data_format"
	FieldTemperature     = "temperature"
	FieldHumidity        = "humidity"
	FieldPressure        = "pressure"
	FieldAcceleration    = "acceleration"
	FieldAccelerationX   = "acceleration_x"
	FieldAccelerationY   = "acceleration_y"
	FieldAccelerationZ   = "acceleration_z"
	FieldTxPower         = "tx_power"
	FieldBattery         = "battery"
	FieldMovementCounter = "movement_counter"
	FieldSequenceNumber  = "measurement_sequence_number"
	FieldRSSI            = "rssi"
	FieldMAC             = "mac"
)

// Acceleration is the per-axis acceleration in milli-g.
type Acceleration struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Reading is one normalized sample from one sensor. It is a value type;
// Extra is never modified once the reading is built.
type Reading struct {
	MAC               string       `json:"mac"`
	Name              string       `json:"name"`
	CapturedAt        time.Time    `json:"captured_at"`
	DataFormat        int          `json:"data_format"`
	Temperature       float64      `json:"temperature"`
	Humidity          float64      `json:"humidity"`
	Pressure          float64      `json:"pressure"`
	BatteryMV         int          `json:"battery"`
	TxPower           int          `json:"tx_power"`
	Acceleration      Acceleration `json:"acceleration"`
	AccelerationTotal float64      `json:"acceleration_total"`
	MovementCounter   int          `json:"movement_counter"`
	SequenceNumber    int          `json:"measurement_sequence_number"`
	RSSI              int          `json:"rssi"`
	Extra             RawFields    `json:"extra,omitempty"`
}

// DisplayName returns the name, or the MAC when no name is known.
func (r Reading) DisplayName() string {
	if r.Name == "" {
		return r.MAC
	}
	return r.Name
}

// Age returns how long ago the reading was captured.
func (r Reading) Age(now time.Time) time.Duration {
	return now.Sub(r.CapturedAt)
}
