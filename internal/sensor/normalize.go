package sensor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingField   = errors.New("missing field")
	ErrMalformedField = errors.New("malformed field")
)

// TemperatureFormat selects the unit temperatures are reported in.
type TemperatureFormat string

const (
	Celsius    TemperatureFormat = "C"
	Fahrenheit TemperatureFormat = "F"
)

// ParseTemperatureFormat accepts "c"/"f" in any case. Anything else is Celsius,
// which leaves the source value untouched.
func ParseTemperatureFormat(s string) TemperatureFormat {
	if strings.EqualFold(strings.TrimSpace(s), "F") {
		return Fahrenheit
	}
	return Celsius
}

// Suffix returns the unit suffix for display, e.g. "°F".
func (f TemperatureFormat) Suffix() string {
	return "°" + string(f)
}

// ToFahrenheit converts degrees Celsius to degrees Fahrenheit.
func ToFahrenheit(c float64) float64 {
	return 32 + c*1.8
}

// Normalize builds a Reading from one raw broadcast. The identity is copied
// as given and receivedAt becomes the capture time. Temperature and humidity
// are required; every other known field defaults to zero when absent, and
// unknown fields are kept in Extra.
func Normalize(identity string, raw RawFields, names NameLookup, format TemperatureFormat, receivedAt time.Time) (Reading, error) {
	r := Reading{
		MAC:        identity,
		Name:       identity,
		CapturedAt: receivedAt,
	}
	if names != nil {
		if name, ok := names.Lookup(identity); ok && name != "" {
			r.Name = name
		}
	}

	temp, err := requireFloat(raw, FieldTemperature)
	if err != nil {
		return Reading{}, err
	}
	if strings.EqualFold(string(format), string(Fahrenheit)) {
		temp = ToFahrenheit(temp)
	}
	r.Temperature = temp

	if r.Humidity, err = requireFloat(raw, FieldHumidity); err != nil {
		return Reading{}, err
	}

	ints := []struct {
		key string
		dst *int
	}{
		{FieldDataFormat, &r.DataFormat},
		{FieldBattery, &r.BatteryMV},
		{FieldTxPower, &r.TxPower},
		{FieldAccelerationX, &r.Acceleration.X},
		{FieldAccelerationY, &r.Acceleration.Y},
		{FieldAccelerationZ, &r.Acceleration.Z},
		{FieldMovementCounter, &r.MovementCounter},
		{FieldSequenceNumber, &r.SequenceNumber},
		{FieldRSSI, &r.RSSI},
	}
	for _, f := range ints {
		v, ok, err := optionalFloat(raw, f.key)
		if err != nil {
			return Reading{}, err
		}
		if ok {
			*f.dst = int(math.Round(v))
		}
	}

	if v, ok, err := optionalFloat(raw, FieldPressure); err != nil {
		return Reading{}, err
	} else if ok {
		r.Pressure = v
	}
	if v, ok, err := optionalFloat(raw, FieldAcceleration); err != nil {
		return Reading{}, err
	} else if ok {
		r.AccelerationTotal = v
	}

	for k, v := range raw {
		if knownField(k) {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(RawFields)
		}
		r.Extra[k] = v
	}

	return r, nil
}

// Normalizer binds the name registry, temperature unit and clock used by the
// ingestion pipeline.
type Normalizer struct {
	names  NameLookup
	format TemperatureFormat
	now    func() time.Time
}

// NewNormalizer creates a Normalizer using the wall clock.
func NewNormalizer(names NameLookup, format TemperatureFormat) *Normalizer {
	return &Normalizer{names: names, format: format, now: time.Now}
}

// WithClock replaces the clock, mainly for tests.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// Format returns the temperature unit readings are produced in.
func (n *Normalizer) Format() TemperatureFormat {
	return n.format
}

// Normalize normalizes one broadcast received now.
func (n *Normalizer) Normalize(identity string, raw RawFields) (Reading, error) {
	return Normalize(identity, raw, n.names, n.format, n.now())
}

func knownField(k string) bool {
	switch k {
	case FieldDataFormat, FieldTemperature, FieldHumidity, FieldPressure,
		FieldAcceleration, FieldAccelerationX, FieldAccelerationY, FieldAccelerationZ,
		FieldTxPower, FieldBattery, FieldMovementCounter, FieldSequenceNumber, FieldRSSI:
		return true
	}
	return false
}

func requireFloat(raw RawFields, key string) (float64, error) {
	v, ok, err := optionalFloat(raw, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	return v, nil
}

func optionalFloat(raw RawFields, key string) (float64, bool, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: %v", ErrMalformedField, key, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, fmt.Errorf("%w: %s: not a finite number", ErrMalformedField, key)
	}
	return f, true, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	case interface{ Float64() (float64, error) }:
		return n.Float64()
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
