package sensor

import "time"

// Status is the alert state of a sensor derived from its latest reading.
type Status int

const (
	StatusNormal Status = iota
	StatusOffline
	StatusLowBattery
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusLowBattery:
		return "low_battery"
	default:
		return "normal"
	}
}

// Thresholds configures Evaluate.
type Thresholds struct {
	OfflineAfter time.Duration
	LowBatteryMV int
}

// Evaluate classifies r at time now. A battery reading of zero means the
// source did not report one and never counts as low. Low battery wins over
// offline.
func Evaluate(r Reading, now time.Time, t Thresholds) Status {
	if t.LowBatteryMV > 0 && r.BatteryMV > 0 && r.BatteryMV <= t.LowBatteryMV {
		return StatusLowBattery
	}
	if t.OfflineAfter > 0 && r.Age(now) >= t.OfflineAfter {
		return StatusOffline
	}
	return StatusNormal
}
