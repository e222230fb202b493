package history

import (
	"time"
)

// DataTimeLayout is the textual layout of SensorData.data_time. Values are
// written in UTC so lexical order matches chronological order.
const DataTimeLayout = "2006-01-02 15:04:05.000000"

// dataTimeParseLayout also accepts rows written without fractional seconds.
const dataTimeParseLayout = "2006-01-02 15:04:05"

// Sensor is one registered device.
type Sensor struct {
	ID   int64  `gorm:"primaryKey" json:"id"`
	MAC  string `gorm:"column:mac;uniqueIndex;size:32;not null" json:"mac"`
	Name string `gorm:"size:128" json:"name"`

	// Associations
	Data []SensorData `gorm:"foreignKey:SensorID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Sensor) TableName() string { return "Sensors" }

// SensorData is one stored reading.
type SensorData struct {
	ID          int64   `gorm:"primaryKey"`
	SensorID    int64   `gorm:"index;not null"`
	Format      int     `gorm:"column:format"`
	Temperature float64 `gorm:"column:temperature"`
	Humidity    float64 `gorm:"column:humidity"`
	Pressure    float64 `gorm:"column:pressure"`
	TxPower     int     `gorm:"column:tx_power"`
	Battery     int     `gorm:"column:battery"`
	DataTime    string  `gorm:"column:data_time;size:32;index"`
}

func (SensorData) TableName() string { return "SensorData" }

// Point is one history sample returned to presentation code.
type Point struct {
	Temperature float64       `json:"temperature"`
	Humidity    float64       `json:"humidity"`
	CapturedAt  time.Time     `json:"captured_at"`
	Elapsed     time.Duration `json:"-"`
}

// ElapsedHours is the time since the first point of the series, in hours.
func (p Point) ElapsedHours() float64 {
	return p.Elapsed.Hours()
}

// FormatDataTime renders t in the stored data_time layout.
func FormatDataTime(t time.Time) string {
	return t.UTC().Format(DataTimeLayout)
}

// ParseDataTime parses a stored data_time value, with or without fractional
// seconds.
func ParseDataTime(s string) (time.Time, error) {
	return time.ParseInLocation(dataTimeParseLayout, s, time.UTC)
}
