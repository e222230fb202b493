package bluetooth

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"ble-sensors.klederson.com/internal/config"
	"ble-sensors.klederson.com/internal/sensor"
)

var mockSensorNames = []string{
	"Living Room", "Kitchen", "Bedroom", "Garage", "Attic", "Basement",
	"Freezer", "Fridge", "Greenhouse", "Porch", "Office", "Nursery",
	"Sauna", "Wine Cellar", "Shed",
}

type mockSensor struct {
	mac      string
	name     string
	baseTemp float64
	phase    float64
	humidity float64
	pressure float64
	battery  float64
	movement int
	sequence int
	accel    [3]int
	txPower  int
	rssi     float64
}

// MockScanner generates synthetic Ruuvi-style broadcasts for demo mode. Each
// tick updates one randomly chosen sensor.
type MockScanner struct {
	sensors  []mockSensor
	interval time.Duration
	rng      *rand.Rand
	started  time.Time
}

// NewMockScanner creates a generator for the given MACs. When macs is empty
// it invents between DemoDeviceMin and DemoDeviceMax sensors.
func NewMockScanner(macs []string, interval time.Duration) *MockScanner {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if interval <= 0 {
		interval = config.MockInterval
	}

	var invented bool
	if len(macs) == 0 {
		invented = true
		n := config.DemoDeviceMin + rng.Intn(config.DemoDeviceMax-config.DemoDeviceMin+1)
		for i := 0; i < n; i++ {
			macs = append(macs, randomMAC(rng))
		}
	} else {
		macs = append([]string(nil), macs...)
		sort.Strings(macs)
	}

	perm := rng.Perm(len(mockSensorNames))
	sensors := make([]mockSensor, len(macs))
	for i, mac := range macs {
		ms := mockSensor{
			mac:      sensor.CanonicalMAC(mac),
			baseTemp: 15 + rng.Float64()*12, // 15-27 °C
			phase:    rng.Float64() * 2 * math.Pi,
			humidity: 35 + rng.Float64()*30,
			pressure: 995 + rng.Float64()*30,
			battery:  2400 + rng.Float64()*800,
			movement: rng.Intn(100),
			sequence: rng.Intn(60000),
			accel:    [3]int{rng.Intn(40) - 20, rng.Intn(40) - 20, 1000 + rng.Intn(40)},
			txPower:  4,
			rssi:     -50 - rng.Float64()*40,
		}
		if invented {
			ms.name = mockSensorNames[perm[i%len(perm)]]
		}
		sensors[i] = ms
	}

	return &MockScanner{
		sensors:  sensors,
		interval: interval,
		rng:      rng,
		started:  time.Now(),
	}
}

// Names returns display names for invented sensors so demo mode has
// something friendlier than MACs to show.
func (s *MockScanner) Names() map[string]string {
	names := make(map[string]string)
	for _, ms := range s.sensors {
		if ms.name != "" {
			names[ms.mac] = ms.name
		}
	}
	return names
}

// MACs returns the identities this scanner emits.
func (s *MockScanner) MACs() []string {
	macs := make([]string, len(s.sensors))
	for i, ms := range s.sensors {
		macs[i] = ms.mac
	}
	return macs
}

// Scan implements Scanner.
func (s *MockScanner) Scan(ctx context.Context, emit EmitFunc) error {
	if len(s.sensors) == 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ms := &s.sensors[s.rng.Intn(len(s.sensors))]
			emit(ms.mac, s.next(ms))
		}
	}
}

func (s *MockScanner) next(ms *mockSensor) sensor.RawFields {
	t := time.Since(s.started).Minutes()

	// Slow sinusoidal drift plus a little noise
	temp := ms.baseTemp + 2*math.Sin(t/30+ms.phase) + (s.rng.Float64()-0.5)*0.2
	ms.humidity = clamp(ms.humidity+(s.rng.Float64()-0.5)*0.5, 0, 100)
	ms.pressure = clamp(ms.pressure+(s.rng.Float64()-0.5)*0.1, 900, 1100)
	ms.battery = math.Max(1600, ms.battery-s.rng.Float64()*0.05)
	ms.sequence = (ms.sequence + 1) % 65536
	if s.rng.Float64() < 0.02 {
		ms.movement = (ms.movement + 1) % 256
	}
	rssi := ms.rssi + (s.rng.Float64()-0.5)*6

	ax, ay, az := ms.accel[0], ms.accel[1], ms.accel[2]
	return sensor.RawFields{
		sensor.FieldDataFormat:      rawV2Format,
		sensor.FieldTemperature:     round(temp, 2),
		sensor.FieldHumidity:        round(ms.humidity, 2),
		sensor.FieldPressure:        round(ms.pressure, 2),
		sensor.FieldAccelerationX:   ax,
		sensor.FieldAccelerationY:   ay,
		sensor.FieldAccelerationZ:   az,
		sensor.FieldAcceleration:    accelerationTotal(int16(ax), int16(ay), int16(az)),
		sensor.FieldTxPower:         ms.txPower,
		sensor.FieldBattery:         int(ms.battery),
		sensor.FieldMovementCounter: ms.movement,
		sensor.FieldSequenceNumber:  ms.sequence,
		sensor.FieldRSSI:            int(rssi),
		sensor.FieldMAC:             ms.mac,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func randomMAC(rng *rand.Rand) string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = byte(rng.Intn(256))
	}
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[0], b[1], b[2], b[3], b[4], b[5])
}
