package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"ble-sensors.klederson.com/internal/config"
	"ble-sensors.klederson.com/internal/sensor"
)

// EmitFunc receives one decoded broadcast. It may be called from the
// scanner's own goroutine.
type EmitFunc func(identity string, raw sensor.RawFields)

// Scanner is a source of sensor broadcasts. Scan blocks, calling emit for
// every broadcast, until ctx is cancelled or the source fails.
type Scanner interface {
	Scan(ctx context.Context, emit EmitFunc) error
}

// NewScanner picks the synthetic source when test data is requested and the
// Bluetooth adapter otherwise.
func NewScanner(cfg *config.Config, logger *logrus.Logger) Scanner {
	if cfg.UseTestData {
		logger.WithField("component", "scanner").Info("using synthetic sensor data")
		return NewMockScanner(cfg.SensorMACs(), config.MockInterval)
	}
	return NewBLEScanner(logger)
}

// stopRetryInterval paces stop attempts while the adapter has not started
// scanning yet, or while no advertisement arrives to run the callback.
const stopRetryInterval = 100 * time.Millisecond

// radio is the part of *bluetooth.Adapter the scanner drives.
type radio interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// BLEScanner listens for Ruuvi advertisements on the default adapter.
type BLEScanner struct {
	adapter radio
	log     *logrus.Entry

	mu   sync.Mutex
	seen map[uint16]bool
}

// NewBLEScanner creates a scanner on the system's default adapter.
func NewBLEScanner(logger *logrus.Logger) *BLEScanner {
	return &BLEScanner{
		adapter: bluetooth.DefaultAdapter,
		log:     logger.WithField("component", "ble"),
		seen:    make(map[uint16]bool),
	}
}

// ErrAdapter wraps failures to bring up the Bluetooth adapter, usually a
// missing capability.
var ErrAdapter = errors.New("failed to enable BLE adapter")

// Enable turns the adapter on. Scan calls it too; calling it first surfaces
// permission problems before anything else starts.
func (s *BLEScanner) Enable() error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: %v", ErrAdapter, err)
	}
	return nil
}

// Scan implements Scanner. Once ctx is cancelled the scan is stopped from
// the scan callback; a watcher goroutine keeps retrying for as long as the
// adapter rejects the stop, which happens when it has not started scanning
// yet or when no advertisement arrives to run the callback.
func (s *BLEScanner) Scan(ctx context.Context, emit EmitFunc) error {
	if err := s.Enable(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}

	var stopMu sync.Mutex
	stopped := false
	stop := func() bool {
		stopMu.Lock()
		defer stopMu.Unlock()
		if stopped {
			return true
		}
		if err := s.adapter.StopScan(); err != nil {
			s.log.WithError(err).Debug("stop scan not accepted, retrying")
			return false
		}
		stopped = true
		return true
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		ticker := time.NewTicker(stopRetryInterval)
		defer ticker.Stop()
		for !stop() {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()

	s.log.Info("scanning for sensors")
	err := s.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ctx.Err() != nil {
			stop()
			return
		}
		for _, md := range result.ManufacturerData() {
			if md.CompanyID != config.RuuviCompanyID {
				s.noteAdvertiser(md.CompanyID)
				continue
			}
			raw, err := DecodeRuuvi(md.Data)
			if err != nil {
				s.log.WithError(err).WithField("mac", result.Address.String()).Debug("skipping undecodable broadcast")
				continue
			}
			raw[sensor.FieldRSSI] = int(result.RSSI)
			emit(sensor.CanonicalMAC(result.Address.String()), raw)
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble scan stopped: %w", err)
	}
	s.log.Info("scan stopped")
	return nil
}

// noteAdvertiser logs each non-Ruuvi manufacturer once per scanner.
func (s *BLEScanner) noteAdvertiser(companyID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[companyID] {
		return
	}
	s.seen[companyID] = true

	name := LookupManufacturer(companyID)
	if name == "" {
		name = fmt.Sprintf("0x%04X", companyID)
	}
	s.log.WithField("manufacturer", name).Trace("ignoring non-sensor advertiser")
}
