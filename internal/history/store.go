package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ble-sensors.klederson.com/internal/sensor"
)

// DefaultRetention is how long readings are kept by Trim.
const DefaultRetention = 24 * time.Hour

// progressEvery is how many rows HistoryFor converts between progress calls.
const progressEvery = 100

// ErrNotFound is returned when a sensor id or MAC is not registered.
var ErrNotFound = errors.New("sensor not found")

// ProgressFunc receives stage messages while a long history query runs.
type ProgressFunc func(stage string)

// Store persists sensor registrations and readings. Every method runs in its
// own transaction. Failures are logged and returned; nothing is retried.
type Store struct {
	db  *gorm.DB
	log *logrus.Entry
	now func() time.Time
}

// NewStore creates a Store on an open database.
func NewStore(db *gorm.DB, logger *logrus.Logger) *Store {
	return &Store{
		db:  db,
		log: logger.WithField("component", "history"),
		now: time.Now,
	}
}

func (s *Store) fail(op string, err error, fields logrus.Fields) error {
	s.log.WithFields(fields).WithError(err).Errorf("%s failed", op)
	return fmt.Errorf("%s: %w", op, err)
}

// RegisterOrUpdate ensures a Sensors row exists for mac and carries name.
// Calling it again with the same arguments changes nothing, and the row id
// never changes.
func (s *Store) RegisterOrUpdate(ctx context.Context, mac, name string) (*Sensor, error) {
	var out Sensor
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = registerOrUpdate(tx, mac, name)
		return err
	})
	if err != nil {
		return nil, s.fail("register sensor", err, logrus.Fields{"mac": mac, "name": name})
	}
	return &out, nil
}

func registerOrUpdate(tx *gorm.DB, mac, name string) (Sensor, error) {
	var existing Sensor
	res := tx.Where("mac = ?", mac).Limit(1).Find(&existing)
	if res.Error != nil {
		return Sensor{}, res.Error
	}

	if res.RowsAffected == 0 {
		created := Sensor{MAC: mac, Name: name}
		if err := tx.Create(&created).Error; err != nil {
			return Sensor{}, err
		}
		return created, nil
	}

	if existing.Name != name {
		if err := tx.Model(&Sensor{}).Where("id = ?", existing.ID).Update("name", name).Error; err != nil {
			return Sensor{}, err
		}
		existing.Name = name
	}
	return existing, nil
}

// Append stores one reading. A reading from a MAC that was never registered
// registers it under the reading's display name.
func (s *Store) Append(ctx context.Context, r sensor.Reading) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner Sensor
		res := tx.Where("mac = ?", r.MAC).Limit(1).Find(&owner)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var err error
			if owner, err = registerOrUpdate(tx, r.MAC, r.DisplayName()); err != nil {
				return err
			}
		}

		row := SensorData{
			SensorID:    owner.ID,
			Format:      r.DataFormat,
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
			Pressure:    r.Pressure,
			TxPower:     r.TxPower,
			Battery:     r.BatteryMV,
			DataTime:    FormatDataTime(r.CapturedAt),
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return s.fail("append reading", err, logrus.Fields{"mac": r.MAC})
	}
	return nil
}

// Trim deletes readings older than retention and returns how many rows were
// removed.
func (s *Store) Trim(ctx context.Context, retention time.Duration) (int64, error) {
	start := time.Now()
	cutoff := FormatDataTime(s.now().Add(-retention))

	var deleted, remaining int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("data_time < ?", cutoff).Delete(&SensorData{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return tx.Model(&SensorData{}).Count(&remaining).Error
	})
	if err != nil {
		return 0, s.fail("trim history", err, logrus.Fields{"cutoff": cutoff})
	}

	s.log.WithFields(logrus.Fields{
		"deleted":   deleted,
		"remaining": remaining,
		"cutoff":    cutoff,
		"elapsed":   time.Since(start).String(),
	}).Info("trimmed sensor history")
	return deleted, nil
}

// HistoryFor returns every stored reading of mac in insertion order. An
// unknown MAC yields an empty result. progress, when non-nil, is told about
// each stage and called again every hundred converted rows.
func (s *Store) HistoryFor(ctx context.Context, mac string, progress ProgressFunc) ([]Point, error) {
	report := func(stage string) {
		if progress != nil {
			progress(stage)
		}
	}

	start := time.Now()
	report("querying database")

	rows, err := s.query(ctx, mac, func(tx *gorm.DB) *gorm.DB { return tx })
	if err != nil {
		return nil, s.fail("load history", err, logrus.Fields{"mac": mac})
	}

	report(fmt.Sprintf("processing %d records", len(rows)))
	points := s.toPoints(rows, func(done int) {
		if done%progressEvery == 0 {
			report(fmt.Sprintf("processed %d/%d records", done, len(rows)))
		}
	})
	report("done")

	s.log.WithFields(logrus.Fields{
		"mac":     mac,
		"rows":    len(points),
		"elapsed": time.Since(start).String(),
	}).Debug("loaded sensor history")
	return points, nil
}

// HistoryBetween returns the readings of mac captured within [from, to].
func (s *Store) HistoryBetween(ctx context.Context, mac string, from, to time.Time) ([]Point, error) {
	lo, hi := FormatDataTime(from), FormatDataTime(to)
	rows, err := s.query(ctx, mac, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("data_time >= ? AND data_time <= ?", lo, hi)
	})
	if err != nil {
		return nil, s.fail("load history range", err, logrus.Fields{"mac": mac, "from": lo, "to": hi})
	}
	return s.toPoints(rows, nil), nil
}

func (s *Store) query(ctx context.Context, mac string, scope func(*gorm.DB) *gorm.DB) ([]SensorData, error) {
	var rows []SensorData
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner Sensor
		res := tx.Where("mac = ?", mac).Limit(1).Find(&owner)
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		return scope(tx.Where("sensor_id = ?", owner.ID)).Order("id ASC").Find(&rows).Error
	})
	return rows, err
}

func (s *Store) toPoints(rows []SensorData, tick func(done int)) []Point {
	points := make([]Point, 0, len(rows))
	var first time.Time
	for i, row := range rows {
		at, err := ParseDataTime(row.DataTime)
		if err != nil {
			s.log.WithError(err).WithField("row", row.ID).Warn("skipping row with unreadable data_time")
			continue
		}
		if len(points) == 0 {
			first = at
		}
		points = append(points, Point{
			Temperature: row.Temperature,
			Humidity:    row.Humidity,
			CapturedAt:  at,
			Elapsed:     at.Sub(first),
		})
		if tick != nil {
			tick(i + 1)
		}
	}
	return points
}

// DeleteSensor removes a sensor and all of its readings.
func (s *Store) DeleteSensor(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sensor_id = ?", id).Delete(&SensorData{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&Sensor{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return s.fail("delete sensor", err, logrus.Fields{"id": id})
	}
	s.log.WithField("id", id).Info("deleted sensor")
	return nil
}

// RenameSensor changes the display name of a registered sensor.
func (s *Store) RenameSensor(ctx context.Context, id int64, name string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Sensor{}).Where("id = ?", id).Update("name", name)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&Sensor{}).Where("id = ?", id).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return ErrNotFound
			}
		}
		return nil
	})
	if err != nil {
		return s.fail("rename sensor", err, logrus.Fields{"id": id, "name": name})
	}
	return nil
}

// ListSensors returns all registered sensors ordered by name.
func (s *Store) ListSensors(ctx context.Context) ([]Sensor, error) {
	var sensors []Sensor
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Order("name ASC").Order("mac ASC").Find(&sensors).Error
	})
	if err != nil {
		return nil, s.fail("list sensors", err, nil)
	}
	return sensors, nil
}

// SensorByID looks up a registered sensor by id.
func (s *Store) SensorByID(ctx context.Context, id int64) (*Sensor, error) {
	return s.findSensor(ctx, "id = ?", id)
}

// SensorByMAC looks up a registered sensor by MAC.
func (s *Store) SensorByMAC(ctx context.Context, mac string) (*Sensor, error) {
	return s.findSensor(ctx, "mac = ?", mac)
}

func (s *Store) findSensor(ctx context.Context, where string, arg any) (*Sensor, error) {
	var found Sensor
	var ok bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where(where, arg).Limit(1).Find(&found)
		ok = res.RowsAffected > 0
		return res.Error
	})
	if err != nil {
		return nil, s.fail("find sensor", err, logrus.Fields{"key": arg})
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &found, nil
}

// SeedSensors registers every configured sensor so it is listed before its
// first broadcast arrives.
func (s *Store) SeedSensors(ctx context.Context, names map[string]string) error {
	macs := make([]string, 0, len(names))
	for mac := range names {
		macs = append(macs, mac)
	}
	sort.Strings(macs)

	var errs []error
	for _, mac := range macs {
		if _, err := s.RegisterOrUpdate(ctx, sensor.CanonicalMAC(mac), names[mac]); err != nil {
			errs = append(errs, err)
		}
	}
	s.log.WithField("count", len(macs)).Info("seeded configured sensors")
	return errors.Join(errs...)
}

// Names returns MAC to name for every registered sensor.
func (s *Store) Names(ctx context.Context) (map[string]string, error) {
	sensors, err := s.ListSensors(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(sensors))
	for _, sn := range sensors {
		names[sn.MAC] = sn.Name
	}
	return names, nil
}

// Count returns the number of stored readings.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Model(&SensorData{}).Count(&n).Error
	})
	if err != nil {
		return 0, s.fail("count readings", err, nil)
	}
	return n, nil
}

// Reset deletes every stored reading but keeps the registrations.
func (s *Store) Reset(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where("1 = 1").Delete(&SensorData{}).Error
	})
	if err != nil {
		return s.fail("reset history", err, nil)
	}
	s.log.Info("cleared sensor history")
	return nil
}
