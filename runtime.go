package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ble-sensors.klederson.com/internal/bluetooth"
	"ble-sensors.klederson.com/internal/config"
	"ble-sensors.klederson.com/internal/history"
	"ble-sensors.klederson.com/internal/logging"
	"ble-sensors.klederson.com/internal/notify"
	"ble-sensors.klederson.com/internal/pipeline"
	"ble-sensors.klederson.com/internal/publish"
	"ble-sensors.klederson.com/internal/sensor"
)

// runtime holds what every command needs: configuration, the logger and the
// history store.
type runtime struct {
	cfg      *config.Config
	log      *logrus.Logger
	closeLog func() error
	db       *gorm.DB
	store    *history.Store
}

func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(config.DefaultConfigEnv); env != "" {
		return env
	}
	return config.DefaultConfigPath
}

// openRuntime loads the configuration, sets up logging and opens the
// database. console controls whether log lines also go to stderr; the
// dashboard owns the terminal and logs to the file only.
func openRuntime(configPath string, console, demo bool) (*runtime, error) {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return nil, err
	}
	if demo {
		cfg.UseTestData = true
	}
	cfg.Logging.LogToConsole = console && cfg.Logging.LogToConsole

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	db, err := history.Open(cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Error("failed to open history database")
		_ = closeLog()
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		log:      logger,
		closeLog: closeLog,
		db:       db,
		store:    history.NewStore(db, logger),
	}, nil
}

func (rt *runtime) Close() {
	if err := history.Close(rt.db); err != nil {
		rt.log.WithError(err).Warn("failed to close database")
	}
	_ = rt.closeLog()
}

func (rt *runtime) unit() sensor.TemperatureFormat {
	return sensor.ParseTemperatureFormat(rt.cfg.TemperatureFormat)
}

func (rt *runtime) thresholds() sensor.Thresholds {
	return sensor.Thresholds{
		OfflineAfter: rt.cfg.OfflineTime,
		LowBatteryMV: rt.cfg.LowBatteryThreshold,
	}
}

func (rt *runtime) sourceLabel() string {
	if rt.cfg.UseTestData {
		return "DEMO"
	}
	return "BLE"
}

// ingestion is a running data source with everything hanging off it.
type ingestion struct {
	table    *sensor.Table
	names    *sensor.Names
	pipeline *pipeline.Pipeline

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logrus.Entry
}

// startIngestion seeds the registry, trims expired history, and opens the
// pipeline on the configured data source. Background jobs (trimming, alerts)
// stop with Stop.
func (rt *runtime) startIngestion() (*ingestion, error) {
	ctx, cancel := context.WithCancel(context.Background())
	ing := &ingestion{
		table:  sensor.NewTable(),
		cancel: cancel,
		log:    rt.log.WithField("component", "main"),
	}

	configured := rt.cfg.SensorNames()
	if err := rt.store.SeedSensors(ctx, configured); err != nil {
		ing.log.WithError(err).Warn("some configured sensors could not be registered")
	}

	ing.names = sensor.NewNames(configured)
	if registered, err := rt.store.Names(ctx); err == nil {
		ing.names.Merge(registered)
	}

	source := bluetooth.NewScanner(rt.cfg, rt.log)
	switch s := source.(type) {
	case *bluetooth.MockScanner:
		ing.names.Merge(s.Names())
	case *bluetooth.BLEScanner:
		if err := s.Enable(); err != nil {
			cancel()
			return nil, err
		}
	}

	// Run trims once before waiting for the first interval.
	trimmer := history.NewTrimmer(rt.store, rt.cfg.History.Retention, rt.cfg.History.TrimInterval, rt.log)
	ing.goRun(func() { trimmer.Run(ctx) })

	id := uuid.NewString()
	normalizer := sensor.NewNormalizer(ing.names, rt.unit())
	ing.pipeline = pipeline.New(source, normalizer, ing.table, rt.store, rt.log,
		pipeline.WithID(id),
		pipeline.WithSinks(publish.FromConfig(rt.cfg.Publish, rt.unit(), id, rt.log)...),
		pipeline.WithStoreTimeout(rt.cfg.StoreTimeout),
	)

	if rt.cfg.Push.Enabled() {
		pool := notify.NewWorkerPool(rt.cfg.Push, rt.log)
		pool.Start(ctx)
		monitor := notify.NewMonitor(ing.table, rt.thresholds(), rt.cfg.UpdateInterval, pool, rt.log)
		ing.goRun(func() { monitor.Run(ctx) })
	}

	if err := ing.pipeline.Open(); err != nil {
		ing.Stop()
		return nil, fmt.Errorf("failed to open pipeline: %w", err)
	}
	return ing, nil
}

func (ing *ingestion) goRun(fn func()) {
	ing.wg.Add(1)
	go func() {
		defer ing.wg.Done()
		fn()
	}()
}

// Stop closes the pipeline, waits for background jobs and closes the sinks.
func (ing *ingestion) Stop() {
	var errs []error
	if ing.pipeline != nil {
		errs = append(errs, ing.pipeline.Close())
	}
	ing.cancel()
	ing.wg.Wait()
	if ing.pipeline != nil {
		errs = append(errs, ing.pipeline.CloseSinks())
	}
	if err := errors.Join(errs...); err != nil {
		ing.log.WithError(err).Warn("errors while stopping ingestion")
	}
}
