package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	gormlogger "gorm.io/gorm/logger"

	"ble-sensors.klederson.com/internal/config"
)

// New builds the process logger. Output goes to the configured log file and,
// when enabled, to stderr as well. The returned close func releases the file.
func New(cfg config.LoggingConfig) (*logrus.Logger, func() error, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger.SetLevel(level)

	var writers []io.Writer
	closeFn := func() error { return nil }

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
		closeFn = f.Close
	}
	if cfg.LogToConsole || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}
	logger.SetOutput(io.MultiWriter(writers...))

	return logger, closeFn, nil
}

// Discard returns a logger that drops everything. Used by tests and one-shot
// commands that report on stdout.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Gorm adapts logger for gorm so SQL warnings and slow queries land in the
// same log as everything else.
func Gorm(logger *logrus.Logger) gormlogger.Interface {
	level := gormlogger.Warn
	if logger.IsLevelEnabled(logrus.TraceLevel) {
		level = gormlogger.Info
	}
	return gormlogger.New(
		log.New(logger.WithField("component", "gorm").WriterLevel(logrus.WarnLevel), "", 0),
		gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}
