package publish

import (
	"time"

	"github.com/sirupsen/logrus"

	"ble-sensors.klederson.com/internal/config"
	"ble-sensors.klederson.com/internal/sensor"
)

// FromConfig builds the sinks enabled in cfg. It never fails; misconfigured
// brokers surface as publish errors at runtime.
func FromConfig(cfg config.PublishConfig, unit sensor.TemperatureFormat, source string, logger *logrus.Logger) []Sink {
	log := logger.WithField("component", "publish")
	var sinks []Sink

	if cfg.Kafka.Enabled {
		log.WithFields(logrus.Fields{
			"brokers": cfg.Kafka.Brokers,
			"topic":   cfg.Kafka.Topic,
		}).Info("publishing readings to kafka")
		sinks = append(sinks, NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, unit, source))
	}

	if cfg.Redis.Enabled {
		ttl := time.Duration(cfg.Redis.TTLSeconds) * time.Second
		log.WithFields(logrus.Fields{
			"addr": cfg.Redis.Addr,
			"ttl":  ttl.String(),
		}).Info("mirroring latest readings to redis")
		sinks = append(sinks, NewRedisSink(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, ttl, unit, source))
	}

	return sinks
}
