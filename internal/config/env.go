package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const envPrefix = "BLE_SENSORS_"

// applyEnv overlays BLE_SENSORS_* variables on values read from the file.
// A .env file in the working directory is loaded first if present.
func applyEnv(cfg *Config) {
	_ = godotenv.Load()

	cfg.TemperatureFormat = getEnv("TEMPERATURE_FORMAT", cfg.TemperatureFormat)
	cfg.UseTestData = getEnvAsBool("USE_TEST_DATA", cfg.UseTestData)
	cfg.UpdateIntervalSecs = getEnvAsInt("UPDATE_INTERVAL_SECONDS", cfg.UpdateIntervalSecs)

	cfg.Logging.LogLevel = getEnv("LOG_LEVEL", cfg.Logging.LogLevel)
	cfg.Logging.LogFile = getEnv("LOG_FILE", cfg.Logging.LogFile)

	cfg.Database.Driver = getEnv("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.SQLite.Path = getEnv("DB_PATH", cfg.Database.SQLite.Path)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.Publish.Kafka.Brokers = strings.Split(brokers, ",")
		cfg.Publish.Kafka.Enabled = true
	}
	if addr := getEnv("REDIS_ADDR", ""); addr != "" {
		cfg.Publish.Redis.Addr = addr
		cfg.Publish.Redis.Enabled = true
	}
	cfg.Publish.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Publish.Redis.Password)

	cfg.Push.PublicKey = getEnv("VAPID_PUBLIC_KEY", cfg.Push.PublicKey)
	cfg.Push.PrivateKey = getEnv("VAPID_PRIVATE_KEY", cfg.Push.PrivateKey)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
