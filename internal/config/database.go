package config

import (
	"fmt"
	"strings"
)

// DatabaseConfig holds all database configuration
type DatabaseConfig struct {
	Driver         string         `yaml:"driver"`
	TimeoutSeconds int            `yaml:"timeout_seconds"`
	MySQL          MySQLConfig    `yaml:"mysql"`
	PostgreSQL     PostgresConfig `yaml:"postgres"`
	SQLite         SQLiteConfig   `yaml:"sqlite"`
	ConnectionPool PoolConfig     `yaml:"connection_pool"`
}

// MySQLConfig holds MySQL specific configuration
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

// PostgresConfig holds PostgreSQL specific configuration
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// SQLiteConfig holds SQLite specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PoolConfig holds connection pool configuration. Zero idle connections means
// every store operation opens its own connection and releases it afterwards.
type PoolConfig struct {
	MaxIdleConns    int `yaml:"max_idle_conns"`
	MaxOpenConns    int `yaml:"max_open_conns"`
	ConnMaxLifetime int `yaml:"conn_max_lifetime"`
}

func (d *DatabaseConfig) applyDefaults() {
	if d.Driver == "" {
		d.Driver = "sqlite"
	}
	d.Driver = strings.ToLower(d.Driver)
	if d.TimeoutSeconds <= 0 {
		d.TimeoutSeconds = 5
	}
	if d.SQLite.Path == "" {
		d.SQLite.Path = "sensors.db"
	}
	if d.MySQL.Port == 0 {
		d.MySQL.Port = 3306
	}
	if d.PostgreSQL.Port == 0 {
		d.PostgreSQL.Port = 5432
	}
	if d.PostgreSQL.SSLMode == "" {
		d.PostgreSQL.SSLMode = "disable"
	}
}

// Validate checks the settings required by the selected driver.
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case "mysql":
		if d.MySQL.Host == "" {
			return fmt.Errorf("mysql host is required")
		}
		if d.MySQL.DBName == "" {
			return fmt.Errorf("mysql database name is required")
		}
	case "postgres":
		if d.PostgreSQL.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if d.PostgreSQL.DBName == "" {
			return fmt.Errorf("postgres database name is required")
		}
	case "sqlite":
		if d.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", d.Driver)
	}
	return nil
}

// DSN returns the connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "mysql":
		m := d.MySQL
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=UTC&timeout=%ds",
			m.User, m.Password, m.Host, m.Port, m.DBName, d.TimeoutSeconds)
	case "postgres":
		pg := d.PostgreSQL
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
			pg.Host, pg.Port, pg.User, pg.Password, pg.DBName, pg.SSLMode, d.TimeoutSeconds)
	case "sqlite":
		return fmt.Sprintf("file:%s?_foreign_keys=1&_busy_timeout=%d", d.SQLite.Path, d.TimeoutSeconds*1000)
	default:
		return ""
	}
}
