package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Supported store drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Environment variable names recognized by Load
const (
	EnvPostgresUser     = "POSTGRES_USER"
	EnvPostgresPassword = "POSTGRES_PASSWORD"
	EnvPostgresDB       = "POSTGRES_DB"
	EnvPostgresHost     = "POSTGRES_HOST"
	EnvPostgresPort     = "POSTGRES_PORT"
	EnvSecretKey        = "SECRET_KEY"
	EnvDriver           = "DB_DRIVER"
	EnvDBPath           = "DB_PATH"
	EnvMaxOpenConns     = "DB_MAX_OPEN_CONNS"
	EnvMaxIdleConns     = "DB_MAX_IDLE_CONNS"
	EnvConnectTimeout   = "DB_CONNECT_TIMEOUT"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFile          = "LOG_FILE"
	EnvTaxonomy         = "TAXONOMY_PATH"
	EnvPort             = "PORT"
	EnvWebhookURL       = "NOTIFY_WEBHOOK_URL"
	EnvWebhookHeaders   = "NOTIFY_WEBHOOK_HEADERS"
	EnvWebhookBody      = "NOTIFY_WEBHOOK_BODY"
)

// Config is the process configuration assembled from the environment.
type Config struct {
	Database  DatabaseConfig
	SecretKey string
	LogLevel  string
	LogFile   string
	// Taxonomy is a category seed file; empty selects the bundled one.
	Taxonomy string
	Port     int
	Notify   NotifyConfig
}

// NotifyConfig describes where account messages are delivered. An empty
// WebhookURL disables delivery.
type NotifyConfig struct {
	WebhookURL string
	// WebhookHeaders is a list of "key:value" pairs separated by ';' or newlines.
	WebhookHeaders string
	// WebhookBody is a text/template for the request body.
	WebhookBody string
}

// DatabaseConfig describes how to reach the relational store.
type DatabaseConfig struct {
	Driver string

	// PostgreSQL
	User     string
	Password string
	Host     string
	Port     int
	Name     string
	SSLMode  string

	// SQLite
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// MissingError lists required settings that were not provided.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Keys, ", "))
}

// Load reads the configuration from env. A missing required option is
// returned as a *MissingError and must be treated as fatal.
func Load(env EnvGetter) (*Config, error) {
	l := NewLoader(env)
	var missing []string

	require := func(key string) string {
		val, ok := l.Required(key)
		if !ok {
			missing = append(missing, key)
		}
		return val
	}

	cfg := &Config{
		LogLevel: l.String(EnvLogLevel, "info"),
		LogFile:  l.String(EnvLogFile, ""),
		Taxonomy: l.String(EnvTaxonomy, ""),
		Port:     l.Int(EnvPort, 8000),
		Notify: NotifyConfig{
			WebhookURL:     l.String(EnvWebhookURL, ""),
			WebhookHeaders: l.String(EnvWebhookHeaders, ""),
			WebhookBody:    l.String(EnvWebhookBody, ""),
		},
	}
	cfg.SecretKey = require(EnvSecretKey)

	db := DatabaseConfig{
		Driver:          strings.ToLower(l.String(EnvDriver, DriverPostgres)),
		MaxOpenConns:    l.Int(EnvMaxOpenConns, 10),
		MaxIdleConns:    l.Int(EnvMaxIdleConns, 5),
		ConnMaxLifetime: time.Hour,
		ConnectTimeout:  l.Duration(EnvConnectTimeout, GetTimeouts().DBConnect),
	}

	switch db.Driver {
	case DriverPostgres:
		db.User = require(EnvPostgresUser)
		db.Password = require(EnvPostgresPassword)
		db.Name = require(EnvPostgresDB)
		// The database and its host share a name in the compose setup.
		db.Host = l.String(EnvPostgresHost, db.Name)
		db.Port = l.Int(EnvPostgresPort, 5432)
		db.SSLMode = l.String("POSTGRES_SSLMODE", "disable")
	case DriverSQLite:
		db.Path = l.String(EnvDBPath, "./quicksell.db")
	default:
		return nil, fmt.Errorf("unsupported %s %q", EnvDriver, db.Driver)
	}
	cfg.Database = db

	if len(missing) > 0 {
		return nil, &MissingError{Keys: missing}
	}
	return cfg, nil
}

// IsMissing reports whether err was caused by absent required settings.
func IsMissing(err error) bool {
	var me *MissingError
	return errors.As(err, &me)
}
