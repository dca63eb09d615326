package config

import (
	"os"
	"strconv"
	"time"
)

// EnvGetter is an interface for retrieving raw configuration values
type EnvGetter interface {
	Getenv(key string) string
}

// OSEnv reads configuration from the process environment
type OSEnv struct{}

// Getenv returns the environment variable named by key
func (OSEnv) Getenv(key string) string {
	return os.Getenv(key)
}

// MapEnv is an in-memory EnvGetter, mostly useful in tests
type MapEnv map[string]string

// Getenv returns the value stored under key
func (m MapEnv) Getenv(key string) string {
	return m[key]
}

// Loader provides typed access to settings with default values
type Loader struct {
	env EnvGetter
}

// NewLoader creates a new settings loader
func NewLoader(env EnvGetter) *Loader {
	if env == nil {
		env = OSEnv{}
	}
	return &Loader{env: env}
}

// Int retrieves an integer setting, returning defaultVal if not found or invalid
func (l *Loader) Int(key string, defaultVal int) int {
	if val := l.env.Getenv(key); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			return v
		}
	}
	return defaultVal
}

// Bool retrieves a boolean setting, returning defaultVal if not found
// Recognizes "true" and "1" as true, anything else as false
func (l *Loader) Bool(key string, defaultVal bool) bool {
	if val := l.env.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

// String retrieves a string setting, returning defaultVal if not found or empty
func (l *Loader) String(key, defaultVal string) string {
	if val := l.env.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Duration retrieves a duration setting, returning defaultVal if not found or invalid
// Expects the value to be in Go duration format (e.g., "1h30m", "5s")
func (l *Loader) Duration(key string, defaultVal time.Duration) time.Duration {
	if val := l.env.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Required retrieves a setting that has no default.
// The second return value is false when the setting is missing.
func (l *Loader) Required(key string) (string, bool) {
	val := l.env.Getenv(key)
	return val, val != ""
}
