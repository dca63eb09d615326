package config

import "time"

// TimeoutConfig holds timeout settings for various operations.
// These can be configured via CLI flags to tune performance for different environments.
type TimeoutConfig struct {
	// DBConnect bounds the initial connection attempt to the store.
	// Default: 60s
	DBConnect time.Duration

	// HTTPRead is the timeout for reading a request body.
	// Default: 15s
	HTTPRead time.Duration

	// HTTPIdle is how long keep-alive connections wait between requests.
	// Default: 120s
	HTTPIdle time.Duration

	// Request bounds the handling of a single API request, including its commit.
	// Default: 30s
	Request time.Duration
}

// DefaultTimeoutConfig returns the default timeout configuration
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		DBConnect: 60 * time.Second,
		HTTPRead:  15 * time.Second,
		HTTPIdle:  120 * time.Second,
		Request:   30 * time.Second,
	}
}

// global instance that can be set at startup
var globalTimeouts = DefaultTimeoutConfig()

// SetGlobalTimeouts sets the global timeout configuration
func SetGlobalTimeouts(cfg *TimeoutConfig) {
	globalTimeouts = cfg
}

// GetTimeouts returns the global timeout configuration
func GetTimeouts() *TimeoutConfig {
	return globalTimeouts
}
