package instrumentation

import "os"

// Config holds the configuration for instrumentation.
type Config struct {
	// ServiceName is the otel service name (default: mailgrant).
	ServiceName string

	// ServiceVersion is the running build's version string.
	ServiceVersion string

	// Enabled determines if metrics collection is active (default: true).
	// Set INSTRUMENTATION_ENABLED=false to disable.
	Enabled bool
}

// DefaultConfig returns a Config with defaults taken from the environment.
func DefaultConfig() Config {
	return Config{
		ServiceName:    getEnvOrDefault("OTEL_SERVICE_NAME", "mailgrant"),
		ServiceVersion: "unknown",
		Enabled:        os.Getenv("INSTRUMENTATION_ENABLED") != "false",
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
