package config

// TelemetryConfig holds OTLP tracing configuration.
//
// Traces are exported over OTLP/HTTP to a local collector.
// See internal/observability/tracing.go for setup.
type TelemetryConfig struct {
	// Endpoint is the OTLP/HTTP collector endpoint (default: localhost:4318)
	Endpoint string `mapstructure:"endpoint"`
	// Environment is the deployment environment tag (default: dev)
	Environment string `mapstructure:"environment"`
	// ServiceName is the reported service name (default: taxpilot)
	ServiceName string `mapstructure:"service_name"`
}
