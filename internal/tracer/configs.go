package tracer

// Config controls span export.
type Config struct {
	// ServiceName is recorded as the service.name resource attribute.
	ServiceName string

	// AppEnv is recorded as deployment.environment.
	AppEnv string

	// EnableExport ships spans over OTLP/HTTP. The endpoint comes from the
	// standard OTEL_EXPORTER_OTLP_* environment variables.
	EnableExport bool
}
