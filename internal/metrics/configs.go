package metrics

// DefaultMetricsAddress is used when no address is configured.
const DefaultMetricsAddress = ":9090"

// Config controls the Prometheus metrics server.
type Config struct {
	// Enabled starts the /metrics server. Collectors are registered either way
	// so instrumentation never has to check.
	Enabled bool

	// Address the metrics server listens on, e.g. ":9090".
	Address string

	// EnableDefaultCollectors registers Go runtime, process and build info
	// collectors.
	EnableDefaultCollectors bool

	// ServiceName is attached to every metric as the "service" label.
	ServiceName string
}
