package config

// Observability configures trace export. Tracing is off when TracingURL
// is empty.
type Observability struct {
	ServiceName string `mapstructure:"service_name"`
	TracingURL  string `mapstructure:"tracing_url"`
	MetricsURL  string `mapstructure:"metrics_url"`
}
