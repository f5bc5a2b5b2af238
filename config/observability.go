package config

import "strings"

// ObservabilityConfig groups metrics configuration.
type ObservabilityConfig struct {
	Metrics MetricsConfig
}

// MetricsConfig contains StatsD metrics configuration.
type MetricsConfig struct {
	// Enabled toggles metric emission.
	Enabled bool `env:"METRICS_ENABLED" envDefault:"false"`

	// StatsdAddress is the UDP host:port of the StatsD sink.
	StatsdAddress string `env:"METRICS_STATSD_ADDRESS" envDefault:""`

	// Prefix is prepended to every metric name.
	Prefix string `env:"METRICS_PREFIX" envDefault:"imagemill"`
}

// IsEnabled reports whether metrics should be emitted.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled && strings.TrimSpace(m.StatsdAddress) != ""
}

// Sanitize applies guardrails to observability configuration values.
func (o *ObservabilityConfig) Sanitize() {
	if strings.TrimSpace(o.Metrics.Prefix) == "" {
		o.Metrics.Prefix = "imagemill"
	}
}
