package observability

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// Manager owns the process's tracing and metrics pipelines and
// coordinates their shutdown. One Manager is built per process, in
// the start order the orchestration layer mandates: before the
// session store and everything that might want to emit a span or
// record a metric.
type Manager struct {
	config  *Config
	tracer  *Tracer
	metrics *Metrics
}

// NewManager builds a Manager from Config. Tracing is only
// provisioned when cfg.Tracing.Enabled; metrics only when
// cfg.Metrics.Enabled. A disabled Manager is still safe to use: its
// Tracer() returns a no-op tracer and its Metrics() calls are no-ops.
func NewManager(ctx context.Context, cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate observability config: %w", err)
	}

	m := &Manager{config: cfg}

	if cfg.Tracing.Enabled {
		tracer, err := NewTracer(ctx, &cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("build tracer: %w", err)
		}
		m.tracer = tracer
	}

	metrics, err := NewMetrics(&cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("build metrics: %w", err)
	}
	m.metrics = metrics

	return m, nil
}

// Tracer returns a tracer for starting spans. NewTracer installs the
// provisioned provider process-wide, so this and GetTracer agree
// whether or not tracing is enabled: disabled means OTel's no-op
// implementation.
func (m *Manager) Tracer(name string) trace.Tracer {
	return GetTracer(name)
}

// Metrics returns the Prometheus metrics recorder. It is nil when
// metrics are disabled; every Metrics method is nil-receiver-safe, so
// callers can record unconditionally.
func (m *Manager) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// MetricsHandler exposes the Prometheus scrape endpoint. Safe to mount
// even when metrics are disabled: it answers 503.
func (m *Manager) MetricsHandler() http.Handler {
	return m.Metrics().Handler()
}

// TracingEnabled reports whether a real (non-no-op) tracer provider
// was provisioned.
func (m *Manager) TracingEnabled() bool {
	return m != nil && m.tracer != nil
}

// MetricsEnabled reports whether Prometheus collection was provisioned.
func (m *Manager) MetricsEnabled() bool {
	return m != nil && m.metrics != nil
}

// Shutdown flushes and stops the tracer provider, if one was built.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || m.tracer == nil {
		return nil
	}
	return m.tracer.Shutdown(ctx)
}
