package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerDisabledIsUsableNoop(t *testing.T) {
	m, err := NewManager(context.Background(), &Config{})
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.False(t, m.TracingEnabled())
	assert.False(t, m.MetricsEnabled())
	assert.Nil(t, m.Metrics())

	// Unconditional recording on a nil *Metrics must not panic.
	m.Metrics().RecordAgentCall("TechnicalAgent", "individual", 0)

	require.NoError(t, m.Shutdown(context.Background()))
}

func TestNewManagerMetricsEnabledExposesHandler(t *testing.T) {
	m, err := NewManager(context.Background(), &Config{
		Metrics: MetricsConfig{Enabled: true, Namespace: "chatsg_test"},
	})
	require.NoError(t, err)
	require.True(t, m.MetricsEnabled())
	require.NotNil(t, m.Metrics())

	m.Metrics().RecordAgentCall("TechnicalAgent", "individual", 0)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.MetricsHandler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "chatsg_test_agent_calls_total")
}

func TestNewManagerRejectsInvalidConfig(t *testing.T) {
	_, err := NewManager(context.Background(), &Config{
		Tracing: TracingConfig{Enabled: true, SamplingRate: 2.5},
	})
	require.Error(t, err)
}

func TestGetTracerNeverReturnsNil(t *testing.T) {
	tracer := GetTracer("chatsg.test")
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "noop-span")
	defer span.End()
	assert.NotNil(t, span)
}
