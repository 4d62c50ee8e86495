package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInitDisabled(t *testing.T) {
	p, err := Init(context.Background(), Config{})
	require.NoError(t, err)

	assert.Nil(t, p.LogHandler("kimd"))
	assert.NotNil(t, p.Meter("kimd"))
	assert.NotNil(t, p.Tracer("kimd"))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestCommandMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	m, err := NewCommandMetrics(meter)
	require.NoError(t, err)
	m.CommandsTotal.Add(context.Background(), 2)
	m.WatchdogKillsTotal.Add(context.Background(), 1)
	m.CommandDuration.Record(context.Background(), 0.25)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := map[string]bool{}
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		names[metric.Name] = true
	}
	assert.True(t, names["kimd_commands_total"])
	assert.True(t, names["kimd_command_duration_seconds"])
	assert.True(t, names["kimd_watchdog_kills_total"])
}

func TestImageMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	m, err := NewImageMetrics(meter)
	require.NoError(t, err)
	m.RefreshesTotal.Add(context.Background(), 1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, "kimd_refreshes_total", rm.ScopeMetrics[0].Metrics[0].Name)
}
