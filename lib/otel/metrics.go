package otel

import (
	"go.opentelemetry.io/otel/metric"
)

// ImageMetrics holds metrics for the image cache and its refresh loop.
type ImageMetrics struct {
	ImagesTotal     metric.Int64ObservableGauge
	ImagesBytes     metric.Int64ObservableGauge
	Ready           metric.Int64ObservableGauge
	RefreshesTotal  metric.Int64Counter
	RefreshDuration metric.Float64Histogram
}

// NewImageMetrics creates metrics for the image manager.
func NewImageMetrics(meter metric.Meter) (*ImageMetrics, error) {
	imagesTotal, err := meter.Int64ObservableGauge(
		"kimd_images_total",
		metric.WithDescription("Number of images in the cached listing"),
	)
	if err != nil {
		return nil, err
	}

	imagesBytes, err := meter.Int64ObservableGauge(
		"kimd_images_bytes",
		metric.WithDescription("Sum of the parseable image sizes in the cached listing"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	ready, err := meter.Int64ObservableGauge(
		"kimd_ready",
		metric.WithDescription("1 when the last listing refresh succeeded, 0 otherwise"),
	)
	if err != nil {
		return nil, err
	}

	refreshesTotal, err := meter.Int64Counter(
		"kimd_refreshes_total",
		metric.WithDescription("Total number of image listing refreshes by outcome"),
	)
	if err != nil {
		return nil, err
	}

	refreshDuration, err := meter.Float64Histogram(
		"kimd_refresh_duration_seconds",
		metric.WithDescription("Duration of image listing refreshes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &ImageMetrics{
		ImagesTotal:     imagesTotal,
		ImagesBytes:     imagesBytes,
		Ready:           ready,
		RefreshesTotal:  refreshesTotal,
		RefreshDuration: refreshDuration,
	}, nil
}

// CommandMetrics holds metrics for kim invocations.
type CommandMetrics struct {
	CommandsTotal      metric.Int64Counter
	CommandDuration    metric.Float64Histogram
	WatchdogKillsTotal metric.Int64Counter
}

// NewCommandMetrics creates metrics for the process runner.
func NewCommandMetrics(meter metric.Meter) (*CommandMetrics, error) {
	commandsTotal, err := meter.Int64Counter(
		"kimd_commands_total",
		metric.WithDescription("Total number of kim invocations by subcommand and outcome"),
	)
	if err != nil {
		return nil, err
	}

	commandDuration, err := meter.Float64Histogram(
		"kimd_command_duration_seconds",
		metric.WithDescription("kim invocation duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	watchdogKills, err := meter.Int64Counter(
		"kimd_watchdog_kills_total",
		metric.WithDescription("Total number of kim invocations killed for exceeding their maximum runtime"),
	)
	if err != nil {
		return nil, err
	}

	return &CommandMetrics{
		CommandsTotal:      commandsTotal,
		CommandDuration:    commandDuration,
		WatchdogKillsTotal: watchdogKills,
	}, nil
}
