package providers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onkernel/kimd/cmd/api/config"
	"github.com/onkernel/kimd/lib/images"
	"github.com/onkernel/kimd/lib/logger"
	"github.com/onkernel/kimd/lib/otel"
	"github.com/onkernel/kimd/lib/process"
)

// KimLogger is the logger for kim invocations and the refresh loop. It is a
// distinct type so wire can tell it apart from the API logger.
type KimLogger *slog.Logger

// ProvideContext provides a base context
func ProvideContext() context.Context {
	return context.Background()
}

// ProvideConfig provides the application configuration
func ProvideConfig() *config.Config {
	return config.Load()
}

// ProvideOtel initializes telemetry and flushes it on cleanup
func ProvideOtel(ctx context.Context, cfg *config.Config) (*otel.Provider, func(), error) {
	provider, err := otel.Init(ctx, otel.Config{
		Enabled:     cfg.OtelEnabled,
		Endpoint:    cfg.OtelEndpoint,
		ServiceName: cfg.OtelServiceName,
		Insecure:    cfg.OtelInsecure,
		Env:         cfg.Env,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init otel: %w", err)
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}
	return provider, cleanup, nil
}

// ProvideLogger provides the API subsystem logger and makes it the default
func ProvideLogger(provider *otel.Provider) *slog.Logger {
	log := logger.NewSubsystemLogger(logger.SubsystemAPI, logger.NewConfig(), provider.LogHandler("kimd"))
	slog.SetDefault(log)
	return log
}

// ProvideKimTopic prepares the log directory and opens the kim topic log
func ProvideKimTopic(cfg *config.Config) (*logger.Topic, func(), error) {
	if cfg.LogDir != "" {
		if err := logger.InitLogDir(cfg.LogDir); err != nil {
			return nil, nil, err
		}
	}

	topic, err := logger.OpenTopic(cfg.LogDir, "kim")
	if err != nil {
		return nil, nil, err
	}
	return topic, func() { _ = topic.Close() }, nil
}

// ProvideKimLogger provides the logger shared by the runner and the image manager
func ProvideKimLogger(provider *otel.Provider, topic *logger.Topic) KimLogger {
	return logger.NewTopicLogger(logger.SubsystemKim, logger.NewConfig(), provider.LogHandler("kimd/kim"), topic)
}

// ProvideRunner provides the kim process runner
func ProvideRunner(cfg *config.Config, log KimLogger, provider *otel.Provider) (*process.Runner, error) {
	return process.NewRunner(
		process.Config{Executable: cfg.KimPath, WaitDelay: 5 * time.Second},
		log,
		provider.Meter("kimd/process"),
		provider.Tracer("kimd/process"),
	)
}

// ProvideImageManager provides the image manager and closes it on cleanup
func ProvideImageManager(cfg *config.Config, runner *process.Runner, log KimLogger, provider *otel.Provider) (images.Manager, func(), error) {
	imageCfg := images.DefaultConfig()
	imageCfg.Backoff = images.Backoff{
		Base: cfg.RefreshInterval,
		Step: cfg.RefreshBackoffStep,
		Max:  cfg.RefreshMaxInterval,
	}
	imageCfg.Watchdog = cfg.WatchdogTimeout
	imageCfg.ResetBackoffOnSuccess = cfg.ResetBackoffOnSuccess

	manager, err := images.NewManager(runner, imageCfg, log, provider.Meter("kimd/images"))
	if err != nil {
		return nil, nil, err
	}
	return manager, manager.Close, nil
}
