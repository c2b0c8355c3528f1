package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/marmos91/smbiod/internal/logger"
	"github.com/marmos91/smbiod/internal/telemetry"
	"github.com/marmos91/smbiod/pkg/config"
	"github.com/spf13/viper"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(cfg.ToLogger()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// loadConfig loads the configuration named by --config, initializes the
// logger from it and returns the viper instance backing it.
func loadConfig() (*config.Config, *viper.Viper, error) {
	path := GetConfigFile()
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  smbiod config init --config %s",
				path, path)
		}
	}

	cfg, v, err := config.LoadWithViper(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := InitLogger(cfg); err != nil {
		return nil, nil, err
	}

	logger.Debug("Configuration loaded", "source", configSource(v))
	return cfg, v, nil
}

func configSource(v *viper.Viper) string {
	if f := v.ConfigFileUsed(); f != "" {
		return f
	}
	return "defaults and environment"
}

// initObservability starts tracing and profiling as configured. The
// returned function flushes and stops both.
func initObservability(ctx context.Context, cfg *config.Config, tags map[string]string) (func(), error) {
	telemetryShutdown, err := telemetry.Init(ctx, cfg.ToTelemetry(Version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	profilingShutdown, err := telemetry.InitProfiling(cfg.ToProfiling(Version, tags))
	if err != nil {
		_ = telemetryShutdown(ctx)
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}

	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	}

	return func() {
		// ctx may already be cancelled by a signal; flushing needs its own.
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := telemetryShutdown(flushCtx); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}, nil
}
