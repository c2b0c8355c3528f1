package config

import (
	"os"
	"strings"
	"time"

	"github.com/marmos91/smbiod/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit
// values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	applyConnectionDefaults(&cfg.Connection)
	applyTransportDefaults(&cfg.Transport)
	applyClientDefaults(&cfg.Client)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyMetricsDefaults sets the port only when metrics are enabled.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyConnectionDefaults mirrors iod.DefaultConfig.
func applyConnectionDefaults(cfg *ConnectionConfig) {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = 60 * time.Second
	}
	if cfg.UnresponsiveWindow == 0 {
		cfg.UnresponsiveWindow = 30 * time.Second
	}
	if cfg.MaxOutstanding == 0 {
		cfg.MaxOutstanding = 64
	}
	if cfg.MaxSendAttempts == 0 {
		cfg.MaxSendAttempts = 12
	}
	if cfg.SendRetryInterval == 0 {
		cfg.SendRetryInterval = 5 * time.Second
	}
}

// applyTransportDefaults mirrors transport.DefaultTCPConfig.
func applyTransportDefaults(cfg *TransportConfig) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 8 * bytesize.MiB
	}
}

func applyClientDefaults(cfg *ClientConfig) {
	if cfg.Workstation == "" {
		if host, err := os.Hostname(); err == nil {
			// NetBIOS names are at most 15 characters
			host, _, _ = strings.Cut(host, ".")
			if len(host) > 15 {
				host = host[:15]
			}
			cfg.Workstation = strings.ToUpper(host)
		}
	}
	if len(cfg.Dialects) == 0 {
		cfg.Dialects = []string{"2.0.2", "2.1", "3.0", "3.0.2"}
	}
	if cfg.CreditRequest == 0 {
		cfg.CreditRequest = 64
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
