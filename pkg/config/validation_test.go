package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "InvalidLogLevel",
			mutate:  func(c *Config) { c.Logging.Level = "INVALID" },
			wantErr: "oneof",
		},
		{
			name:    "InvalidLogFormat",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name: "MetricsPortOutOfRange",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Port = 70000
			},
			wantErr: "max",
		},
		{
			name:    "SampleRateAboveOne",
			mutate:  func(c *Config) { c.Telemetry.SampleRate = 1.5 },
			wantErr: "sample_rate",
		},
		{
			name:    "UnknownProfileType",
			mutate:  func(c *Config) { c.Telemetry.Profiling.ProfileTypes = []string{"cpu", "disk"} },
			wantErr: "profile_types",
		},
		{
			name:    "ZeroMaxOutstanding",
			mutate:  func(c *Config) { c.Connection.MaxOutstanding = 0 },
			wantErr: "min=1",
		},
		{
			name:    "NegativeRequestTimeout",
			mutate:  func(c *Config) { c.Connection.RequestTimeout = -time.Second },
			wantErr: "request_timeout",
		},
		{
			name:    "ZeroTickInterval",
			mutate:  func(c *Config) { c.Connection.TickInterval = 0 },
			wantErr: "tick_interval",
		},
		{
			name: "RequestTimeoutShorterThanTick",
			mutate: func(c *Config) {
				c.Connection.RequestTimeout = 500 * time.Millisecond
				c.Connection.TickInterval = time.Second
			},
			wantErr: "must not be shorter",
		},
		{
			name:    "TinyMaxMessageSize",
			mutate:  func(c *Config) { c.Transport.MaxMessageSize = 16 },
			wantErr: "max_message_size",
		},
		{
			name:    "BadLocalAddr",
			mutate:  func(c *Config) { c.Transport.LocalAddr = "not an address" },
			wantErr: "local_addr",
		},
		{
			name:    "UnsupportedDialect",
			mutate:  func(c *Config) { c.Client.Dialects = []string{"3.1.1"} },
			wantErr: "dialects",
		},
		{
			name:    "CreditRequestTooLarge",
			mutate:  func(c *Config) { c.Client.CreditRequest = 10000 },
			wantErr: "credit_request",
		},
		{
			name:    "ZeroShutdownTimeout",
			mutate:  func(c *Config) { c.ShutdownTimeout = 0 },
			wantErr: "shutdown_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_LocalAddrAccepted(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Transport.LocalAddr = "127.0.0.1:0"

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected host:port local address to validate, got: %v", err)
	}
}
