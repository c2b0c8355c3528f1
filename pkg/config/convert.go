package config

import (
	"github.com/marmos91/smbiod/internal/auth/ntlm"
	"github.com/marmos91/smbiod/internal/logger"
	"github.com/marmos91/smbiod/internal/protocol/smb/client"
	"github.com/marmos91/smbiod/internal/protocol/smb/types"
	"github.com/marmos91/smbiod/internal/telemetry"
	"github.com/marmos91/smbiod/pkg/iod"
	"github.com/marmos91/smbiod/pkg/transport"
)

// ToLogger converts the logging section.
func (c *Config) ToLogger() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// ToTelemetry converts the telemetry section.
func (c *Config) ToTelemetry(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    "smbiod",
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Endpoint,
		Insecure:       c.Telemetry.Insecure,
		SampleRate:     c.Telemetry.SampleRate,
	}
}

// ToProfiling converts the profiling section. tags are attached to every
// profile.
func (c *Config) ToProfiling(version string, tags map[string]string) telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:        c.Telemetry.Profiling.Enabled,
		ServiceName:    "smbiod",
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Profiling.Endpoint,
		ProfileTypes:   c.Telemetry.Profiling.ProfileTypes,
		Tags:           tags,
	}
}

// ToIOD converts the connection section, plus the transport bind address,
// into engine settings.
func (c *Config) ToIOD() iod.Config {
	return iod.Config{
		RequestTimeout:     c.Connection.RequestTimeout,
		TickInterval:       c.Connection.TickInterval,
		KeepaliveInterval:  c.Connection.KeepaliveInterval,
		UnresponsiveWindow: c.Connection.UnresponsiveWindow,
		MaxOutstanding:     c.Connection.MaxOutstanding,
		MaxSendAttempts:    c.Connection.MaxSendAttempts,
		SendRetryInterval:  c.Connection.SendRetryInterval,
		LocalAddr:          c.Transport.LocalAddr,
	}
}

// ToTCP converts the transport section.
func (c *Config) ToTCP() transport.TCPConfig {
	tcp := transport.DefaultTCPConfig()
	tcp.DialTimeout = c.Transport.DialTimeout
	tcp.WriteTimeout = c.Transport.WriteTimeout
	tcp.MaxMessageSize = c.Transport.MaxMessageSize.Int()
	return tcp
}

// ToClient converts the client section into SMB2 dialect options for
// server.
func (c *Config) ToClient(server string) (client.Options, error) {
	dialects := make([]types.Dialect, 0, len(c.Client.Dialects))
	for _, s := range c.Client.Dialects {
		d, err := types.ParseDialect(s)
		if err != nil {
			return client.Options{}, err
		}
		dialects = append(dialects, d)
	}

	return client.Options{
		Server: server,
		Credentials: ntlm.Credentials{
			Domain:      c.Client.Domain,
			Username:    c.Client.Username,
			Password:    c.Client.Password,
			Workstation: c.Client.Workstation,
		},
		Dialects:      dialects,
		CreditRequest: uint16(c.Client.CreditRequest),
	}, nil
}
