package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/marmos91/smbiod/internal/logger"
	"github.com/marmos91/smbiod/pkg/config"
	"github.com/marmos91/smbiod/pkg/iod"
	"github.com/marmos91/smbiod/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	attachMetricsPort  int
	attachRetryInitial time.Duration
	attachRetryMax     time.Duration
	attachSession      sessionFlags
)

var attachCmd = &cobra.Command{
	Use:   "attach TARGET [SHARE...]",
	Short: "Hold a session to a server open and keep it alive",
	Long: `Connect to an SMB2 server, attach the given shares and keep the session
up until interrupted. Idle connections are probed with keepalives, share
reachability changes are logged, and a dead connection is re-established
with exponential backoff.

When metrics are enabled (metrics.enabled or --metrics-port) Prometheus
metrics and health endpoints are served on the metrics port.

Changes to logging.level in the configuration file are applied without a
restart.

Examples:
  # Keep //fs01/data attached, serving metrics on :9090
  smbiod attach --metrics-port 9090 //fs01/data

  # Debug logging through the environment
  SMBIOD_LOGGING_LEVEL=DEBUG smbiod attach -u 'CORP\alice' //fs01/data`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAttach,
}

func init() {
	attachCmd.Flags().IntVar(&attachMetricsPort, "metrics-port", 0, "serve metrics on this port (overrides metrics.port and enables metrics)")
	attachCmd.Flags().DurationVar(&attachRetryInitial, "retry-initial", time.Second, "first delay before re-establishing a dead connection")
	attachCmd.Flags().DurationVar(&attachRetryMax, "retry-max", time.Minute, "longest delay between re-establish attempts")
	attachSession.register(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	target, err := ParseTarget(args[0], args[1:]...)
	if err != nil {
		return err
	}

	cfg, v, err := loadConfig()
	if err != nil {
		return err
	}
	if err := attachSession.apply(cfg); err != nil {
		return err
	}
	if attachMetricsPort > 0 {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Port = attachMetricsPort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownObservability, err := initObservability(ctx, cfg, map[string]string{"command": "attach", "server": target.Host})
	if err != nil {
		return err
	}
	defer shutdownObservability()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	dead := make(chan struct{}, 1)
	notifier := iod.NotifierFuncs{
		Unreachable: func(s *iod.Share) {
			logger.Warn("Share unreachable", logger.KeyShare, s.Name)
		},
		Reachable: func(s *iod.Share) {
			logger.Info("Share reachable again", logger.KeyShare, s.Name)
		},
		Dead: func(c *iod.Connection) {
			logger.Warn("Connection dead", logger.KeyConnID, c.ID(), logger.KeyServer, c.Server())
			select {
			case dead <- struct{}{}:
			default:
			}
		},
	}

	sess, err := openSession(cfg, target, notifier, iod.NewMetrics(reg))
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("Shutting down", logger.KeyConnID, sess.conn.ID())
		if err := sess.close(cfg.ShutdownTimeout); err != nil {
			logger.Warn("Shutdown incomplete", logger.KeyConnID, sess.conn.ID(), logger.KeyError, err)
		}
	}()

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}, reg, sess.mgr)
		if err := srv.Listen(); err != nil {
			return err
		}
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("Metrics server stopped", logger.KeyError, err)
			}
		}()
	}

	watchLogLevel(v)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = attachRetryInitial
	retry.MaxInterval = attachRetryMax
	retry.MaxElapsedTime = 0

	keepAttached(ctx, sess, dead, retry)
	return nil
}

// keepAttached establishes sess and re-establishes it each time the
// connection dies, until ctx is done.
func keepAttached(ctx context.Context, sess *session, dead <-chan struct{}, retry backoff.BackOff) {
	for {
		err := sess.establish(ctx)
		if err == nil {
			retry.Reset()
			select {
			case <-ctx.Done():
				return
			case <-dead:
				// Shares stay registered on the connection; Establish
				// attaches them again.
			}
		} else {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("Establish failed", logger.KeyServer, sess.target.Addr(), logger.KeyError, err)
		}

		// Drain a Dead notification raised by the failed attempt itself.
		select {
		case <-dead:
		default:
		}

		delay := retry.NextBackOff()
		logger.Info("Re-establishing connection", logger.KeyServer, sess.target.Addr(), "retry_in", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// watchLogLevel applies logging.level changes from the configuration file.
// Other settings need a restart.
func watchLogLevel(v *viper.Viper) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := config.Reload(v)
		if err != nil {
			logger.Warn("Ignoring invalid configuration change", "file", e.Name, logger.KeyError, err)
			return
		}
		if lvl := logger.GetLevel().String(); lvl != cfg.Logging.Level {
			logger.SetLevel(cfg.Logging.Level)
			logger.Info("Log level changed", "from", lvl, "to", cfg.Logging.Level)
		}
	})
	v.WatchConfig()
}
