package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/smbiod/internal/cli/prompt"
	"github.com/marmos91/smbiod/internal/logger"
	"github.com/marmos91/smbiod/internal/protocol/smb/client"
	"github.com/marmos91/smbiod/internal/protocol/smb/types"
	"github.com/marmos91/smbiod/pkg/config"
	"github.com/marmos91/smbiod/pkg/iod"
	"github.com/marmos91/smbiod/pkg/transport"
	"github.com/spf13/cobra"
)

// sessionFlags are the logon flags shared by commands that connect.
type sessionFlags struct {
	user     string
	domain   string
	noPrompt bool
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.user, "user", "u", "", `user name, optionally as DOMAIN\user (default: client.username, empty logs on anonymously)`)
	cmd.Flags().StringVar(&f.domain, "domain", "", "logon domain (default: client.domain)")
	cmd.Flags().BoolVar(&f.noPrompt, "no-prompt", false, "never prompt for a password")
}

// apply merges the flags into cfg and asks for a missing password.
func (f *sessionFlags) apply(cfg *config.Config) error {
	if f.user != "" {
		domain, user := splitUser(f.user)
		cfg.Client.Username = user
		if domain != "" {
			cfg.Client.Domain = domain
		}
	}
	if f.domain != "" {
		cfg.Client.Domain = f.domain
	}
	if f.noPrompt || cfg.Client.Username == "" || cfg.Client.Password != "" {
		return nil
	}

	creds, err := prompt.CompleteCredentials(prompt.Credentials{
		Domain:   cfg.Client.Domain,
		Username: cfg.Client.Username,
		Password: cfg.Client.Password,
	})
	switch {
	case errors.Is(err, prompt.ErrNotInteractive):
		logger.Warn("No password configured and stdin is not a terminal, using an empty password",
			logger.KeyUsername, cfg.Client.Username)
		return nil
	case err != nil:
		return err
	}
	cfg.Client.Password = creds.Password
	return nil
}

// session is one connection to a target together with its shares.
type session struct {
	target  Target
	mgr     *iod.Manager
	conn    *iod.Connection
	dialect *client.Dialect
	shares  []*iod.Share
}

// openSession builds the transport, dialect and connection for t. The
// connection starts NotConnected.
func openSession(cfg *config.Config, t Target, notifier iod.Notifier, metrics *iod.Metrics) (*session, error) {
	opts, err := cfg.ToClient(t.Host)
	if err != nil {
		return nil, err
	}

	mgr, err := iod.NewManager(iod.ManagerOptions{
		Config:   cfg.ToIOD(),
		Notifier: notifier,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}

	d := client.New(opts)
	conn, err := mgr.Open(t.Addr(), transport.NewTCP(cfg.ToTCP()), d)
	if err != nil {
		_ = mgr.Shutdown(context.Background())
		return nil, err
	}

	s := &session{target: t, mgr: mgr, conn: conn, dialect: d}
	for _, name := range t.Shares {
		s.shares = append(s.shares, iod.NewShare(name))
	}
	return s, nil
}

// establish brings the connection up and attaches every share.
func (s *session) establish(ctx context.Context) error {
	if err := s.conn.Establish(ctx, s.shares...); err != nil {
		return fmt.Errorf("establish %s: %w", s.target, err)
	}

	info := s.dialect.Info()
	logger.Info("Connection established",
		logger.KeyConnID, s.conn.ID(),
		logger.KeyServer, s.target.Addr(),
		logger.KeyDialect, info.Dialect.String(),
		logger.KeySessionID, info.SessionID,
		logger.KeyCredits, info.Credits,
		"shares", len(s.shares))
	return nil
}

// echo sends one ECHO and checks the response status.
func (s *session) echo(ctx context.Context) error {
	var share *iod.Share
	if len(s.shares) > 0 {
		share = s.shares[0]
	}
	frame, err := s.conn.Call(ctx, s.dialect.Request(types.SMB2Echo, client.EncodeEmptyRequest()), iod.RequestOptions{Share: share})
	if err != nil {
		return err
	}
	resp, err := client.ParseResponse(frame)
	if err != nil {
		return err
	}
	return resp.Err()
}

// close logs off and stops the daemon within timeout.
func (s *session) close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.conn.State() == iod.StateActive {
		if err := s.conn.PostEvent(ctx, iod.EventDisconnect, nil, true); err != nil {
			logger.Debug("Disconnect failed", logger.KeyConnID, s.conn.ID(), logger.KeyError, err)
		}
	}
	return s.mgr.Shutdown(ctx)
}
