package client

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/smbiod/internal/auth/ntlm"
	"github.com/marmos91/smbiod/internal/auth/spnego"
	"github.com/marmos91/smbiod/internal/logger"
	"github.com/marmos91/smbiod/internal/protocol/smb/header"
	"github.com/marmos91/smbiod/internal/protocol/smb/types"
	"github.com/marmos91/smbiod/pkg/iod"
)

// maxSessionSetupRounds bounds the SESSION_SETUP loop. NTLM needs two.
const maxSessionSetupRounds = 4

// DefaultDialects are offered in NEGOTIATE, highest last.
var DefaultDialects = []types.Dialect{
	types.SMB2Dialect0202,
	types.SMB2Dialect0210,
	types.SMB2Dialect0300,
	types.SMB2Dialect0302,
}

// Options configure a Dialect.
type Options struct {
	// Server is the host name used in UNC paths.
	Server string

	// Credentials authenticate the session; an empty Username logs on
	// anonymously.
	Credentials ntlm.Credentials

	// Dialects overrides DefaultDialects.
	Dialects []types.Dialect

	// CreditRequest is asked for on every request; zero uses
	// DefaultCreditRequest.
	CreditRequest uint16

	// ClientGUID identifies the client across connections; a random one
	// is generated when zero.
	ClientGUID uuid.UUID
}

// Info describes the negotiated session.
type Info struct {
	Dialect         types.Dialect
	ServerGUID      uuid.UUID
	Capabilities    uint32
	MaxTransactSize uint32
	MaxReadSize     uint32
	MaxWriteSize    uint32
	ServerTime      time.Time
	SigningRequired bool
	SessionID       uint64
	Guest           bool
	Anonymous       bool
	Credits         int
}

// Dialect implements iod.Dialect for SMB2. The iod daemon calls every
// iod.Dialect method from its own goroutine; Info may be called from
// anywhere.
type Dialect struct {
	opts Options

	mu           sync.Mutex
	negotiated   *NegotiateResponse
	sessionID    uint64
	sessionFlags uint16
	credits      creditWindow
}

var (
	_ iod.Dialect          = (*Dialect)(nil)
	_ iod.CapacityReporter = (*Dialect)(nil)
	_ iod.ShareDetacher    = (*Dialect)(nil)
)

// New returns a Dialect for opts.
func New(opts Options) *Dialect {
	if len(opts.Dialects) == 0 {
		opts.Dialects = DefaultDialects
	}
	if opts.CreditRequest == 0 {
		opts.CreditRequest = DefaultCreditRequest
	}
	if opts.ClientGUID == uuid.Nil {
		opts.ClientGUID = uuid.New()
	}
	d := &Dialect{opts: opts}
	d.credits.reset()
	return d
}

// Info returns a snapshot of the negotiated session.
func (d *Dialect) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := Info{
		SessionID: d.sessionID,
		Guest:     d.sessionFlags&types.SMB2SessionFlagIsGuest != 0,
		Anonymous: d.sessionFlags&types.SMB2SessionFlagIsNull != 0,
		Credits:   d.credits.capacity(),
	}
	if n := d.negotiated; n != nil {
		info.Dialect = n.Dialect
		info.ServerGUID = n.ServerGUID
		info.Capabilities = n.Capabilities
		info.MaxTransactSize = n.MaxTransactSize
		info.MaxReadSize = n.MaxReadSize
		info.MaxWriteSize = n.MaxWriteSize
		info.ServerTime = n.SystemTime
		info.SigningRequired = n.SigningRequired()
	}
	return info
}

// Request builds an unstamped request for cmd with this dialect's credit
// request.
func (d *Dialect) Request(cmd types.Command, body []byte) []byte {
	return NewRequest(cmd, body, d.opts.CreditRequest)
}

// Reset forgets the session before a new transport is opened.
func (d *Dialect) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.negotiated = nil
	d.sessionID = 0
	d.sessionFlags = 0
	d.credits.reset()
}

// Negotiate runs NEGOTIATE and records the server's limits.
func (d *Dialect) Negotiate(ctx context.Context, ex iod.Exchanger) (*iod.Negotiated, error) {
	body := EncodeNegotiateRequest(d.opts.Dialects, types.SMB2NegotiateSigningEnabled, 0, d.opts.ClientGUID)
	resp, err := d.exchange(ctx, ex, types.SMB2Negotiate, body, nil)
	if err != nil {
		return nil, err
	}

	neg, err := DecodeNegotiateResponse(resp)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(d.opts.Dialects, neg.Dialect) {
		return nil, fmt.Errorf("%w: %s", ErrDialectNotOffered, neg.Dialect)
	}

	if len(neg.SecurityBuffer) > 0 {
		// Some servers add negHints that the ASN.1 parser rejects; the
		// hint list is advisory, so only a parsed list without NTLM fails.
		if hint, err := spnego.Parse(neg.SecurityBuffer); err != nil {
			logger.DebugCtx(ctx, "Ignoring unparsable SPNEGO hints", logger.Err(err))
		} else if hint.Type == spnego.TokenTypeInit && len(hint.MechTypes) > 0 {
			if !hint.HasNTLM() {
				return nil, ErrNoNTLM
			}
			logger.DebugCtx(ctx, "SPNEGO hints", "mechs", len(hint.MechTypes), "kerberos", hint.HasKerberos())
		}
	}
	if neg.SigningRequired() {
		logger.WarnCtx(ctx, "Server requires signing; requests after SESSION_SETUP may be rejected",
			logger.KeyDialect, neg.Dialect.String())
	}

	d.mu.Lock()
	d.negotiated = neg
	capacity := d.credits.capacity()
	d.mu.Unlock()

	logger.DebugCtx(ctx, "NEGOTIATE complete",
		logger.KeyDialect, neg.Dialect.String(),
		"max_read", neg.MaxReadSize,
		"max_write", neg.MaxWriteSize,
		logger.KeyCredits, capacity)

	return &iod.Negotiated{
		Dialect:        "SMB " + neg.Dialect.String(),
		MaxOutstanding: capacity,
	}, nil
}

// Authenticate runs the SESSION_SETUP loop: SPNEGO NegTokenInit carrying
// the NTLM NEGOTIATE, then a NegTokenResp carrying the AUTHENTICATE built
// from the server's CHALLENGE.
func (d *Dialect) Authenticate(ctx context.Context, ex iod.Exchanger) error {
	creds := d.opts.Credentials
	token, err := spnego.BuildNTLMInit(ntlm.BuildNegotiate(ntlm.DefaultClientFlags))
	if err != nil {
		return fmt.Errorf("build SPNEGO init: %w", err)
	}

	for round := 1; round <= maxSessionSetupRounds; round++ {
		resp, err := d.exchangeAllow(ctx, ex, types.SMB2SessionSetup, EncodeSessionSetupRequest(uint8(types.SMB2NegotiateSigningEnabled), token), nil,
			types.StatusMoreProcessingRequired)
		if err != nil {
			d.setSession(0, 0)
			return err
		}

		ss, err := DecodeSessionSetupResponse(resp)
		if err != nil {
			d.setSession(0, 0)
			return err
		}
		d.setSession(resp.Header.SessionID, ss.SessionFlags)

		logger.DebugCtx(ctx, "SESSION_SETUP response",
			"round", round,
			logger.KeyStatus, resp.Header.Status.String(),
			logger.KeySessionID, resp.Header.SessionID)

		var parsed *spnego.ParsedToken
		if len(ss.SecurityBuffer) > 0 {
			if parsed, err = spnego.Parse(ss.SecurityBuffer); err != nil {
				d.setSession(0, 0)
				return err
			}
			if parsed.NegState == spnego.NegStateReject {
				d.setSession(0, 0)
				return spnego.ErrRejected
			}
		}

		if resp.Header.Status == types.StatusSuccess {
			logger.InfoCtx(ctx, "Session established",
				logger.KeySessionID, resp.Header.SessionID,
				logger.KeyUsername, creds.Username,
				logger.KeyDomain, creds.Domain,
				"guest", ss.SessionFlags&types.SMB2SessionFlagIsGuest != 0)
			return nil
		}

		if parsed == nil || len(parsed.MechToken) == 0 {
			d.setSession(0, 0)
			return spnego.ErrNoMechToken
		}
		challenge, err := ntlm.ParseChallenge(parsed.MechToken)
		if err != nil {
			d.setSession(0, 0)
			return fmt.Errorf("parse NTLM challenge: %w", err)
		}
		auth, err := ntlm.BuildAuthenticate(challenge, creds)
		if err != nil {
			d.setSession(0, 0)
			return fmt.Errorf("build NTLM authenticate: %w", err)
		}
		if token, err = spnego.BuildResponseToken(auth.Message); err != nil {
			d.setSession(0, 0)
			return fmt.Errorf("build SPNEGO response: %w", err)
		}
	}

	d.setSession(0, 0)
	return ErrTooManyRounds
}

// AttachShare runs TREE_CONNECT and returns the TreeId.
func (d *Dialect) AttachShare(ctx context.Context, ex iod.Exchanger, share *iod.Share) (uint64, error) {
	path := UNCPath(d.opts.Server, share.Name)
	resp, err := d.exchange(ctx, ex, types.SMB2TreeConnect, EncodeTreeConnectRequest(path), nil)
	if err != nil {
		return 0, err
	}
	tc, err := DecodeTreeConnectResponse(resp)
	if err != nil {
		return 0, err
	}

	logger.DebugCtx(ctx, "TREE_CONNECT complete",
		logger.KeyShare, path,
		logger.KeyTreeID, resp.Header.TreeID,
		"share_type", tc.ShareType)
	return uint64(resp.Header.TreeID), nil
}

// DetachShare runs TREE_DISCONNECT for an attached share.
func (d *Dialect) DetachShare(ctx context.Context, ex iod.Exchanger, share *iod.Share) error {
	_, err := d.exchange(ctx, ex, types.SMB2TreeDisconnect, EncodeEmptyRequest(), share)
	return err
}

// Logoff runs LOGOFF and forgets the session.
func (d *Dialect) Logoff(ctx context.Context, ex iod.Exchanger) error {
	_, err := d.exchange(ctx, ex, types.SMB2Logoff, EncodeEmptyRequest(), nil)
	d.setSession(0, 0)
	return err
}

// KeepalivePayload builds an ECHO request.
func (d *Dialect) KeepalivePayload() ([]byte, error) {
	return d.Request(types.SMB2Echo, EncodeEmptyRequest()), nil
}

// Stamp writes the MessageID, SessionId and the share's TreeId into an
// outgoing request, and charges one credit.
func (d *Dialect) Stamp(payload []byte, id uint64, share *iod.Share) error {
	var treeID uint32
	if share != nil {
		treeID = uint32(share.ID())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := header.Stamp(payload, id, d.sessionID, treeID); err != nil {
		return err
	}
	d.credits.charge()
	return nil
}

// ParseFrame validates a response header, accounts for its credit grant
// and reports its MessageID.
func (d *Dialect) ParseFrame(frame []byte) (iod.FrameInfo, error) {
	h, err := header.Parse(frame)
	if err != nil {
		return iod.FrameInfo{}, err
	}
	if !h.IsResponse() {
		return iod.FrameInfo{}, ErrNotResponse
	}

	interim := h.IsInterim()
	d.mu.Lock()
	d.credits.grant(h.Credits, !interim)
	d.mu.Unlock()

	return iod.FrameInfo{ID: h.MessageID, Interim: interim}, nil
}

// Capacity reports the current credit window.
func (d *Dialect) Capacity() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.credits.capacity()
}

func (d *Dialect) setSession(id uint64, flags uint16) {
	d.mu.Lock()
	d.sessionID = id
	d.sessionFlags = flags
	d.mu.Unlock()
}

func (d *Dialect) exchange(ctx context.Context, ex iod.Exchanger, cmd types.Command, body []byte, share *iod.Share) (*Response, error) {
	return d.exchangeAllow(ctx, ex, cmd, body, share)
}

// exchangeAllow sends one request and returns its response. Error
// statuses become *StatusError unless listed in allowed.
func (d *Dialect) exchangeAllow(ctx context.Context, ex iod.Exchanger, cmd types.Command, body []byte, share *iod.Share, allowed ...types.Status) (*Response, error) {
	frame, err := ex.Exchange(ctx, d.Request(cmd, body), share)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	resp, err := ParseResponse(frame)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	if resp.Header.Command != cmd {
		return nil, fmt.Errorf("%w: %s answered with %s", ErrMalformed, cmd, resp.Header.Command)
	}
	if err := resp.Err(); err != nil && !slices.Contains(allowed, resp.Header.Status) {
		return nil, err
	}
	return resp, nil
}
