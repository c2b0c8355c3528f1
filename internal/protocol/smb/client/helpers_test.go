package client

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/smbiod/internal/auth/ntlm"
	"github.com/marmos91/smbiod/internal/auth/spnego"
	"github.com/marmos91/smbiod/internal/protocol/smb/header"
	"github.com/marmos91/smbiod/internal/protocol/smb/types"
	"github.com/marmos91/smbiod/pkg/iod"
)

const (
	testSessionID = 0x0000400000000011
	testUser      = "alice"
	testDomain    = "CORP"
	testPassword  = "s3cret"
)

// smbServer is a scripted SMB2 server covering the session-level commands.
type smbServer struct {
	mu sync.Mutex

	dialect       types.Dialect // zero picks the highest offered
	securityMode  uint16
	negotiateBlob []byte
	grant         uint16
	shares        []string
	allowAnon     bool
	rejectSPNEGO  bool
	pending       map[types.Command]bool
	fail          map[types.Command]types.Status
	challenge     [8]byte

	requests  []*header.SMB2Header
	paths     []string
	nextTree  uint32
	trees     map[uint32]string
	loggedOff bool
}

func newSMBServer() *smbServer {
	return &smbServer{
		grant:     32,
		shares:    []string{"data"},
		pending:   map[types.Command]bool{},
		fail:      map[types.Command]types.Status{},
		challenge: [8]byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef},
		nextTree:  5,
		trees:     map[uint32]string{},
	}
}

func (s *smbServer) recorded() []*header.SMB2Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*header.SMB2Header(nil), s.requests...)
}

func (s *smbServer) treeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trees)
}

// handle answers one stamped request with one or two frames (an interim
// STATUS_PENDING frame first when configured).
func (s *smbServer) handle(req []byte) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := header.Parse(req)
	if err != nil {
		return nil
	}
	s.requests = append(s.requests, h)
	body := req[header.HeaderSize:]

	status, respBody, sessionID, treeID := s.dispatch(h, req, body)
	if st, ok := s.fail[h.Command]; ok {
		status, respBody = st, errorBody()
	}

	var out [][]byte
	if s.pending[h.Command] {
		out = append(out, s.encode(h, &header.SMB2Header{
			Status: types.StatusPending,
			Flags:  types.SMB2FlagsServerToRedir | types.SMB2FlagsAsyncCommand,
		}, errorBody()))
	}
	out = append(out, s.encode(h, &header.SMB2Header{
		Status:    status,
		Flags:     types.SMB2FlagsServerToRedir,
		SessionID: sessionID,
		TreeID:    treeID,
	}, respBody))
	return out
}

func (s *smbServer) encode(req, resp *header.SMB2Header, body []byte) []byte {
	resp.StructureSize = header.HeaderSize
	resp.Command = req.Command
	resp.MessageID = req.MessageID
	resp.Credits = s.grant
	return append(resp.Encode(), body...)
}

func (s *smbServer) dispatch(h *header.SMB2Header, req, body []byte) (types.Status, []byte, uint64, uint32) {
	switch h.Command {
	case types.SMB2Negotiate:
		return s.negotiate(body)
	case types.SMB2SessionSetup:
		return s.sessionSetup(req, body)
	case types.SMB2TreeConnect:
		return s.treeConnect(h, req, body)
	case types.SMB2TreeDisconnect:
		delete(s.trees, h.TreeID)
		return types.StatusSuccess, EncodeEmptyRequest(), h.SessionID, h.TreeID
	case types.SMB2Logoff:
		s.loggedOff = true
		return types.StatusSuccess, EncodeEmptyRequest(), h.SessionID, 0
	case types.SMB2Echo:
		return types.StatusSuccess, EncodeEmptyRequest(), h.SessionID, 0
	default:
		return types.StatusNotSupported, errorBody(), h.SessionID, 0
	}
}

func (s *smbServer) negotiate(body []byte) (types.Status, []byte, uint64, uint32) {
	count := int(binary.LittleEndian.Uint16(body[2:4]))
	selected := s.dialect
	if selected == 0 {
		selected = types.Dialect(binary.LittleEndian.Uint16(body[36+2*(count-1):]))
	}

	resp := make([]byte, 64+len(s.negotiateBlob))
	binary.LittleEndian.PutUint16(resp[0:2], 65)
	binary.LittleEndian.PutUint16(resp[2:4], s.securityMode)
	binary.LittleEndian.PutUint16(resp[4:6], uint16(selected))
	copy(resp[8:24], "server-guid-0001")
	binary.LittleEndian.PutUint32(resp[28:32], 1<<20)
	binary.LittleEndian.PutUint32(resp[32:36], 1<<20)
	binary.LittleEndian.PutUint32(resp[36:40], 1<<20)
	binary.LittleEndian.PutUint64(resp[40:48], 133000000000000000)
	if len(s.negotiateBlob) > 0 {
		binary.LittleEndian.PutUint16(resp[56:58], header.HeaderSize+64)
		binary.LittleEndian.PutUint16(resp[58:60], uint16(len(s.negotiateBlob)))
		copy(resp[64:], s.negotiateBlob)
	}
	return types.StatusSuccess, resp, 0, 0
}

func (s *smbServer) sessionSetup(req, body []byte) (types.Status, []byte, uint64, uint32) {
	off := int(binary.LittleEndian.Uint16(body[12:14]))
	n := int(binary.LittleEndian.Uint16(body[14:16]))
	tok, err := spnego.Parse(req[off : off+n])
	if err != nil {
		return types.StatusInvalidParameter, errorBody(), 0, 0
	}

	if s.rejectSPNEGO {
		blob, _ := spnego.BuildReject()
		return types.StatusMoreProcessingRequired, sessionSetupBody(0, blob), testSessionID, 0
	}

	if tok.Type == spnego.TokenTypeInit {
		if ntlm.GetMessageType(tok.MechToken) != ntlm.Negotiate {
			return types.StatusInvalidParameter, errorBody(), 0, 0
		}
		ts := make([]byte, 8)
		binary.LittleEndian.PutUint64(ts, 133000000000000000)
		info := ntlm.BuildTargetInfo(
			ntlm.AvPair{ID: ntlm.AvNbDomainName, Value: ntlm.UTF16Value(testDomain)},
			ntlm.AvPair{ID: ntlm.AvTimestamp, Value: ts},
		)
		ch := ntlm.BuildChallenge(s.challenge, ntlm.DefaultClientFlags|ntlm.FlagTargetTypeServer, "SERVER", info)
		blob, _ := spnego.BuildAcceptIncomplete(spnego.OIDNTLMSSP, ch)
		return types.StatusMoreProcessingRequired, sessionSetupBody(0, blob), testSessionID, 0
	}

	auth, err := ntlm.ParseAuthenticate(tok.MechToken)
	if err != nil {
		return types.StatusInvalidParameter, errorBody(), 0, 0
	}
	if auth.IsAnonymous {
		if !s.allowAnon {
			return types.StatusLogonFailure, errorBody(), 0, 0
		}
		blob, _ := spnego.BuildAcceptComplete(spnego.OIDNTLMSSP, nil)
		return types.StatusSuccess, sessionSetupBody(types.SMB2SessionFlagIsNull, blob), testSessionID, 0
	}
	if _, err := ntlm.ValidateNTLMv2Response(ntlm.ComputeNTHash(testPassword), auth.Username, auth.Domain, s.challenge, auth.NtChallengeResponse); err != nil {
		return types.StatusLogonFailure, errorBody(), 0, 0
	}
	blob, _ := spnego.BuildAcceptComplete(spnego.OIDNTLMSSP, nil)
	return types.StatusSuccess, sessionSetupBody(0, blob), testSessionID, 0
}

func (s *smbServer) treeConnect(h *header.SMB2Header, req, body []byte) (types.Status, []byte, uint64, uint32) {
	off := int(binary.LittleEndian.Uint16(body[4:6]))
	n := int(binary.LittleEndian.Uint16(body[6:8]))
	path := decodeUTF16LE(req[off : off+n])
	s.paths = append(s.paths, path)

	name := path[strings.LastIndex(path, `\`)+1:]
	for _, share := range s.shares {
		if share == name {
			id := s.nextTree
			s.nextTree++
			s.trees[id] = name
			resp := make([]byte, 16)
			binary.LittleEndian.PutUint16(resp[0:2], 16)
			resp[2] = types.SMB2ShareTypeDisk
			binary.LittleEndian.PutUint32(resp[12:16], 0x001F01FF)
			return types.StatusSuccess, resp, h.SessionID, id
		}
	}
	return types.StatusBadNetworkName, errorBody(), h.SessionID, 0
}

func sessionSetupBody(flags uint16, blob []byte) []byte {
	resp := make([]byte, 8+len(blob))
	binary.LittleEndian.PutUint16(resp[0:2], 9)
	binary.LittleEndian.PutUint16(resp[2:4], flags)
	if len(blob) > 0 {
		binary.LittleEndian.PutUint16(resp[4:6], header.HeaderSize+8)
		binary.LittleEndian.PutUint16(resp[6:8], uint16(len(blob)))
		copy(resp[8:], blob)
	}
	return resp
}

// errorBody is the 9-byte SMB2 ERROR response. [MS-SMB2] 2.2.2
func errorBody() []byte {
	b := make([]byte, 9)
	binary.LittleEndian.PutUint16(b[0:2], 9)
	return b
}

func decodeUTF16LE(b []byte) string {
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return string(utf16.Decode(u))
}

// ============================================================================
// Direct exchanger
// ============================================================================

// loopExchanger plays the daemon: it stamps, hands the request to the
// server and feeds every response frame back through ParseFrame.
type loopExchanger struct {
	d      *Dialect
	srv    *smbServer
	nextID uint64
}

func (x *loopExchanger) Exchange(_ context.Context, payload []byte, share *iod.Share) ([]byte, error) {
	id := x.nextID
	x.nextID++
	if err := x.d.Stamp(payload, id, share); err != nil {
		return nil, err
	}

	var final []byte
	for _, f := range x.srv.handle(payload) {
		info, err := x.d.ParseFrame(f)
		if err != nil {
			return nil, err
		}
		if info.ID != id {
			return nil, errors.New("response id mismatch")
		}
		if !info.Interim {
			final = f
		}
	}
	if final == nil {
		return nil, errors.New("no final response")
	}
	return final, nil
}

func newTestDialect(creds ntlm.Credentials) *Dialect {
	return New(Options{Server: "srv", Credentials: creds})
}

func testCreds() ntlm.Credentials {
	return ntlm.Credentials{Domain: testDomain, Username: testUser, Password: testPassword, Workstation: "WS"}
}

// ============================================================================
// TCP server
// ============================================================================

// serveTCP runs srv behind a NetBIOS-framed listener on loopback.
func serveTCP(t *testing.T, srv *smbServer) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, srv)
		}
	}()
	return ln.Addr().String()
}

func serveConn(conn net.Conn, srv *smbServer) {
	defer func() { _ = conn.Close() }()
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		n := int(hdr[1])<<16 | int(hdr[2])<<8 | int(hdr[3])
		req := make([]byte, n)
		if _, err := io.ReadFull(conn, req); err != nil {
			return
		}
		for _, f := range srv.handle(req) {
			out := make([]byte, 4+len(f))
			binary.BigEndian.PutUint32(out[0:4], uint32(len(f)))
			copy(out[4:], f)
			if _, err := conn.Write(out); err != nil {
				return
			}
		}
	}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
