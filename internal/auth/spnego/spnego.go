// Package spnego provides SPNEGO (Simple and Protected GSSAPI Negotiation
// Mechanism) token parsing and building for SMB session setup. It wraps
// github.com/jcmturner/gokrb5/v8/spnego.
//
// A client wraps its first NTLM message in a GSSAPI NegTokenInit and every
// later one in a NegTokenResp. The server answers with NegTokenResp tokens
// carrying the negotiation state. [RFC 4178]
package spnego

import (
	"errors"
	"fmt"

	"github.com/jcmturner/gofork/encoding/asn1"
	gokrbspnego "github.com/jcmturner/gokrb5/v8/spnego"
)

// Well-known mechanism OIDs used in SPNEGO negotiation.
var (
	// OIDMSKerberosV5 is Microsoft's Kerberos 5 OID (1.2.840.48018.1.2.2).
	OIDMSKerberosV5 = asn1.ObjectIdentifier{1, 2, 840, 48018, 1, 2, 2}

	// OIDKerberosV5 is the standard Kerberos 5 OID (1.2.840.113554.1.2.2).
	OIDKerberosV5 = asn1.ObjectIdentifier{1, 2, 840, 113554, 1, 2, 2}

	// OIDNTLMSSP is the NTLM Security Support Provider OID (1.3.6.1.4.1.311.2.2.10).
	OIDNTLMSSP = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 2, 10}
)

// NegState represents the state of SPNEGO negotiation.
// [RFC 4178] Section 4.2.2
type NegState int

const (
	NegStateAcceptCompleted  NegState = 0
	NegStateAcceptIncomplete NegState = 1
	NegStateReject           NegState = 2
	NegStateRequestMIC       NegState = 3
)

func (s NegState) String() string {
	switch s {
	case NegStateAcceptCompleted:
		return "accept-completed"
	case NegStateAcceptIncomplete:
		return "accept-incomplete"
	case NegStateReject:
		return "reject"
	case NegStateRequestMIC:
		return "request-mic"
	default:
		return fmt.Sprintf("NegState(%d)", int(s))
	}
}

var (
	ErrInvalidToken = errors.New("spnego: invalid token format")
	ErrNoMechToken  = errors.New("spnego: no mechanism token present")
	ErrRejected     = errors.New("spnego: negotiation rejected")
)

// TokenType indicates whether a token is an init or response token.
type TokenType int

const (
	// TokenTypeInit is a NegTokenInit (client's first message, or the
	// server's mechanism list in the NEGOTIATE response).
	TokenTypeInit TokenType = iota

	// TokenTypeResp is a NegTokenResp.
	TokenTypeResp
)

// ParsedToken contains the result of parsing a SPNEGO token.
type ParsedToken struct {
	Type TokenType

	// MechTypes lists the mechanisms offered (only for TokenTypeInit).
	MechTypes []asn1.ObjectIdentifier

	// MechToken is the inner mechanism token (e.g. an NTLM message).
	MechToken []byte

	// NegState is the negotiation state (only for TokenTypeResp).
	NegState NegState

	// SupportedMech is the selected mechanism (only for TokenTypeResp).
	SupportedMech asn1.ObjectIdentifier
}

// Parse parses a SPNEGO token. The input may be GSSAPI-wrapped (0x60), a
// raw NegTokenInit (0xa0) or a raw NegTokenResp (0xa1).
func Parse(data []byte) (*ParsedToken, error) {
	if len(data) < 2 {
		return nil, ErrInvalidToken
	}

	if data[0] == 0x60 {
		var tok gokrbspnego.SPNEGOToken
		if err := tok.Unmarshal(data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if tok.Init {
			return fromInit(tok.NegTokenInit), nil
		}
		return fromResp(tok.NegTokenResp), nil
	}

	isInit, token, err := gokrbspnego.UnmarshalNegToken(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if isInit {
		init, ok := token.(gokrbspnego.NegTokenInit)
		if !ok {
			return nil, ErrInvalidToken
		}
		return fromInit(init), nil
	}
	resp, ok := token.(gokrbspnego.NegTokenResp)
	if !ok {
		return nil, ErrInvalidToken
	}
	return fromResp(resp), nil
}

func fromInit(t gokrbspnego.NegTokenInit) *ParsedToken {
	return &ParsedToken{
		Type:      TokenTypeInit,
		MechTypes: t.MechTypes,
		MechToken: t.MechTokenBytes,
	}
}

func fromResp(t gokrbspnego.NegTokenResp) *ParsedToken {
	return &ParsedToken{
		Type:          TokenTypeResp,
		MechToken:     t.ResponseToken,
		NegState:      NegState(t.NegState),
		SupportedMech: t.SupportedMech,
	}
}

// HasMechanism checks if the parsed token offers a specific mechanism.
func (p *ParsedToken) HasMechanism(oid asn1.ObjectIdentifier) bool {
	for _, mech := range p.MechTypes {
		if mech.Equal(oid) {
			return true
		}
	}
	return false
}

// HasNTLM returns true if the token offers NTLM authentication.
func (p *ParsedToken) HasNTLM() bool {
	return p.HasMechanism(OIDNTLMSSP)
}

// HasKerberos returns true if the token offers Kerberos authentication.
func (p *ParsedToken) HasKerberos() bool {
	return p.HasMechanism(OIDKerberosV5) || p.HasMechanism(OIDMSKerberosV5)
}

// =============================================================================
// Client builders
// =============================================================================

// BuildInit creates a GSSAPI-wrapped NegTokenInit offering mechs, with
// token as the optimistic first mechanism token.
func BuildInit(mechs []asn1.ObjectIdentifier, token []byte) ([]byte, error) {
	tok := gokrbspnego.SPNEGOToken{
		Init: true,
		NegTokenInit: gokrbspnego.NegTokenInit{
			MechTypes:      mechs,
			MechTokenBytes: token,
		},
	}
	return tok.Marshal()
}

// BuildNTLMInit wraps an NTLM NEGOTIATE message for the first
// SESSION_SETUP request.
func BuildNTLMInit(negotiate []byte) ([]byte, error) {
	return BuildInit([]asn1.ObjectIdentifier{OIDNTLMSSP}, negotiate)
}

// BuildResponseToken wraps a follow-up client mechanism token.
func BuildResponseToken(token []byte) ([]byte, error) {
	return BuildResponse(NegStateAcceptIncomplete, nil, token)
}

// =============================================================================
// Acceptor builders, used by test servers
// =============================================================================

// BuildResponse creates a NegTokenResp. mech may be nil.
func BuildResponse(state NegState, mech asn1.ObjectIdentifier, responseToken []byte) ([]byte, error) {
	resp := gokrbspnego.NegTokenResp{
		NegState:      asn1.Enumerated(state),
		SupportedMech: mech,
		ResponseToken: responseToken,
	}
	return resp.Marshal()
}

// BuildAcceptIncomplete creates a NegTokenResp indicating more tokens are needed.
func BuildAcceptIncomplete(mech asn1.ObjectIdentifier, responseToken []byte) ([]byte, error) {
	return BuildResponse(NegStateAcceptIncomplete, mech, responseToken)
}

// BuildAcceptComplete creates a NegTokenResp indicating successful authentication.
func BuildAcceptComplete(mech asn1.ObjectIdentifier, responseToken []byte) ([]byte, error) {
	return BuildResponse(NegStateAcceptCompleted, mech, responseToken)
}

// BuildReject creates a NegTokenResp indicating authentication failure.
func BuildReject() ([]byte, error) {
	return BuildResponse(NegStateReject, nil, nil)
}
