package spnego

import (
	"testing"

	"github.com/jcmturner/gofork/encoding/asn1"
	gokrbspnego "github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ntlmNegotiate = []byte("NTLMSSP\x00\x01\x00\x00\x00")

func TestSessionSetupExchange(t *testing.T) {
	// Client opens with the NTLM NEGOTIATE inside a GSSAPI NegTokenInit.
	init, err := BuildNTLMInit(ntlmNegotiate)
	require.NoError(t, err)
	assert.Equal(t, byte(0x60), init[0], "init token is GSSAPI-wrapped")

	seen, err := Parse(init)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeInit, seen.Type)
	assert.True(t, seen.HasNTLM())
	assert.False(t, seen.HasKerberos())
	assert.Equal(t, ntlmNegotiate, seen.MechToken)

	// Server answers with its CHALLENGE and accept-incomplete.
	challenge, err := BuildAcceptIncomplete(OIDNTLMSSP, []byte("challenge"))
	require.NoError(t, err)
	got, err := Parse(challenge)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeResp, got.Type)
	assert.Equal(t, NegStateAcceptIncomplete, got.NegState)
	assert.True(t, got.SupportedMech.Equal(OIDNTLMSSP))
	assert.Equal(t, []byte("challenge"), got.MechToken)

	// Client sends AUTHENTICATE in a bare NegTokenResp.
	auth, err := BuildResponseToken([]byte("authenticate"))
	require.NoError(t, err)
	got, err = Parse(auth)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeResp, got.Type)
	assert.Equal(t, []byte("authenticate"), got.MechToken)

	// Server completes.
	done, err := BuildAcceptComplete(OIDNTLMSSP, nil)
	require.NoError(t, err)
	got, err = Parse(done)
	require.NoError(t, err)
	assert.Equal(t, NegStateAcceptCompleted, got.NegState)
	assert.Empty(t, got.MechToken)
}

func TestParseReject(t *testing.T) {
	data, err := BuildReject()
	require.NoError(t, err)

	got, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, NegStateReject, got.NegState)
}

// Servers advertise their mechanisms in the NEGOTIATE response as a raw or
// wrapped NegTokenInit.
func TestParseNegotiateHints(t *testing.T) {
	raw, err := (&gokrbspnego.NegTokenInit{
		MechTypes: []asn1.ObjectIdentifier{OIDMSKerberosV5, OIDKerberosV5, OIDNTLMSSP},
	}).Marshal()
	require.NoError(t, err)

	wrapped, err := BuildInit([]asn1.ObjectIdentifier{OIDKerberosV5}, nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		data     []byte
		ntlm     bool
		kerberos bool
	}{
		{name: "raw with ntlm", data: raw, ntlm: true, kerberos: true},
		{name: "wrapped kerberos only", data: wrapped, ntlm: false, kerberos: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.data)
			require.NoError(t, err)
			assert.Equal(t, TokenTypeInit, got.Type)
			assert.Equal(t, tt.ntlm, got.HasNTLM())
			assert.Equal(t, tt.kerberos, got.HasKerberos())
		})
	}
}

func TestParseInvalid(t *testing.T) {
	oid, err := asn1.Marshal(OIDKerberosV5)
	require.NoError(t, err)
	wrongMech := append([]byte{0x60, byte(len(oid))}, oid...)

	for name, data := range map[string][]byte{
		"empty":          nil,
		"one byte":       {0xa0},
		"garbage":        []byte("not asn1 at all"),
		"wrong gss mech": wrongMech,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(data)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNegStateString(t *testing.T) {
	assert.Equal(t, "accept-completed", NegStateAcceptCompleted.String())
	assert.Equal(t, "accept-incomplete", NegStateAcceptIncomplete.String())
	assert.Equal(t, "reject", NegStateReject.String())
	assert.Equal(t, "request-mic", NegStateRequestMIC.String())
	assert.Equal(t, "NegState(9)", NegState(9).String())
}
