package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  Status
		success bool
		warning bool
		err     bool
	}{
		{"Success", StatusSuccess, true, false, false},
		{"Pending", StatusPending, true, false, false},
		{"BufferOverflow", StatusBufferOverflow, false, true, false},
		{"LogonFailure", StatusLogonFailure, false, false, true},
		{"MoreProcessing", StatusMoreProcessingRequired, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.success, tt.status.IsSuccess())
			assert.Equal(t, tt.warning, tt.status.IsWarning())
			assert.Equal(t, tt.err, tt.status.IsError())
		})
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, "STATUS_PENDING", StatusPending.String())
	assert.Equal(t, "STATUS_0xC0001234", Status(0xC0001234).String())
	assert.Equal(t, "ECHO", SMB2Echo.String())
	assert.Equal(t, "UNKNOWN", Command(0x00FF).String())
	assert.Equal(t, "3.0.2", SMB2Dialect0302.String())
}

func TestHeaderFlags(t *testing.T) {
	f := SMB2FlagsServerToRedir | SMB2FlagsAsyncCommand
	assert.True(t, f.IsResponse())
	assert.True(t, f.IsAsync())
	assert.False(t, f.IsSigned())
	assert.False(t, f.IsRelated())
}

func TestParseDialect(t *testing.T) {
	for _, d := range []Dialect{SMB2Dialect0202, SMB2Dialect0210, SMB2Dialect0300, SMB2Dialect0302, SMB2Dialect0311} {
		got, err := ParseDialect(d.String())
		assert.NoError(t, err)
		assert.Equal(t, d, got)
	}

	_, err := ParseDialect("1.0")
	assert.Error(t, err)
	_, err = ParseDialect("2.???")
	assert.Error(t, err)
}
