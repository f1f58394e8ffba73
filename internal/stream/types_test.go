package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleString(t *testing.T) {
	tests := []struct {
		role     Role
		expected string
	}{
		{RoleClient, "client"},
		{RoleServer, "server"},
		{Role(99), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.role.String())
		})
	}
}

func TestPhaseString(t *testing.T) {
	tests := []struct {
		phase    Phase
		expected string
	}{
		{PhaseTCPConnecting, "tcp_connecting"},
		{PhaseTLSHandshake, "tls_handshake"},
		{PhaseOpen, "open"},
		{PhaseClosed, "closed"},
		{Phase(99), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.phase.String())
		})
	}
}

func TestPhaseLessIsMonotonic(t *testing.T) {
	assert.True(t, PhaseTCPConnecting.less(PhaseTLSHandshake))
	assert.True(t, PhaseTLSHandshake.less(PhaseOpen))
	assert.True(t, PhaseOpen.less(PhaseClosed))
	assert.False(t, PhaseOpen.less(PhaseTCPConnecting))
	assert.False(t, PhaseClosed.less(PhaseClosed))
}

func TestWantString(t *testing.T) {
	assert.Equal(t, "nothing", WantNothing.String())
	assert.Equal(t, "reading", WantReading.String())
	assert.Equal(t, "writing", WantWriting.String())
	assert.Equal(t, "unknown", Want(99).String())
}

func TestWaitTypeString(t *testing.T) {
	assert.Equal(t, "connect", WaitConnect.String())
	assert.Equal(t, "recv", WaitRecv.String())
	assert.Equal(t, "send", WaitSend.String())
	assert.Equal(t, "unknown", WaitType(99).String())
}
