package stream

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenComputesBoundNameFromRealAddr(t *testing.T) {
	dir := t.TempDir()
	ctxCfg := newTestReadyContext(t, dir)
	globalCtx, restore := swapGlobalContext(ctxCfg)
	defer restore()

	l, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, "pssl:"+l.Addr().String(), l.BoundName())
	_ = globalCtx
}

func TestListenerAcceptQueuesConnections(t *testing.T) {
	dir := t.TempDir()
	ctxCfg := newTestReadyContext(t, dir)
	_, restore := swapGlobalContext(ctxCfg)
	defer restore()

	l, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Accept()
	assert.ErrorIs(t, err, ErrAgain)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	var s *TLSStream
	for time.Now().Before(deadline) {
		s, err = l.Accept()
		if err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, RoleServer, s.role)
	assert.Equal(t, PhaseTLSHandshake, s.Phase())
}

func TestListenerWaitReturnsImmediateWhenQueued(t *testing.T) {
	dir := t.TempDir()
	ctxCfg := newTestReadyContext(t, dir)
	_, restore := swapGlobalContext(ctxCfg)
	defer restore()

	l, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.Wait().Immediate {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("listener never reported an immediate wake after a connection arrived")
}

func TestListenerCloseClosesPendingConnections(t *testing.T) {
	dir := t.TempDir()
	ctxCfg := newTestReadyContext(t, dir)
	_, restore := swapGlobalContext(ctxCfg)
	defer restore()

	l, err := Listen("127.0.0.1:0")
	require.NoError(t, err)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Close())

	_, err = l.Accept()
	assert.ErrorIs(t, err, ErrAgain)
}
