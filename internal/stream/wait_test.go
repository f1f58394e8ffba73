package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollLoopWaitImmediate(t *testing.T) {
	p := NewPollLoop()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	idx, err := p.Wait(ctx, []WaitSet{waitFor(nil, WantNothing), immediateWake()})
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestPollLoopWaitChannel(t *testing.T) {
	p := NewPollLoop()
	ch := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(ch)
	}()

	idx, err := p.Wait(ctx, []WaitSet{waitOnChannel(ch)})
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestPollLoopWaitContextCancelled(t *testing.T) {
	p := NewPollLoop()
	ch := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Wait(ctx, []WaitSet{waitOnChannel(ch)})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollLoopWaitReadReadiness(t *testing.T) {
	client, server := loopbackPair(t)
	defer client.Close()
	defer server.Close()

	p := NewPollLoop()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		server.Write([]byte("x"))
	}()

	idx, err := p.Wait(ctx, []WaitSet{waitFor(client, WantReading)})
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestWaitForReturnsImmediateWhenNothingWanted(t *testing.T) {
	ws := waitFor(nil, WantNothing)
	assert.True(t, ws.Immediate)
}
