package stream

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"
)

// WaitSet is what a stream arms against the external poll loop: a single
// readiness registration naming a connection, a direction, and whether the
// wait should instead resolve immediately (an "immediate wake"). It has no
// behavior of its own — PollLoop is what actually blocks on it — mirroring
// the split between fd_wait registration and the loop that services it.
type WaitSet struct {
	// Conn is the connection to watch, or nil for an immediate wake or a
	// channel-based wait.
	Conn net.Conn
	// Want is the direction to watch: WantReading, WantWriting, or
	// WantNothing for an immediate wake.
	Want Want
	// Immediate is true when the wait should resolve without watching any
	// fd at all, e.g. because a subsequent call would not block.
	Immediate bool
	// Ready, when non-nil, is a channel closed when this wait resolves.
	// Used for waits that have no socket yet, such as a TCP connect
	// still running in a background goroutine.
	Ready <-chan struct{}
}

func immediateWake() WaitSet {
	return WaitSet{Immediate: true}
}

func waitFor(conn net.Conn, want Want) WaitSet {
	if want == WantNothing {
		return immediateWake()
	}
	return WaitSet{Conn: conn, Want: want}
}

func waitOnChannel(ch <-chan struct{}) WaitSet {
	return WaitSet{Ready: ch}
}

// PollLoop services a batch of WaitSets by watching each connection's
// underlying fd for the requested direction, using a goroutine-per-wait
// readiness probe rather than a native multiplexer, since the streams here
// wrap arbitrary net.Conn values (including *tls.Conn-shaped shims) with no
// exposed file descriptor for epoll/kqueue registration.
//
// This is ambient scaffolding for cmd/ofssl-probe's poll loop, not
// something the TLS state machine itself depends on: every operation in
// this package is already synchronous and returns immediately, favoring
// ErrAgain over blocking, exactly as the non-blocking discipline requires.
type PollLoop struct{}

// NewPollLoop constructs a PollLoop.
func NewPollLoop() *PollLoop {
	return &PollLoop{}
}

// Wait blocks until ctx is done or any of the given WaitSets is ready,
// returning the index of the first one that became ready. An Immediate
// WaitSet is always ready.
func (p *PollLoop) Wait(ctx context.Context, waits []WaitSet) (int, error) {
	for i, w := range waits {
		if w.Immediate {
			return i, nil
		}
	}

	type result struct {
		idx int
		err error
	}
	done := make(chan result, len(waits))
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, w := range waits {
		i, w := i, w
		if w.Ready != nil {
			go func() {
				select {
				case <-w.Ready:
					select {
					case done <- result{i, nil}:
					case <-probeCtx.Done():
					}
				case <-probeCtx.Done():
				}
			}()
			continue
		}
		go func() {
			if err := probeReady(probeCtx, w); err != nil {
				select {
				case done <- result{i, err}:
				case <-probeCtx.Done():
				}
				return
			}
			select {
			case done <- result{i, nil}:
			case <-probeCtx.Done():
			}
		}()
	}

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case r := <-done:
		return r.idx, r.err
	}
}

// probeReady waits until w.Conn is ready in the direction w.Want names, by
// handing the connection to waitReady. It returns nil at once when w.Want
// names neither reading nor writing.
func probeReady(ctx context.Context, w WaitSet) error {
	if w.Conn == nil {
		return fmt.Errorf("probeReady: nil connection for direction %s", w.Want)
	}
	switch w.Want {
	case WantReading:
		return waitReady(ctx, w.Conn, false)
	case WantWriting:
		return waitReady(ctx, w.Conn, true)
	default:
		return nil
	}
}

// waitReady blocks until conn's underlying fd reports read or write
// readiness. When conn exposes a syscall.Conn (true of *net.TCPConn and
// anything built on it, which is what this package's active and passive
// streams hand out), the wait rides Go's runtime network poller directly
// via RawConn.Read/Write with a callback that always defers, so the
// goroutine blocks exactly until readiness without spinning. Connections
// that do not expose a raw fd fall back to a short polling interval.
func waitReady(ctx context.Context, conn net.Conn, forWrite bool) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return waitReadyPolled(ctx, conn, forWrite)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return waitReadyPolled(ctx, conn, forWrite)
	}

	result := make(chan error, 1)
	go func() {
		probe := func(fd uintptr) bool { return true }
		if forWrite {
			result <- rc.Write(probe)
		} else {
			result <- rc.Read(probe)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-result:
		return err
	}
}

// waitReadyPolled is the degraded fallback for connections without a raw
// fd: after one 5ms tick it sets a 1ms read or write deadline on conn and
// returns nil without probing the connection, so its return does not
// guarantee readiness. It is only reached for non-TCP-backed connections.
func waitReadyPolled(ctx context.Context, conn net.Conn, forWrite bool) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var err error
			if forWrite {
				err = conn.SetWriteDeadline(time.Now().Add(time.Millisecond))
			} else {
				err = conn.SetReadDeadline(time.Now().Add(time.Millisecond))
			}
			if err != nil {
				return err
			}
			return nil
		}
	}
}
