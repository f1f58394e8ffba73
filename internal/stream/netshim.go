package stream

import (
	"errors"
	"net"
	"os"
	"sync/atomic"
	"time"
)

// netShim wraps a net.Conn and turns crypto/tls's blocking Read/Write
// contract into the want-read/want-write signaling this package's
// post-handshake I/O needs. crypto/tls has no non-blocking mode of its own:
// every Read and Write call blocks on its underlying net.Conn until the
// operation completes or the deadline expires. netShim exploits the
// deadline mechanism already part of net.Conn: once armed (armPolling,
// called after the handshake completes), every call it makes against the
// real connection carries a deadline only pollWindow in the future, so a
// call that would otherwise block instead fails almost at once with a
// timeout error. netShim
// records which direction the timeout happened in, and the TLS stream state
// machine reads that back after crypto/tls returns.
//
// Before the handshake completes, the shim passes Read/Write straight
// through with no forced deadline: crypto/tls's own internal handshake
// state machine issues several underlying reads and writes per call to
// HandshakeContext, and HandshakeContext caches whatever error that call
// returns as permanent (every later call returns the same cached error
// without retrying I/O at all). Forcing a timeout mid-handshake would
// therefore wedge the connection after the first would-block, not signal a
// retryable condition. The handshake is instead driven to completion by a
// single background HandshakeContext call against this same shim while it
// is unarmed, exactly like the TCP-connect goroutine already used for the
// non-blocking connect() equivalent.
type netShim struct {
	net.Conn

	polling    atomic.Bool  // true once the handshake has completed
	lastWant   atomic.Int32 // Want, direction of the most recent would-block
	generation atomic.Int64 // increments on every successful (n>0) transfer
}

func newNetShim(conn net.Conn) *netShim {
	return &netShim{Conn: conn}
}

// armPolling switches the shim into non-blocking probe mode for
// post-handshake Recv/Send.
func (s *netShim) armPolling() {
	s.polling.Store(true)
}

// pollWindow bounds how long a polled Read or Write may wait on the
// underlying conn before it reports a timeout instead of blocking. The
// deadline has to lie in the future: net.Conn fails a call whose deadline
// has already passed before attempting any I/O, even when data or buffer
// space is available.
const pollWindow = time.Millisecond

func (s *netShim) Read(b []byte) (int, error) {
	if s.polling.Load() {
		if err := s.Conn.SetReadDeadline(time.Now().Add(pollWindow)); err != nil {
			return 0, err
		}
	}
	n, err := s.Conn.Read(b)
	if n > 0 {
		s.generation.Add(1)
	}
	if isTimeout(err) {
		s.lastWant.Store(int32(WantReading))
		return n, err
	}
	if err == nil {
		s.lastWant.Store(int32(WantNothing))
	}
	return n, err
}

func (s *netShim) Write(b []byte) (int, error) {
	if s.polling.Load() {
		if err := s.Conn.SetWriteDeadline(time.Now().Add(pollWindow)); err != nil {
			return 0, err
		}
	}
	n, err := s.Conn.Write(b)
	if n > 0 {
		s.generation.Add(1)
	}
	if isTimeout(err) {
		s.lastWant.Store(int32(WantWriting))
		return n, err
	}
	if err == nil {
		s.lastWant.Store(int32(WantNothing))
	}
	return n, err
}

// want reports the directional block signal left by the most recent Read
// or Write call on the shim.
func (s *netShim) want() Want {
	return Want(s.lastWant.Load())
}

// state returns the shim's monotonic progress counter, this package's
// stand-in for an opaque TLS engine state identifier: it advances whenever
// a Read or Write on the underlying socket actually transferred bytes,
// which is the only externally observable signal that a renegotiation or
// handshake sub-state machine made progress.
func (s *netShim) state() int64 {
	return s.generation.Load()
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
