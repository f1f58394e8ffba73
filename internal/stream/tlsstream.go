package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stream is the capability set a caller drives an OpenFlow control
// connection through: connect/accept progression, full-duplex I/O, and the
// wait queries needed to arm an external poll loop. It replaces the
// callback-vtable dispatch of the original ssl/pssl stream classes with a
// plain interface.
type Stream interface {
	// Connect advances the connection through TCP connect and TLS
	// handshake. It is edge-triggered and idempotent: call it again
	// whenever the connection becomes ready in the direction the last
	// call's Wait(WaitConnect) requested, until it returns nil or a
	// non-ErrAgain error.
	Connect(ctx context.Context) error
	// Recv reads plaintext into buf. buf must not be empty. It returns
	// (0, nil) on peer EOF and (0, ErrAgain) when no data is currently
	// available.
	Recv(buf []byte) (int, error)
	// Send queues data for transmission, cloning it if it cannot be
	// drained synchronously. It returns ErrAgain only if a previous send
	// is still draining.
	Send(data []byte) error
	// Run drains a queued send in the background. Callers not otherwise
	// waiting to send should still call Run periodically once Wait
	// reports send-readiness.
	Run() error
	// Wait reports how the caller should arm the external poll loop for
	// the given operation.
	Wait(op WaitType) WaitSet
	// Close performs a best-effort shutdown and releases the underlying
	// socket. It does not retry.
	Close() error

	// Phase reports the stream's current lifecycle position.
	Phase() Phase
	// ConnID is the process-unique correlation identifier stamped on
	// this connection's log lines; metrics carry no per-connection label.
	ConnID() string
	// LocalAddr and RemoteAddr report the cached socket endpoints.
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// TLSStream implements Stream over a non-blocking TCP socket and
// crypto/tls, driven through netShim's deadline-based readiness signaling.
type TLSStream struct {
	mu sync.Mutex

	role   Role
	phase  Phase
	connID string

	ctxCfg *Context

	rawConn net.Conn // nil until the TCP connect completes
	target  string   // host:port, active streams only

	// connectDone is closed by the background dial goroutine started by
	// the active stream factory when the non-blocking connect finishes,
	// successfully or not. connectResult then holds the outcome.
	connectDone   chan struct{}
	connectResult struct {
		conn net.Conn
		err  error
	}

	shim   *netShim
	tls    *tls.Conn
	tlsCfg *tls.Config

	// handshakeDone is closed by the background goroutine beginHandshakeLocked
	// starts, once s.tls.HandshakeContext returns; handshakeResult holds the
	// outcome. Connect polls this the same non-blocking way it polls
	// connectDone: a single real handshake attempt runs to completion (or to
	// ctx cancellation) off the caller's goroutine, since crypto/tls has no
	// way to resume a handshake that was interrupted mid-flight.
	handshakeDone   chan struct{}
	handshakeResult error

	rxWant Want
	txWant Want
	txbuf  []byte

	localAddr  net.Addr
	remoteAddr net.Addr

	// openedDuringBootstrap is captured once at construction: true only
	// for a client stream created while bootstrap was pending. Checked
	// post-handshake instead of re-inspecting verify-mode state, per the
	// resolved Open Question.
	openedDuringBootstrap bool

	logger  *Logger
	metrics *Metrics

	handshakeStart time.Time
}

// newTLSStreamBase allocates a stream with its process-wide dependencies
// wired in and its bootstrap flag captured, common to both the connected
// and still-connecting construction paths.
func newTLSStreamBase(ctxCfg *Context, role Role) (*TLSStream, error) {
	if !ctxCfg.Ready() {
		return nil, newErr(ErrNoProtoOpt, "new_ssl_stream").WithContext("reason", "missing key, certificate, or CA trust")
	}

	pending, _ := ctxCfg.bootstrapState()

	return &TLSStream{
		role:                  role,
		ctxCfg:                ctxCfg,
		connID:                uuid.NewString(),
		logger:                ctxCfg.logger,
		metrics:               globalMetrics(),
		openedDuringBootstrap: role == RoleClient && pending,
	}, nil
}

// newTLSStreamFromConn builds a stream around an already-established,
// non-blocking TCP connection: the passive listener's accept path, or an
// active connect that happened to complete synchronously.
func newTLSStreamFromConn(ctxCfg *Context, role Role, tcpConn net.Conn) (*TLSStream, error) {
	s, err := newTLSStreamBase(ctxCfg, role)
	if err != nil {
		return nil, err
	}
	s.rawConn = tcpConn
	s.localAddr = tcpConn.LocalAddr()
	s.remoteAddr = tcpConn.RemoteAddr()
	s.phase = PhaseTLSHandshake
	if err := s.startHandshakeLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// newTLSStreamConnecting builds an active stream whose TCP connect runs to
// completion in a background goroutine started here, so a caller invoking
// Connect repeatedly polls the same in-flight attempt instead of starting a
// new one each time. This is the Go realization of a non-blocking connect():
// the syscall itself always blocks in the Go runtime, but the calling
// goroutine returns control to Connect immediately via the channel handoff.
func newTLSStreamConnecting(ctx context.Context, ctxCfg *Context, dialer *net.Dialer, target string) (*TLSStream, error) {
	s, err := newTLSStreamBase(ctxCfg, RoleClient)
	if err != nil {
		return nil, err
	}
	s.target = target
	s.phase = PhaseTCPConnecting
	s.connectDone = make(chan struct{})

	go func() {
		conn, dialErr := dialer.DialContext(ctx, "tcp", target)
		s.mu.Lock()
		s.connectResult.conn = conn
		s.connectResult.err = dialErr
		s.mu.Unlock()
		close(s.connectDone)
	}()

	return s, nil
}

// startHandshakeLocked builds the shim and tls.Conn once the TCP connect
// has completed. Callers must hold s.mu or be in the constructor. It does
// not itself start the handshake: that happens lazily on the first Connect
// call, once a ctx is available to bound it.
func (s *TLSStream) startHandshakeLocked() error {
	if tc, ok := s.rawConn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	s.shim = newNetShim(s.rawConn)

	if s.role == RoleClient {
		host, _, _ := net.SplitHostPort(s.target)
		s.tlsCfg = s.ctxCfg.clientTLSConfig(host, s.openedDuringBootstrap)
		s.tls = tls.Client(s.shim, s.tlsCfg)
	} else {
		s.tlsCfg = s.ctxCfg.serverTLSConfig()
		s.tls = tls.Server(s.shim, s.tlsCfg)
	}
	s.handshakeStart = time.Now()
	s.logger.LogHandshakeStart(context.Background(), s.connID, s.remoteAddrString(), s.role)
	return nil
}

// beginHandshakeLocked starts the one and only real handshake attempt in a
// background goroutine, bound to ctx. Callers must hold s.mu.
func (s *TLSStream) beginHandshakeLocked(ctx context.Context) {
	s.handshakeDone = make(chan struct{})
	go func() {
		err := s.tls.HandshakeContext(ctx)
		if err == nil {
			s.shim.armPolling()
		}
		s.mu.Lock()
		s.handshakeResult = err
		s.mu.Unlock()
		close(s.handshakeDone)
	}()
}

func (s *TLSStream) remoteAddrString() string {
	if s.remoteAddr == nil {
		return ""
	}
	return s.remoteAddr.String()
}

// Phase implements Stream.
func (s *TLSStream) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// ConnID implements Stream.
func (s *TLSStream) ConnID() string { return s.connID }

// LocalAddr implements Stream.
func (s *TLSStream) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localAddr
}

// RemoteAddr implements Stream.
func (s *TLSStream) RemoteAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteAddr
}

// advancePhaseLocked enforces the forward-only phase invariant. Callers
// must hold s.mu.
func (s *TLSStream) advancePhaseLocked(next Phase) {
	if next.less(s.phase) {
		panic(fmt.Sprintf("stream %s: illegal phase transition %s -> %s", s.connID, s.phase, next))
	}
	s.phase = next
}

// Connect implements Stream.
func (s *TLSStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case PhaseOpen:
		return nil
	case PhaseClosed:
		return newErr(ErrProto, "connect").WithContext("reason", "stream closed")
	}

	if s.phase == PhaseTCPConnecting {
		done, err := s.pollConnectLocked()
		if err != nil {
			return err
		}
		if !done {
			return newErr(ErrAgain, "connect")
		}
		s.advancePhaseLocked(PhaseTLSHandshake)
		if err := s.startHandshakeLocked(); err != nil {
			return err
		}
	}

	// PhaseTLSHandshake
	if s.handshakeDone == nil {
		s.beginHandshakeLocked(ctx)
	}

	select {
	case <-s.handshakeDone:
	default:
		return newErr(ErrAgain, "connect")
	}

	if err := s.handshakeResult; err != nil {
		s.logger.LogHandshakeFailure(ctx, "handshake", s.connID, s.remoteAddrString(), err)
		s.metrics.HandshakeFailures.Add(ctx, 1)
		s.halfShutdownLocked()
		return newErrWithCause(ErrProto, "connect", err)
	}

	return s.handshakeCompleteLocked()
}

// pollConnectLocked checks whether the background dial goroutine has
// finished, without blocking. This is the non-blocking-connect equivalent
// of reading SO_ERROR on a socket that was connect()ed non-blocking.
func (s *TLSStream) pollConnectLocked() (bool, error) {
	select {
	case <-s.connectDone:
	default:
		return false, nil
	}

	if s.connectResult.err != nil {
		return false, newErrWithCause(ErrProto, "connect", s.connectResult.err)
	}
	conn := s.connectResult.conn
	s.rawConn = conn
	s.localAddr = conn.LocalAddr()
	s.remoteAddr = conn.RemoteAddr()
	return true, nil
}

// handshakeCompleteLocked runs the post-handshake bootstrap and
// bootstrap-race checks and, absent either, advances to Open. Callers must
// hold s.mu.
func (s *TLSStream) handshakeCompleteLocked() error {
	pending, path := s.ctxCfg.bootstrapState()

	if s.role == RoleClient && s.openedDuringBootstrap && pending {
		err := runBootstrap(s.ctxCfg, path, s.tls.ConnectionState().PeerCertificates, s.logger)
		s.metrics.BootstrapAttempts.Add(context.Background(), 1)
		if err == nil {
			s.metrics.BootstrapWins.Add(context.Background(), 1)
		}
		s.halfShutdownLocked()
		if err != nil {
			return newErrWithCause(ErrProto, "connect", err).WithContext("reason", "bootstrap failed")
		}
		return newErr(ErrProto, "connect").WithContext("reason", "bootstrap complete, reconnect to verify")
	}

	if s.openedDuringBootstrap && !pending {
		// Another stream won the bootstrap race while this handshake was
		// in flight. This session was granted InsecureSkipVerify at
		// construction time and must not be trusted now that a verified
		// CA exists.
		s.logger.LogBootstrapReject(context.Background(), s.connID)
		s.metrics.BootstrapRejections.Add(context.Background(), 1)
		s.halfShutdownLocked()
		return newErr(ErrProto, "connect").WithContext("reason", "bootstrap race lost, reconnect")
	}

	s.advancePhaseLocked(PhaseOpen)
	d := time.Since(s.handshakeStart)
	s.logger.LogHandshakeSuccess(context.Background(), s.connID, s.remoteAddrString(), d)
	s.metrics.HandshakeDuration.Record(context.Background(), d.Seconds())
	s.metrics.ConnectionsActive.Add(context.Background(), 1)
	return nil
}

// Recv implements Stream.
func (s *TLSStream) Recv(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(buf) == 0 {
		panic("stream: Recv called with an empty buffer")
	}
	if s.phase != PhaseOpen {
		return 0, newErr(ErrProto, "recv").WithContext("reason", "stream not open")
	}

	before := s.shim.state()
	n, err := s.tls.Read(buf)
	after := s.shim.state()
	if after != before {
		s.txWant = WantNothing
	}
	s.rxWant = WantNothing

	if n > 0 {
		return n, nil
	}
	if errors.Is(err, io.EOF) {
		return 0, nil
	}
	if isTimeout(err) {
		s.rxWant = s.shim.want()
		s.metrics.RxWantStalls.Add(context.Background(), 1)
		return 0, newErr(ErrAgain, "recv")
	}
	if err != nil {
		return 0, s.classifyTLSError("recv", err)
	}
	return 0, nil
}

// Send implements Stream.
func (s *TLSStream) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseOpen {
		return newErr(ErrProto, "send").WithContext("reason", "stream not open")
	}
	if s.txbuf != nil {
		return newErr(ErrAgain, "send")
	}

	s.txbuf = append([]byte(nil), data...)
	return s.drainLocked()
}

// Run implements Stream.
func (s *TLSStream) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.txbuf == nil {
		return nil
	}
	return s.drainLocked()
}

// drainLocked attempts to push txbuf to the peer, looping until it empties,
// the engine blocks, or an error occurs. Success and "the engine blocked
// but retained txbuf for a later Run" are both reported to the caller as
// nil: only a send that finds txbuf already occupied is a caller-visible
// EAGAIN, matching the original send/run split. Callers must hold s.mu.
func (s *TLSStream) drainLocked() error {
	for len(s.txbuf) > 0 {
		before := s.shim.state()
		n, err := s.tls.Write(s.txbuf)
		after := s.shim.state()
		if after != before {
			s.rxWant = WantNothing
		}
		s.txWant = WantNothing

		if n > 0 {
			s.txbuf = s.txbuf[n:]
		}
		if isTimeout(err) {
			s.txWant = s.shim.want()
			return nil // retained for background drain via Run
		}
		if err != nil {
			s.txbuf = nil
			return s.classifyTLSError("send", err)
		}
	}
	s.txbuf = nil
	return nil
}

// Wait implements Stream.
func (s *TLSStream) Wait(op WaitType) WaitSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch op {
	case WaitConnect:
		switch s.phase {
		case PhaseTCPConnecting:
			select {
			case <-s.connectDone:
				return immediateWake()
			default:
				return waitOnChannel(s.connectDone)
			}
		case PhaseTLSHandshake:
			if s.handshakeDone == nil {
				return immediateWake()
			}
			return waitOnChannel(s.handshakeDone)
		default:
			return immediateWake()
		}
	case WaitRecv:
		if s.rxWant == WantNothing {
			return immediateWake()
		}
		return waitFor(s.rawConn, s.rxWant)
	case WaitSend:
		if s.txbuf == nil {
			return immediateWake()
		}
		if s.txWant == WantNothing {
			return immediateWake()
		}
		return waitFor(s.rawConn, s.txWant)
	default:
		return immediateWake()
	}
}

// Close implements Stream.
func (s *TLSStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseClosed {
		return nil
	}
	s.txbuf = nil
	if s.tls != nil {
		s.halfShutdownLocked()
	}
	var err error
	if s.rawConn != nil {
		err = s.rawConn.Close()
	}
	if s.phase == PhaseOpen {
		s.metrics.ConnectionsActive.Add(context.Background(), -1)
	}
	s.phase = PhaseClosed
	return err
}

// halfShutdownLocked issues a single best-effort TLS shutdown, matching
// the original's one-shot SSL_shutdown with no retry loop: it sends
// close_notify and leaves the socket open for Close to release. Callers
// must hold s.mu.
func (s *TLSStream) halfShutdownLocked() {
	if s.tls == nil {
		return
	}
	_ = s.rawConn.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
	_ = s.tls.CloseWrite()
}

// classifyTLSError maps a crypto/tls or syscall error to an errno-compatible
// StreamError. Following interpret_ssl_error's table, a raw syscall error at
// the socket layer (ECONNRESET, EIO, ...) propagates as the fatal I/O case;
// everything surfaced by the TLS layer itself (bad record, alert, closed
// without close_notify) is EPROTO. Both are rate-limited diagnostics, since
// a single misbehaving peer can otherwise flood the log.
func (s *TLSStream) classifyTLSError(op string, err error) error {
	s.logger.LogRateLimited(context.Background(), "io_error", "stream I/O failed", op, s.connID, s.remoteAddrString(), err)

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		if errno, ok := Errno(opErr.Err); ok {
			return newErrWithCause(errno, op, err)
		}
	}
	return newErrWithCause(ErrProto, op, err)
}
