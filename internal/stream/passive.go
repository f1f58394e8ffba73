package stream

import (
	"net"
	"strconv"
	"sync"
)

// Listener is the passive counterpart of Stream: it owns a listening
// socket and produces server-role TLS streams from incoming connections.
// Its only state, per the original pssl_pstream, is the listening file
// descriptor; everything else here is bookkeeping to make accept
// non-blocking.
type Listener struct {
	ln     net.Listener
	ctxCfg *Context
	logger *Logger

	mu     sync.Mutex
	queue  []net.Conn
	notify chan struct{}
	closed bool

	// boundName is computed from ln.Addr(), the real bound socket address
	// returned after bind/listen completed. Unlike the original pssl_open,
	// which formatted its name from a sockaddr_in populated only by a
	// later, separate getsockname call it never actually made, this value
	// is never stale: net.Listen only returns once the socket is bound.
	boundName string
}

// Listen binds and starts accepting connections on addr (host:port,
// host may be empty to bind all interfaces). A bare port with no host
// binds all interfaces on that port; a caller wanting the default port
// should pass ":6653" or use ListenDefault.
func Listen(addr string) (*Listener, error) {
	ctxCfg := GlobalContext()
	if !ctxCfg.Ready() {
		return nil, newErr(ErrNoProtoOpt, "pssl_open").WithContext("addr", addr)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, newErrWithCause(ErrProto, "pssl_open", err).WithContext("addr", addr)
	}

	l := &Listener{
		ln:        ln,
		ctxCfg:    ctxCfg,
		logger:    ctxCfg.logger,
		notify:    make(chan struct{}),
		boundName: "pssl:" + ln.Addr().String(),
	}
	go l.acceptLoop()
	return l, nil
}

// ListenDefault binds all interfaces on DefaultPort.
func ListenDefault() (*Listener, error) {
	return Listen(":" + strconv.Itoa(DefaultPort))
}

// BoundName returns the listener's name, derived from the actual bound
// socket address.
func (l *Listener) BoundName() string {
	return l.boundName
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			conn.Close()
			return
		}
		l.queue = append(l.queue, conn)
		old := l.notify
		l.notify = make(chan struct{})
		l.mu.Unlock()
		close(old)
	}
}

// Accept returns the next pending connection as a server-role TLS stream
// in PhaseTLSHandshake, or ErrAgain if none is queued yet.
func (l *Listener) Accept() (*TLSStream, error) {
	l.mu.Lock()
	if len(l.queue) == 0 {
		l.mu.Unlock()
		return nil, newErr(ErrAgain, "pssl_accept")
	}
	conn := l.queue[0]
	l.queue = l.queue[1:]
	l.mu.Unlock()

	s, err := newTLSStreamFromConn(l.ctxCfg, RoleServer, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Wait reports how to arm the external poll loop for the next accept.
func (l *Listener) Wait() WaitSet {
	l.mu.Lock()
	n := len(l.queue)
	notify := l.notify
	l.mu.Unlock()

	if n > 0 {
		return immediateWake()
	}
	return waitOnChannel(notify)
}

// Close stops accepting and releases the listening socket. Any
// connections already queued but not yet Accepted are closed too.
func (l *Listener) Close() error {
	l.mu.Lock()
	l.closed = true
	pending := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, c := range pending {
		c.Close()
	}
	return l.ln.Close()
}
