package stream

import (
	"context"
	"net"
	"strconv"
)

// DefaultPort is the IANA-assigned OpenFlow-over-TLS port. The legacy 6633
// port is accepted when a caller names it explicitly but is never used as
// a default.
const DefaultPort = 6653

// Dial opens an active TLS stream named the way the original ssl: class
// does: a bare host defaults to DefaultPort, host:port uses the given port.
// The TCP connect runs non-blocking; Dial returns as soon as the connect
// has started, in PhaseTCPConnecting (or PhaseTLSHandshake if the connect
// somehow already finished by the time the caller looks).
func Dial(ctx context.Context, target string) (*TLSStream, error) {
	ctxCfg := GlobalContext()
	if !ctxCfg.Ready() {
		return nil, newErr(ErrNoProtoOpt, "ssl_open").WithContext("target", target)
	}

	addr, err := withDefaultPort(target, DefaultPort)
	if err != nil {
		return nil, newErrWithCause(ErrNoProtoOpt, "ssl_open", err).WithContext("target", target)
	}

	dialer := &net.Dialer{}
	return newTLSStreamConnecting(ctx, ctxCfg, dialer, addr)
}

// withDefaultPort appends defaultPort to addr if addr names no port of its
// own.
func withDefaultPort(addr string, defaultPort int) (string, error) {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr, nil
	}
	return net.JoinHostPort(addr, strconv.Itoa(defaultPort)), nil
}
