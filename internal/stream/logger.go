package stream

import (
	"context"
	"log/slog"
	"time"
)

// Logger provides structured, rate-limited logging for the stream package.
// It binds a component attribute the way every subsystem in this codebase
// does, and pipes syscall/TLS diagnostics through a RateLimiter so a
// flapping peer cannot flood the log: after an initial burst, only a
// fraction of subsequent errors are actually emitted, each one annotated
// with how many were suppressed since the last.
type Logger struct {
	logger *slog.Logger
	errRL  *RateLimiter
}

// NewLogger creates a stream logger. A nil base logger falls back to
// slog.Default(). The rate limiter defaults to a burst of 10 followed by 25
// per minute, matching the module's default diagnostic throttle.
func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		logger: logger.With("component", "stream"),
		errRL:  NewRateLimiter(10, 25, time.Minute),
	}
}

// logRateLimited emits msg at level unless the rate limiter is currently
// throttling this class of diagnostic, in which case it is silently
// counted and folded into the next message that does get through.
func (l *Logger) logRateLimited(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	ok, suppressed := l.errRL.Allow(time.Now())
	if !ok {
		return
	}
	if suppressed > 0 {
		attrs = append(attrs, slog.Int("suppressed_since_last", suppressed))
	}
	l.logger.LogAttrs(ctx, level, msg, attrs...)
}

// LogHandshakeStart logs the beginning of a TCP-connect/TLS-handshake
// attempt.
func (l *Logger) LogHandshakeStart(ctx context.Context, connID, remoteAddr string, role Role) {
	l.logger.LogAttrs(ctx, slog.LevelDebug, "stream handshake started",
		slog.String("event", "handshake_start"),
		slog.String("conn_id", connID),
		slog.String("remote_addr", remoteAddr),
		slog.String("role", role.String()),
	)
}

// LogHandshakeSuccess logs a completed handshake that reached OPEN.
func (l *Logger) LogHandshakeSuccess(ctx context.Context, connID, remoteAddr string, d time.Duration) {
	l.logger.LogAttrs(ctx, slog.LevelInfo, "stream handshake completed",
		slog.String("event", "handshake_success"),
		slog.String("conn_id", connID),
		slog.String("remote_addr", remoteAddr),
		slog.Duration("duration", d),
	)
}

// LogHandshakeFailure logs a handshake failure during connect, rate limited.
func (l *Logger) LogHandshakeFailure(ctx context.Context, op, connID, remoteAddr string, err error) {
	l.LogRateLimited(ctx, "handshake_failure", "stream handshake failed", op, connID, remoteAddr, err)
}

// LogRateLimited emits a rate-limited diagnostic for a chatty TLS or
// syscall failure, annotated with how many similar messages were
// suppressed since the last one that got through. This is the general
// entry point classifyTLSError and LogHandshakeFailure both funnel
// through, matching the "bursts of roughly 10 then 25 per interval"
// throttle every failure path in this package shares.
func (l *Logger) LogRateLimited(ctx context.Context, event, msg, op, connID, remoteAddr string, err error) {
	l.logRateLimited(ctx, slog.LevelWarn, msg,
		slog.String("event", event),
		slog.String("op", op),
		slog.String("conn_id", connID),
		slog.String("remote_addr", remoteAddr),
		slog.String("error", err.Error()),
	)
}

// LogBootstrapWin logs a stream winning the bootstrap CA race.
func (l *Logger) LogBootstrapWin(ctx context.Context, path, subject, fingerprint string) {
	l.logger.LogAttrs(ctx, slog.LevelInfo, "trusting bootstrapped CA cert",
		slog.String("event", "bootstrap_win"),
		slog.String("path", path),
		slog.String("subject", subject),
		slog.String("fingerprint", fingerprint),
	)
}

// LogBootstrapReject logs a stream rejected during the bootstrap race
// window, rate limited since a thundering herd of switches can all lose the
// race at once.
func (l *Logger) LogBootstrapReject(ctx context.Context, connID string) {
	l.logRateLimited(ctx, slog.LevelWarn, "rejecting connection during bootstrap race window",
		slog.String("event", "bootstrap_reject"),
		slog.String("conn_id", connID),
	)
}

// LogCACertTrusted logs a CA certificate accepted into the trust store via
// the ordinary (non-bootstrap) configuration path.
func (l *Logger) LogCACertTrusted(ctx context.Context, path, subject, fingerprint string) {
	l.logger.LogAttrs(ctx, slog.LevelInfo, "trusting CA cert",
		slog.String("event", "ca_cert_trusted"),
		slog.String("path", path),
		slog.String("subject", subject),
		slog.String("fingerprint", fingerprint),
	)
}
