// Command ofssl-probe is a minimal active/passive echo harness for
// internal/stream: it drives a passive listener, an active dialer, or both,
// exercising the Connect/Recv/Send/Wait/Run cycle through
// internal/stream.PollLoop the way a real OpenFlow controller or switch
// would, and exposes the resulting metrics and traces for inspection.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ovs-project/ofssl/internal/stream"
	"github.com/ovs-project/ofssl/pkg/config"
	"github.com/ovs-project/ofssl/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "ofssl-probe",
		Short: "Active/passive TLS stream probe for internal/stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "ofssl-probe.yaml", "Path to configuration file")
	return cmd
}

func run(baseCtx context.Context, configPath string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := configureContext(cfg.Stream); err != nil {
		return fmt.Errorf("configure stream context: %w", err)
	}
	logger.Info("stream context configured", "bootstrap", cfg.Stream.Bootstrap, "ca_file", cfg.Stream.CAFile)

	var watcher *stream.CertWatcher
	if cfg.Stream.CAFile != "" {
		watcher, err = stream.WatchCertFiles(stream.GlobalContext(), cfg.Stream.KeyFile, cfg.Stream.CertFile, cfg.Stream.CAFile)
		if err != nil {
			return fmt.Errorf("start certificate watcher: %w", err)
		}
		defer watcher.Close()
	}

	shutdownTracing, err := telemetry.SetupProvider(baseCtx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	admin := startAdminServer(cfg.AdminAddr, logger)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = admin.Shutdown(shutdownCtx)
		_ = shutdownTracing(shutdownCtx)
	}()

	poller := stream.NewPollLoop()

	var listener *stream.Listener
	if cfg.Listen != "" {
		listener, err = stream.Listen(cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
		}
		defer listener.Close()
		logger.Info("listening", "addr", listener.Addr().String())
		go acceptLoop(ctx, listener, poller, logger)
	}

	if cfg.Dial != "" {
		go dialLoop(ctx, cfg.Dial, poller, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func configureContext(tlsCfg config.TLSConfig) error {
	ctxCfg := stream.GlobalContext()
	if err := ctxCfg.SetPrivateKeyFile(tlsCfg.KeyFile); err != nil {
		return err
	}
	if err := ctxCfg.SetCertificateFile(tlsCfg.CertFile); err != nil {
		return err
	}
	if err := ctxCfg.SetCACertFile(tlsCfg.CAFile, tlsCfg.Bootstrap); err != nil {
		return err
	}
	if tlsCfg.PeerCACertFile != "" {
		if err := ctxCfg.SetPeerCACertFile(tlsCfg.PeerCACertFile); err != nil {
			return err
		}
	}
	return nil
}

func startAdminServer(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", otelhttp.NewHandler(promhttp.Handler(), "metrics"))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server failed", "error", err)
		}
	}()
	return srv
}

// acceptLoop drives every accepted connection's handshake to completion and
// then echoes whatever it receives, purely to give the probe something
// observable to do; a real controller would hand the open stream off to its
// own protocol layer instead.
func acceptLoop(ctx context.Context, l *stream.Listener, poller *stream.PollLoop, logger *slog.Logger) {
	for {
		s, err := l.Accept()
		if errors.Is(err, stream.ErrAgain) {
			if _, waitErr := poller.Wait(ctx, []stream.WaitSet{l.Wait()}); waitErr != nil {
				return
			}
			continue
		}
		if err != nil {
			logger.Error("accept failed", "error", err)
			return
		}
		go serveEcho(ctx, s, poller, logger)
	}
}

func dialLoop(ctx context.Context, target string, poller *stream.PollLoop, logger *slog.Logger) {
	for {
		s, err := stream.DialWithBackoff(ctx, 0, func() (*stream.TLSStream, error) {
			return stream.Dial(ctx, target)
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dial failed permanently", "target", target, "error", err)
			return
		}
		if err := driveConnect(ctx, s, poller); err != nil {
			logger.Error("handshake failed", "target", target, "error", err)
			s.Close()
			continue
		}
		logger.Info("connected", "target", target, "conn_id", s.ConnID())
		if err := s.Send([]byte("ofssl-probe hello\n")); err != nil {
			logger.Error("send failed", "error", err)
		}
		serveEcho(ctx, s, poller, logger)

		if ctx.Err() != nil {
			return
		}
	}
}

// driveConnect polls Connect until it succeeds or fails hard, arming the
// poll loop against whatever Wait(WaitConnect) reports each iteration.
func driveConnect(ctx context.Context, s stream.Stream, poller *stream.PollLoop) error {
	tracer := otel.Tracer("ofssl.probe")
	ctx, span := tracer.Start(ctx, "stream.connect")
	defer span.End()

	for {
		err := s.Connect(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, stream.ErrAgain) {
			return err
		}
		if _, waitErr := poller.Wait(ctx, []stream.WaitSet{s.Wait(stream.WaitConnect)}); waitErr != nil {
			return waitErr
		}
	}
}

// serveEcho reads whatever the peer sends and writes it straight back,
// arming the poll loop on recv- and send-readiness (send-readiness reports
// at once when no send is queued) until the connection closes or ctx ends.
func serveEcho(ctx context.Context, s stream.Stream, poller *stream.PollLoop, logger *slog.Logger) {
	defer s.Close()
	buf := stream.GetRecvBuffer()
	defer stream.PutRecvBuffer(buf)

	for {
		if err := s.Run(); err != nil {
			logger.Error("background drain failed", "error", err)
			return
		}

		n, err := s.Recv(buf)
		if err == nil && n == 0 {
			return // peer EOF
		}
		if err != nil && !errors.Is(err, stream.ErrAgain) {
			logger.Error("recv failed", "error", err)
			return
		}
		if n > 0 {
			if err := s.Send(buf[:n]); err != nil && !errors.Is(err, stream.ErrAgain) {
				logger.Error("send failed", "error", err)
				return
			}
			continue
		}

		waits := []stream.WaitSet{s.Wait(stream.WaitRecv), s.Wait(stream.WaitSend)}
		if _, err := poller.Wait(ctx, waits); err != nil {
			return
		}
	}
}
