package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"picam/internal/logging"
)

type metricsServer struct {
	bind   string
	logger *slog.Logger
	server *http.Server
}

func newMetricsServer(bind string, handler http.Handler, logger *slog.Logger) *metricsServer {
	bind = strings.TrimSpace(bind)
	if bind == "" || handler == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	return &metricsServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "metrics"),
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// run serves until ctx is canceled.
func (s *metricsServer) run(ctx context.Context, ready func(net.Addr)) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	s.logger.Info("metrics listener ready", logging.String("address", listener.Addr().String()))
	if ready != nil {
		ready(listener.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics shutdown: %w", err)
	}
	<-errCh
	return nil
}

// ServeMetrics exposes the Prometheus registry on the configured bind
// address until ctx ends. It returns nil immediately when no address is
// configured. ready, if set, receives the bound address.
func (d *Daemon) ServeMetrics(ctx context.Context, ready func(net.Addr)) error {
	if d.metrics == nil {
		return nil
	}
	srv := newMetricsServer(d.cfg.Metrics.Bind, d.metrics.Handler(d.RefreshMetrics), d.logger)
	if srv == nil {
		return nil
	}
	return srv.run(ctx, ready)
}
