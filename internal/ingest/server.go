// Package ingest is the HTTP collection endpoint. It accepts telemetry
// uploads, derives interaction metrics and hands both to storage.
package ingest

import (
	"context"
	"net"
	"net/http"
	"time"

	"codeberg.org/mutker/itrack/internal/config"
	"codeberg.org/mutker/itrack/internal/errors"
	"codeberg.org/mutker/itrack/internal/logger"
	"codeberg.org/mutker/itrack/internal/metrics"
	"github.com/gorilla/mux"
)

const (
	SessionCookie = "itrack_session"
	SessionHeader = "X-Session-ID"

	maxPayloadBytes = 4 << 20
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	cfg    config.ServerConfig
	store  metrics.Store
	log    logger.Logger
	router *mux.Router
	now    func() time.Time
}

func New(cfg config.ServerConfig, store metrics.Store, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		cfg:    cfg,
		store:  store,
		log:    log.With("ingest"),
		router: mux.NewRouter(),
		now:    time.Now,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodPost)
	s.router.HandleFunc("/sessions/{id}/metrics", s.handleSessionMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the router wrapped in request logging. The wrapper sits
// outside the router so unmatched paths and methods are logged too.
func (s *Server) Handler() http.Handler {
	return s.requestLogger(s.router)
}

// ListenAndServe listens on the configured address and serves until ctx
// is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return errors.New().Wrap(errors.ErrInitFailed, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully, letting in-flight requests finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("Collection endpoint listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New().Wrap(errors.ErrInternal, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	<-errCh

	s.log.Info().Msg("Collection endpoint stopped")
	return nil
}
