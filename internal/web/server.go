package web

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cjeanneret/energyctl/internal/debug"
)

// Options configures a Server.
type Options struct {
	Addr                  string
	MoveRequestsPerMinute int // per client IP on move endpoints; 0 disables the limit
}

// Server wraps the HTTP server and handlers.
type Server struct {
	opts     Options
	handlers *Handlers
	logger   zerolog.Logger
}

// NewServer creates a server serving the embedded static files.
func NewServer(opts Options, mover Mover, info Info) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("web: sub static fs: %w", err)
	}
	return &Server{
		opts:     opts,
		handlers: NewHandlers(mover, info, subFS),
		logger:   debug.Component("web"),
	}, nil
}

// moveRateLimit returns a per-IP limiter for the move endpoints.
func moveRateLimit(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many move requests, try again later")
		}),
	)
}

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		if s.opts.MoveRequestsPerMinute > 0 {
			r.Use(moveRateLimit(s.opts.MoveRequestsPerMinute))
		}
		r.Post("/energy", s.handlers.HandleMoveEnergy)
		r.Post("/wavelength", s.handlers.HandleMoveWavelength)
	})
	r.Post("/stop", s.handlers.HandleStop)
	r.Get("/limits", s.handlers.HandleLimits)
	r.Get("/status", s.handlers.HandleStatus)
	r.Get("/config", s.handlers.HandleConfig)
	r.Get("/events/stream", s.handlers.HandleEventStream)
	r.Get("/events/ws", s.handlers.HandleWebSocket)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	r.Get("/", s.handlers.ServeIndex)

	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// Streaming handlers end with ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("event", "web.listen").Str("addr", s.opts.Addr).Msg("web server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
