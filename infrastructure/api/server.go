package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultShutdownTimeout bounds how long Run waits for in-flight requests.
const DefaultShutdownTimeout = 10 * time.Second

// Server hosts the status routes. Routes are registered on Router before
// Run is called.
type Server struct {
	addr            string
	logger          *slog.Logger
	router          chi.Router
	shutdownTimeout time.Duration

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
}

type serverOptions struct {
	logger          *slog.Logger
	origins         []string
	middleware      []func(http.Handler) http.Handler
	shutdownTimeout time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *slog.Logger) ServerOption {
	return func(o *serverOptions) { o.logger = l }
}

// WithAllowedOrigins restricts CORS to the given origins. Any origin is
// allowed by default since every route is read-only.
func WithAllowedOrigins(origins ...string) ServerOption {
	return func(o *serverOptions) { o.origins = origins }
}

// WithMiddleware appends middleware after the built-in request id,
// recovery and CORS handlers.
func WithMiddleware(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(o *serverOptions) { o.middleware = append(o.middleware, mw...) }
}

// WithShutdownTimeout overrides DefaultShutdownTimeout.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) { o.shutdownTimeout = d }
}

// NewServer creates a Server for addr.
func NewServer(addr string, opts ...ServerOption) *Server {
	o := serverOptions{shutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	// No global timeout: the MCP endpoint streams.
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID, chimiddleware.RealIP, chimiddleware.Recoverer)
	router.Use(cors.Handler(corsOptions(o.origins)))
	router.Use(o.middleware...)

	return &Server{
		addr:            addr,
		logger:          o.logger,
		router:          router,
		shutdownTimeout: o.shutdownTimeout,
	}
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Mcp-Session-Id"},
		ExposedHeaders: []string{"Mcp-Session-Id"},
		MaxAge:         300,
	}
}

// Router returns the router routes are registered on.
func (s *Server) Router() chi.Router {
	return s.router
}

// Addr returns the bound address once Run is listening, the configured one
// before that.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Run listens on the configured address and serves until ctx is done, then
// drains in-flight requests for at most the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.mu.Lock()
	s.http, s.listener = srv, ln
	s.mu.Unlock()

	s.logger.Info("serving status API", slog.String("addr", ln.Addr().String()))

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve status API: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status API: %w", err)
	}
	return nil
}

// Shutdown stops a running server. It is a no-op before Run.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Info("stopping status API")
	return srv.Shutdown(ctx)
}
