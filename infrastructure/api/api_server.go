package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"

	"github.com/helixml/vecsync"
	v1 "github.com/helixml/vecsync/infrastructure/api/v1"
	mcpinternal "github.com/helixml/vecsync/internal/mcp"
)

// APIServer provides the read-only status API backed by a vecsync Client.
type APIServer struct {
	client  *vecsync.Client
	version string
	logger  *slog.Logger
}

// NewAPIServer creates a new APIServer wired to the given Client.
func NewAPIServer(client *vecsync.Client, version string) *APIServer {
	return &APIServer{
		client:  client,
		version: version,
		logger:  client.Logger(),
	}
}

// MountRoutes registers the health, v1 and MCP routes on router.
func (a *APIServer) MountRoutes(router chi.Router) {
	router.Get("/healthz", healthHandler)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))
		r.Mount("/vectorizers", v1.NewVectorizersRouter(a.client).Routes())
	})

	// No timeout middleware: MCP streams responses.
	mcpSrv := mcpinternal.NewServer(a.client.Vectorizers(), a.client.Status(), a.version, a.logger)
	router.Mount("/mcp", server.NewStreamableHTTPServer(mcpSrv.MCPServer()))
}

// Handler returns the routes on a bare router, without the Server
// middleware.
func (a *APIServer) Handler() http.Handler {
	router := chi.NewRouter()
	a.MountRoutes(router)
	return router
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
