// Package v1 provides the v1 status API routes.
package v1

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/helixml/vecsync"
	"github.com/helixml/vecsync/application/service"
	"github.com/helixml/vecsync/infrastructure/api/jsonapi"
	"github.com/helixml/vecsync/infrastructure/api/middleware"
)

// DefaultErrorLimit is the number of error log entries returned when the
// request does not set limit.
const DefaultErrorLimit = 50

const maxErrorLimit = 1000

// VectorizersRouter handles vectorizer status endpoints.
type VectorizersRouter struct {
	catalog *service.Catalog
	status  service.Status
	logger  *slog.Logger
}

// NewVectorizersRouter creates a new VectorizersRouter.
func NewVectorizersRouter(client *vecsync.Client) *VectorizersRouter {
	return &VectorizersRouter{
		catalog: client.Vectorizers(),
		status:  client.Status(),
		logger:  client.Logger(),
	}
}

// Routes returns the chi router for vectorizer endpoints.
func (r *VectorizersRouter) Routes() chi.Router {
	router := chi.NewRouter()

	router.Get("/", r.List)
	router.Get("/{id}", r.Get)
	router.Get("/{id}/status", r.GetStatus)
	router.Get("/{id}/errors", r.ListErrors)

	return router
}

// List handles GET /api/v1/vectorizers.
func (r *VectorizersRouter) List(w http.ResponseWriter, req *http.Request) {
	vectorizers, err := r.catalog.List(req.Context())
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	resources := make([]*jsonapi.Resource, 0, len(vectorizers))
	for _, v := range vectorizers {
		resources = append(resources, jsonapi.VectorizerResource(v).WithSelf(selfLink(v.ID(), "")))
	}
	middleware.WriteJSON(w, http.StatusOK, jsonapi.NewListResponse(resources))
}

// Get handles GET /api/v1/vectorizers/{id}.
func (r *VectorizersRouter) Get(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	v, err := r.catalog.Get(req.Context(), id)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, jsonapi.NewSingleResponse(
		jsonapi.VectorizerResource(v).WithSelf(selfLink(id, "")),
	))
}

// GetStatus handles GET /api/v1/vectorizers/{id}/status. The pending count
// is capped unless exact=true.
func (r *VectorizersRouter) GetStatus(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	exact, err := boolQuery(req, "exact")
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	st, err := r.status.Describe(req.Context(), id, exact)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, jsonapi.NewSingleResponse(
		jsonapi.StatusResource(st).WithSelf(selfLink(id, "/status")),
	))
}

// ListErrors handles GET /api/v1/vectorizers/{id}/errors, newest first.
func (r *VectorizersRouter) ListErrors(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	limit := DefaultErrorLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			middleware.WriteError(w, req, middleware.NewAPIError(http.StatusBadRequest, "limit must be a positive integer", err), r.logger)
			return
		}
		limit = min(limit, maxErrorLimit)
	}

	records, err := r.catalog.Errors(req.Context(), id, limit)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	resources := make([]*jsonapi.Resource, 0, len(records))
	for _, rec := range records {
		resources = append(resources, jsonapi.ErrorResource(rec))
	}
	middleware.WriteJSON(w, http.StatusOK, jsonapi.NewListResponse(resources))
}

func pathID(req *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil {
		return 0, middleware.NewAPIError(http.StatusBadRequest, "invalid vectorizer id", err)
	}
	return id, nil
}

func boolQuery(req *http.Request, name string) (bool, error) {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, middleware.NewAPIError(http.StatusBadRequest, name+" must be a boolean", err)
	}
	return b, nil
}

func selfLink(id int64, suffix string) string {
	return fmt.Sprintf("/api/v1/vectorizers/%d%s", id, suffix)
}
