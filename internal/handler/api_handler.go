package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/crowdfund/internal/service"
)

// ProgressReader serves project progress views.
type ProgressReader interface {
	Progress(ctx context.Context, id uuid.UUID) (*service.ProjectProgress, error)
}

// PointsReader serves user points views.
type PointsReader interface {
	Points(ctx context.Context, id uuid.UUID) (*service.UserPoints, error)
}

// APIHandler serves the read-only JSON endpoints.
type APIHandler struct {
	projects ProgressReader
	users    PointsReader
	logger   zerolog.Logger
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(projects ProgressReader, users PointsReader, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		projects: projects,
		users:    users,
		logger:   logger.With().Str("handler", "api").Logger(),
	}
}

// RegisterRoutes registers the API routes.
func (h *APIHandler) RegisterRoutes(r chi.Router) {
	r.Get("/projects/{id}", h.handleGetProject)
	r.Get("/users/{id}", h.handleGetUser)
}

func (h *APIHandler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	progress, err := h.projects.Progress(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *APIHandler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	points, err := h.users.Points(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := mapError(err)
	if apiErr.HTTPStatusCode >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, apiErr)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
