// Package api serves persisted deployment artifacts over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/artpar/deployseq/internal/core/domain"
	"github.com/artpar/deployseq/internal/shell/artifact"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// =============================================================================
// Handler
// =============================================================================

// Reader is the read side of an artifact store.
type Reader interface {
	Get(ctx context.Context, unit string) (*domain.ArtifactRecord, error)
	List(ctx context.Context) ([]domain.ArtifactRecord, error)
}

// Handler provides read-only HTTP handlers over an artifact store.
type Handler struct {
	store  Reader
	logger *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(s Reader, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		store:  s,
		logger: l,
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	// API v1 routes
	r.Route("/api/v1/artifacts", func(r chi.Router) {
		r.Get("/", h.handleListArtifacts)
		r.Get("/{unit}", h.handleGetArtifact)
		r.Get("/{unit}/address", h.handleGetAddress)
		r.Get("/{unit}/interface", h.handleGetInterface)
		r.Get("/{unit}/history", h.handleGetHistory)
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"store": "ok"}
	if _, err := h.store.List(r.Context()); err != nil {
		h.logger.Warn("store not ready", "error", err)
		checks["store"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Checks: checks})
		return
	}
	h.writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready", Checks: checks})
}

// =============================================================================
// Artifact Handlers
// =============================================================================

func (h *Handler) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.List(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	resp := ListArtifactsResponse{Artifacts: make([]ArtifactResponse, 0, len(records))}
	for _, rec := range records {
		resp.Artifacts = append(resp.Artifacts, toResponse(rec))
	}
	resp.Total = len(resp.Artifacts)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(*rec))
}

// handleGetAddress returns the bare address so scripts can consume it the
// same way they read the address file.
func (h *Handler) handleGetAddress(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(rec.Address)); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) handleGetInterface(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(rec.Interface); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	hs, ok := h.store.(artifact.HistoryStore)
	if !ok {
		h.writeError(w, http.StatusNotImplemented, "store backend keeps no history", "not_implemented")
		return
	}

	unit := chi.URLParam(r, "unit")
	records, err := hs.History(r.Context(), unit)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if len(records) == 0 {
		h.writeError(w, http.StatusNotFound, "no artifact recorded for "+unit, "not_found")
		return
	}

	resp := ListArtifactsResponse{Artifacts: make([]ArtifactResponse, 0, len(records))}
	for _, rec := range records {
		resp.Artifacts = append(resp.Artifacts, toResponse(rec))
	}
	resp.Total = len(resp.Artifacts)
	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Helper Methods
// =============================================================================

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*domain.ArtifactRecord, bool) {
	unit := chi.URLParam(r, "unit")
	if strings.TrimSpace(unit) == "" {
		h.writeError(w, http.StatusBadRequest, "unit name is required", "validation_error")
		return nil, false
	}
	rec, err := h.store.Get(r.Context(), unit)
	if err != nil {
		h.writeStoreError(w, err)
		return nil, false
	}
	return rec, true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, artifact.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error(), "not_found")
	case errors.Is(err, artifact.ErrIncompleteRecord):
		h.writeError(w, http.StatusConflict, err.Error(), "incomplete_record")
	case errors.Is(err, artifact.ErrInvalidData):
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
	default:
		h.logger.Error("store error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error", "internal_error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func toResponse(rec domain.ArtifactRecord) ArtifactResponse {
	return ArtifactResponse{
		Unit:      rec.Unit,
		Address:   rec.Address,
		Interface: rec.Interface,
		UpdatedAt: rec.UpdatedAt,
	}
}
