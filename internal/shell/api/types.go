package api

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Response Types
// =============================================================================

// ArtifactResponse is the response for a single artifact record.
type ArtifactResponse struct {
	Unit      string          `json:"unit"`
	Address   string          `json:"address"`
	Interface json.RawMessage `json:"interfaceDescriptor"`
	UpdatedAt time.Time       `json:"updated_at,omitzero"`
}

// ListArtifactsResponse is the response for listing artifacts.
type ListArtifactsResponse struct {
	Artifacts []ArtifactResponse `json:"artifacts"`
	Total     int                `json:"total"`
}

// HealthResponse is the response for health check.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for readiness check.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
