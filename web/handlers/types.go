package handlers

import (
	"github.com/lattice-kg/lattice/pkg/types"
)

// ErrorResponse is the standard error response format for the REST API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ProjectListResponse is the response format for GET /api/projects.
type ProjectListResponse struct {
	Projects []*types.ProjectSummary `json:"projects"`
	Count    int                     `json:"count"`
}

// EntityListResponse is the response format for GET /api/entities.
type EntityListResponse struct {
	Entities []*types.Entity `json:"entities"`
	Count    int             `json:"count"`
}

// RelationshipListResponse is the response format for GET /api/relationships.
type RelationshipListResponse struct {
	Relationships []*types.Relationship `json:"relationships"`
	Count         int                   `json:"count"`
}

// SearchResponse is the response format for GET /api/search.
type SearchResponse struct {
	Query   string                `json:"query"`
	Results []*types.ScoredEntity `json:"results"`
	Count   int                   `json:"count"`
}

// DeletedResponse reports the outcome of a delete. Deleting something
// that is already gone reports deleted=false rather than an error.
type DeletedResponse struct {
	Deleted bool `json:"deleted"`
}

// HealthResponse is the response format for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Backend  string `json:"backend"`
	Sessions int    `json:"sessions"`
	Circuit  string `json:"circuit,omitempty"`
}
