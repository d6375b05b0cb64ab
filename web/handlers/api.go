package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/lattice-kg/lattice/internal/search"
	"github.com/lattice-kg/lattice/internal/storage"
	"github.com/lattice-kg/lattice/pkg/types"
)

// Notifier receives graph mutation events for fan-out to live clients.
// *WebSocketHub satisfies it.
type Notifier interface {
	Broadcast(event string, payload interface{})
}

// APIHandlers contains HTTP handlers for the REST API. Every handler is
// scoped to a project via the project_id query parameter or request body
// field; the project namespace itself lives under /api/projects.
type APIHandlers struct {
	store    storage.Store
	notifier Notifier
}

// NewAPIHandlers creates a new APIHandlers instance.
func NewAPIHandlers(store storage.Store) *APIHandlers {
	return &APIHandlers{store: store}
}

// SetNotifier wires a live event feed. Mutations are broadcast as
// entity_created, relationship_deleted, and so on.
func (h *APIHandlers) SetNotifier(n Notifier) {
	h.notifier = n
}

func (h *APIHandlers) notify(event string, payload interface{}) {
	if h.notifier != nil {
		h.notifier.Broadcast(event, payload)
	}
}

// ListProjects handles GET /api/projects - list all projects with
// aggregate counts, most active first.
func (h *APIHandlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.store.ListProjects(r.Context())
	if err != nil {
		respondStoreError(w, "failed to list projects", err)
		return
	}
	respondJSON(w, http.StatusOK, ProjectListResponse{Projects: projects, Count: len(projects)})
}

// CreateProjectRequest is the request body for creating a project.
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateProject handles POST /api/projects - create a new project.
// Project names are unique; a taken name yields 409.
func (h *APIHandlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	project, err := h.store.CreateProject(r.Context(), req.Name, req.Description)
	if err != nil {
		respondStoreError(w, "failed to create project", err)
		return
	}

	h.notify("project_created", project)
	respondJSON(w, http.StatusCreated, project)
}

// GetProject handles GET /api/projects/{id}.
func (h *APIHandlers) GetProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	project, err := h.store.GetProject(r.Context(), id)
	if err != nil {
		respondStoreError(w, "failed to get project", err)
		return
	}
	respondJSON(w, http.StatusOK, project)
}

// DeleteProject handles DELETE /api/projects/{id} - delete a project and
// everything in it. Deleting an already-gone project reports
// deleted=false, not an error.
func (h *APIHandlers) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := h.store.DeleteProject(r.Context(), id)
	if err != nil {
		respondStoreError(w, "failed to delete project", err)
		return
	}

	if deleted {
		h.notify("project_deleted", map[string]string{"id": id})
	}
	respondJSON(w, http.StatusOK, DeletedResponse{Deleted: deleted})
}

// ListEntities handles GET /api/entities - list a project's entities,
// newest first. Filters: type, name (case-insensitive substring), limit.
func (h *APIHandlers) ListEntities(w http.ResponseWriter, r *http.Request) {
	projectID, ok := requireProjectID(w, r)
	if !ok {
		return
	}

	opts := storage.ListOptions{
		Type:         r.URL.Query().Get("type"),
		NameContains: r.URL.Query().Get("name"),
		Limit:        clampLimit(parseInt(r.URL.Query().Get("limit"), 20)),
	}

	entities, err := h.store.ListEntities(r.Context(), projectID, opts)
	if err != nil {
		respondStoreError(w, "failed to list entities", err)
		return
	}
	respondJSON(w, http.StatusOK, EntityListResponse{Entities: entities, Count: len(entities)})
}

// CreateEntityRequest is the request body for creating an entity.
type CreateEntityRequest struct {
	ProjectID    string   `json:"project_id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Description  string   `json:"description"`
	ParentID     string   `json:"parent_id,omitempty"`
	Observations []string `json:"observations,omitempty"`
}

// CreateEntity handles POST /api/entities - create an entity, optionally
// seeding it with initial observations.
func (h *APIHandlers) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var req CreateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.ProjectID == "" {
		respondError(w, http.StatusBadRequest, "project_id is required", nil)
		return
	}

	entity, err := h.store.CreateEntity(r.Context(), req.ProjectID, &types.Entity{
		Name:        req.Name,
		Type:        req.Type,
		Description: req.Description,
		ParentID:    req.ParentID,
	})
	if err != nil {
		respondStoreError(w, "failed to create entity", err)
		return
	}

	for _, text := range req.Observations {
		if strings.TrimSpace(text) == "" {
			continue
		}
		obs, err := h.store.AddObservation(r.Context(), req.ProjectID, entity.ID, text)
		if err != nil {
			respondStoreError(w, "failed to add initial observation", err)
			return
		}
		entity.Observations = append(entity.Observations, *obs)
	}

	h.notify("entity_created", entity)
	respondJSON(w, http.StatusCreated, entity)
}

// GetEntity handles GET /api/entities/{id} - fetch one entity with its
// observations.
func (h *APIHandlers) GetEntity(w http.ResponseWriter, r *http.Request) {
	projectID, ok := requireProjectID(w, r)
	if !ok {
		return
	}

	entity, err := h.store.GetEntity(r.Context(), projectID, r.PathValue("id"))
	if err != nil {
		respondStoreError(w, "failed to get entity", err)
		return
	}
	respondJSON(w, http.StatusOK, entity)
}

// UpdateEntityRequest is the request body for updating an entity.
type UpdateEntityRequest struct {
	ProjectID   string `json:"project_id"`
	Description string `json:"description"`
}

// UpdateEntity handles PATCH /api/entities/{id} - replace the entity's
// description.
func (h *APIHandlers) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	var req UpdateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	projectID := req.ProjectID
	if projectID == "" {
		projectID = r.URL.Query().Get("project_id")
	}
	if projectID == "" {
		respondError(w, http.StatusBadRequest, "project_id is required", nil)
		return
	}

	entity, err := h.store.UpdateEntityDescription(r.Context(), projectID, r.PathValue("id"), req.Description)
	if err != nil {
		respondStoreError(w, "failed to update entity", err)
		return
	}

	h.notify("entity_updated", entity)
	respondJSON(w, http.StatusOK, entity)
}

// DeleteEntity handles DELETE /api/entities/{id} - delete an entity, its
// observations, and every relationship touching it.
func (h *APIHandlers) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	projectID, ok := requireProjectID(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	deleted, err := h.store.DeleteEntity(r.Context(), projectID, id)
	if err != nil {
		respondStoreError(w, "failed to delete entity", err)
		return
	}

	if deleted {
		h.notify("entity_deleted", map[string]string{"id": id, "projectId": projectID})
	}
	respondJSON(w, http.StatusOK, DeletedResponse{Deleted: deleted})
}

// AddObservationRequest is the request body for adding an observation.
type AddObservationRequest struct {
	ProjectID string `json:"project_id"`
	Text      string `json:"text"`
}

// AddObservation handles POST /api/entities/{id}/observations.
func (h *APIHandlers) AddObservation(w http.ResponseWriter, r *http.Request) {
	var req AddObservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	projectID := req.ProjectID
	if projectID == "" {
		projectID = r.URL.Query().Get("project_id")
	}
	if projectID == "" {
		respondError(w, http.StatusBadRequest, "project_id is required", nil)
		return
	}

	obs, err := h.store.AddObservation(r.Context(), projectID, r.PathValue("id"), req.Text)
	if err != nil {
		respondStoreError(w, "failed to add observation", err)
		return
	}

	h.notify("observation_added", obs)
	respondJSON(w, http.StatusCreated, obs)
}

// DeleteObservation handles DELETE /api/entities/{id}/observations/{obs_id}.
// A missing observation on an existing entity is already deleted and
// succeeds; a missing entity is 404.
func (h *APIHandlers) DeleteObservation(w http.ResponseWriter, r *http.Request) {
	projectID, ok := requireProjectID(w, r)
	if !ok {
		return
	}

	entityID := r.PathValue("id")
	obsID := r.PathValue("obs_id")
	if err := h.store.DeleteObservation(r.Context(), projectID, entityID, obsID); err != nil {
		respondStoreError(w, "failed to delete observation", err)
		return
	}

	h.notify("observation_deleted", map[string]string{"id": obsID, "entityId": entityID})
	respondJSON(w, http.StatusOK, DeletedResponse{Deleted: true})
}

// GetRelatedEntities handles GET /api/entities/{id}/related - the 1-hop
// neighborhood of an entity. direction is outgoing, incoming, or both
// (default both).
func (h *APIHandlers) GetRelatedEntities(w http.ResponseWriter, r *http.Request) {
	projectID, ok := requireProjectID(w, r)
	if !ok {
		return
	}

	direction := types.Direction(r.URL.Query().Get("direction"))
	if direction == "" {
		direction = types.DirectionBoth
	}

	related, err := h.store.GetRelatedEntities(r.Context(), projectID, r.PathValue("id"), direction)
	if err != nil {
		respondStoreError(w, "failed to get related entities", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"related": related,
		"total":   len(related),
	})
}

// ListRelationships handles GET /api/relationships - list a project's
// edges, newest first. Filters: from_id, to_id, entity_id (either
// endpoint), type; predicates combine.
func (h *APIHandlers) ListRelationships(w http.ResponseWriter, r *http.Request) {
	projectID, ok := requireProjectID(w, r)
	if !ok {
		return
	}

	filter := storage.RelationshipFilter{
		FromID:   r.URL.Query().Get("from_id"),
		ToID:     r.URL.Query().Get("to_id"),
		EntityID: r.URL.Query().Get("entity_id"),
		Type:     r.URL.Query().Get("type"),
	}

	rels, err := h.store.GetRelationships(r.Context(), projectID, filter)
	if err != nil {
		respondStoreError(w, "failed to list relationships", err)
		return
	}
	respondJSON(w, http.StatusOK, RelationshipListResponse{Relationships: rels, Count: len(rels)})
}

// CreateRelationshipRequest is the request body for creating a
// relationship.
type CreateRelationshipRequest struct {
	ProjectID   string `json:"project_id"`
	From        string `json:"from"`
	To          string `json:"to"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// CreateRelationship handles POST /api/relationships - create a directed,
// typed edge. Both endpoints must exist in the project.
func (h *APIHandlers) CreateRelationship(w http.ResponseWriter, r *http.Request) {
	var req CreateRelationshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.ProjectID == "" {
		respondError(w, http.StatusBadRequest, "project_id is required", nil)
		return
	}

	rel, err := h.store.CreateRelationship(r.Context(), req.ProjectID, &types.Relationship{
		FromID:      req.From,
		ToID:        req.To,
		Type:        req.Type,
		Description: req.Description,
	})
	if err != nil {
		respondStoreError(w, "failed to create relationship", err)
		return
	}

	h.notify("relationship_created", rel)
	respondJSON(w, http.StatusCreated, rel)
}

// DeleteRelationship handles DELETE /api/relationships/{id}.
func (h *APIHandlers) DeleteRelationship(w http.ResponseWriter, r *http.Request) {
	projectID, ok := requireProjectID(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	deleted, err := h.store.DeleteRelationship(r.Context(), projectID, id)
	if err != nil {
		respondStoreError(w, "failed to delete relationship", err)
		return
	}

	if deleted {
		h.notify("relationship_deleted", map[string]string{"id": id, "projectId": projectID})
	}
	respondJSON(w, http.StatusOK, DeletedResponse{Deleted: deleted})
}

// Search handles GET /api/search - relevance-ranked lexical search over a
// project's entities.
func (h *APIHandlers) Search(w http.ResponseWriter, r *http.Request) {
	projectID, ok := requireProjectID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		respondError(w, http.StatusBadRequest, "q is required", nil)
		return
	}
	limit := clampLimit(parseInt(r.URL.Query().Get("limit"), 10))

	entities, err := h.store.ListEntities(r.Context(), projectID, storage.ListOptions{})
	if err != nil {
		respondStoreError(w, "failed to search entities", err)
		return
	}

	results := search.Rank(query, entities, limit)
	respondJSON(w, http.StatusOK, SearchResponse{Query: query, Results: results, Count: len(results)})
}

// Stats handles GET /api/stats - aggregate counts, store-wide by default
// or scoped to one project via project_id.
func (h *APIHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	stats, err := h.store.Stats(r.Context(), projectID)
	if err != nil {
		respondStoreError(w, "failed to get stats", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Helper functions

// requireProjectID extracts the project_id query parameter, writing a 400
// when it is absent.
func requireProjectID(w http.ResponseWriter, r *http.Request) (string, bool) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		respondError(w, http.StatusBadRequest, "project_id is required", nil)
		return "", false
	}
	return projectID, true
}

// parseInt parses an integer from a string, returning defaultValue if
// parsing fails.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// clampLimit caps list sizes to prevent resource exhaustion.
func clampLimit(limit int) int {
	if limit > 1000 {
		return 1000
	}
	return limit
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent; nothing left to do but note it.
		fmt.Printf("failed to encode JSON response: %v\n", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}
	if err != nil {
		errResp.Details = map[string]interface{}{"error": err.Error()}
	}
	respondJSON(w, statusCode, errResp)
}

// respondStoreError maps storage sentinel errors onto HTTP status codes.
func respondStoreError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, storage.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, storage.ErrDuplicateName):
		respondError(w, http.StatusConflict, message, err)
	default:
		respondError(w, http.StatusInternalServerError, message, err)
	}
}
