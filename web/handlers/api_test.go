package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lattice-kg/lattice/internal/storage/sqlite"
	"github.com/lattice-kg/lattice/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingNotifier captures broadcast events for assertions.
type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) Broadcast(event string, payload interface{}) {
	n.events = append(n.events, event)
}

func newTestHandlers(t *testing.T) (*APIHandlers, *recordingNotifier) {
	t.Helper()
	store, err := sqlite.NewGraphStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewAPIHandlers(store)
	n := &recordingNotifier{}
	h.SetNotifier(n)
	return h, n
}

// do runs a handler with optional path values and returns the recorder.
func do(t *testing.T, handler http.HandlerFunc, method, target string, body interface{}, pathValues map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func createProject(t *testing.T, h *APIHandlers, name string) *types.Project {
	t.Helper()
	w := do(t, h.CreateProject, http.MethodPost, "/api/projects",
		CreateProjectRequest{Name: name, Description: "test project"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var p types.Project
	decode(t, w, &p)
	return &p
}

func createEntity(t *testing.T, h *APIHandlers, projectID, name string) *types.Entity {
	t.Helper()
	w := do(t, h.CreateEntity, http.MethodPost, "/api/entities",
		CreateEntityRequest{ProjectID: projectID, Name: name, Type: "service", Description: "desc"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var e types.Entity
	decode(t, w, &e)
	return &e
}

func TestCreateProject(t *testing.T) {
	h, n := newTestHandlers(t)

	p := createProject(t, h, "alpha")
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "alpha", p.Name)
	assert.Equal(t, []string{"project_created"}, n.events)

	// Duplicate name conflicts.
	w := do(t, h.CreateProject, http.MethodPost, "/api/projects",
		CreateProjectRequest{Name: "alpha"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Empty name is invalid.
	w = do(t, h.CreateProject, http.MethodPost, "/api/projects",
		CreateProjectRequest{Name: ""}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListProjects(t *testing.T) {
	h, _ := newTestHandlers(t)
	createProject(t, h, "alpha")
	createProject(t, h, "beta")

	w := do(t, h.ListProjects, http.MethodGet, "/api/projects", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ProjectListResponse
	decode(t, w, &resp)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Projects, 2)
	assert.Equal(t, 0, resp.Projects[0].EntityCount)
}

func TestGetProject(t *testing.T) {
	h, _ := newTestHandlers(t)
	p := createProject(t, h, "alpha")

	w := do(t, h.GetProject, http.MethodGet, "/api/projects/"+p.ID, nil,
		map[string]string{"id": p.ID})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h.GetProject, http.MethodGet, "/api/projects/ghost", nil,
		map[string]string{"id": "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteProject(t *testing.T) {
	h, n := newTestHandlers(t)
	p := createProject(t, h, "alpha")

	w := do(t, h.DeleteProject, http.MethodDelete, "/api/projects/"+p.ID, nil,
		map[string]string{"id": p.ID})
	require.Equal(t, http.StatusOK, w.Code)
	var resp DeletedResponse
	decode(t, w, &resp)
	assert.True(t, resp.Deleted)
	assert.Contains(t, n.events, "project_deleted")

	// Second delete reports deleted=false, still 200.
	w = do(t, h.DeleteProject, http.MethodDelete, "/api/projects/"+p.ID, nil,
		map[string]string{"id": p.ID})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.False(t, resp.Deleted)
}

func TestCreateEntityWithObservations(t *testing.T) {
	h, n := newTestHandlers(t)
	p := createProject(t, h, "alpha")

	w := do(t, h.CreateEntity, http.MethodPost, "/api/entities", CreateEntityRequest{
		ProjectID:    p.ID,
		Name:         "auth-service",
		Type:         "service",
		Description:  "handles login",
		Observations: []string{"uses JWT", "   ", "rate limited"},
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var e types.Entity
	decode(t, w, &e)
	assert.Equal(t, "auth-service", e.Name)
	assert.Len(t, e.Observations, 2)
	assert.Contains(t, n.events, "entity_created")

	// project_id is mandatory.
	w = do(t, h.CreateEntity, http.MethodPost, "/api/entities",
		CreateEntityRequest{Name: "x", Type: "t", Description: "d"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListEntitiesFilters(t *testing.T) {
	h, _ := newTestHandlers(t)
	p := createProject(t, h, "alpha")
	for i := 0; i < 3; i++ {
		createEntity(t, h, p.ID, fmt.Sprintf("svc-%d", i))
	}

	w := do(t, h.ListEntities, http.MethodGet,
		"/api/entities?project_id="+p.ID+"&name=SVC-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp EntityListResponse
	decode(t, w, &resp)
	assert.Equal(t, 1, resp.Count)

	w = do(t, h.ListEntities, http.MethodGet,
		"/api/entities?project_id="+p.ID+"&limit=2", nil, nil)
	decode(t, w, &resp)
	assert.Equal(t, 2, resp.Count)

	// Missing project_id.
	w = do(t, h.ListEntities, http.MethodGet, "/api/entities", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateAndDeleteEntity(t *testing.T) {
	h, _ := newTestHandlers(t)
	p := createProject(t, h, "alpha")
	e := createEntity(t, h, p.ID, "svc")

	w := do(t, h.UpdateEntity, http.MethodPatch, "/api/entities/"+e.ID,
		UpdateEntityRequest{ProjectID: p.ID, Description: "rewritten"},
		map[string]string{"id": e.ID})
	require.Equal(t, http.StatusOK, w.Code)
	var updated types.Entity
	decode(t, w, &updated)
	assert.Equal(t, "rewritten", updated.Description)

	w = do(t, h.DeleteEntity, http.MethodDelete,
		"/api/entities/"+e.ID+"?project_id="+p.ID, nil,
		map[string]string{"id": e.ID})
	require.Equal(t, http.StatusOK, w.Code)
	var resp DeletedResponse
	decode(t, w, &resp)
	assert.True(t, resp.Deleted)

	w = do(t, h.GetEntity, http.MethodGet,
		"/api/entities/"+e.ID+"?project_id="+p.ID, nil,
		map[string]string{"id": e.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestObservationEndpoints(t *testing.T) {
	h, _ := newTestHandlers(t)
	p := createProject(t, h, "alpha")
	e := createEntity(t, h, p.ID, "svc")

	w := do(t, h.AddObservation, http.MethodPost,
		"/api/entities/"+e.ID+"/observations",
		AddObservationRequest{ProjectID: p.ID, Text: "observed"},
		map[string]string{"id": e.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	var obs types.Observation
	decode(t, w, &obs)
	assert.Equal(t, "observed", obs.Text)

	// Deleting a missing observation on an existing entity succeeds.
	w = do(t, h.DeleteObservation, http.MethodDelete,
		"/api/entities/"+e.ID+"/observations/ghost?project_id="+p.ID, nil,
		map[string]string{"id": e.ID, "obs_id": "ghost"})
	assert.Equal(t, http.StatusOK, w.Code)

	// Deleting an observation on a missing entity is 404.
	w = do(t, h.DeleteObservation, http.MethodDelete,
		"/api/entities/ghost/observations/"+obs.ID+"?project_id="+p.ID, nil,
		map[string]string{"id": "ghost", "obs_id": obs.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRelationshipEndpoints(t *testing.T) {
	h, n := newTestHandlers(t)
	p := createProject(t, h, "alpha")
	from := createEntity(t, h, p.ID, "svc-a")
	to := createEntity(t, h, p.ID, "svc-b")

	w := do(t, h.CreateRelationship, http.MethodPost, "/api/relationships",
		CreateRelationshipRequest{ProjectID: p.ID, From: from.ID, To: to.ID, Type: "calls"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var rel types.Relationship
	decode(t, w, &rel)
	assert.Equal(t, from.ID, rel.FromID)
	assert.Contains(t, n.events, "relationship_created")

	// Missing endpoint is 404.
	w = do(t, h.CreateRelationship, http.MethodPost, "/api/relationships",
		CreateRelationshipRequest{ProjectID: p.ID, From: from.ID, To: "ghost", Type: "calls"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h.ListRelationships, http.MethodGet,
		"/api/relationships?project_id="+p.ID+"&entity_id="+from.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list RelationshipListResponse
	decode(t, w, &list)
	assert.Equal(t, 1, list.Count)

	w = do(t, h.DeleteRelationship, http.MethodDelete,
		"/api/relationships/"+rel.ID+"?project_id="+p.ID, nil,
		map[string]string{"id": rel.ID})
	require.Equal(t, http.StatusOK, w.Code)
	var deleted DeletedResponse
	decode(t, w, &deleted)
	assert.True(t, deleted.Deleted)

	// Idempotent.
	w = do(t, h.DeleteRelationship, http.MethodDelete,
		"/api/relationships/"+rel.ID+"?project_id="+p.ID, nil,
		map[string]string{"id": rel.ID})
	decode(t, w, &deleted)
	assert.False(t, deleted.Deleted)
}

func TestListRelationshipsEndpointFilters(t *testing.T) {
	h, _ := newTestHandlers(t)
	p := createProject(t, h, "alpha")
	a := createEntity(t, h, p.ID, "svc-a")
	b := createEntity(t, h, p.ID, "svc-b")
	c := createEntity(t, h, p.ID, "svc-c")

	for _, edge := range []CreateRelationshipRequest{
		{ProjectID: p.ID, From: a.ID, To: b.ID, Type: "calls"},
		{ProjectID: p.ID, From: b.ID, To: c.ID, Type: "calls"},
	} {
		w := do(t, h.CreateRelationship, http.MethodPost, "/api/relationships", edge, nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	count := func(query string) int {
		t.Helper()
		w := do(t, h.ListRelationships, http.MethodGet,
			"/api/relationships?project_id="+p.ID+query, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var list RelationshipListResponse
		decode(t, w, &list)
		return list.Count
	}

	assert.Equal(t, 2, count(""))
	assert.Equal(t, 1, count("&from_id="+a.ID))
	assert.Equal(t, 1, count("&to_id="+c.ID))
	assert.Equal(t, 0, count("&from_id="+a.ID+"&to_id="+c.ID))
	assert.Equal(t, 2, count("&entity_id="+b.ID))
}

func TestGetRelatedEntities(t *testing.T) {
	h, _ := newTestHandlers(t)
	p := createProject(t, h, "alpha")
	from := createEntity(t, h, p.ID, "svc-a")
	to := createEntity(t, h, p.ID, "svc-b")

	w := do(t, h.CreateRelationship, http.MethodPost, "/api/relationships",
		CreateRelationshipRequest{ProjectID: p.ID, From: from.ID, To: to.ID, Type: "calls"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h.GetRelatedEntities, http.MethodGet,
		"/api/entities/"+from.ID+"/related?project_id="+p.ID+"&direction=outgoing", nil,
		map[string]string{"id": from.ID})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Related []json.RawMessage `json:"related"`
		Total   int               `json:"total"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 1, resp.Total)
}

func TestSearch(t *testing.T) {
	h, _ := newTestHandlers(t)
	p := createProject(t, h, "alpha")
	createEntity(t, h, p.ID, "auth service")
	createEntity(t, h, p.ID, "billing")

	w := do(t, h.Search, http.MethodGet,
		"/api/search?project_id="+p.ID+"&q=auth+service", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SearchResponse
	decode(t, w, &resp)
	assert.Equal(t, "auth service", resp.Query)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "auth service", resp.Results[0].Name)
	assert.Greater(t, resp.Results[0].RelevanceScore, 0.0)

	// Blank query is rejected.
	w = do(t, h.Search, http.MethodGet, "/api/search?project_id="+p.ID+"&q=+", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStats(t *testing.T) {
	h, _ := newTestHandlers(t)
	p := createProject(t, h, "alpha")
	other := createProject(t, h, "beta")
	createEntity(t, h, p.ID, "svc")

	w := do(t, h.Stats, http.MethodGet, "/api/stats", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var global types.GraphStats
	decode(t, w, &global)
	assert.Equal(t, 2, global.Projects)
	assert.Equal(t, 1, global.Entities)

	w = do(t, h.Stats, http.MethodGet, "/api/stats?project_id="+other.ID, nil, nil)
	var scoped types.GraphStats
	decode(t, w, &scoped)
	assert.Equal(t, 0, scoped.Entities)
}

func TestHealthHandler(t *testing.T) {
	healthy := NewHealthHandler("1.0.0", "sqlite", func() int { return 3 }, nil)
	w := httptest.NewRecorder()
	healthy.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "sqlite", resp.Backend)
	assert.Equal(t, 3, resp.Sessions)

	degraded := NewHealthHandler("1.0.0", "postgres", nil, func() string { return "open" })
	w = httptest.NewRecorder()
	degraded.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "open", resp.Circuit)
}
