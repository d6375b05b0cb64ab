package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lattice-kg/lattice/internal/search"
	"github.com/lattice-kg/lattice/internal/session"
	"github.com/lattice-kg/lattice/internal/storage"
	"github.com/lattice-kg/lattice/pkg/types"
)

const (
	// defaultListLimit caps list_entities when the caller gives no limit.
	defaultListLimit = 20
	// defaultSearchLimit caps search_entities when the caller gives no limit.
	defaultSearchLimit = 10
)

// ToolContext carries per-invocation state into a tool handler.
type ToolContext struct {
	Session *session.Session
}

// ToolHandler executes one tool invocation. Returned errors are surfaced to
// the client as an isError result, never as a protocol failure.
type ToolHandler func(ctx context.Context, tc *ToolContext, args json.RawMessage) (interface{}, error)

// Tool is one entry in the server's tool catalogue.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Handler     ToolHandler
}

// buildTools returns the canonical tool catalogue. Project tools work
// without a selection; every graph tool resolves the session's active
// project first.
func (s *Server) buildTools() []Tool {
	return []Tool{
		{
			Name:        "create_project",
			Description: "Create a new project (an isolated knowledge graph) and select it for this session. Project names are unique.",
			InputSchema: objectSchema([]string{"name"}, map[string]interface{}{
				"name":        stringProp("Project name (required, unique across the server)"),
				"description": stringProp("Optional project description"),
			}),
			Handler: s.handleCreateProject,
		},
		{
			Name:        "select_project",
			Description: "Select an existing project as this session's active graph. Pass project_id or name.",
			InputSchema: objectSchema(nil, map[string]interface{}{
				"project_id": stringProp("Project ID to select"),
				"name":       stringProp("Project name to select (used when project_id is omitted)"),
			}),
			Handler: s.handleSelectProject,
		},
		{
			Name:        "list_projects",
			Description: "List all projects with entity and relationship counts, most active first.",
			InputSchema: objectSchema(nil, map[string]interface{}{}),
			Handler:     s.handleListProjects,
		},
		{
			Name:        "delete_project",
			Description: "Delete a project and everything in it: entities, observations, and relationships. Pass project_id or name. Deleting an already-deleted project reports deleted=false.",
			InputSchema: objectSchema(nil, map[string]interface{}{
				"project_id": stringProp("Project ID to delete"),
				"name":       stringProp("Project name to delete (used when project_id is omitted)"),
			}),
			Handler: s.handleDeleteProject,
		},
		{
			Name:        "create_entity",
			Description: "Create an entity in the active project. Name, type, and description are all required; pass observations to attach initial notes.",
			InputSchema: objectSchema([]string{"name", "type", "description"}, map[string]interface{}{
				"name":        stringProp("Entity name (required)"),
				"type":        stringProp("Entity type, free-form, e.g. Module, API, Person (required)"),
				"description": stringProp("What this entity is (required)"),
				"parent_id":   stringProp("Optional ID of a parent entity for grouping"),
				"observations": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Initial observation texts to attach",
				},
			}),
			Handler: s.handleCreateEntity,
		},
		{
			Name:        "get_entity",
			Description: "Fetch one entity from the active project, including all its observations.",
			InputSchema: objectSchema([]string{"entity_id"}, map[string]interface{}{
				"entity_id": stringProp("Entity ID (required)"),
			}),
			Handler: s.handleGetEntity,
		},
		{
			Name:        "list_entities",
			Description: "List entities in the active project, newest first. Filter by exact type and/or a case-insensitive name substring. Returns at most limit entities (default 20).",
			InputSchema: objectSchema(nil, map[string]interface{}{
				"type":  stringProp("Only entities of this exact type"),
				"name":  stringProp("Only entities whose name contains this substring (case-insensitive)"),
				"limit": intProp("Max results (default 20)"),
			}),
			Handler: s.handleListEntities,
		},
		{
			Name:        "update_entity_description",
			Description: "Replace the description of an entity in the active project.",
			InputSchema: objectSchema([]string{"entity_id", "description"}, map[string]interface{}{
				"entity_id":   stringProp("Entity ID (required)"),
				"description": stringProp("New description (required)"),
			}),
			Handler: s.handleUpdateEntityDescription,
		},
		{
			Name:        "add_observation",
			Description: "Attach a free-text observation to an entity in the active project.",
			InputSchema: objectSchema([]string{"entity_id", "text"}, map[string]interface{}{
				"entity_id": stringProp("Entity ID (required)"),
				"text":      stringProp("Observation text (required)"),
			}),
			Handler: s.handleAddObservation,
		},
		{
			Name:        "delete_observation",
			Description: "Remove one observation from an entity. The entity must exist; removing an observation that is already gone still succeeds.",
			InputSchema: objectSchema([]string{"entity_id", "observation_id"}, map[string]interface{}{
				"entity_id":      stringProp("Entity ID (required)"),
				"observation_id": stringProp("Observation ID (required)"),
			}),
			Handler: s.handleDeleteObservation,
		},
		{
			Name:        "delete_entity",
			Description: "Delete an entity from the active project together with its observations and every relationship touching it. Deleting an already-deleted entity reports deleted=false.",
			InputSchema: objectSchema([]string{"entity_id"}, map[string]interface{}{
				"entity_id": stringProp("Entity ID (required)"),
			}),
			Handler: s.handleDeleteEntity,
		},
		{
			Name:        "create_relationship",
			Description: "Create a directed, typed relationship between two entities in the active project. Both entities must exist.",
			InputSchema: objectSchema([]string{"from", "to", "type"}, map[string]interface{}{
				"from":        stringProp("Source entity ID (required)"),
				"to":          stringProp("Target entity ID (required)"),
				"type":        stringProp("Relationship type, e.g. USES, CONTAINS (required)"),
				"description": stringProp("Optional description of the relationship"),
			}),
			Handler: s.handleCreateRelationship,
		},
		{
			Name:        "delete_relationship",
			Description: "Delete a relationship from the active project. Deleting an already-deleted relationship reports deleted=false.",
			InputSchema: objectSchema([]string{"relationship_id"}, map[string]interface{}{
				"relationship_id": stringProp("Relationship ID (required)"),
			}),
			Handler: s.handleDeleteRelationship,
		},
		{
			Name:        "get_relationships",
			Description: "List relationships in the active project, newest first. Filter by source, target, either endpoint, and/or type; predicates combine.",
			InputSchema: objectSchema(nil, map[string]interface{}{
				"from_id":   stringProp("Only edges with this source entity"),
				"to_id":     stringProp("Only edges with this target entity"),
				"entity_id": stringProp("Only edges where this entity is source or target"),
				"type":      stringProp("Only edges of this exact type"),
			}),
			Handler: s.handleGetRelationships,
		},
		{
			Name:        "get_related_entities",
			Description: "Get the entities directly connected to one entity, de-duplicated. Direction incoming, outgoing, or both (default both).",
			InputSchema: objectSchema([]string{"entity_id"}, map[string]interface{}{
				"entity_id": stringProp("Starting entity ID (required)"),
				"direction": stringProp("incoming, outgoing, or both (default both)"),
			}),
			Handler: s.handleGetRelatedEntities,
		},
		{
			Name:        "search_entities",
			Description: "Search the active project's entities by relevance. Matches words and phrases across names, descriptions, and observations.",
			InputSchema: objectSchema([]string{"query"}, map[string]interface{}{
				"query": stringProp("Search query (required)"),
				"limit": intProp("Max results (default 10)"),
			}),
			Handler: s.handleSearchEntities,
		},
	}
}

func (s *Server) handleCreateProject(ctx context.Context, tc *ToolContext, args json.RawMessage) (interface{}, error) {
	var a CreateProjectArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	p, err := s.store.CreateProject(ctx, a.Name, a.Description)
	if err != nil {
		return nil, err
	}

	// Creating a project selects it, so the very next graph call works.
	tc.Session.SelectProject(p.ID)
	s.notify("project_created", p)
	return p, nil
}

func (s *Server) handleSelectProject(ctx context.Context, tc *ToolContext, args json.RawMessage) (interface{}, error) {
	var a SelectProjectArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	p, err := s.resolveProject(ctx, a.ProjectID, a.Name)
	if err != nil {
		return nil, err
	}

	tc.Session.SelectProject(p.ID)
	return &SelectProjectResult{Project: p, Selected: true}, nil
}

func (s *Server) handleListProjects(ctx context.Context, tc *ToolContext, args json.RawMessage) (interface{}, error) {
	summaries, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	return &ListProjectsResult{Projects: summaries, Total: len(summaries)}, nil
}

func (s *Server) handleDeleteProject(ctx context.Context, tc *ToolContext, args json.RawMessage) (interface{}, error) {
	var a DeleteProjectArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	projectID := a.ProjectID
	if projectID == "" {
		p, err := s.resolveProject(ctx, "", a.Name)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// Already gone by name counts as an idempotent delete.
				return &DeleteResult{Deleted: false}, nil
			}
			return nil, err
		}
		projectID = p.ID
	}

	deleted, err := s.store.DeleteProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if deleted {
		if tc.Session.ProjectID() == projectID {
			tc.Session.SelectProject("")
		}
		s.notify("project_deleted", map[string]string{"id": projectID})
	}
	return &DeleteResult{Deleted: deleted}, nil
}

func (s *Server) handleCreateEntity(ctx context.Context, tc *ToolContext, args json.RawMessage) (interface{}, error) {
	projectID, err := s.requireProject(ctx, tc.Session)
	if err != nil {
		return nil, err
	}

	var a CreateEntityArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	e, err := s.store.CreateEntity(ctx, projectID, &types.Entity{
		Name:        a.Name,
		Type:        a.Type,
		Description: a.Description,
		ParentID:    a.ParentID,
	})
	if err != nil {
		return nil, err
	}

	for _, text := range a.Observations {
		if strings.TrimSpace(text) == "" {
			continue
		}
		o, err := s.store.AddObservation(ctx, projectID, e.ID, text)
		if err != nil {
			return nil, err
		}
		e.Observations = append(e.Observations, *o)
	}

	s.notify("entity_created", e)
	return e, nil
}

func (s *Server) handleGetEntity(ctx context.Context, tc *ToolContext, args json.RawMessage) (interface{}, error) {
	projectID, err := s.requireProject(ctx, tc.Session)
	if err != nil {
		return nil, err
	}

	var a GetEntityArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return s.store.GetEntity(ctx, projectID, a.EntityID)
}

func (s *Server) handleListEntities(ctx context.Context, tc *ToolContext, args json.RawMessage) (interface{}, error) {
	projectID, err := s.requireProject(ctx, tc.Session)
	if err != nil {
		return nil, err
	}

	var a ListEntitiesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Limit <= 0 {
		a.Limit = defaultListLimit
	}

	entities, err := s.store.ListEntities(ctx, projectID, storage.ListOptions{
		Type:         a.Type,
		NameContains: a.Name,
		Limit:        a.Limit,
	})
	if err != nil {
		return nil, err
	}
	return &ListEntitiesResult{Entities: entities, Total: len(entities)}, nil
}

func (s *Server) handleUpdateEntityDescription(ctx context.Context, tc *ToolContext, args json.RawMessage) (interface{}, error) {
	projectID, err := s.requireProject(ctx, tc.Session)
	if err != nil {
		return nil, err
	}

	var a UpdateEntityDescriptionArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	e, err := s.store.UpdateEntityDescription(ctx, projectID, a.EntityID, a.Description)
	if err != nil {
		return nil, err
	}
	s.notify("entity_updated", e)
	return e, nil
}

func (s *Server) handleAddObservation(ctx context.Context, tc *ToolContext, args json.RawMessage) (interface{}, error) {
	projectID, err := s.requireProject(ctx, tc.Session)
	if err != nil {
		return nil, err
	}

	var a AddObservationArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	o, err := s.store.AddObservation(ctx, projectID, a.EntityID, a.Text)
	if err != nil {
		return nil, err
	}
	s.notify("observation_added", o)
	return o, nil
}

func (s *Server) handleDeleteObservation(ctx context.Context, tc *ToolContext, args json.RawMessage) (interface{}, error) {
	projectID, err := s.requireProject(ctx, tc.Session)
	if err != nil {
		return nil, err
	}

	var a DeleteObservationArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	if err := s.store.DeleteObservation(ctx, projectID, a.EntityID, a.ObservationID); err != nil {
		return nil, err
	}
	s.notify("observation_deleted", map[string]string{"entityId": a.EntityID, "id": a.ObservationID})
	return &DeleteResult{Deleted: true}, nil
}

func (s *Server) handleDeleteEntity(ctx context.Context, tc *ToolContext, args json.RawMessage) (interface{}, error) {
	projectID, err := s.requireProject(ctx, tc.Session)
	if err != nil {
		return nil, err
	}

	var a DeleteEntityArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	deleted, err := s.store.DeleteEntity(ctx, projectID, a.EntityID)
	if err != nil {
		return nil, err
	}
	if deleted {
		s.notify("entity_deleted", map[string]string{"id": a.EntityID, "projectId": projectID})
	}
	return &DeleteResult{Deleted: deleted}, nil
}

func (s *Server) handleCreateRelationship(ctx context.Context, tc *ToolContext, args json.RawMessage) (interface{}, error) {
	projectID, err := s.requireProject(ctx, tc.Session)
	if err != nil {
		return nil, err
	}

	var a CreateRelationshipArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	r, err := s.store.CreateRelationship(ctx, projectID, &types.Relationship{
		FromID:      a.From,
		ToID:        a.To,
		Type:        a.Type,
		Description: a.Description,
	})
	if err != nil {
		return nil, err
	}
	s.notify("relationship_created", r)
	return r, nil
}

func (s *Server) handleDeleteRelationship(ctx context.Context, tc *ToolContext, args json.RawMessage) (interface{}, error) {
	projectID, err := s.requireProject(ctx, tc.Session)
	if err != nil {
		return nil, err
	}

	var a DeleteRelationshipArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	deleted, err := s.store.DeleteRelationship(ctx, projectID, a.RelationshipID)
	if err != nil {
		return nil, err
	}
	if deleted {
		s.notify("relationship_deleted", map[string]string{"id": a.RelationshipID, "projectId": projectID})
	}
	return &DeleteResult{Deleted: deleted}, nil
}

func (s *Server) handleGetRelationships(ctx context.Context, tc *ToolContext, args json.RawMessage) (interface{}, error) {
	projectID, err := s.requireProject(ctx, tc.Session)
	if err != nil {
		return nil, err
	}

	var a GetRelationshipsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	rels, err := s.store.GetRelationships(ctx, projectID, storage.RelationshipFilter{
		FromID:   a.FromID,
		ToID:     a.ToID,
		EntityID: a.EntityID,
		Type:     a.Type,
	})
	if err != nil {
		return nil, err
	}
	return &GetRelationshipsResult{Relationships: rels, Total: len(rels)}, nil
}

func (s *Server) handleGetRelatedEntities(ctx context.Context, tc *ToolContext, args json.RawMessage) (interface{}, error) {
	projectID, err := s.requireProject(ctx, tc.Session)
	if err != nil {
		return nil, err
	}

	var a GetRelatedEntitiesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Direction == "" {
		a.Direction = string(types.DirectionBoth)
	}

	related, err := s.store.GetRelatedEntities(ctx, projectID, a.EntityID, types.Direction(a.Direction))
	if err != nil {
		return nil, err
	}
	return &GetRelatedEntitiesResult{Related: related, Total: len(related)}, nil
}

func (s *Server) handleSearchEntities(ctx context.Context, tc *ToolContext, args json.RawMessage) (interface{}, error) {
	projectID, err := s.requireProject(ctx, tc.Session)
	if err != nil {
		return nil, err
	}

	var a SearchEntitiesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(a.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", storage.ErrInvalidInput)
	}
	if a.Limit <= 0 {
		a.Limit = defaultSearchLimit
	}

	entities, err := s.store.ListEntities(ctx, projectID, storage.ListOptions{})
	if err != nil {
		return nil, err
	}

	ranked := search.Rank(a.Query, entities, a.Limit)
	return &SearchEntitiesResult{Query: a.Query, Entities: ranked, Count: len(ranked)}, nil
}

// resolveProject looks a project up by ID first, then by name.
func (s *Server) resolveProject(ctx context.Context, projectID, name string) (*types.Project, error) {
	if projectID != "" {
		return s.store.GetProject(ctx, projectID)
	}
	if name != "" {
		return s.store.GetProjectByName(ctx, name)
	}
	return nil, fmt.Errorf("%w: project_id or name is required", storage.ErrInvalidInput)
}

func objectSchema(required []string, properties map[string]interface{}) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func intProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": description}
}
