// Package storage defines the storage interfaces for the Lattice knowledge
// graph.
//
// The layer is split into two focused interfaces: ProjectRegistry for the
// project namespace and GraphStore for the graph inside a project. Backends
// implement both; callers depend only on the slice they need.
package storage

import (
	"context"

	"github.com/lattice-kg/lattice/pkg/types"
)

// ProjectRegistry manages the project namespace. Project names are unique
// across the store; IDs are opaque and generated by the backend.
type ProjectRegistry interface {
	// CreateProject creates a new project with a unique name.
	// Returns ErrDuplicateName if the name is already taken and
	// ErrInvalidInput if the name is empty.
	CreateProject(ctx context.Context, name, description string) (*types.Project, error)

	// GetProject retrieves a project by ID.
	// Returns ErrNotFound if the project doesn't exist.
	GetProject(ctx context.Context, id string) (*types.Project, error)

	// GetProjectByName retrieves a project by its unique name.
	// Returns ErrNotFound if no project has that name.
	GetProjectByName(ctx context.Context, name string) (*types.Project, error)

	// ListProjects returns all projects with their aggregate counts,
	// ordered by activity score descending then name ascending.
	ListProjects(ctx context.Context) ([]*types.ProjectSummary, error)

	// DeleteProject removes a project and cascades to every entity,
	// observation, and relationship it contains, atomically.
	// Returns false (not an error) if the project was already gone.
	DeleteProject(ctx context.Context, id string) (bool, error)
}

// GraphStore provides CRUD and traversal over a project's entities,
// observations, and relationships. Every operation is scoped by projectID;
// an ID from another project is indistinguishable from a missing one.
type GraphStore interface {
	// CreateEntity creates an entity in the project.
	// Name, entity type, and description are required; parentID is an
	// optional weak reference to another entity and is not validated.
	CreateEntity(ctx context.Context, projectID string, e *types.Entity) (*types.Entity, error)

	// GetEntity retrieves an entity with its observations, oldest first.
	// Returns ErrNotFound if the entity doesn't exist in the project.
	GetEntity(ctx context.Context, projectID, entityID string) (*types.Entity, error)

	// ListEntities returns entities in the project matching opts, newest
	// first. Observations are included on each entity.
	ListEntities(ctx context.Context, projectID string, opts ListOptions) ([]*types.Entity, error)

	// UpdateEntityDescription replaces an entity's description and bumps
	// its updated timestamp. Returns ErrNotFound if the entity is missing.
	UpdateEntityDescription(ctx context.Context, projectID, entityID, description string) (*types.Entity, error)

	// DeleteEntity removes an entity together with its observations and
	// every relationship touching it, atomically. Returns false (not an
	// error) if the entity was already gone.
	DeleteEntity(ctx context.Context, projectID, entityID string) (bool, error)

	// AddObservation appends a free-text observation to an entity.
	// Returns ErrNotFound if the entity doesn't exist.
	AddObservation(ctx context.Context, projectID, entityID, text string) (*types.Observation, error)

	// DeleteObservation removes one observation from an entity.
	// Returns ErrNotFound if the entity doesn't exist; a missing
	// observation on an existing entity is treated as already deleted
	// and succeeds.
	DeleteObservation(ctx context.Context, projectID, entityID, observationID string) error

	// CreateRelationship creates a directed, typed edge between two
	// entities in the project. Both endpoints must exist; otherwise
	// ErrNotFound is returned naming the missing side.
	CreateRelationship(ctx context.Context, projectID string, r *types.Relationship) (*types.Relationship, error)

	// DeleteRelationship removes an edge. Returns false (not an error)
	// if the edge was already gone.
	DeleteRelationship(ctx context.Context, projectID, relationshipID string) (bool, error)

	// GetRelationships returns the project's edges matching the filter,
	// newest first.
	GetRelationships(ctx context.Context, projectID string, filter RelationshipFilter) ([]*types.Relationship, error)

	// GetRelatedEntities returns the 1-hop neighbors of an entity in the
	// given direction, de-duplicated by entity ID. Returns ErrNotFound if
	// the starting entity doesn't exist.
	GetRelatedEntities(ctx context.Context, projectID, entityID string, direction types.Direction) ([]*RelatedEntity, error)

	// Stats returns aggregate counts. With an empty projectID the counts
	// span the whole store; otherwise they are scoped to one project.
	Stats(ctx context.Context, projectID string) (*types.GraphStats, error)

	// Close releases any resources held by the store.
	Close() error
}

// Store is the full backend surface: project namespace plus graph.
type Store interface {
	ProjectRegistry
	GraphStore
}
