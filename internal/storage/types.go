package storage

import (
	"errors"

	"github.com/lattice-kg/lattice/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateName indicates that a project with the same name already exists.
	ErrDuplicateName = errors.New("project name already in use")
)

// ListOptions provides filtering options for entity list operations.
type ListOptions struct {
	// Type restricts results to entities of this exact type.
	// Empty string means no filter on type.
	Type string

	// NameContains restricts results to entities whose name contains this
	// substring, matched case-insensitively. Empty string means no filter.
	NameContains string

	// Limit is the maximum number of entities to return.
	// Zero or negative means no cap at the storage layer; callers that want
	// a default cap apply it themselves.
	Limit int
}

// RelationshipFilter narrows relationship queries within a project. The
// predicates are independent; every set field must match.
type RelationshipFilter struct {
	// FromID restricts results to relationships with this source entity.
	FromID string

	// ToID restricts results to relationships with this target entity.
	ToID string

	// EntityID restricts results to relationships touching this entity,
	// as source or target. Empty string means all relationships.
	EntityID string

	// Type restricts results to relationships of this exact type.
	// Empty string means no filter on type.
	Type string
}

// RelatedEntity pairs a neighboring entity with the relationship that
// connects it to the starting entity. When an entity is reachable through
// multiple edges only the first edge encountered is reported.
type RelatedEntity struct {
	Entity       *types.Entity       `json:"entity"`
	Relationship *types.Relationship `json:"relationship"`
	// Direction is "outgoing" when the starting entity is the source of the
	// connecting edge, "incoming" when it is the target.
	Direction types.Direction `json:"direction"`
}
