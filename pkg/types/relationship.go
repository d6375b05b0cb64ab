package types

import "time"

// Relationship is a directed, typed edge between two entities in the same
// project. Both endpoints must exist when the edge is created; afterwards
// integrity is maintained by cascade on entity deletion, not by the store
// rejecting dangling references.
type Relationship struct {
	ID          string    `json:"id"`                    // Unique identifier (UUID)
	ProjectID   string    `json:"projectId"`             // Owning project
	FromID      string    `json:"fromId"`                // Source entity ID
	ToID        string    `json:"toId"`                  // Target entity ID
	Type        string    `json:"type"`                  // Edge type (e.g. "calls", "contains")
	Description string    `json:"description,omitempty"` // Optional human-readable description
	CreatedAt   time.Time `json:"createdAt"`             // Creation timestamp
}

// Direction selects which edges getRelatedEntities follows relative to the
// starting entity.
type Direction string

const (
	// DirectionOutgoing follows edges where the entity is the source.
	DirectionOutgoing Direction = "outgoing"
	// DirectionIncoming follows edges where the entity is the target.
	DirectionIncoming Direction = "incoming"
	// DirectionBoth is the union of both, de-duplicated by entity ID.
	DirectionBoth Direction = "both"
)

// Valid reports whether d is one of the three recognised directions.
func (d Direction) Valid() bool {
	switch d {
	case DirectionOutgoing, DirectionIncoming, DirectionBoth:
		return true
	}
	return false
}
