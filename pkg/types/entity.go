package types

import "time"

// Entity is a named, typed node in a project's knowledge graph: a file, a
// function, a concept, anything the calling agent chooses to model.
type Entity struct {
	ID          string    `json:"id"`                 // Unique identifier (UUID)
	ProjectID   string    `json:"projectId"`          // Owning project
	Name        string    `json:"name"`               // Display name (required)
	Type        string    `json:"type"`               // Entity type, free-form (required)
	Description string    `json:"description"`        // Human-readable description (required)
	ParentID    string    `json:"parentId,omitempty"` // Optional grouping reference to another entity
	CreatedAt   time.Time `json:"createdAt"`          // Creation timestamp
	UpdatedAt   time.Time `json:"updatedAt"`          // Last update timestamp

	// Observations owned by this entity, oldest first. Non-nil in payloads
	// returned by the store so clients see [] rather than null.
	Observations []Observation `json:"observations"`
}

// Observation is a free-text note attached to one entity. It is owned
// exclusively by that entity and destroyed with it.
type Observation struct {
	ID        string    `json:"id"`        // Unique identifier (UUID)
	EntityID  string    `json:"entityId"`  // Owning entity
	Text      string    `json:"text"`      // Note content
	CreatedAt time.Time `json:"createdAt"` // Creation timestamp
}

// ScoredEntity pairs an entity with the lexical relevance score assigned by
// a search query.
type ScoredEntity struct {
	Entity
	RelevanceScore float64 `json:"_relevance_score"`
}
