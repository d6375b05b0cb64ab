package types

import "time"

// Project is an isolated knowledge-graph namespace. Entities and
// relationships never cross project boundaries.
type Project struct {
	ID          string    `json:"id"`          // Unique identifier (UUID)
	Name        string    `json:"name"`        // Unique display name
	Description string    `json:"description"` // Optional description
	CreatedAt   time.Time `json:"createdAt"`   // Creation timestamp
}

// ProjectSummary is a project together with its aggregate graph counts,
// as returned by project listings.
type ProjectSummary struct {
	Project
	EntityCount       int `json:"entityCount"`
	RelationshipCount int `json:"relationshipCount"`
	// ActivityScore is a coarse size signal: 2*entities + relationships.
	ActivityScore int `json:"activityScore"`
}
