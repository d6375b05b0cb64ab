package types

// GraphStats holds aggregate counts across the whole store (all projects)
// or scoped to a single project, depending on how it was produced.
type GraphStats struct {
	Projects      int `json:"projects"`
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
	Observations  int `json:"observations"`
}
