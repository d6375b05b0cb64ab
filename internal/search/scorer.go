// Package search implements lexical relevance scoring over entities.
//
// Scoring combines word overlap between the query and the entity's full
// text (name, description, observations) with a bonus for the query
// appearing verbatim in one of those fields. Only the strongest phrase
// match counts: name beats description beats observations.
package search

import (
	"sort"
	"strings"

	"github.com/lattice-kg/lattice/pkg/types"
)

const (
	wordOverlapWeight      = 0.6
	namePhraseBonus        = 0.3
	descriptionPhraseBonus = 0.2
	observationPhraseBonus = 0.1
)

// Score computes the relevance of an entity for the query. Zero means no
// lexical relation at all.
func Score(query string, e *types.Entity) float64 {
	queryLower := strings.ToLower(strings.TrimSpace(query))
	if queryLower == "" {
		return 0
	}
	queryWords := wordSet(queryLower)

	var text strings.Builder
	text.WriteString(e.Name)
	text.WriteString(" ")
	text.WriteString(e.Description)
	for _, o := range e.Observations {
		text.WriteString(" ")
		text.WriteString(o.Text)
	}
	entityWords := wordSet(strings.ToLower(text.String()))

	score := 0.0
	common := 0
	for w := range queryWords {
		if entityWords[w] {
			common++
		}
	}
	if common > 0 {
		score += float64(common) / float64(len(queryWords)) * wordOverlapWeight
	}

	switch {
	case strings.Contains(strings.ToLower(e.Name), queryLower):
		score += namePhraseBonus
	case strings.Contains(strings.ToLower(e.Description), queryLower):
		score += descriptionPhraseBonus
	case anyObservationContains(e.Observations, queryLower):
		score += observationPhraseBonus
	}

	return score
}

// Rank scores the entities against the query, drops the zero-scored ones,
// sorts by score descending, and truncates to limit. A limit of zero or
// less means no cap.
func Rank(query string, entities []*types.Entity, limit int) []*types.ScoredEntity {
	scored := make([]*types.ScoredEntity, 0, len(entities))
	for _, e := range entities {
		if s := Score(query, e); s > 0 {
			scored = append(scored, &types.ScoredEntity{Entity: *e, RelevanceScore: s})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RelevanceScore > scored[j].RelevanceScore
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func anyObservationContains(observations []types.Observation, queryLower string) bool {
	for _, o := range observations {
		if strings.Contains(strings.ToLower(o.Text), queryLower) {
			return true
		}
	}
	return false
}

func wordSet(s string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		words[w] = true
	}
	return words
}
