// Package fuzzy provides fuzzy matching of library collections by name
package fuzzy

import (
	"sort"
	"strings"

	"comic-offline/pkg/models"
)

// Matcher provides fuzzy matching functionality
type Matcher struct{}

// NewMatcher creates a new fuzzy matcher
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Rank returns the collections whose display name matches query, best match
// first. Collections with more downloaded episodes rank higher on equal scores.
// An empty query returns collections unchanged.
func (m *Matcher) Rank(query string, collections []models.CollectionSummary) []models.CollectionSummary {
	query = strings.TrimSpace(query)
	if query == "" {
		return collections
	}

	type scoredCollection struct {
		collection models.CollectionSummary
		score      float64
	}

	var scored []scoredCollection
	for _, collection := range collections {
		score := m.calculateScore(query, collection.DisplayName)
		if score > 0 {
			// Weight score by how much of the collection is downloaded
			weightedScore := score * (1.0 + float64(collection.EpisodeCount)*0.1)
			scored = append(scored, scoredCollection{
				collection: collection,
				score:      weightedScore,
			})
		}
	}

	// Sort by score descending
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	ranked := make([]models.CollectionSummary, len(scored))
	for i, s := range scored {
		ranked[i] = s.collection
	}
	return ranked
}

// calculateScore calculates the fuzzy match score between query and name.
// Every query word must appear in some word of name.
func (m *Matcher) calculateScore(query, name string) float64 {
	queryWords := splitWords(strings.ToLower(query))
	nameWords := splitWords(strings.ToLower(name))
	if len(queryWords) == 0 || len(nameWords) == 0 {
		return 0.0
	}

	total := 0.0
	for _, qWord := range queryWords {
		best := 0.0
		for _, nWord := range nameWords {
			switch {
			case qWord == nWord:
				best = 1.0
			case strings.HasPrefix(nWord, qWord):
				best = max(best, 0.75)
			case strings.Contains(nWord, qWord):
				best = max(best, 0.5)
			}
		}
		if best == 0 {
			return 0.0
		}
		total += best
	}

	// Higher score when the query covers more of the name
	return total / float64(max(len(queryWords), len(nameWords)))
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == ' ' || r == ':'
	})
}
