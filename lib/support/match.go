package support

import (
	"strings"
	"unicode/utf8"

	"github.com/oldschoolag/Faivr/lib/support/learnings"
)

// MinMatchScore is the lowest score FindBestMatch accepts.
const MinMatchScore = 1.0

// Score rates how well q answers the lowercased, trimmed query. Every keyword
// found in the query adds its word count; every query word longer than two
// characters found in the question adds half a point.
func Score(q *QAPair, query string) float64 {
	var score float64

	for _, kw := range q.Keywords {
		if strings.Contains(query, kw) {
			score += float64(len(strings.Fields(kw)))
		}
	}

	question := strings.ToLower(q.Question)
	for _, word := range strings.Fields(query) {
		if utf8.RuneCountInString(word) > 2 && strings.Contains(question, word) {
			score += 0.5
		}
	}

	return score
}

// FindBestMatch returns the highest scoring pair in catalog. Ties go to the
// pair listed first. Nothing is returned when the best score is under
// MinMatchScore.
func FindBestMatch(catalog []QAPair, query string) (*QAPair, bool) {
	query = strings.ToLower(strings.TrimSpace(query))

	var (
		best      *QAPair
		bestScore float64
	)

	for i := range catalog {
		if score := Score(&catalog[i], query); score > bestScore {
			best = &catalog[i]
			bestScore = score
		}
	}

	if best == nil || bestScore < MinMatchScore {
		return nil, false
	}

	return best, true
}

func (kb *KnowledgeBase) FindBestMatch(query string) (*QAPair, bool) {
	return FindBestMatch(kb.Entries, query)
}

// Catalog is the knowledge base followed by operator-added pairs.
func (kb *KnowledgeBase) Catalog(custom []learnings.CustomQA) []QAPair {
	result := make([]QAPair, 0, len(kb.Entries)+len(custom))
	result = append(result, kb.Entries...)

	for _, c := range custom {
		result = append(result, QAPair{
			ID:       c.ID,
			Category: "custom",
			Question: c.Question,
			Answer:   c.Answer,
		})
	}

	return result
}
