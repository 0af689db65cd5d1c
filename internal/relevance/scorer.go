// Package relevance scores text against a keyword vocabulary and labels
// extracted content by how many distinct keywords it mentions.
package relevance

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	ahocorasick "github.com/cloudflare/ahocorasick"
)

// DefaultKeywords is the AI-governance vocabulary used when none is configured.
var DefaultKeywords = []string{
	"artificial intelligence", "AI", "machine learning", "neural network",
	"deep learning", "automated decision", "algorithmic system",
	"data-driven", "intelligent system", "automated system",
	"AI governance", "AI policy", "AI strategy", "AI ethics",
	"digital transformation", "algorithmic accountability",
	"AI regulation", "AI guidelines", "responsible AI",
	"digital policy", "technology policy", "innovation policy",
}

// Label prefixes written to the relevance column.
const (
	LabelHighly       = "highly-relevant"
	LabelRelevant     = "relevant"
	LabelPossibly     = "possibly-relevant"
	LabelNotRelevant  = "not-relevant"
	LabelUnanalyzable = "unanalyzable"
)

// Scorer counts distinct vocabulary terms in a piece of text. Matching is
// case-insensitive substring matching in a single pass over the input.
type Scorer struct {
	// cloudflare's Matcher keeps per-call state, so Match is serialized.
	mu       sync.Mutex
	matcher  *ahocorasick.Matcher
	keywords []string
	display  []string
}

// NewScorer builds a scorer over keywords. Blank and duplicate (case-folded)
// terms are dropped.
func NewScorer(keywords []string) *Scorer {
	s := &Scorer{}
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		trimmed := strings.TrimSpace(kw)
		norm := strings.ToLower(trimmed)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		s.keywords = append(s.keywords, norm)
		s.display = append(s.display, trimmed)
	}
	if len(s.keywords) > 0 {
		s.matcher = ahocorasick.NewStringMatcher(s.keywords)
	}
	return s
}

// Keywords returns the effective vocabulary.
func (s *Scorer) Keywords() []string {
	return append([]string(nil), s.display...)
}

// Score returns how many distinct vocabulary terms occur in text, title or
// href, and the matched terms in vocabulary order.
func (s *Scorer) Score(text, title, href string) (int, []string) {
	if s.matcher == nil {
		return 0, nil
	}
	joined := strings.ToLower(strings.Join([]string{text, title, href}, " "))
	if strings.TrimSpace(joined) == "" {
		return 0, nil
	}

	s.mu.Lock()
	hits := s.matcher.Match([]byte(joined))
	s.mu.Unlock()

	unique := make(map[int]struct{}, len(hits))
	for _, idx := range hits {
		if idx >= 0 && idx < len(s.keywords) {
			unique[idx] = struct{}{}
		}
	}
	indices := make([]int, 0, len(unique))
	for idx := range unique {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	matched := make([]string, 0, len(indices))
	for _, idx := range indices {
		matched = append(matched, s.display[idx])
	}
	return len(matched), matched
}

// Label classifies extracted text into relevance tiers.
func (s *Scorer) Label(text string) string {
	if strings.TrimSpace(text) == "" {
		return LabelUnanalyzable
	}
	n, matched := s.Score(text, "", "")
	switch {
	case n >= 3:
		return fmt.Sprintf("%s (%d keywords: %s...)", LabelHighly, n, strings.Join(matched[:3], ", "))
	case n == 2:
		return fmt.Sprintf("%s (%d keywords: %s)", LabelRelevant, n, strings.Join(matched, ", "))
	case n == 1:
		return fmt.Sprintf("%s (%s)", LabelPossibly, matched[0])
	default:
		return LabelNotRelevant
	}
}

// IsRelevant reports whether label names one of the positive relevance tiers.
func IsRelevant(label string) bool {
	for _, tier := range []string{LabelHighly, LabelRelevant, LabelPossibly} {
		if strings.HasPrefix(label, tier) {
			return true
		}
	}
	return false
}
