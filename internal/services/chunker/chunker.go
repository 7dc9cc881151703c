// Package chunker reduces oversized source documents to a bounded excerpt
// weighted toward grant-relevant content, so extraction stays within
// downstream size limits. Pure and deterministic; no dependencies on the
// rest of the service.
package chunker

import (
	"regexp"
	"sort"
	"strings"
)

// Separator joins selected fragments so downstream consumers can detect
// discontinuity between excerpts.
const Separator = "\n\n[...]\n\n"

// TruncationMark flags a fragment that was cut mid-paragraph.
const TruncationMark = " [truncated]"

const (
	termScore    = 10
	patternScore = 15
	listBonus    = 5

	// materialityThreshold gates truncated-prefix acceptance of the first
	// paragraph that no longer fits the budget.
	materialityThreshold = 20

	// minFragments is the floor below which the fallback prefix of the
	// original content is added, so sparse documents still yield signal.
	minFragments = 3
)

// vocabulary lists the terms that mark a paragraph as grant-relevant.
// Matching is case-insensitive substring.
var vocabulary = []string{
	"eligibility",
	"deadline",
	"funding",
	"evaluation",
	"documents",
	"contact",
	"objectives",
	"application",
	"criteria",
	"amount",
	"budget",
	"grant",
	"non-profit",
	"proposal",
	"submission",
}

var (
	// Currency amounts ($50,000, €10.000, 5000 USD/EUR) and date shapes
	// (March 1, 2026-03-01, 01/03/2026).
	moneyOrDateRe = regexp.MustCompile(`(?i)[$€£]\s?\d[\d,.]*|\b\d[\d,.]*\s?(usd|eur|gbp)\b|\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}\b|\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}/\d{2,4}\b`)

	// Bullet markers, dashes, or leading ordinals at line start.
	listShapeRe = regexp.MustCompile(`(?m)^\s*([-*•]|\d+[.)])\s+`)

	blankLineRe = regexp.MustCompile(`\n\s*\n`)
)

// Chunk reduces content to fragments whose combined length is at most
// maxSize, plus separator overhead. Fragments are ordered by descending
// relevance score, ties broken by original position. Callers are expected
// to pass only content that actually exceeds maxSize; short content is
// their identity passthrough, not this function's.
func Chunk(content string, maxSize int) string {
	if maxSize <= 0 {
		return ""
	}

	paragraphs := splitParagraphs(content)
	if len(paragraphs) == 0 {
		return fallbackPrefix(content, maxSize)
	}

	type scored struct {
		text  string
		score int
	}
	ranked := make([]scored, len(paragraphs))
	for i, p := range paragraphs {
		ranked[i] = scored{text: p, score: Score(p)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	var fragments []string
	used := 0
	for _, cand := range ranked {
		if used+len(cand.text) <= maxSize {
			fragments = append(fragments, cand.text)
			used += len(cand.text)
			continue
		}
		// First paragraph over budget: keep a truncated prefix when it is
		// material and the result is still sparse, then stop either way.
		remaining := maxSize - used
		if cand.score >= materialityThreshold && len(fragments) < minFragments && remaining > 0 {
			fragments = append(fragments, cand.text[:remaining]+TruncationMark)
			used = maxSize
		}
		break
	}

	if len(fragments) < minFragments {
		if prefix := fallbackPrefix(content, maxSize-used); prefix != "" {
			fragments = append([]string{prefix}, fragments...)
		}
	}

	return strings.Join(fragments, Separator)
}

// Score rates one paragraph's grant relevance.
func Score(paragraph string) int {
	lower := strings.ToLower(paragraph)

	score := 0
	for _, term := range vocabulary {
		score += termScore * strings.Count(lower, term)
	}
	score += patternScore * len(moneyOrDateRe.FindAllString(paragraph, -1))
	if listShapeRe.MatchString(paragraph) {
		score += listBonus
	}
	return score
}

func splitParagraphs(content string) []string {
	parts := blankLineRe.Split(content, -1)
	if len(parts) <= 1 {
		// Single blob with no blank lines degrades to the fallback path.
		return nil
	}

	var paragraphs []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

func fallbackPrefix(content string, budget int) string {
	content = strings.TrimSpace(content)
	if content == "" || budget <= 0 {
		return ""
	}
	if len(content) <= budget {
		return content
	}
	return content[:budget] + TruncationMark
}
