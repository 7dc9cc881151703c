package scraper

import (
	"regexp"
	"time"
)

var (
	amountRe = regexp.MustCompile(`[$€£]\s?\d[\d,.]*(?:\s?(?:million|thousand|k|m))?|\b\d[\d,.]*\s?(?:USD|EUR|GBP)\b`)

	dateRes = []struct {
		re      *regexp.Regexp
		layouts []string
	}{
		{
			re:      regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
			layouts: []string{"2006-01-02"},
		},
		{
			re:      regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2},?\s+\d{4}\b`),
			layouts: []string{"January 2, 2006", "January 2 2006"},
		},
		{
			re:      regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`),
			layouts: []string{"1/2/2006", "01/02/2006"},
		},
	}
)

// extractAmount returns the first currency-shaped value in the text, as
// published. No numeric normalization is attempted.
func extractAmount(text string) string {
	return amountRe.FindString(text)
}

// extractDeadline returns the first parseable date in the text. Dates
// without a year are ignored rather than guessed.
func extractDeadline(text string) *time.Time {
	for _, candidate := range dateRes {
		match := candidate.re.FindString(text)
		if match == "" {
			continue
		}
		for _, layout := range candidate.layouts {
			if ts, err := time.Parse(layout, normalizeDateCase(match)); err == nil {
				return &ts
			}
		}
	}
	return nil
}

// normalizeDateCase upper-cases the leading month letter so time.Parse
// accepts matches found in lower-case text.
func normalizeDateCase(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] = b[0] - 'a' + 'A'
	}
	return string(b)
}
