package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Grant is a normalized grant opportunity extracted from a scraped source.
// Grants are upserted by content hash so repeated scrapes of unchanged
// pages classify as skipped rather than updated.
type Grant struct {
	ID          string     `json:"id" badgerhold:"key"`
	SourceID    string     `json:"source_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	URL         string     `json:"url"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Amount      string     `json:"amount,omitempty"` // free-text, as published
	Category    string     `json:"category,omitempty"`
	NaturalKey  string     `json:"natural_key"`
	ContentHash string     `json:"content_hash"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ComputeNaturalKey derives the identity used to match the same opportunity
// across scrapes: the detail URL when present, otherwise source plus title.
func (g *Grant) ComputeNaturalKey() string {
	if g.URL != "" {
		return NormalizeURL(g.URL)
	}
	return g.SourceID + "|" + strings.ToLower(strings.TrimSpace(g.Title))
}

// ComputeContentHash hashes the content-bearing fields. Two grants with the
// same hash are byte-identical for upsert purposes.
func (g *Grant) ComputeContentHash() string {
	h := sha256.New()
	for _, part := range []string{g.Title, g.Description, g.URL, g.Amount, g.Category} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	if g.Deadline != nil {
		h.Write([]byte(g.Deadline.UTC().Format(time.RFC3339)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
