package interfaces

import (
	"context"

	"github.com/ternarybob/grantscout/internal/models"
)

// ScrapeExecutor fetches a source's page and extracts grant candidates
// from it. Implementations classify failures with models.ScrapeError
// codes so the orchestrator can record them uniformly.
type ScrapeExecutor interface {
	// Execute fetches and parses the source. The returned grants have
	// SourceID, NaturalKey and ContentHash populated but no ID; the
	// orchestrator assigns IDs during upsert.
	Execute(ctx context.Context, source *models.ScrapedSource) (*ScrapeResult, error)
}

// ScrapeResult is the raw output of one scrape pass over a source.
type ScrapeResult struct {
	Grants []*models.Grant
	// ContentLength is the size in characters of the normalized page
	// text before any excerpt reduction.
	ContentLength int
	// Reduced is true when the page text exceeded the content budget
	// and was cut down to relevant excerpts before extraction.
	Reduced bool
	// ParseTime is the parse phase duration in milliseconds.
	ParseTime float64
}
