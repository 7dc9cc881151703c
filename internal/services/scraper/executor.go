// Package scraper provides the default fetch/extract capability: plain
// HTTP fetch with per-host rate limiting, goquery field extraction and
// markdown normalization of the page text.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/grantscout/internal/common"
	"github.com/ternarybob/grantscout/internal/interfaces"
	"github.com/ternarybob/grantscout/internal/models"
	"github.com/ternarybob/grantscout/internal/services/chunker"
	"golang.org/x/time/rate"
)

// minCandidateScore is the relevance floor below which a page element is
// not considered a grant candidate.
const minCandidateScore = 10

// Executor is the default ScrapeExecutor implementation.
type Executor struct {
	config     *common.ScraperConfig
	httpClient *http.Client
	converter  *md.Converter
	logger     arbor.ILogger

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewExecutor creates the default scrape executor
func NewExecutor(config *common.ScraperConfig, logger arbor.ILogger) interfaces.ScrapeExecutor {
	return &Executor{
		config: config,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
		converter: md.NewConverter("", true, nil),
		logger:    logger,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Execute fetches the source URL and extracts grant candidates from the
// response. Failures are classified as ScrapeErrors so the orchestrator
// can fold them into job and source health uniformly.
func (e *Executor) Execute(ctx context.Context, source *models.ScrapedSource) (*interfaces.ScrapeResult, error) {
	html, err := e.fetch(ctx, source.URL)
	if err != nil {
		return nil, err
	}

	parseStart := time.Now()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeParseFailure, "failed to parse HTML", err)
	}
	doc.Find("script, style, nav, footer").Remove()

	markdown, err := e.converter.ConvertString(html)
	if err != nil {
		markdown = doc.Text()
	}
	markdown = strings.TrimSpace(markdown)

	contentLength := len(markdown)
	reduced := false
	if contentLength > e.config.MaxContentSize {
		markdown = chunker.Chunk(markdown, e.config.MaxContentSize)
		reduced = true
	}

	grants := e.extractCandidates(doc, source)
	if len(grants) == 0 {
		// No structured candidates; fall back to a single page-level record
		// when the page text carries any grant signal at all.
		if pageGrant := e.pageLevelCandidate(doc, markdown, source); pageGrant != nil {
			grants = append(grants, pageGrant)
		}
	}

	parseTime := float64(time.Since(parseStart).Microseconds()) / 1000

	e.logger.Debug().
		Str("source_id", source.ID).
		Int("content_length", contentLength).
		Bool("reduced", reduced).
		Int("candidates", len(grants)).
		Msg("Scrape pass completed")

	return &interfaces.ScrapeResult{
		Grants:        grants,
		ContentLength: contentLength,
		Reduced:       reduced,
		ParseTime:     parseTime,
	}, nil
}

func (e *Executor) fetch(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", models.NewScrapeError(models.ErrCodeFetchFailure, "invalid source URL", err)
	}

	if err := e.limiterFor(parsed.Host).Wait(ctx); err != nil {
		return "", classifyTransportError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", models.NewScrapeError(models.ErrCodeFetchFailure, "failed to build request", err)
	}
	req.Header.Set("User-Agent", e.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", models.NewScrapeError(models.ErrCodeFetchFailure,
			fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, rawURL), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(e.config.MaxBodySize)))
	if err != nil {
		return "", classifyTransportError(err)
	}

	return string(body), nil
}

// limiterFor returns the rate limiter for a host, creating one on first
// use. Limiters are keyed per host so slow sources do not throttle others.
func (e *Executor) limiterFor(host string) *rate.Limiter {
	e.limiterMu.Lock()
	defer e.limiterMu.Unlock()

	limiter, ok := e.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(e.config.RateLimit), 1)
		e.limiters[host] = limiter
	}
	return limiter
}

func classifyTransportError(err error) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeCancelled, "request cancelled", err)
	default:
		return models.NewScrapeError(models.ErrCodeFetchFailure, "request failed", err)
	}
}

// extractCandidates pulls grant-shaped records out of common listing
// structures: headings followed by descriptive text, and linked list
// items. Relevance scoring filters out navigation noise.
func (e *Executor) extractCandidates(doc *goquery.Document, source *models.ScrapedSource) []*models.Grant {
	var grants []*models.Grant
	seen := make(map[string]bool)

	add := func(title, description, href string) {
		title = cleanText(title)
		if title == "" {
			return
		}
		description = cleanText(description)
		if chunker.Score(title+" "+description) < minCandidateScore {
			return
		}

		grant := &models.Grant{
			SourceID:    source.ID,
			Title:       title,
			Description: description,
			URL:         resolveURL(source.URL, href),
			Amount:      extractAmount(title + " " + description),
			Deadline:    extractDeadline(title + " " + description),
			Category:    source.Category,
		}
		grant.NaturalKey = grant.ComputeNaturalKey()
		grant.ContentHash = grant.ComputeContentHash()

		if seen[grant.NaturalKey] {
			return
		}
		seen[grant.NaturalKey] = true
		grants = append(grants, grant)
	}

	doc.Find("h2, h3").Each(func(_ int, heading *goquery.Selection) {
		title := heading.Text()
		description := heading.NextFiltered("p").Text()
		href, ok := heading.Find("a[href]").Attr("href")
		if !ok {
			href, _ = heading.NextFiltered("p").Find("a[href]").Attr("href")
		}
		add(title, description, href)
	})

	doc.Find("li").Each(func(_ int, item *goquery.Selection) {
		link := item.Find("a[href]").First()
		if link.Length() == 0 {
			return
		}
		href, _ := link.Attr("href")
		add(link.Text(), item.Text(), href)
	})

	return grants
}

// pageLevelCandidate builds one record from the page as a whole. Returns
// nil when the page carries no grant signal.
func (e *Executor) pageLevelCandidate(doc *goquery.Document, text string, source *models.ScrapedSource) *models.Grant {
	title := cleanText(doc.Find("title").First().Text())
	if title == "" {
		title = cleanText(doc.Find("h1").First().Text())
	}
	if title == "" || chunker.Score(title+" "+text) < minCandidateScore {
		return nil
	}

	description := text
	if len(description) > 2000 {
		description = description[:2000]
	}

	grant := &models.Grant{
		SourceID:    source.ID,
		Title:       title,
		Description: description,
		URL:         source.URL,
		Amount:      extractAmount(text),
		Deadline:    extractDeadline(text),
		Category:    source.Category,
	}
	grant.NaturalKey = grant.ComputeNaturalKey()
	grant.ContentHash = grant.ComputeContentHash()
	return grant
}

func resolveURL(base, href string) string {
	if href == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
