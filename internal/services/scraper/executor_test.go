package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/grantscout/internal/common"
	"github.com/ternarybob/grantscout/internal/models"
)

func testConfig() *common.ScraperConfig {
	return &common.ScraperConfig{
		UserAgent:      "grantscout-test",
		RequestTimeout: 5 * time.Second,
		JobTimeout:     10 * time.Second,
		MaxBodySize:    1 << 20,
		MaxContentSize: 32000,
		RateLimit:      time.Millisecond,
	}
}

func testSource(url string) *models.ScrapedSource {
	return &models.ScrapedSource{
		ID:        "src_test",
		URL:       url,
		Type:      models.SourceTypeGov,
		Status:    models.SourceStatusActive,
		Frequency: models.FrequencyWeekly,
		Category:  "community",
	}
}

const listingPage = `<!DOCTYPE html>
<html>
<head><title>Grant Programs</title></head>
<body>
<h1>Open Funding Opportunities</h1>
<h2><a href="/grants/community-fund">Community Development Grant</a></h2>
<p>Funding up to $50,000 for non-profit organizations. Application deadline March 1, 2026.</p>
<h2><a href="/grants/arts">Arts and Culture Grant</a></h2>
<p>Grant amount of $10,000. Submission deadline 2026-04-15.</p>
<h2>About our team</h2>
<p>We are a small office of five people who love the outdoors.</p>
</body>
</html>`

func TestExecute_ExtractsGrantCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "grantscout-test", r.Header.Get("User-Agent"))
		w.Write([]byte(listingPage))
	}))
	defer server.Close()

	executor := NewExecutor(testConfig(), arbor.NewLogger())
	result, err := executor.Execute(context.Background(), testSource(server.URL))
	require.NoError(t, err)

	require.Len(t, result.Grants, 2, "the about-us heading must be filtered out")

	first := result.Grants[0]
	assert.Equal(t, "Community Development Grant", first.Title)
	assert.Equal(t, server.URL+"/grants/community-fund", first.URL)
	assert.Equal(t, "$50,000", first.Amount)
	require.NotNil(t, first.Deadline)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *first.Deadline)
	assert.NotEmpty(t, first.NaturalKey)
	assert.NotEmpty(t, first.ContentHash)
	assert.Equal(t, "src_test", first.SourceID)

	second := result.Grants[1]
	assert.Equal(t, "Arts and Culture Grant", second.Title)
	require.NotNil(t, second.Deadline)
	assert.Equal(t, time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), *second.Deadline)
}

func TestExecute_PageLevelFallback(t *testing.T) {
	page := `<html><head><title>Rural Grant Program</title></head>
<body><p>Funding for rural projects. Eligibility: registered charities. Deadline May 30, 2026.</p></body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer server.Close()

	executor := NewExecutor(testConfig(), arbor.NewLogger())
	result, err := executor.Execute(context.Background(), testSource(server.URL))
	require.NoError(t, err)

	require.Len(t, result.Grants, 1)
	assert.Equal(t, "Rural Grant Program", result.Grants[0].Title)
	assert.Equal(t, server.URL, result.Grants[0].URL)
}

func TestExecute_IrrelevantPageYieldsNoGrants(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Weather</title></head><body><p>Sunny today.</p></body></html>`))
	}))
	defer server.Close()

	executor := NewExecutor(testConfig(), arbor.NewLogger())
	result, err := executor.Execute(context.Background(), testSource(server.URL))
	require.NoError(t, err)
	assert.Empty(t, result.Grants)
}

func TestExecute_HTTPErrorIsFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	executor := NewExecutor(testConfig(), arbor.NewLogger())
	_, err := executor.Execute(context.Background(), testSource(server.URL))
	require.Error(t, err)

	var scrapeErr *models.ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	assert.Equal(t, models.ErrCodeFetchFailure, scrapeErr.Code)
}

func TestExecute_ConnectionRefusedIsFetchFailure(t *testing.T) {
	executor := NewExecutor(testConfig(), arbor.NewLogger())
	_, err := executor.Execute(context.Background(), testSource("http://127.0.0.1:1/unreachable"))
	require.Error(t, err)

	var scrapeErr *models.ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	assert.Equal(t, models.ErrCodeFetchFailure, scrapeErr.Code)
}

func TestExecute_ContextTimeoutIsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	executor := NewExecutor(testConfig(), arbor.NewLogger())
	_, err := executor.Execute(ctx, testSource(server.URL))
	require.Error(t, err)

	var scrapeErr *models.ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	assert.Equal(t, models.ErrCodeTimeout, scrapeErr.Code)
}

func TestExecute_OversizedContentIsReduced(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`<html><head><title>Big Grant Listing</title></head><body>`)
	sb.WriteString(`<p>Grant funding eligibility deadline application.</p>`)
	for i := 0; i < 500; i++ {
		sb.WriteString(`<p>` + strings.Repeat("filler content for padding ", 10) + `</p>`)
	}
	sb.WriteString(`</body></html>`)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sb.String()))
	}))
	defer server.Close()

	config := testConfig()
	config.MaxContentSize = 4000

	executor := NewExecutor(config, arbor.NewLogger())
	result, err := executor.Execute(context.Background(), testSource(server.URL))
	require.NoError(t, err)
	assert.True(t, result.Reduced)
	assert.Greater(t, result.ContentLength, config.MaxContentSize)
}

func TestExtractDeadline(t *testing.T) {
	tests := []struct {
		text string
		want *time.Time
	}{
		{"deadline March 1, 2026", timePtr(2026, 3, 1)},
		{"closes 2026-04-15 at noon", timePtr(2026, 4, 15)},
		{"due 3/1/2026", timePtr(2026, 3, 1)},
		{"deadline March 1", nil}, // no year, no guessing
		{"no date here", nil},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := extractDeadline(tt.text)
			if tt.want == nil {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.Equal(t, *tt.want, *got)
			}
		})
	}
}

func timePtr(year int, month time.Month, day int) *time.Time {
	ts := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &ts
}

func TestExtractAmount(t *testing.T) {
	assert.Equal(t, "$50,000", extractAmount("up to $50,000 available"))
	assert.Equal(t, "€10.000", extractAmount("bis zu €10.000"))
	assert.Equal(t, "", extractAmount("no money mentioned"))
}
