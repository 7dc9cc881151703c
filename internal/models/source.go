package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// SourceType classifies the organization behind a scrape source.
type SourceType string

const (
	SourceTypeGov        SourceType = "GOV"
	SourceTypeFoundation SourceType = "FOUNDATION"
	SourceTypeNGO        SourceType = "NGO"
	SourceTypeOther      SourceType = "OTHER"
)

// SourceStatus represents the operational state of a scrape source.
type SourceStatus string

const (
	SourceStatusActive   SourceStatus = "ACTIVE"
	SourceStatusInactive SourceStatus = "INACTIVE"
	SourceStatusError    SourceStatus = "ERROR"
)

// ScrapeFrequency controls how often a source becomes due for scraping.
type ScrapeFrequency string

const (
	FrequencyDaily   ScrapeFrequency = "DAILY"
	FrequencyWeekly  ScrapeFrequency = "WEEKLY"
	FrequencyMonthly ScrapeFrequency = "MONTHLY"
)

// Interval returns the minimum duration between scrapes for the frequency.
// Unknown values fall back to weekly.
func (f ScrapeFrequency) Interval() time.Duration {
	switch f {
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// ScrapedSource is a configured external endpoint that is periodically
// scraped for grant opportunities.
//
// Config fields (URL, Type, Frequency, Category, Region, Notes) are mutated
// only by administrative edits. Health fields (LastScrapedAt, FailCount,
// SuccessRate, LastError, AvgParseTime) are mutated only by the source
// service when a job outcome is recorded. The field names and enum values
// are the wire contract other subsystems depend on.
type ScrapedSource struct {
	ID        string          `json:"id" badgerhold:"key"`
	URL       string          `json:"url"`
	Type      SourceType      `json:"type"`
	Status    SourceStatus    `json:"status"`
	Frequency ScrapeFrequency `json:"frequency"`
	Category  string          `json:"category,omitempty"`
	Region    string          `json:"region,omitempty"`
	Notes     string          `json:"notes,omitempty"`

	// Rolling health, updated on each terminal job outcome.
	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty"`
	FailCount     int        `json:"fail_count"`                // consecutive failures
	SuccessRate   float64    `json:"success_rate"`              // 0-100, exponentially blended
	LastError     string     `json:"last_error,omitempty"`      // message of the most recent failure
	AvgParseTime  *float64   `json:"avg_parse_time,omitempty"`  // milliseconds, running average
	ScrapeCount   int        `json:"scrape_count"`              // total recorded outcomes

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate validates the source configuration.
func (s *ScrapedSource) Validate() error {
	if s.URL == "" {
		return fmt.Errorf("source URL is required")
	}
	u, err := url.Parse(s.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid source URL: %s", s.URL)
	}

	validTypes := map[SourceType]bool{
		SourceTypeGov:        true,
		SourceTypeFoundation: true,
		SourceTypeNGO:        true,
		SourceTypeOther:      true,
	}
	if !validTypes[s.Type] {
		return fmt.Errorf("invalid source type: %s", s.Type)
	}

	validStatuses := map[SourceStatus]bool{
		SourceStatusActive:   true,
		SourceStatusInactive: true,
		SourceStatusError:    true,
	}
	if !validStatuses[s.Status] {
		return fmt.Errorf("invalid source status: %s", s.Status)
	}

	validFrequencies := map[ScrapeFrequency]bool{
		FrequencyDaily:   true,
		FrequencyWeekly:  true,
		FrequencyMonthly: true,
	}
	if !validFrequencies[s.Frequency] {
		return fmt.Errorf("invalid scrape frequency: %s", s.Frequency)
	}

	return nil
}

// NormalizeURL returns the canonical form used for the URL uniqueness check:
// lowercase scheme and host, no trailing slash.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.Fragment = ""
	return u.String()
}

// IsDue reports whether the source should be scraped at the given instant.
// True when the source is ACTIVE and either never scraped or the frequency
// interval has elapsed (inclusive boundary).
func (s *ScrapedSource) IsDue(now time.Time) bool {
	if s.Status != SourceStatusActive {
		return false
	}
	if s.LastScrapedAt == nil {
		return true
	}
	return now.Sub(*s.LastScrapedAt) >= s.Frequency.Interval()
}
