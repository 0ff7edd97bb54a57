package model

import "time"

// ScrapeStrategy selects how a competitor's catalog is discovered.
type ScrapeStrategy string

const (
	StrategyCollection ScrapeStrategy = "by-collection"
	StrategyURLPattern ScrapeStrategy = "by-url-pattern"
	StrategySearchTerm ScrapeStrategy = "by-search-term"
)

// Valid reports whether s is a known strategy.
func (s ScrapeStrategy) Valid() bool {
	switch s {
	case StrategyCollection, StrategyURLPattern, StrategySearchTerm:
		return true
	}
	return false
}

// Competitor is the scraping configuration for one competitor site.
// It is managed outside this engine and read-only to the scraper and matcher.
type Competitor struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Domain          string         `json:"domain"`
	Strategy        ScrapeStrategy `json:"strategy"`
	RateLimitMS     int            `json:"rate_limit_ms"`
	Collections     []string       `json:"collections,omitempty"`
	URLPatterns     []string       `json:"url_patterns,omitempty"`
	SearchTerms     []string       `json:"search_terms,omitempty"`
	ExcludePatterns []string       `json:"exclude_patterns,omitempty"`
	Active          bool           `json:"active"`
	CreatedAt       time.Time      `json:"created_at"`
}

// RateLimit returns the mandatory pause between consecutive requests
// to this competitor.
func (c Competitor) RateLimit() time.Duration {
	if c.RateLimitMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.RateLimitMS) * time.Millisecond
}

// CompetitorProduct is one persisted competitor catalog entry, created and
// updated only by the catalog ingestor.
type CompetitorProduct struct {
	ID             string    `json:"id"`
	CompetitorID   string    `json:"competitor_id"`
	ExternalID     string    `json:"external_id"`
	Title          string    `json:"title"`
	Vendor         string    `json:"vendor,omitempty"`
	ProductType    string    `json:"product_type,omitempty"`
	SKU            string    `json:"sku,omitempty"`
	Price          float64   `json:"price"`
	CompareAtPrice float64   `json:"compare_at_price,omitempty"`
	Available      bool      `json:"available"`
	URL            string    `json:"url,omitempty"`
	ImageURL       string    `json:"image_url,omitempty"`
	Embedding      []float64 `json:"embedding,omitempty"`
	ScrapedAt      time.Time `json:"scraped_at"`
}

// HasEmbedding reports whether a usable embedding vector is attached.
func (p CompetitorProduct) HasEmbedding() bool {
	return len(p.Embedding) > 0
}

// PriceHistory is one observed price point for a competitor product.
// Rows are append-only; re-scrapes that observe the same price do not add rows.
type PriceHistory struct {
	ID                  string    `json:"id"`
	CompetitorProductID string    `json:"competitor_product_id"`
	Price               float64   `json:"price"`
	CompareAtPrice      float64   `json:"compare_at_price,omitempty"`
	RecordedAt          time.Time `json:"recorded_at"`
}

// JobStatus is the lifecycle state of a scrape job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ScrapeJob records one scrape run against one competitor.
type ScrapeJob struct {
	ID              string     `json:"id"`
	CompetitorID    string     `json:"competitor_id"`
	Status          JobStatus  `json:"status"`
	ProductsFound   int        `json:"products_found"`
	ProductsCreated int        `json:"products_created"`
	ProductsUpdated int        `json:"products_updated"`
	ParseErrors     int        `json:"parse_errors"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// RawListing is the normalized form of one scraped listing, produced by both
// the structured-API path and the HTML fallback before ingestion.
type RawListing struct {
	ExternalID     string  `json:"external_id"`
	Title          string  `json:"title"`
	Vendor         string  `json:"vendor,omitempty"`
	ProductType    string  `json:"product_type,omitempty"`
	SKU            string  `json:"sku,omitempty"`
	Price          float64 `json:"price"`
	CompareAtPrice float64 `json:"compare_at_price,omitempty"`
	Available      bool    `json:"available"`
	URL            string  `json:"url,omitempty"`
	ImageURL       string  `json:"image_url,omitempty"`
}
