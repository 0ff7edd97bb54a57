// Package store persists the price-matching entities. Two backends exist:
// Postgres (pgx) for production and SQLite for local runs and tests.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricewatch/internal/config"
	"github.com/sells-group/pricewatch/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the engine.
//
// Match-set invariants enforced here: (product_id, competitor_product_id) is
// unique across all matches however they were created; UpsertMatch never
// overwrites a manual match; RejectMatch removes the match and records the
// rejected pair in the same transaction.
type Store interface {
	// Competitors
	CreateCompetitor(ctx context.Context, c model.Competitor) (model.Competitor, error)
	ListCompetitors(ctx context.Context, activeOnly bool) ([]model.Competitor, error)
	GetCompetitorByName(ctx context.Context, name string) (*model.Competitor, error)

	// Internal products (populated by the catalog-sync collaborator)
	UpsertProduct(ctx context.Context, p model.InternalProduct) error
	ListProducts(ctx context.Context, brands []string) ([]model.InternalProduct, error)

	// Competitor products
	UpsertCompetitorProduct(ctx context.Context, cp model.CompetitorProduct) (id string, created bool, err error)
	ListCompetitorProducts(ctx context.Context, competitorID string) ([]model.CompetitorProduct, error)

	// Price history
	LatestPrice(ctx context.Context, competitorProductID string) (*model.PriceHistory, error)
	AddPriceHistory(ctx context.Context, ph model.PriceHistory) error

	// Scrape jobs
	CreateScrapeJob(ctx context.Context, competitorID string) (model.ScrapeJob, error)
	UpdateScrapeJob(ctx context.Context, job model.ScrapeJob) error
	ListScrapeJobs(ctx context.Context, competitorID string) ([]model.ScrapeJob, error)

	// Matches
	ListMatches(ctx context.Context) ([]model.ProductMatch, error)
	GetMatch(ctx context.Context, id string) (*model.ProductMatch, error)
	UpsertMatches(ctx context.Context, matches []model.ProductMatch) error
	VerifyMatch(ctx context.Context, id string) error
	RejectMatch(ctx context.Context, matchID, reason, rejectedBy string) error
	UpdateMatchViolation(ctx context.Context, m model.ProductMatch) error

	// Rejected pairs
	ListRejectedPairs(ctx context.Context) ([]model.RejectedPair, error)

	// Violation history (append-only) and alerts
	AddViolationHistory(ctx context.Context, h model.ViolationHistory) error
	LatestViolationHistory(ctx context.Context, matchID string) (*model.ViolationHistory, error)
	ListViolationHistory(ctx context.Context, matchID string) ([]model.ViolationHistory, error)
	CreateAlert(ctx context.Context, a model.ViolationAlert) error
	MarkAlertSent(ctx context.Context, id string) error
	ResolveOpenAlerts(ctx context.Context, matchID string) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open constructs the configured backend.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg)
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
