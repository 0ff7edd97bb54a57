// Package ingest persists scraped listings as competitor products and keeps
// their price history.
package ingest

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/pricewatch/internal/model"
	"github.com/sells-group/pricewatch/internal/store"
)

// priceEpsilon is the minimum price movement worth a history row.
const priceEpsilon = 0.01

// Ingestor upserts raw listings keyed by (competitor, external id) and
// appends price history when a listing's price actually moved.
type Ingestor struct {
	store store.Store
}

// Result counts one ingestion run.
type Result struct {
	Created      int
	Updated      int
	PriceChanges int
	Errors       []string
}

func New(st store.Store) *Ingestor {
	return &Ingestor{store: st}
}

// Run ingests listings for one competitor. Per-listing failures are counted
// and skipped; the run continues with the next listing. When dryRun is set
// nothing is persisted.
func (in *Ingestor) Run(ctx context.Context, competitorID string, listings []model.RawListing, dryRun bool) (Result, error) {
	var res Result
	if dryRun {
		zap.L().Info("dry run, skipping ingestion",
			zap.String("competitor_id", competitorID), zap.Int("listings", len(listings)))
		return res, nil
	}

	for _, l := range listings {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		created, priceChanged, err := in.ingestOne(ctx, competitorID, l)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			zap.L().Warn("listing ingest failed",
				zap.String("competitor_id", competitorID),
				zap.String("external_id", l.ExternalID),
				zap.Error(err))
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
		if priceChanged {
			res.PriceChanges++
		}
	}

	zap.L().Info("ingestion completed",
		zap.String("competitor_id", competitorID),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("price_changes", res.PriceChanges),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

func (in *Ingestor) ingestOne(ctx context.Context, competitorID string, l model.RawListing) (created, priceChanged bool, err error) {
	cp := model.CompetitorProduct{
		CompetitorID:   competitorID,
		ExternalID:     l.ExternalID,
		Title:          l.Title,
		Vendor:         l.Vendor,
		ProductType:    l.ProductType,
		SKU:            l.SKU,
		Price:          l.Price,
		CompareAtPrice: l.CompareAtPrice,
		Available:      l.Available,
		URL:            l.URL,
		ImageURL:       l.ImageURL,
	}

	id, created, err := in.store.UpsertCompetitorProduct(ctx, cp)
	if err != nil {
		return false, false, err
	}

	last, err := in.store.LatestPrice(ctx, id)
	if err != nil {
		return created, false, err
	}
	// First sighting always gets a history row; afterwards only real moves.
	if last != nil && math.Abs(last.Price-l.Price) <= priceEpsilon {
		return created, false, nil
	}
	err = in.store.AddPriceHistory(ctx, model.PriceHistory{
		CompetitorProductID: id,
		Price:               l.Price,
		CompareAtPrice:      l.CompareAtPrice,
	})
	if err != nil {
		return created, false, err
	}
	return created, last != nil, nil
}
