package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricewatch/internal/model"
	"github.com/sells-group/pricewatch/internal/store"
)

func newTestIngestor(t *testing.T) (*Ingestor, store.Store, string) {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	c, err := st.CreateCompetitor(context.Background(), model.Competitor{
		Name: "Espresso Outlet", Domain: "espressooutlet.example",
		Strategy: model.StrategyCollection, Active: true,
	})
	require.NoError(t, err)
	return New(st), st, c.ID
}

func listing(externalID string, price float64) model.RawListing {
	return model.RawListing{
		ExternalID: externalID,
		Title:      "Listing " + externalID,
		Vendor:     "Rocket",
		Price:      price,
		Available:  true,
	}
}

func TestRun_CreatesThenUpdates(t *testing.T) {
	in, st, competitorID := newTestIngestor(t)
	ctx := context.Background()

	res, err := in.Run(ctx, competitorID, []model.RawListing{listing("a", 100), listing("b", 200)}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, res.Updated)

	res, err = in.Run(ctx, competitorID, []model.RawListing{listing("a", 100), listing("b", 200)}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 2, res.Updated)

	cps, err := st.ListCompetitorProducts(ctx, competitorID)
	require.NoError(t, err)
	assert.Len(t, cps, 2)
}

func TestRun_PriceHistoryOnlyOnRealMoves(t *testing.T) {
	in, st, competitorID := newTestIngestor(t)
	ctx := context.Background()

	// First sighting records a baseline row.
	_, err := in.Run(ctx, competitorID, []model.RawListing{listing("a", 100)}, false)
	require.NoError(t, err)

	cps, err := st.ListCompetitorProducts(ctx, competitorID)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	id := cps[0].ID

	last, err := st.LatestPrice(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 100.0, last.Price)

	// Re-scrape at the same price (and within a cent) adds nothing.
	res, err := in.Run(ctx, competitorID, []model.RawListing{listing("a", 100)}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.PriceChanges)
	_, err = in.Run(ctx, competitorID, []model.RawListing{listing("a", 100.005)}, false)
	require.NoError(t, err)

	// A real move appends a second row.
	res, err = in.Run(ctx, competitorID, []model.RawListing{listing("a", 95)}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PriceChanges)

	last, err = st.LatestPrice(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 95.0, last.Price)
}

func TestRun_DryRunPersistsNothing(t *testing.T) {
	in, st, competitorID := newTestIngestor(t)
	ctx := context.Background()

	res, err := in.Run(ctx, competitorID, []model.RawListing{listing("a", 100)}, true)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)

	cps, err := st.ListCompetitorProducts(ctx, competitorID)
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestRun_PersistenceFailureCountedNotFatal(t *testing.T) {
	in, _, competitorID := newTestIngestor(t)
	ctx := context.Background()

	// A missing competitor trips the foreign key; the run still completes.
	res, err := in.Run(ctx, "no-such-competitor", []model.RawListing{listing("z", 10)}, false)
	require.NoError(t, err)
	assert.Len(t, res.Errors, 1)
	assert.Equal(t, 0, res.Created)

	res, err = in.Run(ctx, competitorID, []model.RawListing{listing("a", 100), listing("b", 200)}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Empty(t, res.Errors)
}
