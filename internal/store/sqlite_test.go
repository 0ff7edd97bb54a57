package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricewatch/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func seedCompetitor(t *testing.T, st *SQLiteStore) model.Competitor {
	t.Helper()
	c, err := st.CreateCompetitor(context.Background(), model.Competitor{
		Name:            "Espresso Outlet",
		Domain:          "espressooutlet.example",
		Strategy:        model.StrategyCollection,
		RateLimitMS:     500,
		Collections:     []string{"espresso-machines", "grinders"},
		ExcludePatterns: []string{"*gift-card*"},
		Active:          true,
	})
	require.NoError(t, err)
	return c
}

func seedProduct(t *testing.T, st *SQLiteStore, title, vendor string, price float64) model.InternalProduct {
	t.Helper()
	p := model.InternalProduct{
		ID:        "prod-" + title,
		Title:     title,
		Vendor:    vendor,
		Price:     price,
		Available: true,
		Embedding: []float64{0.1, 0.2, 0.3},
	}
	require.NoError(t, st.UpsertProduct(context.Background(), p))
	return p
}

func seedCompetitorProduct(t *testing.T, st *SQLiteStore, competitorID, externalID string, price float64) model.CompetitorProduct {
	t.Helper()
	cp := model.CompetitorProduct{
		CompetitorID: competitorID,
		ExternalID:   externalID,
		Title:        "Listing " + externalID,
		Vendor:       "Rocket",
		Price:        price,
		Available:    true,
	}
	id, created, err := st.UpsertCompetitorProduct(context.Background(), cp)
	require.NoError(t, err)
	require.True(t, created)
	cp.ID = id
	return cp
}

func TestCompetitors_RoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := seedCompetitor(t, st)

	got, err := st.GetCompetitorByName(ctx, "Espresso Outlet")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, model.StrategyCollection, got.Strategy)
	assert.Equal(t, []string{"espresso-machines", "grinders"}, got.Collections)
	assert.Equal(t, []string{"*gift-card*"}, got.ExcludePatterns)
	assert.True(t, got.Active)

	_, err = st.GetCompetitorByName(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := st.ListCompetitors(ctx, true)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestListCompetitors_ActiveFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedCompetitor(t, st)
	_, err := st.CreateCompetitor(ctx, model.Competitor{
		Name: "Dormant", Domain: "dormant.example", Strategy: model.StrategySearchTerm, Active: false,
	})
	require.NoError(t, err)

	active, err := st.ListCompetitors(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := st.ListCompetitors(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestProducts_UpsertAndBrandFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, st, "Appartamento", "Rocket", 1899)
	seedProduct(t, st, "Linea Micra", "La Marzocco", 3995)

	all, err := st.ListProducts(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Brand filter is case-insensitive.
	rockets, err := st.ListProducts(ctx, []string{"ROCKET"})
	require.NoError(t, err)
	require.Len(t, rockets, 1)
	assert.Equal(t, "Appartamento", rockets[0].Title)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, rockets[0].Embedding)

	// Second upsert with the same id updates in place.
	p := rockets[0]
	p.Price = 1799
	require.NoError(t, st.UpsertProduct(ctx, p))
	rockets, err = st.ListProducts(ctx, []string{"rocket"})
	require.NoError(t, err)
	require.Len(t, rockets, 1)
	assert.Equal(t, 1799.0, rockets[0].Price)
}

func TestCompetitorProducts_UpsertKeyedByExternalID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := seedCompetitor(t, st)

	cp := seedCompetitorProduct(t, st, c.ID, "shopify-123", 1650)

	// Same (competitor, external) key updates rather than duplicating.
	cp.Price = 1599
	id, created, err := st.UpsertCompetitorProduct(ctx, cp)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, cp.ID, id)

	list, err := st.ListCompetitorProducts(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1599.0, list[0].Price)

	// Different external id creates a second row.
	seedCompetitorProduct(t, st, c.ID, "shopify-456", 899)
	list, err = st.ListCompetitorProducts(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	all, err := st.ListCompetitorProducts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPriceHistory_LatestWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := seedCompetitor(t, st)
	cp := seedCompetitorProduct(t, st, c.ID, "shopify-123", 1650)

	none, err := st.LatestPrice(ctx, cp.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.AddPriceHistory(ctx, model.PriceHistory{
		CompetitorProductID: cp.ID, Price: 1650, RecordedAt: base,
	}))
	require.NoError(t, st.AddPriceHistory(ctx, model.PriceHistory{
		CompetitorProductID: cp.ID, Price: 1599, RecordedAt: base.Add(24 * time.Hour),
	}))

	latest, err := st.LatestPrice(ctx, cp.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 1599.0, latest.Price)
}

func TestScrapeJob_Lifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := seedCompetitor(t, st)

	job, err := st.CreateScrapeJob(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)

	done := time.Now().UTC()
	job.Status = model.JobCompleted
	job.ProductsFound = 80
	job.ProductsCreated = 75
	job.ProductsUpdated = 5
	job.ParseErrors = 2
	job.CompletedAt = &done
	require.NoError(t, st.UpdateScrapeJob(ctx, job))

	missing := job
	missing.ID = "no-such-job"
	assert.ErrorIs(t, st.UpdateScrapeJob(ctx, missing), ErrNotFound)
}

func TestUpsertMatches_ManualNeverOverwritten(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := seedCompetitor(t, st)
	p := seedProduct(t, st, "Appartamento", "Rocket", 1899)
	cp := seedCompetitorProduct(t, st, c.ID, "shopify-123", 1650)

	manual := model.ProductMatch{
		ProductID:           p.ID,
		CompetitorProductID: cp.ID,
		Score:               1.0,
		Confidence:          model.ConfidenceHigh,
		IsManual:            true,
	}
	require.NoError(t, st.UpsertMatches(ctx, []model.ProductMatch{manual}))

	// An automatic write on the same pair must not touch the manual row.
	auto := model.ProductMatch{
		ProductID:           p.ID,
		CompetitorProductID: cp.ID,
		Score:               0.71,
		Confidence:          model.ConfidenceMedium,
	}
	require.NoError(t, st.UpsertMatches(ctx, []model.ProductMatch{auto}))

	matches, err := st.ListMatches(ctx)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.True(t, matches[0].IsManual)
	assert.Equal(t, 1.0, matches[0].Score)
	assert.Equal(t, model.ConfidenceHigh, matches[0].Confidence)
}

func TestUpsertMatches_AutomaticUpdatesInPlace(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := seedCompetitor(t, st)
	p := seedProduct(t, st, "Appartamento", "Rocket", 1899)
	cp := seedCompetitorProduct(t, st, c.ID, "shopify-123", 1650)

	first := model.ProductMatch{
		ProductID:           p.ID,
		CompetitorProductID: cp.ID,
		Score:               0.66,
		Factors:             model.FactorScores{Title: 0.8, Vendor: 1.0},
		Confidence:          model.ConfidenceLow,
	}
	require.NoError(t, st.UpsertMatches(ctx, []model.ProductMatch{first}))

	second := first
	second.ID = ""
	second.Score = 0.84
	second.Confidence = model.ConfidenceHigh
	require.NoError(t, st.UpsertMatches(ctx, []model.ProductMatch{second}))

	matches, err := st.ListMatches(ctx)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 0.84, matches[0].Score)
	assert.Equal(t, model.ConfidenceHigh, matches[0].Confidence)
}

func TestVerifyMatch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := seedCompetitor(t, st)
	p := seedProduct(t, st, "Appartamento", "Rocket", 1899)
	cp := seedCompetitorProduct(t, st, c.ID, "shopify-123", 1650)

	m := model.ProductMatch{
		ProductID:           p.ID,
		CompetitorProductID: cp.ID,
		Score:               0.74,
		Confidence:          model.ConfidenceMedium,
	}
	require.NoError(t, st.UpsertMatches(ctx, []model.ProductMatch{m}))
	matches, err := st.ListMatches(ctx)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	require.NoError(t, st.VerifyMatch(ctx, matches[0].ID))

	got, err := st.GetMatch(ctx, matches[0].ID)
	require.NoError(t, err)
	assert.True(t, got.IsManual)
	assert.Equal(t, model.ConfidenceHigh, got.Confidence)
	assert.Equal(t, 1.0, got.Score)

	assert.ErrorIs(t, st.VerifyMatch(ctx, "no-such-match"), ErrNotFound)
}

func TestRejectMatch_DeletesAndBlacklists(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := seedCompetitor(t, st)
	p := seedProduct(t, st, "Appartamento", "Rocket", 1899)
	cp := seedCompetitorProduct(t, st, c.ID, "shopify-123", 1650)

	m := model.ProductMatch{
		ProductID:           p.ID,
		CompetitorProductID: cp.ID,
		Score:               0.74,
		Confidence:          model.ConfidenceMedium,
	}
	require.NoError(t, st.UpsertMatches(ctx, []model.ProductMatch{m}))
	matches, err := st.ListMatches(ctx)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	require.NoError(t, st.RejectMatch(ctx, matches[0].ID, "wrong variant", "alex"))

	matches, err = st.ListMatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, matches)

	pairs, err := st.ListRejectedPairs(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, p.ID, pairs[0].ProductID)
	assert.Equal(t, cp.ID, pairs[0].CompetitorProductID)
	assert.Equal(t, "wrong variant", pairs[0].Reason)

	// Re-creating and rejecting the same pair keeps a single blacklist row.
	require.NoError(t, st.UpsertMatches(ctx, []model.ProductMatch{{
		ProductID: p.ID, CompetitorProductID: cp.ID, Score: 0.7, Confidence: model.ConfidenceMedium,
	}}))
	matches, err = st.ListMatches(ctx)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.NoError(t, st.RejectMatch(ctx, matches[0].ID, "still wrong", "alex"))

	pairs, err = st.ListRejectedPairs(ctx)
	require.NoError(t, err)
	assert.Len(t, pairs, 1)

	assert.ErrorIs(t, st.RejectMatch(ctx, "no-such-match", "", ""), ErrNotFound)
}

func TestUpdateMatchViolation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := seedCompetitor(t, st)
	p := seedProduct(t, st, "Appartamento", "Rocket", 1899)
	cp := seedCompetitorProduct(t, st, c.ID, "shopify-123", 1650)

	require.NoError(t, st.UpsertMatches(ctx, []model.ProductMatch{{
		ProductID: p.ID, CompetitorProductID: cp.ID, Score: 0.8, Confidence: model.ConfidenceHigh,
	}}))
	matches, err := st.ListMatches(ctx)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	now := time.Now().UTC().Truncate(time.Second)
	m := matches[0]
	m.IsViolation = true
	m.ViolationAmount = 249
	m.ViolationPercent = 0.131
	m.FirstViolatedAt = &now
	m.LastCheckedAt = &now
	require.NoError(t, st.UpdateMatchViolation(ctx, m))

	got, err := st.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.IsViolation)
	assert.Equal(t, 249.0, got.ViolationAmount)
	require.NotNil(t, got.FirstViolatedAt)
	assert.True(t, got.FirstViolatedAt.Equal(now))
}

func TestViolationHistory_AppendOnlyAndLatest(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	none, err := st.LatestViolationHistory(ctx, "match-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.AddViolationHistory(ctx, model.ViolationHistory{
		MatchID: "match-1", Type: model.ViolationNew, Severity: model.SeverityModerate,
		CompetitorPrice: 85, ReferencePrice: 100, Amount: 15, Percent: 0.15, DetectedAt: base,
	}))
	require.NoError(t, st.AddViolationHistory(ctx, model.ViolationHistory{
		MatchID: "match-1", Type: model.ViolationPriceChanged, Severity: model.SeveritySevere,
		CompetitorPrice: 70, ReferencePrice: 100, Amount: 30, Percent: 0.30, PreviousPrice: 85,
		DetectedAt: base.Add(time.Hour),
	}))

	latest, err := st.LatestViolationHistory(ctx, "match-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, model.ViolationPriceChanged, latest.Type)
	assert.Equal(t, 70.0, latest.CompetitorPrice)

	all, err := st.ListViolationHistory(ctx, "match-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.ViolationNew, all[0].Type)
	assert.Equal(t, model.ViolationPriceChanged, all[1].Type)
}

func TestAlerts_ResolveOpen(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a1 := model.ViolationAlert{ID: "a1", MatchID: "match-1", Severity: model.SeverityMinor}
	a2 := model.ViolationAlert{ID: "a2", MatchID: "match-1", Severity: model.SeveritySevere}
	other := model.ViolationAlert{ID: "a3", MatchID: "match-2", Severity: model.SeverityMinor}
	require.NoError(t, st.CreateAlert(ctx, a1))
	require.NoError(t, st.CreateAlert(ctx, a2))
	require.NoError(t, st.CreateAlert(ctx, other))

	require.NoError(t, st.MarkAlertSent(ctx, "a1"))

	// Both open and sent alerts resolve; the other match is untouched.
	n, err := st.ResolveOpenAlerts(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = st.ResolveOpenAlerts(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.ErrorIs(t, st.MarkAlertSent(ctx, "missing"), ErrNotFound)
}
