package violation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricewatch/internal/config"
	"github.com/sells-group/pricewatch/internal/model"
	"github.com/sells-group/pricewatch/internal/store"
)

type fixture struct {
	detector *Detector
	store    store.Store
	matchID  string
	product  model.InternalProduct
	cp       model.CompetitorProduct
}

// newFixture seeds one matched pair with the given prices.
func newFixture(t *testing.T, referencePrice, competitorPrice float64, alertCfg *config.AlertConfig) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	c, err := st.CreateCompetitor(ctx, model.Competitor{
		Name: "Espresso Outlet", Domain: "espressooutlet.example",
		Strategy: model.StrategyCollection, Active: true,
	})
	require.NoError(t, err)

	p := model.InternalProduct{
		ID: "prod-1", Title: "Rocket Appartamento", Vendor: "Rocket", Price: referencePrice,
	}
	require.NoError(t, st.UpsertProduct(ctx, p))

	cpID, _, err := st.UpsertCompetitorProduct(ctx, model.CompetitorProduct{
		CompetitorID: c.ID, ExternalID: "ext-1",
		Title: "Rocket Appartamento", Vendor: "Rocket", Price: competitorPrice,
	})
	require.NoError(t, err)

	require.NoError(t, st.UpsertMatches(ctx, []model.ProductMatch{{
		ProductID: p.ID, CompetitorProductID: cpID,
		Score: 0.9, Confidence: model.ConfidenceHigh,
	}}))
	matches, err := st.ListMatches(ctx)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	var alerter *Alerter
	if alertCfg != nil {
		alerter = NewAlerter(st, *alertCfg)
	}
	det := New(st, alerter, config.ViolationConfig{
		SevereThreshold: 0.20, ModerateThreshold: 0.10, MinorThreshold: 0.01,
	})
	return &fixture{
		detector: det,
		store:    st,
		matchID:  matches[0].ID,
		product:  p,
		cp:       model.CompetitorProduct{ID: cpID, CompetitorID: c.ID, ExternalID: "ext-1"},
	}
}

func (f *fixture) setCompetitorPrice(t *testing.T, price float64) {
	t.Helper()
	cp := f.cp
	cp.Title = "Rocket Appartamento"
	cp.Vendor = "Rocket"
	cp.Price = price
	_, created, err := f.store.UpsertCompetitorProduct(context.Background(), cp)
	require.NoError(t, err)
	require.False(t, created)
}

func scanOpts() Options {
	return Options{RecordHistory: true}
}

func TestScan_SeverityTiers(t *testing.T) {
	tests := []struct {
		name            string
		competitorPrice float64
		severity        model.Severity
		violation       bool
	}{
		{"five percent under is minor", 95, model.SeverityMinor, true},
		{"eighteen percent under is moderate", 82, model.SeverityModerate, true},
		{"thirty percent under is severe", 70, model.SeveritySevere, true},
		{"equal price is clean", 100, "", false},
		{"above reference is clean", 110, "", false},
		{"sub-percent shortfall is clean", 99.50, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 100, tt.competitorPrice, nil)
			res, err := f.detector.Scan(context.Background(), scanOpts())
			require.NoError(t, err)
			assert.Equal(t, 1, res.Scanned)

			if !tt.violation {
				assert.Equal(t, 0, res.Violations)
				return
			}
			assert.Equal(t, 1, res.Violations)
			assert.Equal(t, 1, res.New)
			require.Len(t, res.Findings, 1)
			assert.Equal(t, tt.severity, res.Findings[0].Severity)

			got, err := f.store.GetMatch(context.Background(), f.matchID)
			require.NoError(t, err)
			assert.True(t, got.IsViolation)
			assert.NotNil(t, got.FirstViolatedAt)
			assert.NotNil(t, got.LastCheckedAt)

			last, err := f.store.LatestViolationHistory(context.Background(), f.matchID)
			require.NoError(t, err)
			require.NotNil(t, last)
			assert.Equal(t, model.ViolationNew, last.Type)
			assert.Equal(t, tt.severity, last.Severity)
		})
	}
}

func TestScan_UnchangedViolationAddsNoHistory(t *testing.T) {
	f := newFixture(t, 100, 82, nil)
	ctx := context.Background()

	_, err := f.detector.Scan(ctx, scanOpts())
	require.NoError(t, err)
	_, err = f.detector.Scan(ctx, scanOpts())
	require.NoError(t, err)

	history, err := f.store.ListViolationHistory(ctx, f.matchID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestScan_PriceChangeAppendsHistory(t *testing.T) {
	f := newFixture(t, 100, 95, nil)
	ctx := context.Background()

	res, err := f.detector.Scan(ctx, scanOpts())
	require.NoError(t, err)
	require.Equal(t, 1, res.New)

	f.setCompetitorPrice(t, 82)
	res, err = f.detector.Scan(ctx, scanOpts())
	require.NoError(t, err)
	assert.Equal(t, 1, res.PriceChanged)
	assert.Equal(t, 0, res.New)

	history, err := f.store.ListViolationHistory(ctx, f.matchID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.ViolationPriceChanged, history[1].Type)
	assert.Equal(t, model.SeverityModerate, history[1].Severity)
	assert.Equal(t, 95.0, history[1].PreviousPrice)
	assert.Equal(t, 82.0, history[1].CompetitorPrice)
}

func TestScan_AutoResolveOnRecovery(t *testing.T) {
	f := newFixture(t, 100, 95, nil)
	ctx := context.Background()

	_, err := f.detector.Scan(ctx, scanOpts())
	require.NoError(t, err)

	f.setCompetitorPrice(t, 101)
	res, err := f.detector.Scan(ctx, scanOpts())
	require.NoError(t, err)
	assert.Equal(t, 1, res.AutoResolved)
	assert.Equal(t, 0, res.Violations)

	got, err := f.store.GetMatch(ctx, f.matchID)
	require.NoError(t, err)
	assert.False(t, got.IsViolation)
	assert.Zero(t, got.ViolationAmount)
	assert.Nil(t, got.FirstViolatedAt)

	history, err := f.store.ListViolationHistory(ctx, f.matchID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.ViolationAutoResolved, history[1].Type)
	assert.Equal(t, 95.0, history[1].PreviousPrice)

	// A further clean scan appends nothing more.
	_, err = f.detector.Scan(ctx, scanOpts())
	require.NoError(t, err)
	history, err = f.store.ListViolationHistory(ctx, f.matchID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestScan_AutoResolveClosesOpenAlerts(t *testing.T) {
	var delivered []AlertRequest
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AlertRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		delivered = append(delivered, req)
	}))
	defer webhook.Close()

	f := newFixture(t, 100, 70, &config.AlertConfig{WebhookURL: webhook.URL, TimeoutSecs: 2})
	ctx := context.Background()

	_, err := f.detector.Scan(ctx, scanOpts())
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.Equal(t, f.matchID, delivered[0].ProductMatchID)
	assert.Equal(t, model.SeveritySevere, delivered[0].Severity)
	assert.Equal(t, 100.0, delivered[0].ReferencePrice)
	assert.Equal(t, 70.0, delivered[0].CompetitorPrice)

	// Rescans of an ongoing violation do not re-alert.
	_, err = f.detector.Scan(ctx, scanOpts())
	require.NoError(t, err)
	assert.Len(t, delivered, 1)

	f.setCompetitorPrice(t, 100)
	_, err = f.detector.Scan(ctx, scanOpts())
	require.NoError(t, err)
	assert.Len(t, delivered, 1)

	n, err := f.store.ResolveOpenAlerts(ctx, f.matchID)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "auto-resolve already closed the alert")
}

func TestScan_AlertDeliveryFailureDoesNotFailScan(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer webhook.Close()

	f := newFixture(t, 100, 70, &config.AlertConfig{WebhookURL: webhook.URL, TimeoutSecs: 2})
	res, err := f.detector.Scan(context.Background(), scanOpts())
	require.NoError(t, err)
	assert.Equal(t, 1, res.New)
	assert.Empty(t, res.Errors)

	// The alert stays open for a later delivery attempt.
	n, err := f.store.ResolveOpenAlerts(context.Background(), f.matchID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestScan_MissingPricesNeverTransition(t *testing.T) {
	f := newFixture(t, 100, 0, nil)
	res, err := f.detector.Scan(context.Background(), scanOpts())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 1, res.MissingPrices)
	assert.Equal(t, 0, res.Violations)

	got, err := f.store.GetMatch(context.Background(), f.matchID)
	require.NoError(t, err)
	assert.False(t, got.IsViolation)
}

func TestScan_SeverityFilterIsPresentationOnly(t *testing.T) {
	f := newFixture(t, 100, 95, nil)
	opts := scanOpts()
	opts.SeverityFilter = []model.Severity{model.SeveritySevere}

	res, err := f.detector.Scan(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Violations)
	assert.Empty(t, res.Findings, "minor finding filtered from the report")

	// History was still recorded for the filtered severity.
	history, err := f.store.ListViolationHistory(context.Background(), f.matchID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestScan_DryRunPersistsNothing(t *testing.T) {
	f := newFixture(t, 100, 70, nil)
	opts := scanOpts()
	opts.DryRun = true

	res, err := f.detector.Scan(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Violations)
	require.Len(t, res.Findings, 1)

	got, err := f.store.GetMatch(context.Background(), f.matchID)
	require.NoError(t, err)
	assert.False(t, got.IsViolation)

	history, err := f.store.ListViolationHistory(context.Background(), f.matchID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSeverityFor_Boundaries(t *testing.T) {
	d := New(nil, nil, config.ViolationConfig{})
	assert.Equal(t, model.SeveritySevere, d.SeverityFor(0.20))
	assert.Equal(t, model.SeverityModerate, d.SeverityFor(0.199))
	assert.Equal(t, model.SeverityModerate, d.SeverityFor(0.10))
	assert.Equal(t, model.SeverityMinor, d.SeverityFor(0.099))
	assert.Equal(t, model.SeverityMinor, d.SeverityFor(0.01))
	assert.Equal(t, model.Severity(""), d.SeverityFor(0.009))
	assert.Equal(t, model.Severity(""), d.SeverityFor(-0.5))
}
