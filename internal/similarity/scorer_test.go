package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricewatch/internal/model"
)

func testProducts() (model.InternalProduct, model.CompetitorProduct) {
	p := model.InternalProduct{
		ID:          "p1",
		Title:       "Rocket Appartamento Espresso Machine",
		Vendor:      "Rocket Espresso",
		ProductType: "espresso machine",
		SKU:         "ROC-APP-01",
		Price:       1850,
		Embedding:   []float64{0.5, 0.5, 0.1},
	}
	cp := model.CompetitorProduct{
		ID:          "cp1",
		Title:       "Rocket Appartamento Espresso Machine - White",
		Vendor:      "Rocket",
		ProductType: "semi-automatic espresso machine",
		SKU:         "ROC-APP-01-W",
		Price:       1799,
		Embedding:   []float64{0.5, 0.5, 0.12},
	}
	return p, cp
}

func TestCompare_BoundsAndDeterminism(t *testing.T) {
	p, cp := testProducts()
	s := NewScorer(DefaultWeights())

	first := s.Compare(p, cp)
	for i := 0; i < 5; i++ {
		again := s.Compare(p, cp)
		require.Equal(t, first, again, "scoring must be deterministic")
	}

	for name, v := range map[string]float64{
		"overall":   first.Overall,
		"title":     first.Factors.Title,
		"vendor":    first.Factors.Vendor,
		"price":     first.Factors.Price,
		"type":      first.Factors.Type,
		"sku":       first.Factors.SKU,
		"embedding": first.Factors.Embedding,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 1.0, name)
	}
}

func TestCompare_SimilarProductsScoreHigh(t *testing.T) {
	p, cp := testProducts()
	got := NewScorer(DefaultWeights()).Compare(p, cp)

	assert.Greater(t, got.Overall, 0.8)
	assert.Equal(t, model.ConfidenceHigh, got.Confidence)
}

func TestCompare_MissingFieldsDegradeToZero(t *testing.T) {
	got := NewScorer(DefaultWeights()).Compare(model.InternalProduct{}, model.CompetitorProduct{})

	assert.Zero(t, got.Overall)
	assert.Zero(t, got.Factors.Title)
	assert.Zero(t, got.Factors.Embedding)
	assert.Equal(t, model.ConfidenceVeryLow, got.Confidence)
}

func TestVendorSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, VendorSimilarity("Baratza", "baratza"))
	assert.Equal(t, 0.8, VendorSimilarity("Rocket", "Rocket Espresso"))
	assert.Zero(t, VendorSimilarity("", "Baratza"))
	assert.Less(t, VendorSimilarity("Baratza", "Fellow"), 0.5)
}

func TestPriceSimilarity(t *testing.T) {
	tests := []struct {
		name   string
		p1, p2 float64
		want   float64
	}{
		{"exact", 100, 100, 1.0},
		{"within 5pct", 100, 96, 1.0},
		{"within 15pct", 100, 88, 0.8},
		{"within 30pct", 100, 75, 0.6},
		{"within 50pct", 100, 62, 0.4},
		{"zero left", 0, 100, 0},
		{"zero right", 100, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, PriceSimilarity(tt.p1, tt.p2), 1e-9)
		})
	}
}

func TestPriceSimilarity_LargeGapDecaysToZero(t *testing.T) {
	got := PriceSimilarity(100, 10)
	assert.GreaterOrEqual(t, got, 0.0)
	assert.Less(t, got, 0.4)
}

func TestTypeSimilarity_CategoryBucket(t *testing.T) {
	assert.Equal(t, 1.0, TypeSimilarity("espresso machine", "Espresso Machine"))
	assert.Equal(t, 0.8, TypeSimilarity("espresso machine", "dual boiler espresso machine"))
	assert.Equal(t, 0.8, TypeSimilarity("burr grinder", "conical grinder"))
	assert.Zero(t, TypeSimilarity("", "grinder"))
}

func TestEmbeddingSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, EmbeddingSimilarity([]float64{1, 2, 3}, []float64{1, 2, 3}), 1e-9)
	assert.Zero(t, EmbeddingSimilarity(nil, []float64{1, 2}))
	assert.Zero(t, EmbeddingSimilarity([]float64{1, 2}, []float64{1, 2, 3}))
	// Opposed vectors clamp to 0 rather than going negative.
	assert.Zero(t, EmbeddingSimilarity([]float64{1, 0}, []float64{-1, 0}))
}

func TestTitleSimilarity_KeyTermOverlap(t *testing.T) {
	a := "Fellow Stagg EKG Electric Kettle"
	b := "Stagg EKG Kettle by Fellow (Electric)"
	assert.Greater(t, TitleSimilarity(a, b), 0.5)
	assert.Zero(t, TitleSimilarity("", b))
}

func TestConfidenceFor(t *testing.T) {
	assert.Equal(t, model.ConfidenceHigh, ConfidenceFor(0.80))
	assert.Equal(t, model.ConfidenceMedium, ConfidenceFor(0.79))
	assert.Equal(t, model.ConfidenceMedium, ConfidenceFor(0.70))
	assert.Equal(t, model.ConfidenceLow, ConfidenceFor(0.69))
	assert.Equal(t, model.ConfidenceLow, ConfidenceFor(0.60))
	assert.Equal(t, model.ConfidenceVeryLow, ConfidenceFor(0.59))
}
