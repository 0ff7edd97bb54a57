// Package similarity scores how likely an internal product and a scraped
// competitor product are the same item. Scoring is pure and deterministic:
// no I/O, identical inputs always produce identical outputs.
package similarity

import (
	"math"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/sells-group/pricewatch/internal/model"
)

// Weights blends the per-factor sub-scores into the overall score.
// SKU is computed but weighted zero for now.
type Weights struct {
	Embedding float64 `yaml:"embedding" mapstructure:"embedding"`
	Vendor    float64 `yaml:"vendor" mapstructure:"vendor"`
	Title     float64 `yaml:"title" mapstructure:"title"`
	Type      float64 `yaml:"type" mapstructure:"type"`
	Price     float64 `yaml:"price" mapstructure:"price"`
	SKU       float64 `yaml:"sku" mapstructure:"sku"`
}

// DefaultWeights returns the production factor weights.
func DefaultWeights() Weights {
	return Weights{
		Embedding: 0.40,
		Vendor:    0.24,
		Title:     0.18,
		Type:      0.12,
		Price:     0.06,
		SKU:       0.0,
	}
}

// Score is the result of comparing one internal product against one
// competitor product.
type Score struct {
	Overall    float64
	Factors    model.FactorScores
	Confidence model.Confidence
}

// Scorer computes weighted similarity scores.
type Scorer struct {
	weights Weights
}

// NewScorer creates a Scorer with the given weights.
func NewScorer(w Weights) *Scorer {
	return &Scorer{weights: w}
}

// Compare scores p against cp. Every sub-score and the overall score lie in
// [0,1]; malformed or missing fields degrade the corresponding sub-score to
// zero rather than failing the comparison.
func (s *Scorer) Compare(p model.InternalProduct, cp model.CompetitorProduct) Score {
	f := model.FactorScores{
		Title:     TitleSimilarity(p.Title, cp.Title),
		Vendor:    VendorSimilarity(p.Vendor, cp.Vendor),
		Price:     PriceSimilarity(p.Price, cp.Price),
		Type:      TypeSimilarity(p.ProductType, cp.ProductType),
		SKU:       SKUSimilarity(p.SKU, cp.SKU),
		Embedding: EmbeddingSimilarity(p.Embedding, cp.Embedding),
	}

	overall := s.weights.Embedding*f.Embedding +
		s.weights.Vendor*f.Vendor +
		s.weights.Title*f.Title +
		s.weights.Type*f.Type +
		s.weights.Price*f.Price +
		s.weights.SKU*f.SKU

	return Score{
		Overall:    clamp01(overall),
		Factors:    f,
		Confidence: ConfidenceFor(clamp01(overall)),
	}
}

// ConfidenceFor maps an overall score to its confidence tier.
func ConfidenceFor(score float64) model.Confidence {
	switch {
	case score >= 0.80:
		return model.ConfidenceHigh
	case score >= 0.70:
		return model.ConfidenceMedium
	case score >= 0.60:
		return model.ConfidenceLow
	default:
		return model.ConfidenceVeryLow
	}
}

// TitleSimilarity blends edit-distance similarity (60%) with key-term set
// overlap (40%).
func TitleSimilarity(a, b string) float64 {
	a = strings.TrimSpace(strings.ToLower(a))
	b = strings.TrimSpace(strings.ToLower(b))
	if a == "" || b == "" {
		return 0
	}
	edit := editSimilarity(a, b)
	overlap := keyTermOverlap(a, b)
	return clamp01(0.6*edit + 0.4*overlap)
}

// VendorSimilarity is 1.0 on an exact case-insensitive match, 0.8 when one
// vendor name contains the other, else edit-distance similarity.
func VendorSimilarity(a, b string) float64 {
	a = strings.TrimSpace(strings.ToLower(a))
	b = strings.TrimSpace(strings.ToLower(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.8
	}
	return editSimilarity(a, b)
}

// PriceSimilarity maps the relative price error onto a piecewise scale.
// A zero or missing price on either side scores zero.
func PriceSimilarity(p1, p2 float64) float64 {
	if p1 <= 0 || p2 <= 0 {
		return 0
	}
	relErr := math.Abs(p1-p2) / ((p1 + p2) / 2)
	switch {
	case relErr <= 0.05:
		return 1.0
	case relErr <= 0.15:
		return 0.8
	case relErr <= 0.30:
		return 0.6
	case relErr <= 0.50:
		return 0.4
	default:
		return clamp01(1 - relErr)
	}
}

// TypeSimilarity is 1.0 on an exact match, 0.8 when both types fall in the
// same coarse category bucket, else edit-distance similarity.
func TypeSimilarity(a, b string) float64 {
	a = strings.TrimSpace(strings.ToLower(a))
	b = strings.TrimSpace(strings.ToLower(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	if ca, cb := categoryOf(a), categoryOf(b); ca != "" && ca == cb {
		return 0.8
	}
	return editSimilarity(a, b)
}

// SKUSimilarity compares SKUs: exact 1.0, substring 0.8, else edit distance.
// Currently weighted zero in the overall blend.
func SKUSimilarity(a, b string) float64 {
	a = strings.TrimSpace(strings.ToLower(a))
	b = strings.TrimSpace(strings.ToLower(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.8
	}
	return editSimilarity(a, b)
}

// EmbeddingSimilarity is the cosine similarity of the two opaque vectors,
// clamped to [0,1]. Absent or mismatched vectors score zero.
func EmbeddingSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return clamp01(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func editSimilarity(a, b string) float64 {
	return clamp01(levenshtein.Similarity(a, b, levenshtein.NewParams()))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
