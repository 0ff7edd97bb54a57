package model

import "time"

// Confidence is the coarse bucket derived from the overall similarity score.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceVeryLow Confidence = "very_low"
)

// confidenceRank orders tiers for threshold comparisons.
var confidenceRank = map[Confidence]int{
	ConfidenceVeryLow: 0,
	ConfidenceLow:     1,
	ConfidenceMedium:  2,
	ConfidenceHigh:    3,
}

// AtLeast reports whether c meets or exceeds min.
func (c Confidence) AtLeast(min Confidence) bool {
	return confidenceRank[c] >= confidenceRank[min]
}

// Valid reports whether c is a known tier.
func (c Confidence) Valid() bool {
	_, ok := confidenceRank[c]
	return ok
}

// FactorScores holds the per-factor sub-scores of one comparison, each in [0,1].
type FactorScores struct {
	Title     float64 `json:"title"`
	Vendor    float64 `json:"vendor"`
	Price     float64 `json:"price"`
	Type      float64 `json:"type"`
	SKU       float64 `json:"sku"`
	Embedding float64 `json:"embedding"`
}

// ProductMatch links an internal product to a competitor product. The
// (product_id, competitor_product_id) pair is unique across the whole table
// regardless of whether the match was created automatically or manually.
type ProductMatch struct {
	ID                  string       `json:"id"`
	ProductID           string       `json:"product_id"`
	CompetitorProductID string       `json:"competitor_product_id"`
	Score               float64      `json:"score"`
	Factors             FactorScores `json:"factors"`
	Confidence          Confidence   `json:"confidence"`
	IsManual            bool         `json:"is_manual"`
	IsViolation         bool         `json:"is_violation"`
	ViolationAmount     float64      `json:"violation_amount,omitempty"`
	ViolationPercent    float64      `json:"violation_percent,omitempty"`
	FirstViolatedAt     *time.Time   `json:"first_violated_at,omitempty"`
	LastCheckedAt       *time.Time   `json:"last_checked_at,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Pair is a (internal product, competitor product) key used for existence
// and rejection lookups.
type Pair struct {
	ProductID           string
	CompetitorProductID string
}

// PairOf returns the lookup key for the match.
func (m ProductMatch) PairOf() Pair {
	return Pair{ProductID: m.ProductID, CompetitorProductID: m.CompetitorProductID}
}

// RejectedPair permanently blacklists a pair from automatic matching.
type RejectedPair struct {
	ID                  string    `json:"id"`
	ProductID           string    `json:"product_id"`
	CompetitorProductID string    `json:"competitor_product_id"`
	Reason              string    `json:"reason,omitempty"`
	RejectedBy          string    `json:"rejected_by,omitempty"`
	RejectedAt          time.Time `json:"rejected_at"`
}
