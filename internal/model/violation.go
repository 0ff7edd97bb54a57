package model

import "time"

// Severity buckets a violation by fractional shortfall below the reference price.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityMinor, SeverityModerate, SeveritySevere:
		return true
	}
	return false
}

// ViolationEventType classifies a violation history entry.
type ViolationEventType string

const (
	ViolationNew          ViolationEventType = "new"
	ViolationPriceChanged ViolationEventType = "price-changed"
	ViolationAutoResolved ViolationEventType = "auto-resolved"
)

// ViolationHistory is one append-only audit record for a product match.
// Rows are never mutated after insert.
type ViolationHistory struct {
	ID              string             `json:"id"`
	MatchID         string             `json:"match_id"`
	Type            ViolationEventType `json:"type"`
	Severity        Severity           `json:"severity,omitempty"`
	CompetitorPrice float64            `json:"competitor_price"`
	ReferencePrice  float64            `json:"reference_price"`
	Amount          float64            `json:"amount"`
	Percent         float64            `json:"percent"`
	PreviousPrice   float64            `json:"previous_price,omitempty"`
	DetectedAt      time.Time          `json:"detected_at"`
}

// AlertStatus tracks delivery/lifecycle of a violation alert.
type AlertStatus string

const (
	AlertOpen     AlertStatus = "open"
	AlertSent     AlertStatus = "sent"
	AlertResolved AlertStatus = "resolved"
)

// ViolationAlert is one alert raised for a newly detected violation. It is
// kept so that auto-resolution can close alerts that are still open.
type ViolationAlert struct {
	ID         string      `json:"id"`
	MatchID    string      `json:"match_id"`
	Severity   Severity    `json:"severity"`
	Status     AlertStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
}
