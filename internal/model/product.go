package model

import "time"

// InternalProduct is a product from our own catalog. It is populated by the
// catalog-sync collaborator and read-only inside this engine; Price is the
// MAP reference price.
type InternalProduct struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Vendor      string    `json:"vendor"`
	ProductType string    `json:"product_type"`
	SKU         string    `json:"sku,omitempty"`
	Price       float64   `json:"price"`
	Available   bool      `json:"available"`
	Embedding   []float64 `json:"embedding,omitempty"`
	SyncedAt    time.Time `json:"synced_at"`
}

// HasEmbedding reports whether a usable embedding vector is attached.
func (p InternalProduct) HasEmbedding() bool {
	return len(p.Embedding) > 0
}
