package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/pricewatch/internal/model"
)

func TestExcludeMatcher(t *testing.T) {
	m := NewExcludeMatcher([]string{"*gift-card*", "/collections/clearance/*", "demo unit"})

	tests := []struct {
		name     string
		listing  model.RawListing
		excluded bool
	}{
		{"title glob", model.RawListing{Title: "Holiday Gift-Card $50"}, true},
		{"external id glob", model.RawListing{ExternalID: "gift-card-100"}, true},
		{"url prefix", model.RawListing{Title: "Old Grinder", URL: "https://x.test/collections/clearance/old-grinder"}, true},
		{"literal substring", model.RawListing{Title: "Rocket Appartamento Demo Unit"}, true},
		{"kept", model.RawListing{Title: "Rocket Appartamento", URL: "https://x.test/products/rocket"}, false},
		{"empty fields kept", model.RawListing{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.excluded, m.Excluded(tt.listing))
		})
	}

	none := NewExcludeMatcher(nil)
	kept, excluded := none.Filter([]model.RawListing{{Title: "Anything"}})
	assert.Len(t, kept, 1)
	assert.Equal(t, 0, excluded)
}
