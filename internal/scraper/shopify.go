package scraper

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricewatch/internal/model"
)

// Shopify storefront JSON shapes. Prices arrive as strings ("1899.00").

type productsPage struct {
	Products []shopifyProduct `json:"products"`
}

type singleProduct struct {
	Product shopifyProduct `json:"product"`
}

type shopifyProduct struct {
	ID          int64            `json:"id"`
	Title       string           `json:"title"`
	Handle      string           `json:"handle"`
	Vendor      string           `json:"vendor"`
	ProductType string           `json:"product_type"`
	Variants    []shopifyVariant `json:"variants"`
	Images      []shopifyImage   `json:"images"`
}

type shopifyVariant struct {
	SKU            string `json:"sku"`
	Price          string `json:"price"`
	CompareAtPrice string `json:"compare_at_price"`
	Available      bool   `json:"available"`
}

type shopifyImage struct {
	Src string `json:"src"`
}

type suggestResponse struct {
	Resources struct {
		Results struct {
			Products []struct {
				Handle string `json:"handle"`
			} `json:"products"`
		} `json:"results"`
	} `json:"resources"`
}

// toListing normalizes one structured product into a RawListing. The first
// variant carries the advertised price; products without variants or with an
// unparsable price are rejected so the caller can count them as parse errors.
func toListing(p shopifyProduct, baseURL string) (model.RawListing, error) {
	if len(p.Variants) == 0 {
		return model.RawListing{}, eris.Errorf("product %d %q has no variants", p.ID, p.Title)
	}
	v := p.Variants[0]
	price, err := parsePrice(v.Price)
	if err != nil {
		return model.RawListing{}, eris.Wrapf(err, "product %d %q", p.ID, p.Title)
	}
	compareAt, _ := parsePrice(v.CompareAtPrice)

	available := false
	for _, vv := range p.Variants {
		if vv.Available {
			available = true
			break
		}
	}

	l := model.RawListing{
		ExternalID:     strconv.FormatInt(p.ID, 10),
		Title:          strings.TrimSpace(p.Title),
		Vendor:         strings.TrimSpace(p.Vendor),
		ProductType:    strings.TrimSpace(p.ProductType),
		SKU:            strings.TrimSpace(v.SKU),
		Price:          price,
		CompareAtPrice: compareAt,
		Available:      available,
	}
	if p.Handle != "" {
		l.URL = baseURL + "/products/" + p.Handle
	}
	if len(p.Images) > 0 {
		l.ImageURL = p.Images[0].Src
	}
	return l, nil
}

func parsePrice(s string) (float64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, eris.New("empty price")
	}
	p, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Errorf("bad price %q", s)
	}
	return p, nil
}
