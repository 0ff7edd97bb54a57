package scraper

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/sells-group/pricewatch/internal/model"
)

var priceRe = regexp.MustCompile(`\$\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)

// skip these subtrees entirely when walking the document
var skippedTags = map[string]bool{
	"script": true,
	"style":  true,
	"nav":    true,
	"footer": true,
	"header": true,
}

// parseListingsHTML extracts product listings from conventional storefront
// markup. A product card is any element whose class mentions "product" and
// that contains a product link, a title, and a dollar price. Used only when
// the structured endpoint fails on its first page.
func parseListingsHTML(body []byte, baseURL string) ([]model.RawListing, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var out []model.RawListing
	seen := map[string]bool{}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skippedTags[n.Data] {
				return
			}
			if isProductCard(n) {
				if l, ok := cardToListing(n, baseURL); ok && !seen[l.ExternalID] {
					seen[l.ExternalID] = true
					out = append(out, l)
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, nil
}

func isProductCard(n *html.Node) bool {
	class := strings.ToLower(attr(n, "class"))
	return strings.Contains(class, "product") && !strings.Contains(class, "products")
}

func cardToListing(card *html.Node, baseURL string) (model.RawListing, bool) {
	href := findProductLink(card)
	if href == "" {
		return model.RawListing{}, false
	}

	text := nodeText(card)
	m := priceRe.FindStringSubmatch(text)
	if m == nil {
		return model.RawListing{}, false
	}
	price, err := parsePrice(m[1])
	if err != nil || price <= 0 {
		return model.RawListing{}, false
	}

	title := findTitle(card)
	if title == "" {
		return model.RawListing{}, false
	}

	handle := handleFromPath(href)
	return model.RawListing{
		ExternalID: handle,
		Title:      title,
		Price:      price,
		Available:  !strings.Contains(strings.ToLower(text), "sold out"),
		URL:        resolveURL(baseURL, href),
	}, true
}

// findProductLink returns the first href under the card pointing at a
// product page.
func findProductLink(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "a" {
		href := attr(n, "href")
		if strings.Contains(href, "/products/") {
			return href
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if href := findProductLink(c); href != "" {
			return href
		}
	}
	return ""
}

// findTitle prefers heading text, then the product link text.
func findTitle(card *html.Node) string {
	var heading, link string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h1", "h2", "h3", "h4":
				if heading == "" {
					heading = strings.TrimSpace(nodeText(n))
				}
			case "a":
				if link == "" && strings.Contains(attr(n, "href"), "/products/") {
					link = strings.TrimSpace(nodeText(n))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(card)
	if heading != "" {
		return heading
	}
	return link
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		if n.Type == html.ElementNode && skippedTags[n.Data] {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// handleFromPath extracts the product handle from a /products/<handle> path.
func handleFromPath(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "products" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return u.Path
}

func resolveURL(baseURL, href string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
