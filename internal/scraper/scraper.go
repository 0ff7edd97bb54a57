// Package scraper collects competitor catalogs over HTTP. Each competitor
// declares a strategy (collection pages, explicit URL patterns, or search
// terms) and the scraper normalizes everything into RawListing values for
// ingestion.
package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pricewatch/internal/config"
	"github.com/sells-group/pricewatch/internal/model"
	"github.com/sells-group/pricewatch/internal/store"
)

// Scraper runs catalog collection for one or more competitors.
type Scraper struct {
	client *Client
	store  store.Store
	cfg    config.ScrapeConfig
}

// Result summarizes one competitor's run.
type Result struct {
	Competitor  string
	Job         model.ScrapeJob
	Listings    []model.RawListing
	Excluded    int
	ParseErrors []string
	// Warnings report sources that yielded listings but cut off early,
	// such as a paginated endpoint failing after its first page.
	Warnings    []string
}

// New builds a Scraper over the given store.
func New(client *Client, st store.Store, cfg config.ScrapeConfig) *Scraper {
	return &Scraper{client: client, store: st, cfg: cfg}
}

// Run scrapes all given competitors concurrently, one worker per competitor,
// bounded by MaxConcurrent. A competitor failure does not abort the others.
func (s *Scraper) Run(ctx context.Context, competitors []model.Competitor) ([]Result, error) {
	results := make([]Result, len(competitors))

	g, ctx := errgroup.WithContext(ctx)
	limit := s.cfg.MaxConcurrent
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)

	for i, c := range competitors {
		g.Go(func() error {
			res, err := s.RunOne(ctx, c)
			if err != nil {
				zap.L().Error("competitor scrape failed",
					zap.String("competitor", c.Name), zap.Error(err))
			}
			results[i] = res
			// Only context cancellation stops the whole batch.
			return ctx.Err()
		})
	}
	err := g.Wait()
	return results, eris.Wrap(err, "scraper: run")
}

// RunOne scrapes a single competitor through the pending/running/completed
// job lifecycle. Listings are returned for ingestion; the job row records
// counts and the failure cause if any.
func (s *Scraper) RunOne(ctx context.Context, c model.Competitor) (Result, error) {
	job, err := s.store.CreateScrapeJob(ctx, c.ID)
	if err != nil {
		return Result{Competitor: c.Name}, err
	}

	job.Status = model.JobRunning
	if err := s.store.UpdateScrapeJob(ctx, job); err != nil {
		return Result{Competitor: c.Name, Job: job}, err
	}

	listings, parseErrors, warnings, err := s.collect(ctx, c)
	now := time.Now().UTC()
	job.CompletedAt = &now
	job.ParseErrors = len(parseErrors)

	if err != nil {
		job.Status = model.JobFailed
		job.Error = err.Error()
		if uerr := s.store.UpdateScrapeJob(ctx, job); uerr != nil {
			zap.L().Warn("failed to record job failure", zap.String("job", job.ID), zap.Error(uerr))
		}
		return Result{Competitor: c.Name, Job: job, ParseErrors: parseErrors}, err
	}

	listings = dedupeListings(listings)
	kept, excluded := NewExcludeMatcher(c.ExcludePatterns).Filter(listings)

	job.Status = model.JobCompleted
	job.ProductsFound = len(kept)
	// A truncated source is still a completed job, but the cut-off lands on
	// the job row so operators can see a partial catalog.
	job.Error = strings.Join(warnings, "; ")
	if uerr := s.store.UpdateScrapeJob(ctx, job); uerr != nil {
		zap.L().Warn("failed to record job completion", zap.String("job", job.ID), zap.Error(uerr))
	}

	zap.L().Info("scrape completed",
		zap.String("competitor", c.Name),
		zap.Int("listings", len(kept)),
		zap.Int("excluded", excluded),
		zap.Int("parse_errors", len(parseErrors)),
		zap.Int("warnings", len(warnings)))

	return Result{
		Competitor:  c.Name,
		Job:         job,
		Listings:    kept,
		Excluded:    excluded,
		ParseErrors: parseErrors,
		Warnings:    warnings,
	}, nil
}

func (s *Scraper) collect(ctx context.Context, c model.Competitor) ([]model.RawListing, []string, []string, error) {
	switch c.Strategy {
	case model.StrategyCollection:
		return s.collectByCollections(ctx, c, c.Collections)
	case model.StrategyURLPattern:
		return s.collectByURLs(ctx, c)
	case model.StrategySearchTerm:
		return s.collectBySearch(ctx, c)
	default:
		return nil, nil, nil, eris.Errorf("scraper: competitor %s has unknown strategy %q", c.Name, c.Strategy)
	}
}

// errFirstPageFailed marks a paginated endpoint that failed before its first
// page returned, so it never proved itself as a structured source.
var errFirstPageFailed = eris.New("scraper: first page failed")

// collectByCollections pages through each collection's products.json. Only a
// first-page failure sends the collection to HTML scraping; a later-page
// failure keeps the pages already gathered and reports the cut-off as a
// warning so the job row records it.
func (s *Scraper) collectByCollections(ctx context.Context, c model.Competitor, collections []string) ([]model.RawListing, []string, []string, error) {
	base := baseURLFor(c)
	var all []model.RawListing
	var parseErrors, warnings []string
	failed := 0

	for _, coll := range collections {
		listings, perrs, err := s.pageCollection(ctx, c, base, coll)
		parseErrors = append(parseErrors, perrs...)
		all = append(all, listings...)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return all, parseErrors, warnings, err
		}
		if !eris.Is(err, errFirstPageFailed) {
			warnings = append(warnings, err.Error())
			continue
		}
		zap.L().Warn("collection endpoint failed, trying html",
			zap.String("competitor", c.Name), zap.String("collection", coll), zap.Error(err))
		listings, err = s.collectHTML(ctx, c, base+"/collections/"+coll)
		if err != nil {
			failed++
			parseErrors = append(parseErrors, fmt.Sprintf("collection %s: %v", coll, err))
			continue
		}
		all = append(all, listings...)
	}

	if failed == len(collections) && len(collections) > 0 {
		return nil, parseErrors, warnings, eris.Errorf("scraper: all %d collections failed for %s", failed, c.Name)
	}
	return all, parseErrors, warnings, nil
}

// pageCollection walks the paginated endpoint. The effective page size is
// detected from the first page's actual count because some storefronts clamp
// the requested limit; paging stops on a short page or at MaxPages.
func (s *Scraper) pageCollection(ctx context.Context, c model.Competitor, base, collection string) ([]model.RawListing, []string, error) {
	maxPages := s.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 50
	}
	requested := s.cfg.PageSize
	if requested <= 0 {
		requested = 250
	}

	var all []model.RawListing
	var parseErrors []string
	detectedSize := 0

	for page := 1; page <= maxPages; page++ {
		url := fmt.Sprintf("%s/collections/%s/products.json?limit=%d&page=%d", base, collection, requested, page)
		var pp productsPage
		if err := s.client.GetJSON(ctx, c.Name, c.RateLimit(), url, &pp); err != nil {
			if ctx.Err() != nil {
				return all, parseErrors, err
			}
			if page == 1 {
				return nil, parseErrors, eris.Wrapf(errFirstPageFailed, "%s collection %s: %v", c.Name, collection, err)
			}
			return all, parseErrors, eris.Wrapf(err, "scraper: %s collection %s truncated at page %d", c.Name, collection, page)
		}

		for _, p := range pp.Products {
			l, err := toListing(p, base)
			if err != nil {
				parseErrors = append(parseErrors, err.Error())
				continue
			}
			all = append(all, l)
		}

		if page == 1 {
			detectedSize = len(pp.Products)
		}
		if len(pp.Products) == 0 || len(pp.Products) < detectedSize {
			break
		}
	}
	return all, parseErrors, nil
}

// collectByURLs treats each configured pattern as a direct page to scrape:
// product JSON endpoints when the pattern names one, HTML otherwise.
func (s *Scraper) collectByURLs(ctx context.Context, c model.Competitor) ([]model.RawListing, []string, []string, error) {
	base := baseURLFor(c)
	var all []model.RawListing
	var parseErrors, warnings []string
	failed := 0

	for _, pattern := range c.URLPatterns {
		url := pattern
		if !strings.HasPrefix(url, "http") {
			url = base + "/" + strings.TrimPrefix(url, "/")
		}
		if strings.Contains(url, "/collections/") && !strings.HasSuffix(url, ".json") {
			name := collectionFromURL(url)
			listings, perrs, err := s.pageCollection(ctx, c, base, name)
			parseErrors = append(parseErrors, perrs...)
			all = append(all, listings...)
			if err != nil {
				if ctx.Err() != nil {
					return all, parseErrors, warnings, err
				}
				if !eris.Is(err, errFirstPageFailed) {
					warnings = append(warnings, err.Error())
					continue
				}
				failed++
				parseErrors = append(parseErrors, fmt.Sprintf("url %s: %v", url, err))
			}
			continue
		}

		listings, err := s.collectHTML(ctx, c, url)
		if err != nil {
			failed++
			parseErrors = append(parseErrors, fmt.Sprintf("url %s: %v", url, err))
			continue
		}
		all = append(all, listings...)
	}

	if failed == len(c.URLPatterns) && len(c.URLPatterns) > 0 {
		return nil, parseErrors, warnings, eris.Errorf("scraper: all %d urls failed for %s", failed, c.Name)
	}
	return all, parseErrors, warnings, nil
}

// collectBySearch asks the storefront suggest endpoint for each term, then
// fetches each suggested product's canonical JSON. Collections guessed from
// the terms are tried only when every suggest call returns nothing.
func (s *Scraper) collectBySearch(ctx context.Context, c model.Competitor) ([]model.RawListing, []string, []string, error) {
	base := baseURLFor(c)
	var all []model.RawListing
	var parseErrors []string
	handles := map[string]bool{}

	for _, term := range c.SearchTerms {
		url := fmt.Sprintf("%s/search/suggest.json?q=%s&resources[type]=product", base, strings.ReplaceAll(term, " ", "+"))
		var sr suggestResponse
		if err := s.client.GetJSON(ctx, c.Name, c.RateLimit(), url, &sr); err != nil {
			if ctx.Err() != nil {
				return all, parseErrors, nil, err
			}
			parseErrors = append(parseErrors, fmt.Sprintf("search %q: %v", term, err))
			continue
		}
		for _, p := range sr.Resources.Results.Products {
			if p.Handle != "" {
				handles[p.Handle] = true
			}
		}
	}

	if len(handles) == 0 {
		zap.L().Info("search returned nothing, guessing collections",
			zap.String("competitor", c.Name), zap.Strings("terms", c.SearchTerms))
		return s.collectByCollections(ctx, c, guessCollections(c.SearchTerms))
	}

	for handle := range handles {
		var sp singleProduct
		url := base + "/products/" + handle + ".json"
		if err := s.client.GetJSON(ctx, c.Name, c.RateLimit(), url, &sp); err != nil {
			if ctx.Err() != nil {
				return all, parseErrors, nil, err
			}
			parseErrors = append(parseErrors, fmt.Sprintf("product %s: %v", handle, err))
			continue
		}
		l, err := toListing(sp.Product, base)
		if err != nil {
			parseErrors = append(parseErrors, err.Error())
			continue
		}
		all = append(all, l)
	}
	return all, parseErrors, nil, nil
}

func (s *Scraper) collectHTML(ctx context.Context, c model.Competitor, url string) ([]model.RawListing, error) {
	body, err := s.client.Get(ctx, c.Name, c.RateLimit(), url)
	if err != nil {
		return nil, err
	}
	listings, err := parseListingsHTML(body, baseURLFor(c))
	if err != nil {
		return nil, eris.Wrapf(err, "scraper: parse html %s", url)
	}
	if len(listings) == 0 {
		return nil, eris.Errorf("scraper: no product cards found at %s", url)
	}
	return listings, nil
}

// dedupeListings collapses duplicates by external id, keeping the first.
func dedupeListings(listings []model.RawListing) []model.RawListing {
	seen := make(map[string]bool, len(listings))
	out := listings[:0]
	for _, l := range listings {
		if l.ExternalID == "" || seen[l.ExternalID] {
			continue
		}
		seen[l.ExternalID] = true
		out = append(out, l)
	}
	return out
}

// guessCollections derives plausible collection handles from search terms.
func guessCollections(terms []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range terms {
		h := strings.ToLower(strings.TrimSpace(t))
		h = strings.ReplaceAll(h, " ", "-")
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
		if !strings.HasSuffix(h, "s") {
			out = append(out, h+"s")
			seen[h+"s"] = true
		}
	}
	return out
}

func collectionFromURL(url string) string {
	parts := strings.Split(url, "/collections/")
	name := parts[len(parts)-1]
	if i := strings.IndexAny(name, "/?"); i >= 0 {
		name = name[:i]
	}
	return name
}

func baseURLFor(c model.Competitor) string {
	d := strings.TrimRight(c.Domain, "/")
	if strings.HasPrefix(d, "http://") || strings.HasPrefix(d, "https://") {
		return d
	}
	return "https://" + d
}
