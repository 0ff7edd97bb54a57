package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pricewatch/internal/ingest"
	"github.com/sells-group/pricewatch/internal/model"
	"github.com/sells-group/pricewatch/internal/scraper"
	"github.com/sells-group/pricewatch/internal/store"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape [competitor...]",
	Short: "Scrape competitor catalogs and ingest listings",
	Long:  "Scrapes each active competitor (or only the named ones), then upserts the listings and their price history. Competitors run concurrently; one failing competitor does not abort the rest.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		brands, _ := cmd.Flags().GetStringSlice("brands")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		competitors, err := selectCompetitors(cmd, st, args)
		if err != nil {
			return err
		}
		if len(competitors) == 0 {
			fmt.Fprintln(os.Stderr, "No active competitors configured.")
			return nil
		}

		sc := scraper.New(scraper.NewClient(cfg.Scrape, cfg.Retry), st, cfg.Scrape)
		results, err := sc.Run(ctx, competitors)
		if err != nil {
			return eris.Wrap(err, "scrape")
		}

		in := ingest.New(st)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "COMPETITOR\tSTATUS\tLISTINGS\tCREATED\tUPDATED\tPRICE CHANGES\tERRORS")
		for _, r := range results {
			if r.Job.Status != model.JobCompleted {
				fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\t%s\n", r.Competitor, r.Job.Status, r.Job.Error)
				continue
			}
			listings := filterByVendor(r.Listings, brands)
			ir, err := in.Run(ctx, r.Job.CompetitorID, listings, dryRun)
			if err != nil {
				return eris.Wrapf(err, "ingest %s", r.Competitor)
			}
			job := r.Job
			job.ProductsCreated = ir.Created
			job.ProductsUpdated = ir.Updated
			if !dryRun {
				if err := st.UpdateScrapeJob(ctx, job); err != nil {
					zap.L().Warn("failed to record ingest counts", zap.String("job", job.ID), zap.Error(err))
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
				r.Competitor, job.Status, len(listings), ir.Created, ir.Updated,
				ir.PriceChanges, len(r.ParseErrors)+len(ir.Errors))
		}
		return w.Flush()
	},
}

// selectCompetitors resolves positional names, defaulting to all active ones.
func selectCompetitors(cmd *cobra.Command, st store.Store, names []string) ([]model.Competitor, error) {
	ctx := cmd.Context()
	if len(names) == 0 {
		return st.ListCompetitors(ctx, true)
	}
	out := make([]model.Competitor, 0, len(names))
	for _, name := range names {
		c, err := st.GetCompetitorByName(ctx, name)
		if err != nil {
			return nil, eris.Wrapf(err, "competitor %q", name)
		}
		out = append(out, *c)
	}
	return out, nil
}

// filterByVendor keeps only listings from the given vendors; empty keeps all.
func filterByVendor(listings []model.RawListing, brands []string) []model.RawListing {
	if len(brands) == 0 {
		return listings
	}
	wanted := make(map[string]bool, len(brands))
	for _, b := range brands {
		wanted[strings.ToLower(strings.TrimSpace(b))] = true
	}
	out := make([]model.RawListing, 0, len(listings))
	for _, l := range listings {
		if wanted[strings.ToLower(l.Vendor)] {
			out = append(out, l)
		}
	}
	return out
}

func init() {
	scrapeCmd.Flags().Bool("dry-run", false, "scrape without persisting listings")
	scrapeCmd.Flags().StringSlice("brands", nil, "ingest only listings from these vendors")
	rootCmd.AddCommand(scrapeCmd)
}
