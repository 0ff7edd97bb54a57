package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pricewatch/internal/model"
)

var competitorsCmd = &cobra.Command{
	Use:   "competitors",
	Short: "Manage competitor configuration",
}

var competitorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured competitors",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		all, _ := cmd.Flags().GetBool("all")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		competitors, err := st.ListCompetitors(ctx, !all)
		if err != nil {
			return eris.Wrap(err, "competitors list")
		}
		if len(competitors) == 0 {
			fmt.Fprintln(os.Stderr, "No competitors configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDOMAIN\tSTRATEGY\tRATE LIMIT\tACTIVE\tTARGETS")
		for _, c := range competitors {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\n",
				c.Name, c.Domain, c.Strategy, c.RateLimit(), c.Active, strings.Join(targetsOf(c), ", "))
		}
		return w.Flush()
	},
}

var competitorsAddCmd = &cobra.Command{
	Use:   "add <name> <domain>",
	Short: "Add a competitor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		strategy, _ := cmd.Flags().GetString("strategy")
		rateLimitMS, _ := cmd.Flags().GetInt("rate-limit-ms")
		collections, _ := cmd.Flags().GetStringSlice("collections")
		urls, _ := cmd.Flags().GetStringSlice("urls")
		terms, _ := cmd.Flags().GetStringSlice("search-terms")
		excludes, _ := cmd.Flags().GetStringSlice("exclude")

		c := model.Competitor{
			Name:            args[0],
			Domain:          args[1],
			Strategy:        model.ScrapeStrategy(strategy),
			RateLimitMS:     rateLimitMS,
			Collections:     collections,
			URLPatterns:     urls,
			SearchTerms:     terms,
			ExcludePatterns: excludes,
			Active:          true,
		}
		if !c.Strategy.Valid() {
			return eris.Errorf("unknown strategy %q", strategy)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		created, err := st.CreateCompetitor(ctx, c)
		if err != nil {
			return eris.Wrap(err, "competitors add")
		}
		fmt.Printf("added competitor %s (%s)\n", created.Name, created.ID)
		return nil
	},
}

func targetsOf(c model.Competitor) []string {
	switch c.Strategy {
	case model.StrategyCollection:
		return c.Collections
	case model.StrategyURLPattern:
		return c.URLPatterns
	case model.StrategySearchTerm:
		return c.SearchTerms
	}
	return nil
}

func init() {
	competitorsListCmd.Flags().Bool("all", false, "include inactive competitors")
	competitorsAddCmd.Flags().String("strategy", string(model.StrategyCollection), "scrape strategy (by-collection, by-url-pattern, by-search-term)")
	competitorsAddCmd.Flags().Int("rate-limit-ms", 0, "inter-request delay in milliseconds (default 2000)")
	competitorsAddCmd.Flags().StringSlice("collections", nil, "collection handles for by-collection")
	competitorsAddCmd.Flags().StringSlice("urls", nil, "url patterns for by-url-pattern")
	competitorsAddCmd.Flags().StringSlice("search-terms", nil, "terms for by-search-term")
	competitorsAddCmd.Flags().StringSlice("exclude", nil, "glob patterns to drop listings")

	competitorsCmd.AddCommand(competitorsListCmd, competitorsAddCmd)
	rootCmd.AddCommand(competitorsCmd)
}
