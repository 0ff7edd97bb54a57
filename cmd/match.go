package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pricewatch/internal/matcher"
	"github.com/sells-group/pricewatch/internal/model"
	"github.com/sells-group/pricewatch/internal/similarity"
	"github.com/sells-group/pricewatch/internal/store"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Manage product matches",
	Long:  "Commands for running the incremental matcher and for creating, verifying, and rejecting matches by hand.",
}

var matchRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one incremental matching pass",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		brands, _ := cmd.Flags().GetStringSlice("brands")
		minConfidence, _ := cmd.Flags().GetString("min-confidence")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		forceRematch, _ := cmd.Flags().GetBool("force-rematch")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m := newMatcher(st)
		res, err := m.Run(ctx, matcher.Options{
			Brands:        brands,
			MinConfidence: model.Confidence(minConfidence),
			DryRun:        dryRun,
			ForceRematch:  forceRematch,
		})
		if err != nil {
			return eris.Wrap(err, "match run")
		}

		verb := "created"
		if dryRun {
			verb = "would create"
		}
		fmt.Printf("%d products scanned, %d candidates scored\n", res.ProductsScanned, res.CandidatesScored)
		fmt.Printf("%s %d matches (%d existing, %d rejected, %d below confidence)\n",
			verb, res.Created, res.SkippedExisting, res.SkippedRejected, res.BelowConfidence)
		for _, e := range res.Errors {
			fmt.Fprintln(os.Stderr, "error:", e)
		}
		return nil
	},
}

var matchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List product matches",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		matches, err := st.ListMatches(ctx)
		if err != nil {
			return eris.Wrap(err, "match list")
		}
		if len(matches) == 0 {
			fmt.Fprintln(os.Stderr, "No matches found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPRODUCT\tCOMPETITOR PRODUCT\tSCORE\tCONFIDENCE\tMANUAL\tVIOLATION")
		for _, m := range matches {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%s\t%v\t%v\n",
				m.ID, m.ProductID, m.CompetitorProductID, m.Score, m.Confidence, m.IsManual, m.IsViolation)
		}
		return w.Flush()
	},
}

var matchCreateCmd = &cobra.Command{
	Use:   "create <product-id> <competitor-product-id>",
	Short: "Create a manual match",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		perfect, _ := cmd.Flags().GetBool("perfect")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m := newMatcher(st)
		var match model.ProductMatch
		if perfect {
			match, err = m.CreatePerfect(ctx, args[0], args[1])
		} else {
			match, err = m.CreateManual(ctx, args[0], args[1])
		}
		if err != nil {
			return eris.Wrap(err, "match create")
		}
		fmt.Printf("created manual match (score %.3f, confidence %s)\n", match.Score, match.Confidence)
		return nil
	},
}

var matchVerifyCmd = &cobra.Command{
	Use:   "verify <match-id>",
	Short: "Promote an automatic match to a confirmed manual one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := newMatcher(st).Verify(ctx, args[0]); err != nil {
			return eris.Wrap(err, "match verify")
		}
		fmt.Println("match verified")
		return nil
	},
}

var matchRejectCmd = &cobra.Command{
	Use:   "reject <match-id>",
	Short: "Reject a match and blacklist its pair permanently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reason, _ := cmd.Flags().GetString("reason")
		by, _ := cmd.Flags().GetString("by")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := newMatcher(st).Reject(ctx, args[0], reason, by); err != nil {
			return eris.Wrap(err, "match reject")
		}
		fmt.Println("match rejected; pair will never be auto-matched again")
		return nil
	},
}

func newMatcher(st store.Store) *matcher.Matcher {
	return matcher.New(st, similarity.NewScorer(cfg.Match.Weights), cfg.Match)
}

func init() {
	matchRunCmd.Flags().StringSlice("brands", nil, "restrict to these internal vendors")
	matchRunCmd.Flags().String("min-confidence", "", "lowest confidence tier to persist (default from config)")
	matchRunCmd.Flags().Bool("dry-run", false, "compute matches without persisting")
	matchRunCmd.Flags().Bool("force-rematch", false, "re-score pairs that already have an automatic match")
	matchCreateCmd.Flags().Bool("perfect", false, "force every factor to 1.0 instead of scoring")
	matchRejectCmd.Flags().String("reason", "", "why the pair is wrong")
	matchRejectCmd.Flags().String("by", "", "who rejected the pair")

	matchCmd.AddCommand(matchRunCmd, matchListCmd, matchCreateCmd, matchVerifyCmd, matchRejectCmd)
	rootCmd.AddCommand(matchCmd)
}
