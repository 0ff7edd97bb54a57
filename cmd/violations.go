package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pricewatch/internal/model"
	"github.com/sells-group/pricewatch/internal/violation"
)

var violationsCmd = &cobra.Command{
	Use:   "violations",
	Short: "Detect and inspect MAP violations",
}

var violationsScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan every match for prices advertised below the reference price",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		brands, _ := cmd.Flags().GetStringSlice("brands")
		severities, _ := cmd.Flags().GetStringSlice("severity")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		noHistory, _ := cmd.Flags().GetBool("no-history")

		filter := make([]model.Severity, 0, len(severities))
		for _, s := range severities {
			sev := model.Severity(s)
			if !sev.Valid() {
				return eris.Errorf("unknown severity %q", s)
			}
			filter = append(filter, sev)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		det := violation.New(st, violation.NewAlerter(st, cfg.Alert), cfg.Violation)
		res, err := det.Scan(ctx, violation.Options{
			Brands:         brands,
			SeverityFilter: filter,
			DryRun:         dryRun,
			RecordHistory:  !noHistory,
		})
		if err != nil {
			return eris.Wrap(err, "violations scan")
		}

		fmt.Printf("%d matches scanned: %d violations (%d new, %d price changes), %d auto-resolved, %d missing prices\n",
			res.Scanned, res.Violations, res.New, res.PriceChanged, res.AutoResolved, res.MissingPrices)
		if len(res.Findings) > 0 {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PRODUCT\tCOMPETITOR\tREFERENCE\tADVERTISED\tUNDER BY\tSEVERITY\tNEW")
			for _, f := range res.Findings {
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.1f%%\t%s\t%v\n",
					f.ProductTitle, f.CompetitorName, f.ReferencePrice, f.CompetitorPrice,
					f.Percent*100, f.Severity, f.New)
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
		for _, e := range res.Errors {
			fmt.Fprintln(os.Stderr, "error:", e)
		}
		return nil
	},
}

var violationsHistoryCmd = &cobra.Command{
	Use:   "history <match-id>",
	Short: "Show the violation history of one match",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		history, err := st.ListViolationHistory(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "violations history")
		}
		if len(history) == 0 {
			fmt.Fprintln(os.Stderr, "No history for this match.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DETECTED\tTYPE\tSEVERITY\tADVERTISED\tREFERENCE\tPREVIOUS")
		for _, h := range history {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%.2f\n",
				h.DetectedAt.Format("2006-01-02 15:04"), h.Type, h.Severity,
				h.CompetitorPrice, h.ReferencePrice, h.PreviousPrice)
		}
		return w.Flush()
	},
}

func init() {
	violationsScanCmd.Flags().StringSlice("brands", nil, "restrict to these internal vendors")
	violationsScanCmd.Flags().StringSlice("severity", nil, "report only these severities (minor, moderate, severe)")
	violationsScanCmd.Flags().Bool("dry-run", false, "scan without persisting anything")
	violationsScanCmd.Flags().Bool("no-history", false, "report only, skip history and alert writes")

	violationsCmd.AddCommand(violationsScanCmd, violationsHistoryCmd)
	rootCmd.AddCommand(violationsCmd)
}
