package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrollment-insight/internal/model"
	"github.com/sells-group/enrollment-insight/internal/store"
)

var (
	statusLevel string
	statusFrom  string
	statusTo    string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show enrollment totals per state, district or pincode",
	Long:  "Sums enrollments in the record store grouped at the requested level, optionally restricted to a date range.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		level, err := model.ParseLevel(statusLevel, model.LevelState)
		if err != nil {
			return err
		}
		dates, err := model.ParseDateRange(statusFrom, statusTo)
		if err != nil {
			return err
		}
		if err := cfg.Validate("status"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		totals, err := st.TotalsByLevel(ctx, level, dates)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if len(totals) == 0 {
			zap.L().Info("no enrollments found, run 'import' to load an export")
			return nil
		}

		formatTotals(os.Stdout, totals)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusLevel, "level", "state", "grouping level: state, district or pincode")
	statusCmd.Flags().StringVar(&statusFrom, "from", "", "first day included (YYYY-MM-DD)")
	statusCmd.Flags().StringVar(&statusTo, "to", "", "last day included (YYYY-MM-DD)")
	rootCmd.AddCommand(statusCmd)
}

// formatTotals writes a tabular representation of grouped totals to out.
func formatTotals(out io.Writer, totals []store.GroupTotal) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STATE\tDISTRICT\tPINCODE\tENROLLED\tRECORDS")
	_, _ = fmt.Fprintln(w, "-----\t--------\t-------\t--------\t-------")

	var enrolled, records int64
	for _, t := range totals {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
			t.Key.State,
			dash(t.Key.District),
			dash(t.Key.Pincode),
			t.Enrolled,
			t.Records,
		)
		enrolled += t.Enrolled
		records += t.Records
	}
	_, _ = fmt.Fprintf(w, "TOTAL\t\t\t%d\t%d\n", enrolled, records)
	_ = w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
