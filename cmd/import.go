package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrollment-insight/internal/ingest"
)

var (
	importCSVPath   string
	importKind      string
	importStrict    bool
	importBatchSize int
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load an enrollment, biometric or demographic CSV export into the record store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		kind, err := ingest.ParseKind(importKind)
		if err != nil {
			return err
		}
		if err := cfg.Validate("import"); err != nil {
			return err
		}

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrap(err, "import csv")
		}
		defer f.Close() //nolint:errcheck

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := ingest.Load(ctx, st, kind, f, ingest.Options{
			BatchSize: importBatchSize,
			Strict:    importStrict,
		})
		if err != nil {
			return eris.Wrap(err, "import csv")
		}

		zap.L().Info("import complete",
			zap.String("kind", string(stats.Kind)),
			zap.Int64("rows", stats.Rows),
			zap.Int64("inserted", stats.Inserted),
			zap.Int64("skipped", stats.Skipped),
			zap.Duration("duration", stats.Duration),
			zap.String("csv", importCSVPath),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	importCmd.Flags().StringVar(&importKind, "kind", "", "export kind: enrollment, biometric or demographic (required)")
	importCmd.Flags().BoolVar(&importStrict, "strict", false, "fail on the first malformed row instead of skipping it")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 5000, "rows per insert")
	_ = importCmd.MarkFlagRequired("csv")
	_ = importCmd.MarkFlagRequired("kind")
	rootCmd.AddCommand(importCmd)
}
