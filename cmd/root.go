package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrollment-insight/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "insight",
	Short: "Enrollment and update analytics over batch-loaded registry exports",
	Long:  "Loads enrollment, biometric and demographic update exports into a record store and serves analytical metrics, anomaly detectors, clusters, trends and map data over HTTP.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
