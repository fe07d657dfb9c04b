package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/diet-analysis/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "diet-analysis",
	Short: "Dietary suitability analysis from health reports and ingredient labels",
	Long: `Reads a medical report and a food label (png, jpeg or pdf), asks Claude to
extract a health record and the ordered ingredient list, then asks for a
dietician-style verdict on whether the food suits that patient.

Analyses are cached by content hash for cache.ttl_secs. The serve command
exposes the same flow over HTTP and keeps a per-user history in sqlite or
postgres. Configuration comes from config.yaml and DIET_* environment
variables (for example DIET_ANTHROPIC_KEY).`,
	Example: `  # Analyze a lab report against a snack label
  diet-analysis analyze --report labs.pdf --label granola.jpg

  # Only pull the ingredient list, as yaml
  diet-analysis extract ingredients granola.jpg --format yaml

  # Run the HTTP API on port 8080
  diet-analysis migrate && diet-analysis serve --port 8080

  # Show a user's recent analyses
  diet-analysis history --uid 42 --limit 5`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := config.InitLogger(c.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		cfg = c

		zap.L().Debug("config loaded",
			zap.String("command", cmd.Name()),
			zap.String("extract_model", c.Anthropic.ExtractModel),
			zap.Bool("cache", c.Cache.Enabled),
		)
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
