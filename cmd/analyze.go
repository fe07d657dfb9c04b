package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/diet-analysis/internal/model"
	"github.com/sells-group/diet-analysis/internal/pipeline"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a health report against an ingredient label",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		reportPath, _ := cmd.Flags().GetString("report")
		labelPath, _ := cmd.Flags().GetString("label")
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}

		report, err := os.Open(reportPath)
		if err != nil {
			return eris.Wrap(err, "open report")
		}
		defer report.Close() //nolint:errcheck
		label, err := os.Open(labelPath)
		if err != nil {
			return eris.Wrap(err, "open label")
		}
		defer label.Close() //nolint:errcheck

		env, err := initAnalysis(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Run(ctx, report, label)
		if err != nil && !eris.Is(err, pipeline.ErrNoIngredients) {
			return eris.Wrap(err, "analyze")
		}
		if err != nil {
			zap.L().Warn("no ingredients extracted", zap.String("label", labelPath))
			if werr := writeResult(cmd.OutOrStdout(), format, res); werr != nil {
				return werr
			}
			return err
		}
		return writeResult(cmd.OutOrStdout(), format, res)
	},
}

func checkFormat(format string) error {
	switch format {
	case "text", "json", "yaml":
		return nil
	default:
		return eris.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

// writeResult renders res in format.
func writeResult(w io.Writer, format string, res *model.Result) error {
	if res == nil {
		res = &model.Result{}
	}
	if format == "text" {
		fmt.Fprintf(w, "Ingredients: %s\n\n", res.Ingredients.Joined())
		fmt.Fprintln(w, res.Analysis)
		return nil
	}
	return encodeValue(w, format, res)
}

func init() {
	analyzeCmd.Flags().String("report", "", "health report file (png, jpeg or pdf)")
	analyzeCmd.Flags().String("label", "", "ingredient label file (png, jpeg or pdf)")
	analyzeCmd.Flags().String("format", "text", "output format: text, json or yaml")
	_ = analyzeCmd.MarkFlagRequired("report")
	_ = analyzeCmd.MarkFlagRequired("label")
	rootCmd.AddCommand(analyzeCmd)
}
