package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract structured data from a single document",
}

var extractHealthCmd = &cobra.Command{
	Use:   "health FILE",
	Short: "Extract the health record from a medical report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, env, err := openForExtract(cmd, args[0])
		if err != nil {
			return err
		}
		defer f.Close() //nolint:errcheck
		defer env.Close()

		rec := env.Extractor.ExtractHealthData(cmd.Context(), f)
		return writeValue(cmd, rec)
	},
}

var extractIngredientsCmd = &cobra.Command{
	Use:   "ingredients FILE",
	Short: "Extract the ingredient list from a product label",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, env, err := openForExtract(cmd, args[0])
		if err != nil {
			return err
		}
		defer f.Close() //nolint:errcheck
		defer env.Close()

		list := env.Extractor.ExtractIngredients(cmd.Context(), f)
		return writeValue(cmd, list)
	},
}

func openForExtract(cmd *cobra.Command, path string) (*os.File, *analysisEnv, error) {
	format, _ := cmd.Flags().GetString("format")
	if format != "json" && format != "yaml" {
		return nil, nil, eris.Errorf("unknown format %q (want json or yaml)", format)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "open %s", path)
	}
	env, err := initAnalysis(cmd.Context(), cfg, false)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return f, env, nil
}

func writeValue(cmd *cobra.Command, v any) error {
	format, _ := cmd.Flags().GetString("format")
	return encodeValue(cmd.OutOrStdout(), format, v)
}

func encodeValue(w io.Writer, format string, v any) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode json")
}

func init() {
	extractCmd.PersistentFlags().String("format", "json", "output format: json or yaml")
	extractCmd.AddCommand(extractHealthCmd, extractIngredientsCmd)
	rootCmd.AddCommand(extractCmd)
}
