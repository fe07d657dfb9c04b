package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/diet-analysis/internal/model"
	"github.com/sells-group/diet-analysis/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent analyses for a user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		uid, _ := cmd.Flags().GetString("uid")
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.ListAnalyses(ctx, uid, limit)
		if err != nil {
			return eris.Wrap(err, "history")
		}

		if format != "table" {
			return encodeValue(cmd.OutOrStdout(), format, recs)
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No analyses found.")
			return nil
		}
		return printHistory(cmd.OutOrStdout(), recs)
	},
}

// printHistory writes recs as an aligned table, newest first.
func printHistory(w io.Writer, recs []model.AnalysisRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tINGREDIENTS\tANALYSIS")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			shortID(r.ID),
			r.CreatedAt.Local().Format(time.DateTime),
			truncate(r.Ingredients.Joined(), 40),
			truncate(firstLine(r.Analysis), 60),
		)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	historyCmd.Flags().String("uid", "", "user id")
	historyCmd.Flags().Int("limit", store.DefaultListLimit, "maximum analyses to show")
	historyCmd.Flags().String("format", "table", "output format: table, json or yaml")
	_ = historyCmd.MarkFlagRequired("uid")
	rootCmd.AddCommand(historyCmd)
}
