package cmd

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/churnlens/internal/session"
	"github.com/KaramelBytes/churnlens/internal/table"
	"github.com/KaramelBytes/churnlens/internal/utils"
)

var (
	predModelPath string
	predOutput    string
	predFormat    string
	predTop       int
)

var predictCmd = &cobra.Command{
	Use:   "predict <file>",
	Short: "Score a customer table and print the riskiest customers",
	Example: `  churnlens predict customers.csv
  churnlens predict customers.xlsx --model models/churn.yaml --output scored.xlsx`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, up, err := openSession(cmd.Context(), args[0], predModelPath)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		sess := up.Session
		sum := sess.Summary
		fmt.Fprintf(out, "✓ Scored %d customers in %.2fs\n", sum.Total, up.TotalTime.Seconds())
		fmt.Fprintf(out, "  High risk: %d (%.2f%%)  Low risk: %d\n", sum.HighRiskCount, sum.HighRiskPercentage, sum.LowRiskCount)
		fmt.Fprintf(out, "  Average churn probability: %.2f%%\n", sum.AvgProbability)
		if len(sess.Dropped) > 0 {
			fmt.Fprintf(out, "⚠ Dropped columns: %s\n", strings.Join(sess.Dropped, ", "))
		}

		if predTop > 0 {
			printTopRisk(cmd, sess, predTop)
		}

		if predOutput == "" {
			return nil
		}
		format := predFormat
		if format == "" {
			format = strings.TrimPrefix(strings.ToLower(filepath.Ext(predOutput)), ".")
		}
		var buf bytes.Buffer
		if err := svc.ExportSession(&buf, format, nil); err != nil {
			return err
		}
		if err := utils.SafeWriteFile(predOutput, buf.Bytes()); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Fprintf(out, "✓ Wrote predictions to %s\n", predOutput)
		return nil
	},
}

// printTopRisk lists the n records with the highest churn probability.
func printTopRisk(cmd *cobra.Command, sess *session.Session, n int) {
	order := make([]int, sess.Rows())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sess.Records[order[a]].Prediction.Probability > sess.Records[order[b]].Prediction.Probability
	})
	if n > len(order) {
		n = len(order)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nTop %d by churn probability:\n", n)
	for _, i := range order[:n] {
		rec := &sess.Records[i]
		fmt.Fprintf(out, "  #%-5d %6.2f%%  %-9s  %s\n", i, rec.Prediction.Probability, rec.Prediction.Label, recordKey(rec))
	}
}

// recordKey shows the first original column, usually an identifier.
func recordKey(rec *session.Record) string {
	if len(rec.Values) == 0 {
		return ""
	}
	c := rec.Values[0]
	if c.Null {
		return "-"
	}
	return fmt.Sprintf("%s=%s", rec.Columns[0], c.Raw)
}

func init() {
	rootCmd.AddCommand(predictCmd)
	predictCmd.Flags().StringVar(&predModelPath, "model", "", "model artifact (.yaml/.json), overrides model_path")
	predictCmd.Flags().StringVarP(&predOutput, "output", "o", "", "write scored records to this .csv or .xlsx file")
	predictCmd.Flags().StringVar(&predFormat, "format", "", "output format: "+table.FormatCSV+" or "+table.FormatXLSX+" (default from --output extension)")
	predictCmd.Flags().IntVar(&predTop, "top", 10, "print the N highest-risk customers (0 to disable)")
}
