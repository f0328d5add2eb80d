package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/churnlens/internal/churn"
	"github.com/KaramelBytes/churnlens/internal/session"
	"github.com/KaramelBytes/churnlens/internal/utils"
)

var (
	explModelPath string
	explIndices   []int
	explJSON      bool
)

var explainCmd = &cobra.Command{
	Use:   "explain <file>",
	Short: "Explain the predictions for selected customers",
	Example: `  churnlens explain customers.csv --index 3
  churnlens explain customers.csv --index 0,4,9 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, up, err := openSession(cmd.Context(), args[0], explModelPath)
		if err != nil {
			return err
		}
		var results []*churn.ExplainResult
		if len(explIndices) == 1 {
			r, err := svc.Explain(cmd.Context(), explIndices[0])
			if err != nil {
				return err
			}
			results = append(results, r)
		} else {
			results, err = svc.ExplainMany(cmd.Context(), explIndices)
			if err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		if explJSON {
			list := make([]*session.Explanation, len(results))
			for i, r := range results {
				list[i] = r.Explanation
			}
			b, err := utils.PrettyJSON(list)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(b))
			return nil
		}
		for k, r := range results {
			e := r.Explanation
			rec := &up.Session.Records[e.Index]
			if k > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "Customer #%d  %s  %.2f%% (%s)\n", e.Index, recordKey(rec), e.ChurnProbability, rec.Prediction.Label)
			if len(e.Attributions) == 0 {
				fmt.Fprintln(out, "  ⚠ no feature attributions could be computed")
			}
			for _, a := range e.Attributions {
				fmt.Fprintf(out, "  %+.4f  %s\n", a.Weight, a.Feature)
			}
			if e.NarrativeFailed {
				fmt.Fprintln(out, "  ⚠ narrative unavailable")
			}
			fmt.Fprintf(out, "\n%s\n", e.Narrative)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(explainCmd)
	explainCmd.Flags().StringVar(&explModelPath, "model", "", "model artifact (.yaml/.json), overrides model_path")
	explainCmd.Flags().IntSliceVarP(&explIndices, "index", "i", []int{0}, "customer row index (repeatable or comma separated)")
	explainCmd.Flags().BoolVar(&explJSON, "json", false, "print explanations as JSON")
}
