package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/churnlens/internal/ai"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect the language model catalog",
	Example: `  churnlens models list
  churnlens models list --provider ollama
  churnlens models list --catalog ./models.json`,
}

var (
	modelsProvider string
	modelsCatalog  string
)

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known models and their context windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		if modelsCatalog != "" {
			if err := ai.MergeCatalogFile(modelsCatalog); err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}
		}
		current := configOrDefault().DefaultModel
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MODEL\tPROVIDER\tCONTEXT")
		for _, m := range ai.Models(modelsProvider) {
			name := m.Name
			if name == current {
				name += " *"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\n", name, m.Provider, m.ContextTokens)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsListCmd)
	modelsListCmd.Flags().StringVar(&modelsProvider, "provider", "", "only show models for this provider")
	modelsListCmd.Flags().StringVar(&modelsCatalog, "catalog", "", "merge a JSON catalog file (name -> {provider, context_tokens}) first")
}
