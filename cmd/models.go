package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/insightloom/internal/ai"
	"github.com/KaramelBytes/insightloom/internal/utils"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect or update the model catalog used for prompt budgets and cost estimates",
	Example: `  insightloom models show
  insightloom models fetch --url https://example.com/models.json --output models.json`,
}

var modelsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current model catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat := ai.Catalog()
		keys := make([]string, 0, len(cat))
		for k := range cat {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MODEL\tCONTEXT\tIN $/1K\tOUT $/1K")
		for _, k := range keys {
			mi := cat[k]
			fmt.Fprintf(tw, "%s\t%d\t%g\t%g\n", k, mi.ContextTokens, mi.InputPerK, mi.OutputPerK)
		}
		return tw.Flush()
	},
}

var (
	fetchURL    string
	fetchOutput string
)

var modelsFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch a JSON model catalog and save it for models_catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		if fetchURL == "" {
			return fmt.Errorf("--url is required")
		}
		m, err := fetchCatalog(fetchURL)
		if err != nil {
			return err
		}
		b, err := utils.PrettyJSON(m)
		if err != nil {
			return err
		}
		if fetchOutput == "" {
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		}
		if err := utils.SafeWriteFile(fetchOutput, b); err != nil {
			return fmt.Errorf("write file: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %d models to %s (set models_catalog to use it)\n", len(m), fetchOutput)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsShowCmd)
	modelsCmd.AddCommand(modelsFetchCmd)

	modelsFetchCmd.Flags().StringVar(&fetchURL, "url", "", "URL to JSON catalog file")
	modelsFetchCmd.Flags().StringVar(&fetchOutput, "output", "", "optional path to save the fetched JSON")
}
