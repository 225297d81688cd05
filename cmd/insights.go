package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var insightsJSON bool

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Generate insights or ask follow-up questions about a report",
	Example: `  insightloom insights generate 3f2b...
  insightloom insights ask 3f2b... "Which city has the highest average age?"`,
}

var insightsGenerateCmd = &cobra.Command{
	Use:   "generate <report-id>",
	Short: "Generate initial insights (no-op if they already exist)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			r, err := a.svc.GenerateInsights(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if insightsJSON {
				return printJSON(cmd.OutOrStdout(), r)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(r.Insights))
			return nil
		})
	},
}

var insightsAskCmd = &cobra.Command{
	Use:   "ask <report-id> <question>",
	Short: "Ask a follow-up question about a report",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args[1:], " ")
		return withApp(cmd.Context(), func(a *app) error {
			res, err := a.svc.AskFollowUp(cmd.Context(), args[0], question)
			if err != nil {
				return err
			}
			if insightsJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"question": res.Question,
					"answer":   res.Answer,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(res.Answer))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(insightsCmd)
	insightsCmd.AddCommand(insightsGenerateCmd, insightsAskCmd)
	insightsCmd.PersistentFlags().BoolVar(&insightsJSON, "json", false, "print JSON")
}
