package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/insightloom/internal/model"
	"github.com/KaramelBytes/insightloom/internal/utils"
)

var reportsJSON bool

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List, show or delete stored reports",
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List retained reports, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			reports, err := a.svc.ListReports(cmd.Context())
			if err != nil {
				return err
			}
			if reportsJSON {
				items := make([]model.ReportListItem, 0, len(reports))
				for _, r := range reports {
					items = append(items, r.ListItem())
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"reports": items, "total": len(items)})
			}
			if len(reports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "(no reports)")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFILE\tROWS\tCOLS\tSTATUS\tCREATED")
			for _, r := range reports {
				it := r.ListItem()
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", it.ID, it.OriginalFilename, it.RowCount, it.ColumnCount, it.Status, it.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		})
	},
}

var reportsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a report's statistics, insights and follow-ups",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			r, err := a.svc.GetReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if reportsJSON {
				return printJSON(cmd.OutOrStdout(), r)
			}
			sum, err := a.svc.Summary(cmd.Context(), r.ID)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, sum.Markdown())
			writeInsights(w, r)
			return nil
		})
	},
}

var reportsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a report and its uploaded file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if err := a.svc.DeleteReport(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted report %s\n", args[0])
			return nil
		})
	},
}

func writeInsights(w io.Writer, r *model.Report) {
	if r.HasInsights() {
		fmt.Fprintf(w, "\n# Insights\n\n%s\n", strings.TrimSpace(r.Insights))
	}
	for i, f := range r.FollowUpAnswers {
		fmt.Fprintf(w, "\n## Q%d: %s\n\n%s\n", i+1, f.Question, strings.TrimSpace(f.Answer))
	}
}

func printJSON(w io.Writer, v any) error {
	b, err := utils.PrettyJSON(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func init() {
	rootCmd.AddCommand(reportsCmd)
	reportsCmd.AddCommand(reportsListCmd, reportsShowCmd, reportsDeleteCmd)
	reportsCmd.PersistentFlags().BoolVar(&reportsJSON, "json", false, "print JSON")
}
