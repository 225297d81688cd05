package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/insightloom/internal/health"
)

var healthJSON bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the store, the model endpoint and the upload directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			rep := a.svc.Health(cmd.Context())
			w := cmd.OutOrStdout()
			if healthJSON {
				if err := printJSON(w, rep); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(w, "overall: %s\n", rep.Overall)
				for _, p := range []struct {
					name  string
					probe health.Probe
				}{{"store", rep.Store}, {"llm", rep.LLM}, {"storage", rep.Storage}} {
					line := fmt.Sprintf("  %-8s %s", p.name, p.probe.Status)
					if p.probe.Detail != "" {
						line += " (" + p.probe.Detail + ")"
					}
					fmt.Fprintln(w, line)
				}
			}
			if rep.Overall == health.Error {
				return fmt.Errorf("service unhealthy")
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "print JSON")
}
