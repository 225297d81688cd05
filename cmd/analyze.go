package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/insightloom/internal/analysis"
	"github.com/KaramelBytes/insightloom/internal/ingest"
	"github.com/KaramelBytes/insightloom/internal/summary"
	"github.com/KaramelBytes/insightloom/internal/utils"
)

var (
	anaOutputPath   string
	anaJSON         bool
	anaSummaryBytes int
	anaTopK         int
	anaMaxMB        int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Analyze a CSV/TSV locally and print the compact summary",
	Long: `Runs the same streaming analysis as an upload and prints the compact
summary that would be sent to the model. Nothing is stored and no network
call is made.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := analyzeFile(cmd, args[0])
		if err != nil {
			return err
		}
		if anaOutputPath != "" {
			if err := utils.SafeWriteFile(anaOutputPath, out); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Printf("✓ Wrote analysis to %s\n", anaOutputPath)
			return nil
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func analyzeFile(cmd *cobra.Command, path string) ([]byte, error) {
	maxBytes := int64(anaMaxMB) << 20
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if err := ingest.Validate(path, fi.Size(), maxBytes); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tmp, err := os.MkdirTemp("", "insightloom-analyze-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)
	up, err := ingest.Spool(tmp, path, f, maxBytes)
	if err != nil {
		return nil, err
	}
	rd, err := ingest.Open(up.Path, up.Filename, up.UTF8)
	if err != nil {
		return nil, err
	}
	defer rd.Close()

	opt := analysis.DefaultOptions()
	if anaTopK > 0 {
		opt.TopK = anaTopK
	}
	res, err := analysis.Analyze(cmd.Context(), rd, opt)
	if err != nil {
		return nil, err
	}
	sopt := summary.DefaultOptions()
	if anaSummaryBytes > 0 {
		sopt.MaxBytes = anaSummaryBytes
	}
	sum, err := summary.Compact(summary.Meta{Filename: up.Filename, RowCount: res.RowCount}, res.Columns, res.Stats, sopt)
	if err != nil {
		return nil, err
	}
	for _, w := range append(rd.Warnings(), res.Warnings...) {
		fmt.Fprintln(cmd.ErrOrStderr(), "⚠", w)
	}
	if anaJSON {
		return utils.PrettyJSON(sum)
	}
	return []byte(sum.Markdown() + "\n"), nil
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVarP(&anaOutputPath, "output", "o", "", "optional path to write the summary")
	analyzeCmd.Flags().BoolVar(&anaJSON, "json", false, "print the summary as JSON instead of Markdown")
	analyzeCmd.Flags().IntVar(&anaSummaryBytes, "summary-bytes", 0, "cap on the serialized summary (default 8 KB)")
	analyzeCmd.Flags().IntVar(&anaTopK, "top-k", 0, "top values kept per categorical column (default 5)")
	analyzeCmd.Flags().IntVar(&anaMaxMB, "max-mb", 10, "maximum file size in MB")
}
