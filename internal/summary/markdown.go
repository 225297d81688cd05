package summary

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/insightloom/internal/analysis"
)

// Markdown renders the summary as a compact block suitable for prompts.
// It reads only from the Summary, so it inherits the same privacy bound.
func (s *Summary) Markdown() string {
	var b strings.Builder
	b.WriteString("[DATASET SUMMARY]\n")
	if s.Filename != "" {
		b.WriteString(fmt.Sprintf("File: %s\n", safeVal(s.Filename)))
	}
	b.WriteString(fmt.Sprintf("Rows: %d\n", s.RowCount))
	if s.OmittedColumns > 0 {
		b.WriteString(fmt.Sprintf("Columns: %d (showing %d)\n\n", s.ColumnCount, len(s.Columns)))
	} else {
		b.WriteString(fmt.Sprintf("Columns: %d\n\n", s.ColumnCount))
	}

	b.WriteString("[SCHEMA]\n")
	for _, c := range s.Columns {
		total := c.NullCount + c.TotalCount
		missPct := 0.0
		if total > 0 {
			missPct = float64(c.NullCount) * 100.0 / float64(total)
		}
		b.WriteString(fmt.Sprintf("- %s: %s (non-null %d, missing %.1f%%)", safeName(c.Name), c.Kind, c.TotalCount, missPct))
		switch {
		case c.Numeric != nil:
			n := c.Numeric
			b.WriteString(fmt.Sprintf("; mean %.4g, median %.4g, min %.4g, max %.4g, std %.4g", n.Mean, n.Median, n.Min, n.Max, n.StdDev))
			if n.MedianSampled {
				b.WriteString(" (median from sample)")
			}
		case c.Kind == analysis.KindUnsupported:
			b.WriteString(fmt.Sprintf("; %s distinct values, labels withheld", distinct(c)))
		case len(c.TopValues) > 0:
			b.WriteString("; top: ")
			for i, kv := range c.TopValues {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(fmt.Sprintf("%s(%d)", safeVal(kv.Value), kv.Count))
			}
			if c.DistinctCount > len(c.TopValues) {
				b.WriteString(fmt.Sprintf("; distinct=%s", distinct(c)))
			}
		}
		b.WriteString("\n")
	}
	if s.Note != "" {
		b.WriteString("\n[NOTES]\n- ")
		b.WriteString(s.Note)
		b.WriteString("\n")
	}
	return b.String()
}

func distinct(c Column) string {
	if c.DistinctCapped {
		return fmt.Sprintf("%d+", c.DistinctCount)
	}
	return fmt.Sprintf("%d", c.DistinctCount)
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unnamed)"
	}
	return safeVal(s)
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
