// Package summary builds the size-bounded payload that is the only view of a
// dataset ever sent to a text-generation endpoint. It carries aggregated
// scalars and capped top-K labels; never rows, never preview cells.
package summary

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/KaramelBytes/insightloom/internal/analysis"
)

// Options bounds the compacted payload.
type Options struct {
	// MaxBytes caps the serialized JSON size.
	MaxBytes int
	// LabelRunes truncates categorical labels.
	LabelRunes int
	// NameRunes truncates column and file names.
	NameRunes int
}

// DefaultOptions returns an 8 KB budget.
func DefaultOptions() Options {
	return Options{MaxBytes: 8 << 10, LabelRunes: 40, NameRunes: 64}
}

// Meta is dataset-level metadata.
type Meta struct {
	Filename string
	RowCount int
}

// Numeric is the numeric part of a summarized column.
type Numeric struct {
	Mean          float64 `json:"mean"`
	Median        float64 `json:"median"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	StdDev        float64 `json:"std_dev"`
	MedianSampled bool    `json:"median_sampled,omitempty"`
}

// Column is one summarized column.
type Column struct {
	Name           string                `json:"name"`
	Kind           analysis.Kind         `json:"kind"`
	NullCount      int                   `json:"null_count"`
	TotalCount     int                   `json:"total_count"`
	Numeric        *Numeric              `json:"numeric,omitempty"`
	TopValues      []analysis.ValueCount `json:"top_values,omitempty"`
	DistinctCount  int                   `json:"distinct_count,omitempty"`
	DistinctCapped bool                  `json:"distinct_capped,omitempty"`
}

// Summary is the compacted, privacy-bounded view of a dataset.
type Summary struct {
	Filename       string   `json:"filename"`
	RowCount       int      `json:"row_count"`
	ColumnCount    int      `json:"column_count"`
	Columns        []Column `json:"columns"`
	OmittedColumns int      `json:"omitted_columns,omitempty"`
	Note           string   `json:"note,omitempty"`
}

// reserved for the omission note and its key
const noteReserve = 160

// Compact converts statistics into a Summary no larger than opt.MaxBytes.
// When columns must be dropped, numeric columns are preferred, then
// categorical, then unsupported; within a kind lower null ratios win and
// source order breaks ties. Kept columns are emitted in source order. The
// result is deterministic for identical input.
func Compact(meta Meta, columns []string, stats map[string]analysis.ColumnStats, opt Options) (*Summary, error) {
	opt = opt.withDefaults()
	s := &Summary{
		Filename:    truncateRunes(meta.Filename, opt.NameRunes),
		RowCount:    meta.RowCount,
		ColumnCount: len(columns),
	}

	all := make([]Column, len(columns))
	sizes := make([]int, len(columns))
	for i, name := range columns {
		all[i] = summarize(name, stats[name], opt)
		b, err := json.Marshal(all[i])
		if err != nil {
			return nil, fmt.Errorf("marshal column %q: %w", name, err)
		}
		sizes[i] = len(b) + 1 // separator
	}

	base, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	budget := opt.MaxBytes - len(base) - noteReserve

	order := rank(columns, stats)
	keep := make([]bool, len(columns))
	used := 0
	for _, i := range order {
		if used+sizes[i] > budget {
			break
		}
		keep[i] = true
		used += sizes[i]
	}

	for {
		s.Columns = make([]Column, 0, len(columns))
		kept := 0
		for i := range all {
			if keep[i] {
				s.Columns = append(s.Columns, all[i])
				kept++
			}
		}
		s.OmittedColumns = len(columns) - kept
		s.Note = ""
		if s.OmittedColumns > 0 {
			s.Note = fmt.Sprintf("%d of %d columns omitted to fit the size budget; numeric and more complete columns were kept first", s.OmittedColumns, len(columns))
		}
		b, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("marshal summary: %w", err)
		}
		if len(b) <= opt.MaxBytes || kept == 0 {
			break
		}
		// drop the lowest-ranked kept column and retry
		for k := len(order) - 1; k >= 0; k-- {
			if keep[order[k]] {
				keep[order[k]] = false
				break
			}
		}
	}
	return s, nil
}

// JSON returns the serialized summary.
func (s *Summary) JSON() ([]byte, error) {
	return json.Marshal(s)
}

func summarize(name string, cs analysis.ColumnStats, opt Options) Column {
	c := Column{
		Name:       truncateRunes(name, opt.NameRunes),
		Kind:       cs.Kind,
		NullCount:  cs.NullCount(),
		TotalCount: cs.TotalCount(),
	}
	switch {
	case cs.Numeric != nil:
		n := cs.Numeric
		c.Numeric = &Numeric{
			Mean:          n.Mean,
			Median:        n.Median,
			Min:           n.Min,
			Max:           n.Max,
			StdDev:        n.StdDev,
			MedianSampled: n.MedianSampled,
		}
	case cs.Categorical != nil:
		c.DistinctCount = cs.Categorical.DistinctCount
		c.DistinctCapped = cs.Categorical.DistinctCapped
		// free text and identifiers never leave as labels
		if cs.Kind == analysis.KindUnsupported {
			break
		}
		for _, tv := range cs.Categorical.TopValues {
			c.TopValues = append(c.TopValues, analysis.ValueCount{
				Value: truncateRunes(tv.Value, opt.LabelRunes),
				Count: tv.Count,
			})
		}
	}
	return c
}

func rank(columns []string, stats map[string]analysis.ColumnStats) []int {
	kindRank := func(k analysis.Kind) int {
		switch k {
		case analysis.KindNumeric:
			return 0
		case analysis.KindCategorical:
			return 1
		default:
			return 2
		}
	}
	order := make([]int, len(columns))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ca, cb := stats[columns[order[a]]], stats[columns[order[b]]]
		if ka, kb := kindRank(ca.Kind), kindRank(cb.Kind); ka != kb {
			return ka < kb
		}
		if ra, rb := ca.NullRatio(), cb.NullRatio(); ra != rb {
			return ra < rb
		}
		return order[a] < order[b]
	})
	return order
}

func truncateRunes(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxBytes <= 0 {
		o.MaxBytes = d.MaxBytes
	}
	if o.LabelRunes <= 0 {
		o.LabelRunes = d.LabelRunes
	}
	if o.NameRunes <= 0 {
		o.NameRunes = d.NameRunes
	}
	return o
}
