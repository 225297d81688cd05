package analysis

import (
	"context"
	"errors"
	"io"

	"github.com/KaramelBytes/insightloom/internal/apperr"
)

// RowSource yields a header and then rows in source order. Next returns io.EOF
// after the last row.
type RowSource interface {
	Header() []string
	Next() ([]string, error)
}

// Result is the outcome of analyzing one dataset.
type Result struct {
	Columns  []string
	Kinds    []Kind
	Stats    map[string]ColumnStats
	RowCount int
	// Sample holds the leading rows used for inference; display only.
	Sample   [][]string
	Warnings []string
}

// Analyze buffers the leading rows for inference, then aggregates the whole
// stream exactly once. It fails only when the source does.
func Analyze(ctx context.Context, src RowSource, opt Options) (*Result, error) {
	opt = opt.withDefaults()
	columns := append([]string(nil), src.Header()...)

	var sample [][]string
	eof := false
	for len(sample) < opt.SampleRows {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			eof = true
			break
		}
		if err != nil {
			return nil, asParseError(err)
		}
		sample = append(sample, append([]string(nil), row...))
	}

	kinds := make([]Kind, len(columns))
	colVals := make([]string, 0, len(sample))
	for j := range columns {
		colVals = colVals[:0]
		for _, row := range sample {
			if j < len(row) {
				colVals = append(colVals, row[j])
			} else {
				colVals = append(colVals, "")
			}
		}
		kinds[j] = InferKind(colVals, opt)
	}

	agg := NewAggregator(columns, kinds, opt)
	for _, row := range sample {
		agg.Add(row)
	}
	for !eof {
		if agg.Rows()%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, asParseError(err)
		}
		agg.Add(row)
	}

	st, warnings := agg.Result()
	for j, name := range columns {
		// fallback may have changed the kind
		kinds[j] = st[name].Kind
	}
	return &Result{
		Columns:  columns,
		Kinds:    kinds,
		Stats:    st,
		RowCount: agg.Rows(),
		Sample:   sample,
		Warnings: warnings,
	}, nil
}

// PreviewRecords converts the sample into display rows: nulls become nil and
// cells of numeric columns become float64 when they parse.
func (r *Result) PreviewRecords(limit int) []map[string]any {
	rows := r.Sample
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		rec := make(map[string]any, len(r.Columns))
		for j, name := range r.Columns {
			var v string
			if j < len(row) {
				v = row[j]
			}
			switch {
			case IsNull(v):
				rec[name] = nil
			case r.Kinds[j] == KindNumeric:
				if x, ok := ParseNumber(v); ok {
					rec[name] = x
				} else {
					rec[name] = v
				}
			default:
				rec[name] = v
			}
		}
		out = append(out, rec)
	}
	return out
}

func asParseError(err error) error {
	var pe *apperr.ParseError
	if errors.As(err, &pe) {
		return err
	}
	return &apperr.ParseError{Err: err}
}
