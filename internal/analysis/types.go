package analysis

import "math"

// Kind is the inferred type of a column.
type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindCategorical Kind = "categorical"
	// KindUnsupported marks free text or high-cardinality identifiers. Such
	// columns still carry capped categorical counts.
	KindUnsupported Kind = "unsupported"
)

// ValueCount is one entry of a categorical top-K list.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// NumericStats summarizes a numeric column. TotalCount counts parsed values;
// NullCount counts empty, null-like and unparseable cells.
type NumericStats struct {
	Mean       float64 `json:"mean"`
	Median     float64 `json:"median"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	StdDev     float64 `json:"std_dev"`
	NullCount  int     `json:"null_count"`
	TotalCount int     `json:"total_count"`
	// MedianSampled is set when the median was computed on a reservoir sample
	// because the column exceeded the reservoir capacity.
	MedianSampled bool `json:"median_sampled,omitempty"`
}

// CategoricalStats summarizes a categorical or unsupported column.
type CategoricalStats struct {
	TopValues     []ValueCount `json:"top_values"`
	DistinctCount int          `json:"distinct_count"`
	// DistinctCapped marks DistinctCount as a lower bound.
	DistinctCapped bool `json:"distinct_capped,omitempty"`
	NullCount      int  `json:"null_count"`
	TotalCount     int  `json:"total_count"`
}

// ColumnStats is a tagged union: exactly one of Numeric or Categorical is set.
// Numeric is set iff Kind is KindNumeric.
type ColumnStats struct {
	Kind        Kind              `json:"kind"`
	Numeric     *NumericStats     `json:"numeric,omitempty"`
	Categorical *CategoricalStats `json:"categorical,omitempty"`
}

// NullCount returns the null count of whichever variant is set.
func (c ColumnStats) NullCount() int {
	switch {
	case c.Numeric != nil:
		return c.Numeric.NullCount
	case c.Categorical != nil:
		return c.Categorical.NullCount
	}
	return 0
}

// TotalCount returns the non-null count of whichever variant is set.
func (c ColumnStats) TotalCount() int {
	switch {
	case c.Numeric != nil:
		return c.Numeric.TotalCount
	case c.Categorical != nil:
		return c.Categorical.TotalCount
	}
	return 0
}

// NullRatio is nulls over all cells, 0 for an empty column.
func (c ColumnStats) NullRatio() float64 {
	n := c.NullCount() + c.TotalCount()
	if n == 0 {
		return 0
	}
	return float64(c.NullCount()) / float64(n)
}

// Clone returns a deep copy.
func (c ColumnStats) Clone() ColumnStats {
	out := ColumnStats{Kind: c.Kind}
	if c.Numeric != nil {
		n := *c.Numeric
		out.Numeric = &n
	}
	if c.Categorical != nil {
		cs := *c.Categorical
		cs.TopValues = append([]ValueCount(nil), c.Categorical.TopValues...)
		out.Categorical = &cs
	}
	return out
}

// Options controls inference and aggregation.
type Options struct {
	// SampleRows is the number of leading rows buffered for type inference and preview.
	SampleRows int
	// TopK bounds categorical top values.
	TopK int
	// DistinctCap stops tracking new distinct values per column past this many.
	DistinctCap int
	// ReservoirCap bounds the per-column sample used for the median.
	ReservoirCap int
	// NumericThreshold is the share of non-null sampled values that must parse
	// as numbers for a column to be numeric.
	NumericThreshold float64
	// DensityThreshold is the distinct/non-null ratio at or below which a
	// non-numeric column is categorical rather than unsupported.
	DensityThreshold float64
	// Seed makes reservoir sampling reproducible.
	Seed uint64
}

// DefaultOptions returns reasonable defaults for dataset analysis.
func DefaultOptions() Options {
	return Options{
		SampleRows:       100,
		TopK:             5,
		DistinctCap:      1000,
		ReservoirCap:     10000,
		NumericThreshold: 0.9,
		DensityThreshold: 0.5,
		Seed:             0x5eed,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SampleRows <= 0 {
		o.SampleRows = d.SampleRows
	}
	if o.TopK <= 0 {
		o.TopK = d.TopK
	}
	if o.DistinctCap <= 0 {
		o.DistinctCap = d.DistinctCap
	}
	if o.ReservoirCap <= 0 {
		o.ReservoirCap = d.ReservoirCap
	}
	if o.NumericThreshold <= 0 || o.NumericThreshold > 1 {
		o.NumericThreshold = d.NumericThreshold
	}
	if o.DensityThreshold <= 0 || o.DensityThreshold > 1 {
		o.DensityThreshold = d.DensityThreshold
	}
	if o.Seed == 0 {
		o.Seed = d.Seed
	}
	return o
}

// round2 rounds to cents. Magnitudes past 1e15 carry no cents and are
// returned as is, which also keeps x*100 from overflowing.
func round2(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	if math.Abs(x) > 1e15 {
		return x
	}
	return math.Round(x*100) / 100
}
