package analysis

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
)

// numAcc accumulates a numeric column: Welford moments, running extremes and
// a reservoir sample for the median. mean and m2 are kept in units of scale,
// a power of two that only grows once magnitudes would overflow the squares.
type numAcc struct {
	n     int
	mean  float64
	m2    float64
	scale float64
	min   float64
	max   float64

	nulls     int
	seen      int
	reservoir []float64

	// unparseable cells, kept so an all-unparseable column can fall back to categorical
	bad *catAcc
}

func (a *numAcc) add(x float64, rng *rand.Rand, capacity int) {
	a.n++
	if x < a.min {
		a.min = x
	}
	if x > a.max {
		a.max = x
	}
	a.rescale(x)
	u := x / a.scale
	delta := u - a.mean
	a.mean += delta / float64(a.n)
	a.m2 += delta * (u - a.mean)

	// Algorithm R
	a.seen++
	if len(a.reservoir) < capacity {
		a.reservoir = append(a.reservoir, x)
		return
	}
	if j := rng.IntN(a.seen); j < capacity {
		a.reservoir[j] = x
	}
}

// scaleLimit bounds |x/scale| so delta squared summed over any row count stays finite.
const scaleLimit = 0x1p400

func (a *numAcc) rescale(x float64) {
	if math.Abs(x) <= a.scale*scaleLimit {
		return
	}
	_, exp := math.Frexp(x)
	next := math.Ldexp(1, min(exp, 1023))
	r := a.scale / next
	a.mean *= r
	a.m2 *= r * r
	a.scale = next
}

// std returns the sample standard deviation in original units, saturating
// at MaxFloat64.
func (a *numAcc) std() float64 {
	if a.n < 2 {
		return 0
	}
	sd := math.Sqrt(a.m2/float64(a.n-1)) * a.scale
	if math.IsInf(sd, 0) || math.IsNaN(sd) {
		return math.MaxFloat64
	}
	return sd
}

// median halves the middle pair before adding so values near MaxFloat64 do
// not overflow.
func median(sample []float64) (float64, bool) {
	if len(sample) == 0 {
		return 0, false
	}
	med, err := stats.Median(stats.Float64Data(sample))
	if err == nil && !math.IsInf(med, 0) && !math.IsNaN(med) {
		return med, true
	}
	sorted := append([]float64(nil), sample...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid], true
	}
	return sorted[mid-1]/2 + sorted[mid]/2, true
}

type catEntry struct {
	count int
	first int
}

// catAcc counts distinct values up to a cap. Past the cap, known values keep
// counting and new ones are dropped.
type catAcc struct {
	counts map[string]*catEntry
	next   int
	limit  int
	capped bool
	nulls  int
	total  int
}

func newCatAcc(limit int) *catAcc {
	return &catAcc{counts: make(map[string]*catEntry), limit: limit}
}

func (a *catAcc) add(v string) {
	a.total++
	if e, ok := a.counts[v]; ok {
		e.count++
		return
	}
	if len(a.counts) >= a.limit {
		a.capped = true
		return
	}
	a.counts[v] = &catEntry{count: 1, first: a.next}
	a.next++
}

// top returns up to k values by count desc, first-seen asc.
func (a *catAcc) top(k int) []ValueCount {
	type ranked struct {
		value string
		catEntry
	}
	all := make([]ranked, 0, len(a.counts))
	for v, e := range a.counts {
		all = append(all, ranked{value: v, catEntry: *e})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count == all[j].count {
			return all[i].first < all[j].first
		}
		return all[i].count > all[j].count
	})
	if len(all) > k {
		all = all[:k]
	}
	out := make([]ValueCount, len(all))
	for i, r := range all {
		out[i] = ValueCount{Value: r.value, Count: r.count}
	}
	return out
}

func (a *catAcc) stats(k int) *CategoricalStats {
	return &CategoricalStats{
		TopValues:      a.top(k),
		DistinctCount:  len(a.counts),
		DistinctCapped: a.capped,
		NullCount:      a.nulls,
		TotalCount:     a.total,
	}
}

// Aggregator computes per-column statistics in a single pass. Memory is
// bounded by columns x (DistinctCap + ReservoirCap), independent of row count.
type Aggregator struct {
	opt     Options
	columns []string
	kinds   []Kind
	num     []*numAcc
	cat     []*catAcc
	rows    int
	rng     *rand.Rand
}

// NewAggregator prepares accumulators for the given columns and kinds.
// kinds must be parallel to columns.
func NewAggregator(columns []string, kinds []Kind, opt Options) *Aggregator {
	opt = opt.withDefaults()
	a := &Aggregator{
		opt:     opt,
		columns: columns,
		kinds:   kinds,
		num:     make([]*numAcc, len(columns)),
		cat:     make([]*catAcc, len(columns)),
		rng:     rand.New(rand.NewPCG(opt.Seed, opt.Seed^0x9e3779b97f4a7c15)),
	}
	for i := range columns {
		if i < len(kinds) && kinds[i] == KindNumeric {
			a.num[i] = &numAcc{scale: 1, min: math.Inf(1), max: math.Inf(-1), bad: newCatAcc(opt.DistinctCap)}
			continue
		}
		a.cat[i] = newCatAcc(opt.DistinctCap)
	}
	return a
}

// Add consumes one row. Short rows are treated as trailing nulls; extra cells are ignored.
func (a *Aggregator) Add(row []string) {
	a.rows++
	for j := range a.columns {
		var v string
		if j < len(row) {
			v = row[j]
		}
		null := IsNull(v)
		v = strings.TrimSpace(v)
		if n := a.num[j]; n != nil {
			if null {
				n.nulls++
				continue
			}
			if x, ok := ParseNumber(v); ok {
				n.add(x, a.rng, a.opt.ReservoirCap)
				continue
			}
			n.nulls++
			n.bad.add(v)
			continue
		}
		c := a.cat[j]
		if null {
			c.nulls++
			continue
		}
		c.add(v)
	}
}

// Rows returns the number of rows consumed so far.
func (a *Aggregator) Rows() int { return a.rows }

// Result builds the statistics and any caveats worth surfacing to the caller.
func (a *Aggregator) Result() (map[string]ColumnStats, []string) {
	out := make(map[string]ColumnStats, len(a.columns))
	var warnings []string
	for j, name := range a.columns {
		if n := a.num[j]; n != nil {
			if n.n == 0 {
				// Nothing parsed: report what was there as categorical.
				cs := n.bad.stats(a.opt.TopK)
				cs.NullCount = n.nulls - n.bad.total
				out[name] = ColumnStats{Kind: KindCategorical, Categorical: cs}
				warnings = append(warnings, fmt.Sprintf("column %q had no numeric values; reported as categorical", name))
				continue
			}
			ns := a.numericStats(n)
			if ns.MedianSampled {
				warnings = append(warnings, fmt.Sprintf("median of %q computed on a reservoir sample of %d values", name, len(n.reservoir)))
			}
			if n.bad.total > 0 {
				warnings = append(warnings, fmt.Sprintf("column %q: %d non-numeric values counted as null", name, n.bad.total))
			}
			out[name] = ColumnStats{Kind: KindNumeric, Numeric: ns}
			continue
		}
		c := a.cat[j]
		kind := KindCategorical
		if j < len(a.kinds) && a.kinds[j] == KindUnsupported {
			kind = KindUnsupported
		}
		cs := c.stats(a.opt.TopK)
		if cs.DistinctCapped {
			warnings = append(warnings, fmt.Sprintf("column %q has more than %d distinct values; distinct count is a lower bound", name, a.opt.DistinctCap))
		}
		out[name] = ColumnStats{Kind: kind, Categorical: cs}
	}
	return out, warnings
}

func (a *Aggregator) numericStats(n *numAcc) *NumericStats {
	ns := &NumericStats{
		Min:           n.min,
		Max:           n.max,
		Mean:          n.mean * n.scale,
		NullCount:     n.nulls,
		TotalCount:    n.n,
		MedianSampled: n.seen > len(n.reservoir),
	}
	ns.StdDev = n.std()
	// Welford can drift by an ulp past the extremes.
	ns.Mean = math.Min(math.Max(ns.Mean, ns.Min), ns.Max)
	if med, ok := median(n.reservoir); ok {
		ns.Median = med
	} else {
		ns.Median = ns.Mean
	}
	ns.Mean = round2(ns.Mean)
	ns.Median = round2(ns.Median)
	ns.Min = round2(ns.Min)
	ns.Max = round2(ns.Max)
	ns.StdDev = round2(ns.StdDev)
	return ns
}
