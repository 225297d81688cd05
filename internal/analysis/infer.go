package analysis

import (
	"regexp"
	"strconv"
	"strings"
)

// Locale-invariant decimal: optional sign, digits with optional point, optional exponent.
var numberRe = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

var nullTokens = map[string]struct{}{
	"":     {},
	"nan":  {},
	"-nan": {},
	"na":   {},
	"n/a":  {},
	"null": {},
	"none": {},
	"#n/a": {},
}

// IsNull reports whether a cell counts as missing.
func IsNull(v string) bool {
	_, ok := nullTokens[strings.ToLower(strings.TrimSpace(v))]
	return ok
}

// ParseNumber parses a trimmed cell as a float. Words such as "Inf" are rejected.
func ParseNumber(v string) (float64, bool) {
	s := strings.TrimSpace(v)
	if !numberRe.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// out of range
		return 0, false
	}
	return f, true
}

// InferKind classifies a column from sampled raw values. It never fails.
func InferKind(values []string, opt Options) Kind {
	opt = opt.withDefaults()
	var nonNull, numeric int
	distinct := make(map[string]struct{})
	for _, v := range values {
		if IsNull(v) {
			continue
		}
		nonNull++
		if _, ok := ParseNumber(v); ok {
			numeric++
		}
		distinct[strings.TrimSpace(v)] = struct{}{}
	}
	if nonNull == 0 {
		return KindCategorical
	}
	if float64(numeric)/float64(nonNull) >= opt.NumericThreshold {
		return KindNumeric
	}
	if len(distinct) <= opt.TopK || float64(len(distinct))/float64(nonNull) <= opt.DensityThreshold {
		return KindCategorical
	}
	return KindUnsupported
}
