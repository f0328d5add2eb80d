// Package preprocess turns an uploaded table into the numeric feature matrix
// the churn classifier consumes.
package preprocess

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/KaramelBytes/churnlens/internal/table"
)

// ErrNoUsableColumns is returned when every column was dropped.
var ErrNoUsableColumns = errors.New("preprocessing left no usable columns")

// Column kinds.
const (
	KindNumeric     = "numeric"
	KindCategorical = "categorical"
)

// Options controls the cleaning policy.
type Options struct {
	// MaxMissingRatio drops columns whose missing share is strictly above it.
	MaxMissingRatio float64
	// IQRMultiplier scales the interquartile range for outlier clamping.
	IQRMultiplier float64
}

// DefaultOptions drops columns more than half empty and clamps at 1.5·IQR.
func DefaultOptions() Options {
	return Options{MaxMissingRatio: 0.5, IQRMultiplier: 1.5}
}

// ColumnReport describes what happened to one input column.
type ColumnReport struct {
	Name    string  `json:"name"`
	Kind    string  `json:"kind"`
	Missing int     `json:"missing"`
	Fill    string  `json:"fill,omitempty"`
	Lower   float64 `json:"lower,omitempty"`
	Upper   float64 `json:"upper,omitempty"`
	Clamped int     `json:"clamped,omitempty"`
	Dropped string  `json:"dropped,omitempty"`
}

// Result is the processed matrix with its feature order.
type Result struct {
	Matrix       [][]float64
	FeatureNames []string
	Columns      []ColumnReport
}

// Dropped lists the names of columns removed during preprocessing.
func (r *Result) Dropped() []string {
	var out []string
	for _, c := range r.Columns {
		if c.Dropped != "" {
			out = append(out, c.Name)
		}
	}
	return out
}

// Preprocess applies, in order: the missing-value policy, IQR clamping of
// numeric columns and label encoding of categorical columns. Row order and
// count are preserved.
func Preprocess(t *table.Table, opt Options) (*Result, Encoders, error) {
	if t == nil || t.NumRows() == 0 {
		return nil, nil, table.ErrEmptyTable
	}
	if opt.MaxMissingRatio <= 0 {
		opt.MaxMissingRatio = 0.5
	}
	if opt.IQRMultiplier <= 0 {
		opt.IQRMultiplier = 1.5
	}
	n := t.NumRows()
	res := &Result{}
	encoders := Encoders{}
	var features [][]float64

	for j, name := range t.Columns {
		cells := t.Column(j)
		rep := ColumnReport{Name: name, Kind: inferKind(cells)}
		for _, c := range cells {
			if c.Null {
				rep.Missing++
			}
		}
		if float64(rep.Missing)/float64(n) > opt.MaxMissingRatio {
			rep.Dropped = fmt.Sprintf("%.1f%% missing", float64(rep.Missing)*100/float64(n))
			res.Columns = append(res.Columns, rep)
			continue
		}
		var col []float64
		var err error
		switch rep.Kind {
		case KindNumeric:
			col, err = numericColumn(cells, &rep, opt.IQRMultiplier)
		default:
			var enc *LabelEncoder
			col, enc, err = categoricalColumn(name, cells, &rep)
			if err == nil {
				encoders[name] = enc
			}
		}
		if err != nil {
			rep.Dropped = err.Error()
			res.Columns = append(res.Columns, rep)
			continue
		}
		res.Columns = append(res.Columns, rep)
		res.FeatureNames = append(res.FeatureNames, name)
		features = append(features, col)
	}
	if len(features) == 0 {
		return nil, nil, fmt.Errorf("%d columns dropped: %w", len(t.Columns), ErrNoUsableColumns)
	}
	res.Matrix = make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, len(features))
		for k, col := range features {
			row[k] = col[i]
		}
		res.Matrix[i] = row
	}
	return res, encoders, nil
}

// inferKind treats a column as numeric when it has at least one value and every
// present value parses as a number.
func inferKind(cells []table.Cell) string {
	present := 0
	for _, c := range cells {
		if c.Null {
			continue
		}
		present++
		if _, ok := table.ParseNumber(c.Raw); !ok {
			return KindCategorical
		}
	}
	if present == 0 {
		return KindCategorical
	}
	return KindNumeric
}

var errNoMedian = errors.New("median undefined: no values present")
var errNoMode = errors.New("mode undefined: no values present")

func numericColumn(cells []table.Cell, rep *ColumnReport, k float64) ([]float64, error) {
	present := make([]float64, 0, len(cells))
	for _, c := range cells {
		if v, ok := c.Float(); ok {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return nil, errNoMedian
	}
	median, err := stats.Median(present)
	if err != nil {
		return nil, fmt.Errorf("median: %w", err)
	}
	lower, upper := IQRBounds(present, k)
	rep.Lower, rep.Upper = lower, upper
	if rep.Missing > 0 {
		rep.Fill = fmt.Sprintf("median %g", median)
	}
	out := make([]float64, len(cells))
	for i, c := range cells {
		v, ok := c.Float()
		if !ok {
			v = median
		}
		if v < lower {
			v = lower
			rep.Clamped++
		} else if v > upper {
			v = upper
			rep.Clamped++
		}
		out[i] = v
	}
	return out, nil
}

func categoricalColumn(name string, cells []table.Cell, rep *ColumnReport) ([]float64, *LabelEncoder, error) {
	mode, ok := modeOf(cells)
	if !ok {
		return nil, nil, errNoMode
	}
	if rep.Missing > 0 {
		rep.Fill = fmt.Sprintf("mode %q", mode)
	}
	values := make([]string, len(cells))
	for i, c := range cells {
		if c.Null {
			values[i] = mode
		} else {
			values[i] = c.Raw
		}
	}
	enc := fitLabelEncoder(name, values)
	out := make([]float64, len(values))
	for i, v := range values {
		code, _ := enc.Transform(v)
		out[i] = float64(code)
	}
	return out, enc, nil
}

// modeOf returns the most frequent present value; ties go to the value seen first.
func modeOf(cells []table.Cell) (string, bool) {
	counts := map[string]int{}
	var order []string
	for _, c := range cells {
		if c.Null {
			continue
		}
		if counts[c.Raw] == 0 {
			order = append(order, c.Raw)
		}
		counts[c.Raw]++
	}
	best, bestN := "", 0
	for _, v := range order {
		if counts[v] > bestN {
			best, bestN = v, counts[v]
		}
	}
	return best, bestN > 0
}

// IQRBounds returns [Q1 - k·IQR, Q3 + k·IQR] for the values.
func IQRBounds(values []float64, k float64) (float64, float64) {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	q1 := Quantile(sorted, 0.25)
	q3 := Quantile(sorted, 0.75)
	iqr := q3 - q1
	return q1 - k*iqr, q3 + k*iqr
}

// Quantile interpolates linearly between order statistics at position q·(n-1).
// sorted must be in ascending order.
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	w := pos - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}
