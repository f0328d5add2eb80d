// Package explain computes local, per-record feature attributions with a
// LIME-style surrogate: the neighbourhood of a record is sampled from quartile
// bins of a reference matrix and a weighted ridge regression is fitted to the
// classifier's high-risk probability.
package explain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/KaramelBytes/churnlens/internal/model"
)

// ErrDegenerate reports a surrogate that could not be fitted.
var ErrDegenerate = errors.New("explanation numerically degenerate")

const (
	DefaultTopK       = 5
	DefaultNumSamples = 5000
	// forward selection is used up to this many features
	forwardSelectionMax = 6
	surrogateAlpha      = 1.0
	selectionAlpha      = 1e-6
	highWeightsAlpha    = 0.01
)

// Options tune an explanation.
type Options struct {
	TopK       int
	NumSamples int
	Seed       int64
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.NumSamples < 2 {
		o.NumSamples = DefaultNumSamples
	}
	return o
}

// Attribution is one human-readable condition and its signed contribution to
// the high-risk probability.
type Attribution struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// Result is a local explanation of one record.
type Result struct {
	Attributions    []Attribution `json:"attributions"`
	Intercept       float64       `json:"intercept"`
	LocalPrediction float64       `json:"local_prediction"`
	Score           float64       `json:"score"`
}

// Explainer is fitted once per reference matrix and reused for every record.
// It is safe for concurrent use.
type Explainer struct {
	features []quartiles
	width    float64
	opt      Options
}

// New fits the quartile discretizer on reference. Each row must have one value
// per name.
func New(reference [][]float64, names []string, opt Options) (*Explainer, error) {
	if len(reference) == 0 || len(names) == 0 {
		return nil, fmt.Errorf("empty reference data: %w", ErrDegenerate)
	}
	e := &Explainer{
		features: make([]quartiles, len(names)),
		width:    0.75 * math.Sqrt(float64(len(names))),
		opt:      opt.withDefaults(),
	}
	col := make([]float64, len(reference))
	for j, name := range names {
		for i, row := range reference {
			if len(row) != len(names) {
				return nil, fmt.Errorf("reference row %d has %d values, want %d: %w", i, len(row), len(names), model.ErrModelIncompatible)
			}
			col[i] = row[j]
		}
		e.features[j] = fitQuartiles(name, col)
	}
	return e, nil
}

// Explain fits a fresh explainer on reference and explains row. Callers that
// explain many rows of the same data should keep an Explainer instead.
func Explain(ctx context.Context, clf model.Classifier, row []float64, reference [][]float64, names []string, opt Options) (*Result, error) {
	e, err := New(reference, names, opt)
	if err != nil {
		return nil, err
	}
	return e.Explain(ctx, clf, row)
}

// Explain returns up to TopK attributions for row ordered by absolute weight.
func (e *Explainer) Explain(ctx context.Context, clf model.Classifier, row []float64) (*Result, error) {
	nf := len(e.features)
	if len(row) != nf {
		return nil, fmt.Errorf("row has %d values, want %d: %w", len(row), nf, model.ErrModelIncompatible)
	}
	n := e.opt.NumSamples
	rng := rand.New(rand.NewSource(e.opt.Seed))

	instBin := make([]int, nf)
	for j := range e.features {
		instBin[j] = e.features[j].bin(row[j])
	}

	// binary[i][j] is 1 when sample i falls in the instance's bin for feature j;
	// inverse holds the continuous values handed to the classifier.
	binary := make([][]float64, n)
	inverse := make([][]float64, n)
	binary[0] = make([]float64, nf)
	inverse[0] = append([]float64(nil), row...)
	for j := range binary[0] {
		binary[0][j] = 1
	}
	for i := 1; i < n; i++ {
		b := make([]float64, nf)
		v := make([]float64, nf)
		for j := range e.features {
			q := &e.features[j]
			k := q.sampleBin(rng)
			if k == instBin[j] {
				b[j] = 1
			}
			v[j] = q.undiscretize(k, rng)
		}
		binary[i], inverse[i] = b, v
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	proba, err := clf.PredictProba(inverse)
	if err != nil {
		return nil, fmt.Errorf("score neighbourhood: %w", err)
	}
	if len(proba) != n {
		return nil, fmt.Errorf("classifier returned %d rows for %d: %w", len(proba), n, ErrDegenerate)
	}
	y := make([]float64, n)
	for i, p := range proba {
		if math.IsNaN(p[1]) || math.IsInf(p[1], 0) {
			return nil, fmt.Errorf("classifier returned %v for sample %d: %w", p[1], i, ErrDegenerate)
		}
		y[i] = p[1]
	}

	w := make([]float64, n)
	for i, b := range binary {
		var d2 float64
		for _, v := range b {
			d2 += (v - 1) * (v - 1)
		}
		w[i] = math.Sqrt(math.Exp(-d2 / (e.width * e.width)))
	}

	ds := &dataset{x: binary, y: y, w: w}
	selected, err := e.selectFeatures(ctx, ds)
	if err != nil {
		return nil, err
	}
	fit, err := ds.ridge(selected, surrogateAlpha)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Intercept:       fit.intercept,
		LocalPrediction: fit.predict(binary[0]),
		Score:           ds.score(fit),
	}
	for k, j := range selected {
		res.Attributions = append(res.Attributions, Attribution{
			Feature: e.features[j].describe(instBin[j]),
			Weight:  fit.coef[k],
		})
	}
	sort.SliceStable(res.Attributions, func(a, b int) bool {
		return math.Abs(res.Attributions[a].Weight) > math.Abs(res.Attributions[b].Weight)
	})
	return res, nil
}

func (e *Explainer) selectFeatures(ctx context.Context, ds *dataset) ([]int, error) {
	nf := len(e.features)
	k := e.opt.TopK
	if k > nf {
		k = nf
	}
	if e.opt.TopK <= forwardSelectionMax {
		return ds.forwardSelection(ctx, nf, k)
	}
	all := make([]int, nf)
	for j := range all {
		all[j] = j
	}
	fit, err := ds.ridge(all, highWeightsAlpha)
	if err != nil {
		return nil, err
	}
	// the instance row is all ones, so coefficient magnitude is its contribution
	sort.SliceStable(all, func(a, b int) bool {
		return math.Abs(fit.coef[all[a]]) > math.Abs(fit.coef[all[b]])
	})
	return all[:k], nil
}
