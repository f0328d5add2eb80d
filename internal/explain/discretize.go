package explain

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/KaramelBytes/churnlens/internal/preprocess"
)

// stdFloor keeps bin spreads positive when every value in a bin is equal.
const stdFloor = 1e-11

// binStats describes one quartile bin of a feature.
type binStats struct {
	mean, std float64
	min, max  float64
	freq      float64
}

// quartiles holds the fitted cut points and bin statistics of one feature.
type quartiles struct {
	name string
	cuts []float64 // strictly increasing
	bins []binStats
}

func fitQuartiles(name string, col []float64) quartiles {
	sorted := append([]float64(nil), col...)
	sort.Float64s(sorted)
	raw := []float64{
		preprocess.Quantile(sorted, 0.25),
		preprocess.Quantile(sorted, 0.50),
		preprocess.Quantile(sorted, 0.75),
	}
	q := quartiles{name: name}
	for _, c := range raw {
		if len(q.cuts) == 0 || c > q.cuts[len(q.cuts)-1] {
			q.cuts = append(q.cuts, c)
		}
	}

	members := make([][]float64, len(q.cuts)+1)
	for _, v := range col {
		b := q.bin(v)
		members[b] = append(members[b], v)
	}
	lo, hi := sorted[0], sorted[len(sorted)-1]
	q.bins = make([]binStats, len(members))
	for b, vals := range members {
		bs := binStats{min: lo, max: hi}
		if b > 0 {
			bs.min = q.cuts[b-1]
		}
		if b < len(q.cuts) {
			bs.max = q.cuts[b]
		}
		if len(vals) > 0 {
			bs.mean, bs.std = stat.PopMeanStdDev(vals, nil)
		}
		bs.std += stdFloor
		bs.freq = float64(len(vals)) / float64(len(col))
		q.bins[b] = bs
	}
	return q
}

// bin returns the number of cut points strictly below v, so a value equal to a
// cut point belongs to the lower bin.
func (q *quartiles) bin(v float64) int {
	return sort.Search(len(q.cuts), func(i int) bool { return q.cuts[i] >= v })
}

func (q *quartiles) describe(b int) string {
	switch {
	case b == 0:
		return fmt.Sprintf("%s <= %.2f", q.name, q.cuts[0])
	case b >= len(q.cuts):
		return fmt.Sprintf("%s > %.2f", q.name, q.cuts[len(q.cuts)-1])
	default:
		return fmt.Sprintf("%.2f < %s <= %.2f", q.cuts[b-1], q.name, q.cuts[b])
	}
}

// sampleBin draws a bin index according to the reference bin frequencies.
func (q *quartiles) sampleBin(rng *rand.Rand) int {
	u := rng.Float64()
	acc := 0.0
	last := 0
	for b, bs := range q.bins {
		if bs.freq == 0 {
			continue
		}
		acc += bs.freq
		last = b
		if u < acc {
			return b
		}
	}
	return last
}

// undiscretize draws a value inside bin b from a normal with the bin's mean and
// spread, truncated to the bin's range.
func (q *quartiles) undiscretize(b int, rng *rand.Rand) float64 {
	bs := q.bins[b]
	if bs.max <= bs.min {
		return bs.min
	}
	n := distuv.Normal{Mu: bs.mean, Sigma: bs.std}
	pa, pb := n.CDF(bs.min), n.CDF(bs.max)
	if pb-pa < 1e-12 {
		return clamp(bs.mean, bs.min, bs.max)
	}
	v := n.Quantile(pa + rng.Float64()*(pb-pa))
	if math.IsNaN(v) {
		return clamp(bs.mean, bs.min, bs.max)
	}
	return clamp(v, bs.min, bs.max)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
