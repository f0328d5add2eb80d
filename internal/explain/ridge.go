package explain

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// dataset is a weighted regression problem over the binary neighbourhood.
type dataset struct {
	x [][]float64
	y []float64
	w []float64
}

type linearFit struct {
	cols      []int
	coef      []float64
	intercept float64
}

func (f *linearFit) predict(row []float64) float64 {
	v := f.intercept
	for k, j := range f.cols {
		v += f.coef[k] * row[j]
	}
	return v
}

// ridge fits y ≈ intercept + x[cols]·coef minimising the weighted squared error
// plus alpha·|coef|². The intercept is not penalised.
func (d *dataset) ridge(cols []int, alpha float64) (*linearFit, error) {
	k := len(cols)
	if k == 0 {
		return nil, fmt.Errorf("no features to fit: %w", ErrDegenerate)
	}
	col := make([]float64, len(d.x))
	xm := make([]float64, k)
	for a, j := range cols {
		for i, row := range d.x {
			col[i] = row[j]
		}
		xm[a] = stat.Mean(col, d.w)
	}
	ym := stat.Mean(d.y, d.w)

	A := mat.NewSymDense(k, nil)
	b := mat.NewVecDense(k, nil)
	xc := make([]float64, k)
	for i, row := range d.x {
		wi := d.w[i]
		for a, j := range cols {
			xc[a] = row[j] - xm[a]
		}
		yc := d.y[i] - ym
		for a := 0; a < k; a++ {
			b.SetVec(a, b.AtVec(a)+wi*xc[a]*yc)
			for c := a; c < k; c++ {
				A.SetSym(a, c, A.At(a, c)+wi*xc[a]*xc[c])
			}
		}
	}
	for a := 0; a < k; a++ {
		A.SetSym(a, a, A.At(a, a)+alpha)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(A); !ok {
		return nil, fmt.Errorf("normal equations not positive definite: %w", ErrDegenerate)
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, b); err != nil {
		return nil, fmt.Errorf("solve normal equations: %v: %w", err, ErrDegenerate)
	}
	coef := make([]float64, k)
	for a := range coef {
		coef[a] = beta.AtVec(a)
	}
	if floats.HasNaN(coef) {
		return nil, fmt.Errorf("non-finite coefficients: %w", ErrDegenerate)
	}
	return &linearFit{
		cols:      append([]int(nil), cols...),
		coef:      coef,
		intercept: ym - floats.Dot(xm, coef),
	}, nil
}

// score is the weighted coefficient of determination of fit. A constant target
// scores 1 when matched exactly and 0 otherwise.
func (d *dataset) score(fit *linearFit) float64 {
	ym := stat.Mean(d.y, d.w)
	var ssRes, ssTot float64
	for i, row := range d.x {
		r := d.y[i] - fit.predict(row)
		ssRes += d.w[i] * r * r
		t := d.y[i] - ym
		ssTot += d.w[i] * t * t
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

// forwardSelection greedily adds the feature that most improves the weighted
// fit until k features are chosen.
func (d *dataset) forwardSelection(ctx context.Context, nf, k int) ([]int, error) {
	used := make([]int, 0, k)
	taken := make([]bool, nf)
	for len(used) < k {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		best, bestScore := -1, math.Inf(-1)
		for j := 0; j < nf; j++ {
			if taken[j] {
				continue
			}
			fit, err := d.ridge(append(used[:len(used):len(used)], j), selectionAlpha)
			if err != nil {
				continue
			}
			if s := d.score(fit); s > bestScore {
				best, bestScore = j, s
			}
		}
		if best < 0 {
			return nil, fmt.Errorf("forward selection found no fittable feature: %w", ErrDegenerate)
		}
		used = append(used, best)
		taken[best] = true
	}
	return used, nil
}
