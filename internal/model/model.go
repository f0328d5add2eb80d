// Package model loads pre-trained binary churn classifiers from artifact files.
package model

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
)

var (
	// ErrModelUnavailable means the artifact is missing or cannot be decoded.
	ErrModelUnavailable = errors.New("model artifact unavailable")
	// ErrModelIncompatible means the artifact does not fit the processed features.
	ErrModelIncompatible = errors.New("model artifact incompatible with features")
)

// Classifier is a binary classifier returning [P(low), P(high)] per row.
type Classifier interface {
	PredictProba(X [][]float64) ([][2]float64, error)
	// NumFeatures is the expected row width, or 0 when any width is accepted.
	NumFeatures() int
}

// Named is implemented by classifiers that know the names of their inputs.
type Named interface {
	Features() []string
}

// Bind adapts c to rows laid out in featureNames order. When the classifier
// names its inputs the columns are projected by name; otherwise the widths must
// match.
func Bind(c Classifier, featureNames []string) (Classifier, error) {
	if c == nil {
		return nil, ErrModelUnavailable
	}
	if nm, ok := c.(Named); ok && len(nm.Features()) > 0 {
		pos := make(map[string]int, len(featureNames))
		for i, n := range featureNames {
			pos[n] = i
		}
		want := nm.Features()
		idx := make([]int, len(want))
		var missing []string
		for k, n := range want {
			i, ok := pos[n]
			if !ok {
				missing = append(missing, n)
				continue
			}
			idx[k] = i
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("features %v not present after preprocessing: %w", missing, ErrModelIncompatible)
		}
		return &projected{inner: c, idx: idx, width: len(featureNames)}, nil
	}
	if w := c.NumFeatures(); w > 0 && w != len(featureNames) {
		return nil, fmt.Errorf("model expects %d features, data has %d: %w", w, len(featureNames), ErrModelIncompatible)
	}
	return c, nil
}

type projected struct {
	inner Classifier
	idx   []int
	width int
}

func (p *projected) NumFeatures() int { return p.width }

func (p *projected) PredictProba(X [][]float64) ([][2]float64, error) {
	sub := make([][]float64, len(X))
	for i, row := range X {
		if len(row) != p.width {
			return nil, fmt.Errorf("row %d has %d values, want %d: %w", i, len(row), p.width, ErrModelIncompatible)
		}
		r := make([]float64, len(p.idx))
		for k, j := range p.idx {
			r[k] = row[j]
		}
		sub[i] = r
	}
	return p.inner.PredictProba(sub)
}

// Sigmoid maps a margin to a probability.
func Sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// scoreRows evaluates margin for each row across GOMAXPROCS workers and
// converts to class probabilities.
func scoreRows(X [][]float64, width int, margin func(row []float64) float64) ([][2]float64, error) {
	for i, row := range X {
		if width > 0 && len(row) != width {
			return nil, fmt.Errorf("row %d has %d values, want %d: %w", i, len(row), width, ErrModelIncompatible)
		}
	}
	out := make([][2]float64, len(X))
	if len(X) == 0 {
		return out, nil
	}
	workers := runtime.GOMAXPROCS(0)
	rowsPerWorker := (len(X) + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * rowsPerWorker
		end := start + rowsPerWorker
		if end > len(X) {
			end = len(X)
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				p := Sigmoid(margin(X[i]))
				out[i] = [2]float64{1 - p, p}
			}
		}(start, end)
	}
	wg.Wait()
	return out, nil
}
