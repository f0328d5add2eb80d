// Package predict scores a processed feature matrix with a binary classifier
// and summarizes the outcome.
package predict

import (
	"context"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/KaramelBytes/churnlens/internal/model"
)

// Labels of the two classes as shown to users.
const (
	LabelHigh = "High Risk"
	LabelLow  = "Low Risk"
)

// batchRows bounds how many rows are handed to the classifier between
// cancellation checks.
const batchRows = 2048

// Result holds per-row outputs, aligned with the input matrix.
type Result struct {
	// Probabilities of the high-risk class in [0,1].
	Probabilities []float64
	Classes       []int
}

// Percent returns row i's probability on a 0–100 scale rounded to 2 decimals.
func (r *Result) Percent(i int) float64 { return Round2(r.Probabilities[i] * 100) }

// Label returns the user-facing label for row i.
func (r *Result) Label(i int) string {
	if r.Classes[i] == 1 {
		return LabelHigh
	}
	return LabelLow
}

// Summary aggregates a Result.
type Summary struct {
	Total              int     `json:"total_customers"`
	HighRiskCount      int     `json:"high_risk_count"`
	LowRiskCount       int     `json:"low_risk_count"`
	AvgProbability     float64 `json:"avg_churn_probability"`
	HighRiskPercentage float64 `json:"high_risk_percentage"`
}

// Predict scores every row of X. Row order is preserved. clf must already be
// bound to X's column layout (see model.Bind).
func Predict(ctx context.Context, clf model.Classifier, X [][]float64) (*Result, error) {
	if clf == nil {
		return nil, model.ErrModelUnavailable
	}
	if w := clf.NumFeatures(); w > 0 && len(X) > 0 && len(X[0]) != w {
		return nil, fmt.Errorf("classifier expects %d features, matrix has %d: %w", w, len(X[0]), model.ErrModelIncompatible)
	}
	res := &Result{
		Probabilities: make([]float64, 0, len(X)),
		Classes:       make([]int, 0, len(X)),
	}
	for start := 0; start < len(X); start += batchRows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + batchRows
		if end > len(X) {
			end = len(X)
		}
		proba, err := clf.PredictProba(X[start:end])
		if err != nil {
			return nil, fmt.Errorf("predict rows %d-%d: %w", start, end-1, err)
		}
		if len(proba) != end-start {
			return nil, fmt.Errorf("classifier returned %d rows for %d: %w", len(proba), end-start, model.ErrModelIncompatible)
		}
		for i, p := range proba {
			hi := p[1]
			if math.IsNaN(hi) || hi < 0 || hi > 1 {
				return nil, fmt.Errorf("row %d: probability %v outside [0,1]: %w", start+i, hi, model.ErrModelIncompatible)
			}
			res.Probabilities = append(res.Probabilities, hi)
			res.Classes = append(res.Classes, Class(hi))
		}
	}
	return res, nil
}

// Class is 1 exactly when the high-risk probability is at least one half.
func Class(p float64) int {
	if p >= 0.5 {
		return 1
	}
	return 0
}

// Summarize computes counts and averages over r.
func Summarize(r *Result) Summary {
	s := Summary{Total: len(r.Classes)}
	if s.Total == 0 {
		return s
	}
	for _, c := range r.Classes {
		if c == 1 {
			s.HighRiskCount++
		}
	}
	s.LowRiskCount = s.Total - s.HighRiskCount
	pct := make(stats.Float64Data, len(r.Probabilities))
	for i, p := range r.Probabilities {
		pct[i] = p * 100
	}
	mean, _ := pct.Mean()
	s.AvgProbability = Round2(mean)
	s.HighRiskPercentage = Round2(float64(s.HighRiskCount) / float64(s.Total) * 100)
	return s
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	r, err := stats.Round(v, 2)
	if err != nil {
		return v
	}
	return r
}
