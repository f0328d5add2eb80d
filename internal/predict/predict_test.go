package predict

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/churnlens/internal/model"
)

type fixed [][2]float64

func (f fixed) NumFeatures() int { return 0 }
func (f fixed) PredictProba(X [][]float64) ([][2]float64, error) {
	return f[:len(X)], nil
}

func TestPredictClassThreshold(t *testing.T) {
	clf := fixed{{0.5, 0.5}, {0.51, 0.49}, {0, 1}, {1, 0}}
	X := make([][]float64, 4)
	for i := range X {
		X[i] = []float64{0}
	}
	res, err := Predict(context.Background(), clf, X)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 1, 0}, res.Classes)
	assert.Equal(t, LabelHigh, res.Label(0))
	assert.Equal(t, LabelLow, res.Label(1))
	assert.Equal(t, 49.0, res.Percent(1))
}

func TestClassIffProbabilityProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	weights := []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
	clf := model.NewLogistic(weights, rng.NormFloat64(), nil)
	for iter := 0; iter < 50; iter++ {
		n := 1 + rng.Intn(300)
		X := make([][]float64, n)
		for i := range X {
			X[i] = []float64{rng.NormFloat64() * 3, rng.NormFloat64(), rng.Float64()}
		}
		res, err := Predict(context.Background(), clf, X)
		require.NoError(t, err)
		require.Len(t, res.Probabilities, n)
		for i, p := range res.Probabilities {
			if (res.Classes[i] == 1) != (p >= 0.5) {
				t.Fatalf("row %d: class %d for probability %v", i, res.Classes[i], p)
			}
		}
		s := Summarize(res)
		assert.Equal(t, n, s.Total)
		assert.Equal(t, s.Total, s.HighRiskCount+s.LowRiskCount)
		assert.LessOrEqual(t, s.AvgProbability, 100.0)
		assert.GreaterOrEqual(t, s.AvgProbability, 0.0)
	}
}

func TestSummarize(t *testing.T) {
	res := &Result{
		Probabilities: []float64{0.9, 0.2, 0.6},
		Classes:       []int{1, 0, 1},
	}
	s := Summarize(res)
	assert.Equal(t, Summary{
		Total:              3,
		HighRiskCount:      2,
		LowRiskCount:       1,
		AvgProbability:     56.67,
		HighRiskPercentage: 66.67,
	}, s)
	assert.Equal(t, Summary{}, Summarize(&Result{}))
}

func TestPredictErrors(t *testing.T) {
	ctx := context.Background()
	_, err := Predict(ctx, nil, [][]float64{{1}})
	require.ErrorIs(t, err, model.ErrModelUnavailable)

	_, err = Predict(ctx, model.NewLogistic([]float64{1, 2}, 0, nil), [][]float64{{1, 2, 3}})
	require.ErrorIs(t, err, model.ErrModelIncompatible)

	bad := fixed{{0, 1.5}}
	_, err = Predict(ctx, bad, [][]float64{{1}})
	require.ErrorIs(t, err, model.ErrModelIncompatible)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Predict(cancelled, model.NewLogistic([]float64{1}, 0, nil), [][]float64{{1}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 12.35, Round2(12.3456))
	assert.Equal(t, 0.0, Round2(0.001))
	assert.Equal(t, 100.0, Round2(99.999))
}
