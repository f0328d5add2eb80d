package model

// Logistic is a binary logistic regression: P(high) = sigmoid(w·x + b).
type Logistic struct {
	Weights []float64
	Bias    float64
	Names   []string
}

// NewLogistic builds a logistic classifier. names may be nil.
func NewLogistic(weights []float64, bias float64, names []string) *Logistic {
	return &Logistic{Weights: weights, Bias: bias, Names: names}
}

func (m *Logistic) NumFeatures() int  { return len(m.Weights) }
func (m *Logistic) Features() []string { return m.Names }

func (m *Logistic) PredictProba(X [][]float64) ([][2]float64, error) {
	return scoreRows(X, len(m.Weights), func(row []float64) float64 {
		sum := m.Bias
		for j, v := range row {
			sum += m.Weights[j] * v
		}
		return sum
	})
}
