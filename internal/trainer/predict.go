package trainer

import (
	"math"

	"holdout-forge/internal/metrics"
	"holdout-forge/internal/model"
)

// Prediction is the class distribution of one input.
type Prediction struct {
	Class int
	Probs []float64
}

// Predict classifies inputs in Eval mode without gradient tracking and then
// restores the model's previous mode.
func Predict(m model.Model, inputs [][]float64) ([]Prediction, error) {
	x, err := model.Matrix(inputs)
	if err != nil {
		return nil, err
	}
	prev := m.Mode()
	m.SetMode(model.Eval)
	defer m.SetMode(prev)
	restore := model.NoGrad(m)
	defer restore()

	logProbs, err := m.Forward(x)
	if err != nil {
		return nil, err
	}
	top := metrics.TopClass(logProbs)
	rows, cols := logProbs.Dims()
	out := make([]Prediction, rows)
	for i := range out {
		probs := make([]float64, cols)
		for j := range probs {
			probs[j] = math.Exp(logProbs.At(i, j))
		}
		out[i] = Prediction{Class: int(top.At(i, 0)), Probs: probs}
	}
	return out, nil
}
