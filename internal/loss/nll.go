// Package loss provides differentiable loss functions over model outputs.
package loss

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// NLL is the mean negative log-likelihood of the true class, computed on
// rows of log-probabilities.
type NLL struct{}

// Forward returns the mean loss over the batch and its gradient with respect
// to logProbs.
func (NLL) Forward(logProbs *mat.Dense, labels []int) (float64, *mat.Dense, error) {
	rows, cols := logProbs.Dims()
	if rows != len(labels) {
		return 0, nil, errors.Errorf("loss: %d predictions but %d labels", rows, len(labels))
	}
	if rows == 0 {
		return 0, nil, errors.New("loss: empty batch")
	}
	n := float64(rows)
	grad := mat.NewDense(rows, cols, nil)
	total := 0.0
	for i, label := range labels {
		if label < 0 || label >= cols {
			return 0, nil, errors.Errorf("loss: label %d at row %d outside [0, %d)", label, i, cols)
		}
		lp := logProbs.At(i, label)
		if math.IsNaN(lp) {
			return 0, nil, errors.Errorf("loss: NaN log-probability at row %d", i)
		}
		total -= lp
		grad.Set(i, label, -1/n)
	}
	return total / n, grad, nil
}
