package model

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Batch represents a minibatch of features and labels.
type Batch struct {
	Inputs [][]float64
	Labels []int
}

// Len returns the number of examples in the batch.
func (b Batch) Len() int {
	return len(b.Inputs)
}

// Matrix packs the inputs into a rows=examples, cols=features matrix.
func (b Batch) Matrix() (*mat.Dense, error) {
	if len(b.Labels) != len(b.Inputs) {
		return nil, errors.Errorf("model: batch has %d inputs but %d labels", len(b.Inputs), len(b.Labels))
	}
	return Matrix(b.Inputs)
}

// Matrix packs equal-length feature vectors into a matrix, one per row.
func Matrix(inputs [][]float64) (*mat.Dense, error) {
	if len(inputs) == 0 {
		return nil, errors.New("model: no inputs")
	}
	cols := len(inputs[0])
	if cols == 0 {
		return nil, errors.New("model: inputs have no features")
	}
	data := make([]float64, 0, len(inputs)*cols)
	for i, row := range inputs {
		if len(row) != cols {
			return nil, errors.Errorf("model: input %d has %d features, want %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(inputs), cols, data), nil
}

// Mode selects whether regularization such as dropout is active.
type Mode int

const (
	Train Mode = iota
	Eval
)

func (m Mode) String() string {
	switch m {
	case Train:
		return "train"
	case Eval:
		return "eval"
	default:
		return "unknown"
	}
}

// Param is one weight or bias matrix together with its gradient accumulator.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

func newParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// Model is a differentiable classifier producing per-class log-probabilities.
//
// Backward adds the gradients for the most recent Forward call to each
// Param.Grad. Gradients are never cleared by the model itself.
type Model interface {
	Forward(x *mat.Dense) (*mat.Dense, error)
	Backward(grad *mat.Dense) error
	Params() []*Param
	SetMode(m Mode)
	Mode() Mode
}

// GradTracker is implemented by models that can skip caching activations
// for the backward pass.
type GradTracker interface {
	SetGradEnabled(enabled bool) (prev bool)
}

// NoGrad disables gradient tracking on m if supported and returns a func
// that restores the previous setting.
func NoGrad(m Model) (restore func()) {
	gt, ok := m.(GradTracker)
	if !ok {
		return func() {}
	}
	prev := gt.SetGradEnabled(false)
	return func() { gt.SetGradEnabled(prev) }
}
