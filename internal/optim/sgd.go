package optim

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"holdout-forge/internal/model"
)

// SGD is stochastic gradient descent with optional momentum.
type SGD struct {
	guard
	LR       float64
	Momentum float64
	velocity []*mat.Dense
}

// NewSGD creates an SGD optimizer over params.
func NewSGD(params []*model.Param, lr, momentum float64) (*SGD, error) {
	if err := checkParams(params, lr); err != nil {
		return nil, err
	}
	if momentum < 0 || momentum >= 1 {
		return nil, errors.Errorf("optim: momentum must be in [0, 1) (got %g)", momentum)
	}
	s := &SGD{guard: guard{params: params}, LR: lr, Momentum: momentum}
	if momentum > 0 {
		s.velocity = make([]*mat.Dense, len(params))
		for i, p := range params {
			r, c := p.Value.Dims()
			s.velocity[i] = mat.NewDense(r, c, nil)
		}
	}
	return s, nil
}

// Step applies one update using the current gradients.
func (s *SGD) Step() error {
	if err := s.begin(); err != nil {
		return err
	}
	for i, p := range s.params {
		update := p.Grad
		if s.velocity != nil {
			v := s.velocity[i]
			v.Scale(s.Momentum, v)
			v.Add(v, p.Grad)
			update = v
		}
		var delta mat.Dense
		delta.Scale(s.LR, update)
		p.Value.Sub(p.Value, &delta)
	}
	return nil
}
