// Package optim updates model parameters from their accumulated gradients.
// SGD and Adam both satisfy trainer.Optimizer.
package optim

import (
	"github.com/pkg/errors"

	"holdout-forge/internal/model"
)

// ErrGradientsNotCleared is returned by Step when ZeroGrad was not called
// since the previous Step, so the gradients would mix two batches.
var ErrGradientsNotCleared = errors.New("optim: step on gradients not cleared since the previous step")

// guard tracks whether gradients were cleared between steps.
type guard struct {
	params  []*model.Param
	stepped bool
}

func (g *guard) ZeroGrad() {
	for _, p := range g.params {
		p.Grad.Zero()
	}
	g.stepped = false
}

func (g *guard) begin() error {
	if g.stepped {
		return ErrGradientsNotCleared
	}
	g.stepped = true
	return nil
}

func checkParams(params []*model.Param, lr float64) error {
	if len(params) == 0 {
		return errors.New("optim: no parameters")
	}
	if lr <= 0 {
		return errors.Errorf("optim: learning rate must be > 0 (got %g)", lr)
	}
	return nil
}
