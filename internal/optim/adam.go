package optim

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"holdout-forge/internal/model"
)

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

// Adam is the adaptive moment estimation optimizer.
type Adam struct {
	guard
	LR   float64
	m, v []*mat.Dense
	t    int
}

// NewAdam creates an Adam optimizer over params with the usual betas.
func NewAdam(params []*model.Param, lr float64) (*Adam, error) {
	if err := checkParams(params, lr); err != nil {
		return nil, err
	}
	a := &Adam{guard: guard{params: params}, LR: lr}
	a.m = make([]*mat.Dense, len(params))
	a.v = make([]*mat.Dense, len(params))
	for i, p := range params {
		r, c := p.Value.Dims()
		a.m[i] = mat.NewDense(r, c, nil)
		a.v[i] = mat.NewDense(r, c, nil)
	}
	return a, nil
}

// Step applies one bias-corrected update using the current gradients.
func (a *Adam) Step() error {
	if err := a.begin(); err != nil {
		return err
	}
	a.t++
	bc1 := 1 - math.Pow(adamBeta1, float64(a.t))
	bc2 := 1 - math.Pow(adamBeta2, float64(a.t))
	for i, p := range a.params {
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		m := a.m[i].RawMatrix().Data
		v := a.v[i].RawMatrix().Data
		for j := range w {
			m[j] = adamBeta1*m[j] + (1-adamBeta1)*g[j]
			v[j] = adamBeta2*v[j] + (1-adamBeta2)*g[j]*g[j]
			w[j] -= a.LR * (m[j] / bc1) / (math.Sqrt(v[j]/bc2) + adamEpsilon)
		}
	}
	return nil
}
