package model

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// MLPConfig describes a feed-forward classifier.
type MLPConfig struct {
	Inputs  int
	Hidden  []int
	Classes int
	// Dropout is the probability of zeroing a hidden unit in Train mode.
	Dropout float64
	Seed    int64
}

// MLP is a stack of Linear, ReLU and Dropout blocks followed by a Linear
// output layer and LogSoftmax.
type MLP struct {
	cfg    MLPConfig
	layers []layer
	params []*Param
	mode   Mode
	grad   bool
}

// NewMLP constructs the network with seeded uniform initialization.
func NewMLP(cfg MLPConfig) (*MLP, error) {
	if cfg.Inputs <= 0 {
		return nil, errors.Errorf("model: inputs must be > 0 (got %d)", cfg.Inputs)
	}
	if cfg.Classes < 2 {
		return nil, errors.Errorf("model: classes must be >= 2 (got %d)", cfg.Classes)
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return nil, errors.Errorf("model: dropout must be in [0, 1) (got %g)", cfg.Dropout)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	m := &MLP{cfg: cfg, mode: Train, grad: true}

	in := cfg.Inputs
	for i, width := range cfg.Hidden {
		if width <= 0 {
			return nil, errors.Errorf("model: hidden layer %d width must be > 0 (got %d)", i, width)
		}
		m.layers = append(m.layers, newLinear(fmt.Sprintf("fc%d", i+1), in, width, rng), &relu{})
		if cfg.Dropout > 0 {
			m.layers = append(m.layers, &dropout{p: cfg.Dropout, rng: rand.New(rand.NewSource(rng.Int63()))})
		}
		in = width
	}
	m.layers = append(m.layers, newLinear(fmt.Sprintf("fc%d", len(cfg.Hidden)+1), in, cfg.Classes, rng), &logSoftmax{})

	for _, l := range m.layers {
		m.params = append(m.params, l.params()...)
	}
	return m, nil
}

// Forward returns rows of per-class log-probabilities.
func (m *MLP) Forward(x *mat.Dense) (*mat.Dense, error) {
	out := x
	for _, l := range m.layers {
		var err error
		out, err = l.forward(out, m.mode, m.grad)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Backward propagates grad, the loss gradient w.r.t. the Forward output,
// and adds parameter gradients into each Param.Grad.
func (m *MLP) Backward(grad *mat.Dense) error {
	g := grad
	for i := len(m.layers) - 1; i >= 0; i-- {
		var err error
		g, err = m.layers[i].backward(g)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *MLP) Params() []*Param { return m.params }

func (m *MLP) SetMode(mode Mode) { m.mode = mode }

func (m *MLP) Mode() Mode { return m.mode }

// SetGradEnabled toggles caching of activations for Backward.
func (m *MLP) SetGradEnabled(enabled bool) bool {
	prev := m.grad
	m.grad = enabled
	return prev
}

// Classes returns the width of the output layer.
func (m *MLP) Classes() int { return m.cfg.Classes }

// Inputs returns the expected feature count.
func (m *MLP) Inputs() int { return m.cfg.Inputs }
