package model

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var errNoForward = errors.New("model: backward called without a tracked forward pass")

// layer is one stage of the network. forward caches what backward needs only
// when track is set; backward consumes that cache.
type layer interface {
	forward(x *mat.Dense, mode Mode, track bool) (*mat.Dense, error)
	backward(grad *mat.Dense) (*mat.Dense, error)
	params() []*Param
}

// linear computes x*W + b with W shaped in x out.
type linear struct {
	w, b  *Param
	input *mat.Dense
}

func newLinear(name string, in, out int, rng *rand.Rand) *linear {
	l := &linear{
		w: newParam(name+".weight", in, out),
		b: newParam(name+".bias", 1, out),
	}
	bound := 1 / math.Sqrt(float64(in))
	uniform := func(_, _ int, _ float64) float64 {
		return (rng.Float64()*2 - 1) * bound
	}
	l.w.Value.Apply(uniform, l.w.Value)
	l.b.Value.Apply(uniform, l.b.Value)
	return l
}

func (l *linear) forward(x *mat.Dense, _ Mode, track bool) (*mat.Dense, error) {
	rows, cols := x.Dims()
	in, out := l.w.Value.Dims()
	if cols != in {
		return nil, errors.Errorf("model: %s expects %d features, got %d", l.w.Name, in, cols)
	}
	y := mat.NewDense(rows, out, nil)
	y.Mul(x, l.w.Value)
	bias := l.b.Value.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(y.RawRowView(i), bias)
	}
	l.input = nil
	if track {
		l.input = x
	}
	return y, nil
}

func (l *linear) backward(grad *mat.Dense) (*mat.Dense, error) {
	if l.input == nil {
		return nil, errNoForward
	}
	var dw mat.Dense
	dw.Mul(l.input.T(), grad)
	l.w.Grad.Add(l.w.Grad, &dw)

	db := l.b.Grad.RawRowView(0)
	rows, _ := grad.Dims()
	for i := 0; i < rows; i++ {
		floats.Add(db, grad.RawRowView(i))
	}

	var dx mat.Dense
	dx.Mul(grad, l.w.Value.T())
	l.input = nil
	return &dx, nil
}

func (l *linear) params() []*Param { return []*Param{l.w, l.b} }

type relu struct {
	input *mat.Dense
}

func (r *relu) forward(x *mat.Dense, _ Mode, track bool) (*mat.Dense, error) {
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 {
		return math.Max(0, v)
	}, x)
	r.input = nil
	if track {
		r.input = x
	}
	return &y, nil
}

func (r *relu) backward(grad *mat.Dense) (*mat.Dense, error) {
	if r.input == nil {
		return nil, errNoForward
	}
	in := r.input
	var dx mat.Dense
	dx.Apply(func(i, j int, g float64) float64 {
		if in.At(i, j) > 0 {
			return g
		}
		return 0
	}, grad)
	r.input = nil
	return &dx, nil
}

func (r *relu) params() []*Param { return nil }

// dropout zeroes each unit with probability p in Train mode and scales the
// survivors by 1/(1-p). In Eval mode it is the identity.
type dropout struct {
	p     float64
	rng   *rand.Rand
	mask  *mat.Dense
	ready bool
}

func (d *dropout) forward(x *mat.Dense, mode Mode, track bool) (*mat.Dense, error) {
	d.mask = nil
	d.ready = track
	if mode != Train || d.p == 0 {
		return x, nil
	}
	rows, cols := x.Dims()
	scale := 1 / (1 - d.p)
	mask := mat.NewDense(rows, cols, nil)
	mask.Apply(func(_, _ int, _ float64) float64 {
		if d.rng.Float64() < d.p {
			return 0
		}
		return scale
	}, mask)
	var y mat.Dense
	y.MulElem(x, mask)
	if track {
		d.mask = mask
	}
	return &y, nil
}

func (d *dropout) backward(grad *mat.Dense) (*mat.Dense, error) {
	if !d.ready {
		return nil, errNoForward
	}
	d.ready = false
	if d.mask == nil {
		return grad, nil
	}
	var dx mat.Dense
	dx.MulElem(grad, d.mask)
	d.mask = nil
	return &dx, nil
}

func (d *dropout) params() []*Param { return nil }

// logSoftmax normalizes each row into log-probabilities.
type logSoftmax struct {
	output *mat.Dense
}

func (s *logSoftmax) forward(x *mat.Dense, _ Mode, track bool) (*mat.Dense, error) {
	rows, cols := x.Dims()
	y := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		in := x.RawRowView(i)
		out := y.RawRowView(i)
		copy(out, in)
		floats.AddConst(-floats.LogSumExp(in), out)
	}
	s.output = nil
	if track {
		s.output = y
	}
	return y, nil
}

func (s *logSoftmax) backward(grad *mat.Dense) (*mat.Dense, error) {
	if s.output == nil {
		return nil, errNoForward
	}
	rows, cols := grad.Dims()
	dx := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		g := grad.RawRowView(i)
		y := s.output.RawRowView(i)
		sum := floats.Sum(g)
		row := dx.RawRowView(i)
		for j := range row {
			row[j] = g[j] - math.Exp(y[j])*sum
		}
	}
	s.output = nil
	return dx, nil
}

func (s *logSoftmax) params() []*Param { return nil }
