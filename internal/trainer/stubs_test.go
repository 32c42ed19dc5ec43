package trainer

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"holdout-forge/internal/dataset"
	"holdout-forge/internal/model"
)

// callLog records collaborator calls in order.
type callLog []string

func (c *callLog) add(s string) { *c = append(*c, s) }

// stubModel returns fixed scores and records the mode and gradient flag it
// was called under.
type stubModel struct {
	calls      *callLog
	classes    int
	scores     *mat.Dense
	forwardErr error
	mode       model.Mode
	grad       bool
	seenModes  []model.Mode
	seenGrad   []bool
}

func newStubModel(calls *callLog, classes int) *stubModel {
	return &stubModel{calls: calls, classes: classes, grad: true}
}

func (s *stubModel) Forward(x *mat.Dense) (*mat.Dense, error) {
	s.calls.add("forward")
	s.seenModes = append(s.seenModes, s.mode)
	s.seenGrad = append(s.seenGrad, s.grad)
	if s.forwardErr != nil {
		return nil, s.forwardErr
	}
	if s.scores != nil {
		return s.scores, nil
	}
	rows, _ := x.Dims()
	return mat.NewDense(rows, s.classes, nil), nil
}

func (s *stubModel) Backward(*mat.Dense) error {
	s.calls.add("backward")
	return nil
}

func (s *stubModel) Params() []*model.Param { return nil }

func (s *stubModel) SetMode(m model.Mode) { s.mode = m }

func (s *stubModel) Mode() model.Mode { return s.mode }

func (s *stubModel) SetGradEnabled(enabled bool) bool {
	prev := s.grad
	s.grad = enabled
	return prev
}

// stubLoss returns losses in turn and fails on call failAt (1-based).
type stubLoss struct {
	calls  *callLog
	losses []float64
	n      int
	failAt int
	err    error
}

func (s *stubLoss) Forward(pred *mat.Dense, labels []int) (float64, *mat.Dense, error) {
	s.calls.add("loss")
	s.n++
	if s.failAt > 0 && s.n == s.failAt {
		return 0, nil, s.err
	}
	loss := 0.0
	if len(s.losses) > 0 {
		loss = s.losses[(s.n-1)%len(s.losses)]
	}
	rows, cols := pred.Dims()
	return loss, mat.NewDense(rows, cols, nil), nil
}

type stubOptimizer struct {
	calls *callLog
}

func (s *stubOptimizer) ZeroGrad() { s.calls.add("zero") }

func (s *stubOptimizer) Step() error {
	s.calls.add("step")
	return nil
}

var errStub = errors.New("stub failure")

// constLoader builds an unshuffled loader of n examples with the given
// feature width and batch size; labels cycle through classes.
func constLoader(n, features, batchSize, classes int) *dataset.MemoryLoader {
	examples := make([]dataset.Example, n)
	for i := range examples {
		examples[i] = dataset.Example{Features: make([]float64, features), Label: i % classes}
	}
	loader, err := dataset.NewMemoryLoader(examples, batchSize, false, 1)
	if err != nil {
		panic(err)
	}
	return loader
}
