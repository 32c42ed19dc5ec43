package trainer

import (
	"context"
	"io"
	"log"
	"math"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"holdout-forge/internal/dataset"
	"holdout-forge/internal/metrics"
	"holdout-forge/internal/model"
)

const defaultLogEvery = 50

// ErrEmptyLoader is returned when a split yields no batches in a pass.
var ErrEmptyLoader = errors.New("loader yielded no batches")

// Loss computes the mean loss of a batch and its gradient with respect to
// the predictions.
type Loss interface {
	Forward(pred *mat.Dense, labels []int) (float64, *mat.Dense, error)
}

// Optimizer clears and applies parameter gradients.
type Optimizer interface {
	ZeroGrad()
	Step() error
}

// RunConfig captures the collaborators and knobs required by the training
// loop. LogEvery is the number of training batches between progress lines.
type RunConfig struct {
	Model     model.Model
	Loss      Loss
	Optimizer Optimizer
	Train     dataset.Loader
	Valid     dataset.Loader
	Epochs    int
	LogEvery  int
	Reporter  Reporter
}

func (c *RunConfig) validate() error {
	switch {
	case c.Model == nil:
		return errors.New("trainer: model is required")
	case c.Loss == nil:
		return errors.New("trainer: loss is required")
	case c.Optimizer == nil:
		return errors.New("trainer: optimizer is required")
	case c.Train == nil || c.Valid == nil:
		return errors.New("trainer: training and validation loaders are required")
	case c.Epochs <= 0:
		return errors.New("trainer: epochs must be > 0")
	}
	if c.LogEvery <= 0 {
		c.LogEvery = defaultLogEvery
	}
	return nil
}

// Run trains for cfg.Epochs epochs, validating after each one, and returns
// the per-epoch reports gathered so far. Any collaborator error aborts the
// run and is returned as is.
func Run(ctx context.Context, cfg RunConfig) ([]metrics.Epoch, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	history := make([]metrics.Epoch, 0, cfg.Epochs)
	var run metrics.Running
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return history, err
		}
		start := time.Now()
		run.Reset()

		if err := TrainEpoch(ctx, cfg, &run); err != nil {
			return history, err
		}
		if err := Validate(ctx, cfg.Model, cfg.Loss, cfg.Valid, &run); err != nil {
			return history, err
		}

		report := run.Finalize(epoch, time.Since(start))
		history = append(history, report)
		if cfg.Reporter != nil {
			if err := cfg.Reporter.Report(report); err != nil {
				return history, errors.Wrapf(err, "trainer: report epoch %d", epoch)
			}
		}
	}
	return history, nil
}

// TrainEpoch runs one optimization pass over cfg.Train in Train mode and
// records each batch loss in run.
func TrainEpoch(ctx context.Context, cfg RunConfig, run *metrics.Running) error {
	logEvery := cfg.LogEvery
	if logEvery <= 0 {
		logEvery = defaultLogEvery
	}
	cfg.Model.SetMode(model.Train)

	it, err := cfg.Train.Iterate(ctx)
	if err != nil {
		return err
	}
	defer it.Close()

	before := run.TrainBatches()
	var window metrics.Window
	for {
		startData := time.Now()
		batch, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		loss, err := trainStep(cfg.Model, cfg.Loss, cfg.Optimizer, batch)
		if err != nil {
			return err
		}
		run.AddTrain(loss)
		window.Record(batch.Len(), dataTime, time.Since(startCompute), loss)

		if n := run.TrainBatches() - before; n%logEvery == 0 {
			log.Printf("batch=%d %s", n, window.Snapshot())
		}
	}
	if run.TrainBatches() == before {
		return errors.Wrap(ErrEmptyLoader, "trainer: training split")
	}
	return nil
}

// trainStep clears the gradients, then runs forward, loss, backward and
// one optimizer update for batch.
func trainStep(m model.Model, lossFn Loss, opt Optimizer, batch model.Batch) (float64, error) {
	x, err := batch.Matrix()
	if err != nil {
		return 0, err
	}
	opt.ZeroGrad()
	pred, err := m.Forward(x)
	if err != nil {
		return 0, err
	}
	loss, grad, err := lossFn.Forward(pred, batch.Labels)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(loss) || loss < 0 {
		return 0, errors.Errorf("trainer: invalid batch loss %g", loss)
	}
	if err := m.Backward(grad); err != nil {
		return 0, err
	}
	if err := opt.Step(); err != nil {
		return 0, err
	}
	return loss, nil
}

// Validate runs a no-gradient pass over loader in Eval mode and records each
// batch loss and correct count in run. The model is always left in Train
// mode with gradient tracking restored.
func Validate(ctx context.Context, m model.Model, lossFn Loss, loader dataset.Loader, run *metrics.Running) error {
	restoreGrad := model.NoGrad(m)
	defer restoreGrad()
	m.SetMode(model.Eval)
	defer m.SetMode(model.Train)

	it, err := loader.Iterate(ctx)
	if err != nil {
		return err
	}
	defer it.Close()

	before := run.ValidBatches()
	for {
		batch, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		x, err := batch.Matrix()
		if err != nil {
			return err
		}
		pred, err := m.Forward(x)
		if err != nil {
			return err
		}
		loss, _, err := lossFn.Forward(pred, batch.Labels)
		if err != nil {
			return err
		}
		top := metrics.TopClass(pred)
		labels := metrics.LabelColumn(batch.Labels)
		correct, err := metrics.CountCorrect(top, labels)
		if err != nil {
			return err
		}
		run.AddValid(loss, correct, batch.Len())
	}
	if run.ValidBatches() == before {
		return errors.Wrap(ErrEmptyLoader, "trainer: validation split")
	}
	return nil
}

// Evaluate runs a single validation pass and returns its mean loss and
// accuracy.
func Evaluate(ctx context.Context, m model.Model, lossFn Loss, loader dataset.Loader) (loss, accuracy float64, err error) {
	var run metrics.Running
	if err := Validate(ctx, m, lossFn, loader, &run); err != nil {
		return 0, 0, err
	}
	e := run.Finalize(0, 0)
	return e.ValidLoss, e.Accuracy, nil
}
