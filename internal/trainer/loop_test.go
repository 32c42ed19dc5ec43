package trainer

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"gonum.org/v1/gonum/mat"

	"holdout-forge/internal/dataset"
	"holdout-forge/internal/loss"
	"holdout-forge/internal/metrics"
	"holdout-forge/internal/model"
	"holdout-forge/internal/optim"
)

func TestRunAveragesTrainingLoss(t *testing.T) {
	var calls callLog
	cfg := RunConfig{
		Model:     newStubModel(&calls, 2),
		Loss:      &stubLoss{calls: &calls, losses: []float64{1, 2, 3, 0.5}},
		Optimizer: &stubOptimizer{calls: &calls},
		Train:     constLoader(6, 3, 2, 2),
		Valid:     constLoader(2, 3, 2, 2),
		Epochs:    1,
	}
	history, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("got %d epochs, want 1", len(history))
	}
	if history[0].TrainLoss != 2.0 {
		t.Fatalf("train loss %f want 2.0", history[0].TrainLoss)
	}
	if history[0].ValidLoss != 0.5 {
		t.Fatalf("valid loss %f want 0.5", history[0].ValidLoss)
	}
	if history[0].TrainBatches != 3 || history[0].ValidBatches != 1 {
		t.Fatalf("unexpected batch counts %+v", history[0])
	}
}

func TestTrainStepClearsGradientsBeforeEveryBatch(t *testing.T) {
	var calls callLog
	cfg := RunConfig{
		Model:     newStubModel(&calls, 2),
		Loss:      &stubLoss{calls: &calls, losses: []float64{1}},
		Optimizer: &stubOptimizer{calls: &calls},
		Train:     constLoader(4, 3, 2, 2),
	}
	var run metrics.Running
	if err := TrainEpoch(context.Background(), cfg, &run); err != nil {
		t.Fatalf("TrainEpoch: %v", err)
	}
	step := []string{"zero", "forward", "loss", "backward", "step"}
	want := append(append([]string(nil), step...), step...)
	if !reflect.DeepEqual([]string(calls), want) {
		t.Fatalf("calls %v\nwant  %v", calls, want)
	}
}

// skipZero forwards Step but drops ZeroGrad.
type skipZero struct {
	*optim.SGD
}

func (skipZero) ZeroGrad() {}

func TestRunDetectsSkippedGradientClear(t *testing.T) {
	m, err := model.NewMLP(model.MLPConfig{Inputs: 3, Hidden: []int{4}, Classes: 2, Seed: 1})
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	sgd, err := optim.NewSGD(m.Params(), 0.1, 0)
	if err != nil {
		t.Fatalf("NewSGD: %v", err)
	}
	cfg := RunConfig{
		Model:     m,
		Loss:      loss.NLL{},
		Optimizer: skipZero{sgd},
		Train:     constLoader(4, 3, 2, 2),
		Valid:     constLoader(2, 3, 2, 2),
		Epochs:    1,
	}
	_, err = Run(context.Background(), cfg)
	if !errors.Is(err, optim.ErrGradientsNotCleared) {
		t.Fatalf("got %v, want ErrGradientsNotCleared", err)
	}

	cfg.Optimizer = sgd
	if _, err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run with gradient clearing: %v", err)
	}
}

func TestValidateRunsInEvalModeWithoutGradients(t *testing.T) {
	var calls callLog
	m := newStubModel(&calls, 2)
	var run metrics.Running
	if err := Validate(context.Background(), m, &stubLoss{calls: &calls}, constLoader(4, 3, 2, 2), &run); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for i := range m.seenModes {
		if m.seenModes[i] != model.Eval || m.seenGrad[i] {
			t.Fatalf("forward %d ran with mode=%s grad=%v", i, m.seenModes[i], m.seenGrad[i])
		}
	}
	if m.Mode() != model.Train || !m.grad {
		t.Fatalf("after Validate mode=%s grad=%v, want train with gradients", m.Mode(), m.grad)
	}
}

func TestValidateRestoresTrainModeOnLossError(t *testing.T) {
	var calls callLog
	m := newStubModel(&calls, 2)
	lossFn := &stubLoss{calls: &calls, failAt: 2, err: errStub}
	var run metrics.Running
	err := Validate(context.Background(), m, lossFn, constLoader(6, 3, 2, 2), &run)
	if err != errStub {
		t.Fatalf("got %v, want the loss error unchanged", err)
	}
	if m.Mode() != model.Train {
		t.Fatalf("mode after failed validation = %s, want train", m.Mode())
	}
	if !m.grad {
		t.Fatal("gradient tracking not restored after failed validation")
	}
}

func TestValidateRestoresTrainModeOnForwardError(t *testing.T) {
	var calls callLog
	m := newStubModel(&calls, 2)
	m.forwardErr = errStub
	var run metrics.Running
	err := Validate(context.Background(), m, &stubLoss{calls: &calls}, constLoader(2, 3, 2, 2), &run)
	if err != errStub {
		t.Fatalf("got %v, want the forward error unchanged", err)
	}
	if m.Mode() != model.Train {
		t.Fatalf("mode = %s, want train", m.Mode())
	}
}

func TestValidateHandBuiltAccuracy(t *testing.T) {
	var calls callLog
	m := newStubModel(&calls, 2)
	m.scores = mat.NewDense(2, 2, []float64{0.1, 0.9, 0.8, 0.2})
	loader, err := dataset.NewMemoryLoader([]dataset.Example{
		{Features: []float64{0}, Label: 1},
		{Features: []float64{0}, Label: 1},
	}, 2, false, 1)
	if err != nil {
		t.Fatalf("NewMemoryLoader: %v", err)
	}
	_, acc, err := Evaluate(context.Background(), m, &stubLoss{calls: &calls}, loader)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if acc != 0.5 {
		t.Fatalf("accuracy %f want 0.5", acc)
	}
}

func TestValidateIsIdempotentOnFrozenModel(t *testing.T) {
	m, err := model.NewMLP(model.MLPConfig{Inputs: 6, Hidden: []int{16, 8}, Classes: 3, Dropout: 0.5, Seed: 4})
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	examples := dataset.Gaussian(dataset.GaussianConfig{Examples: 30, Features: 6, Classes: 3, Seed: 2})
	loader, err := dataset.NewMemoryLoader(examples, 30, false, 1)
	if err != nil {
		t.Fatalf("NewMemoryLoader: %v", err)
	}
	loss1, acc1, err := Evaluate(context.Background(), m, loss.NLL{}, loader)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	loss2, acc2, err := Evaluate(context.Background(), m, loss.NLL{}, loader)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if loss1 != loss2 || acc1 != acc2 {
		t.Fatalf("validation not idempotent: (%f, %f) vs (%f, %f)", loss1, acc1, loss2, acc2)
	}
}

func TestUntrainedAccuracyNearChance(t *testing.T) {
	const classes = 10
	m, err := model.NewMLP(model.MLPConfig{Inputs: 20, Hidden: []int{32}, Classes: classes, Dropout: 0.2, Seed: 5})
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	rng := rand.New(rand.NewSource(8))
	examples := make([]dataset.Example, 2000)
	for i := range examples {
		features := make([]float64, 20)
		for j := range features {
			features[j] = rng.NormFloat64()
		}
		examples[i] = dataset.Example{Features: features, Label: i % classes}
	}
	loader, err := dataset.NewMemoryLoader(examples, 100, false, 1)
	if err != nil {
		t.Fatalf("NewMemoryLoader: %v", err)
	}
	_, acc, err := Evaluate(context.Background(), m, loss.NLL{}, loader)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if acc < 0.05 || acc > 0.20 {
		t.Fatalf("untrained accuracy %f outside [0.05, 0.20]", acc)
	}
}

func TestRunLearnsSeparableClusters(t *testing.T) {
	examples := dataset.Gaussian(dataset.GaussianConfig{Examples: 600, Features: 8, Classes: 4, Spread: 0.5, Seed: 3})
	trainSet, validSet := dataset.Split(examples, 0.25, 1)
	train, err := dataset.NewMemoryLoader(trainSet, 32, true, 1)
	if err != nil {
		t.Fatalf("NewMemoryLoader: %v", err)
	}
	valid, err := dataset.NewMemoryLoader(validSet, 64, false, 1)
	if err != nil {
		t.Fatalf("NewMemoryLoader: %v", err)
	}
	m, err := model.NewMLP(model.MLPConfig{Inputs: 8, Hidden: []int{32, 16}, Classes: 4, Dropout: 0.2, Seed: 1})
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	adam, err := optim.NewAdam(m.Params(), 0.01)
	if err != nil {
		t.Fatalf("NewAdam: %v", err)
	}
	var reported []metrics.Epoch
	history, err := Run(context.Background(), RunConfig{
		Model:     m,
		Loss:      loss.NLL{},
		Optimizer: adam,
		Train:     train,
		Valid:     valid,
		Epochs:    6,
		Reporter: ReporterFunc(func(e metrics.Epoch) error {
			reported = append(reported, e)
			return nil
		}),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(history, reported) {
		t.Fatal("reporter did not see every epoch")
	}
	first, last := history[0], history[len(history)-1]
	if last.TrainLoss >= first.TrainLoss {
		t.Fatalf("training loss did not fall: %f -> %f", first.TrainLoss, last.TrainLoss)
	}
	if last.Accuracy < 0.8 {
		t.Fatalf("final accuracy %f, want >= 0.8", last.Accuracy)
	}
	for _, e := range history {
		if e.TrainLoss < 0 || math.IsNaN(e.TrainLoss) {
			t.Fatalf("epoch %d train loss %f", e.Epoch, e.TrainLoss)
		}
	}
	if m.Mode() != model.Train {
		t.Fatalf("mode after Run = %s, want train", m.Mode())
	}
}

func TestRunFailsFastOnEmptyLoader(t *testing.T) {
	var calls callLog
	base := RunConfig{
		Model:     newStubModel(&calls, 2),
		Loss:      &stubLoss{calls: &calls},
		Optimizer: &stubOptimizer{calls: &calls},
		Epochs:    2,
	}

	cfg := base
	cfg.Train = constLoader(0, 3, 2, 2)
	cfg.Valid = constLoader(2, 3, 2, 2)
	if _, err := Run(context.Background(), cfg); !errors.Is(err, ErrEmptyLoader) {
		t.Fatalf("empty training split: got %v, want ErrEmptyLoader", err)
	}

	cfg = base
	cfg.Train = constLoader(2, 3, 2, 2)
	cfg.Valid = constLoader(0, 3, 2, 2)
	history, err := Run(context.Background(), cfg)
	if !errors.Is(err, ErrEmptyLoader) {
		t.Fatalf("empty validation split: got %v, want ErrEmptyLoader", err)
	}
	if len(history) != 0 {
		t.Fatalf("got %d reports before failure, want 0", len(history))
	}
}

func TestRunReturnsDelegatedErrorUnchanged(t *testing.T) {
	var calls callLog
	m := newStubModel(&calls, 2)
	m.forwardErr = errStub
	_, err := Run(context.Background(), RunConfig{
		Model:     m,
		Loss:      &stubLoss{calls: &calls},
		Optimizer: &stubOptimizer{calls: &calls},
		Train:     constLoader(2, 3, 2, 2),
		Valid:     constLoader(2, 3, 2, 2),
		Epochs:    1,
	})
	if err != errStub {
		t.Fatalf("got %v, want errStub unchanged", err)
	}
}

func TestRunRejectsNegativeLoss(t *testing.T) {
	var calls callLog
	_, err := Run(context.Background(), RunConfig{
		Model:     newStubModel(&calls, 2),
		Loss:      &stubLoss{calls: &calls, losses: []float64{-1}},
		Optimizer: &stubOptimizer{calls: &calls},
		Train:     constLoader(2, 3, 2, 2),
		Valid:     constLoader(2, 3, 2, 2),
		Epochs:    1,
	})
	if err == nil {
		t.Fatal("expected error for negative batch loss")
	}
}

func TestRunStopsBetweenEpochsOnCancel(t *testing.T) {
	var calls callLog
	ctx, cancel := context.WithCancel(context.Background())
	epochs := 0
	history, err := Run(ctx, RunConfig{
		Model:     newStubModel(&calls, 2),
		Loss:      &stubLoss{calls: &calls, losses: []float64{1}},
		Optimizer: &stubOptimizer{calls: &calls},
		Train:     constLoader(2, 3, 2, 2),
		Valid:     constLoader(2, 3, 2, 2),
		Epochs:    5,
		Reporter: ReporterFunc(func(metrics.Epoch) error {
			epochs++
			cancel()
			return nil
		}),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if len(history) != 1 || epochs != 1 {
		t.Fatalf("ran %d epochs (%d reported), want 1", len(history), epochs)
	}
}

func TestRunValidatesConfig(t *testing.T) {
	if _, err := Run(context.Background(), RunConfig{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestMultiReporterStopsAtFirstError(t *testing.T) {
	var seen []string
	r := MultiReporter{
		ReporterFunc(func(metrics.Epoch) error { seen = append(seen, "a"); return errStub }),
		ReporterFunc(func(metrics.Epoch) error { seen = append(seen, "b"); return nil }),
	}
	if err := r.Report(metrics.Epoch{}); err != errStub {
		t.Fatalf("got %v, want errStub", err)
	}
	if !reflect.DeepEqual(seen, []string{"a"}) {
		t.Fatalf("reporters called %v", seen)
	}
	if err := (LogReporter{Epochs: 1}).Report(metrics.Epoch{Epoch: 1}); err != nil {
		t.Fatalf("LogReporter: %v", err)
	}
}
