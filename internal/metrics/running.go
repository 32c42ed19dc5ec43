package metrics

import (
	"time"

	"gonum.org/v1/gonum/floats"
)

// Epoch is the per-epoch report of a train/validate run.
type Epoch struct {
	Epoch         int           `json:"epoch"`
	TrainLoss     float64       `json:"train_loss"`
	ValidLoss     float64       `json:"valid_loss"`
	Accuracy      float64       `json:"accuracy"`
	TrainBatches  int           `json:"train_batches"`
	ValidBatches  int           `json:"valid_batches"`
	ValidExamples int           `json:"valid_examples"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Running accumulates the statistics of one epoch.
type Running struct {
	trainLosses []float64
	validLosses []float64
	correct     int
	examples    int
}

// Reset clears the accumulators for a new epoch.
func (r *Running) Reset() {
	r.trainLosses = r.trainLosses[:0]
	r.validLosses = r.validLosses[:0]
	r.correct = 0
	r.examples = 0
}

// AddTrain records the loss of one training batch.
func (r *Running) AddTrain(loss float64) {
	r.trainLosses = append(r.trainLosses, loss)
}

// AddValid records the loss and correct count of one validation batch of n examples.
func (r *Running) AddValid(loss float64, correct, n int) {
	r.validLosses = append(r.validLosses, loss)
	r.correct += correct
	r.examples += n
}

func (r *Running) TrainBatches() int { return len(r.trainLosses) }

func (r *Running) ValidBatches() int { return len(r.validLosses) }

func (r *Running) ValidExamples() int { return r.examples }

// Finalize averages the accumulated values. Empty passes average to zero;
// callers reject them before finalizing.
func (r *Running) Finalize(epoch int, elapsed time.Duration) Epoch {
	e := Epoch{
		Epoch:         epoch,
		TrainBatches:  len(r.trainLosses),
		ValidBatches:  len(r.validLosses),
		ValidExamples: r.examples,
		Elapsed:       elapsed,
	}
	if e.TrainBatches > 0 {
		e.TrainLoss = floats.Sum(r.trainLosses) / float64(e.TrainBatches)
	}
	if e.ValidBatches > 0 {
		e.ValidLoss = floats.Sum(r.validLosses) / float64(e.ValidBatches)
	}
	if r.examples > 0 {
		e.Accuracy = float64(r.correct) / float64(r.examples)
	}
	return e
}
