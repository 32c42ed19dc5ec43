package metrics

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Window collects per-batch timings and losses between two progress lines.
type Window struct {
	examples int
	data     time.Duration
	compute  time.Duration
	losses   []float64
}

// Record adds one training batch to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.examples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.losses = append(w.losses, loss)
}

// Snapshot summarizes the recorded batches and empties the window.
func (w *Window) Snapshot() Snapshot {
	n := len(w.losses)
	if n == 0 {
		*w = Window{}
		return Snapshot{}
	}
	per := func(d time.Duration) float64 {
		return float64(d) / float64(time.Millisecond) / float64(n)
	}
	snap := Snapshot{
		Batches:      n,
		AvgDataMS:    per(w.data),
		AvgComputeMS: per(w.compute),
		AvgLoss:      floats.Sum(w.losses) / float64(n),
		MinLoss:      floats.Min(w.losses),
		MaxLoss:      floats.Max(w.losses),
	}
	if busy := w.data + w.compute; busy > 0 {
		snap.ExamplesPerSec = float64(w.examples) / busy.Seconds()
	}
	*w = Window{losses: w.losses[:0]}
	return snap
}

// Snapshot is the summary of one Window.
type Snapshot struct {
	Batches        int
	ExamplesPerSec float64
	AvgDataMS      float64
	AvgComputeMS   float64
	AvgLoss        float64
	MinLoss        float64
	MaxLoss        float64
}

// String formats the snapshot as key=value pairs for the progress log.
func (s Snapshot) String() string {
	return fmt.Sprintf("batches=%d examples_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.4f loss_min=%.4f loss_max=%.4f",
		s.Batches, s.ExamplesPerSec, s.AvgDataMS, s.AvgComputeMS, s.AvgLoss, s.MinLoss, s.MaxLoss)
}
