package trainer

import (
	"log"
	"time"

	"holdout-forge/internal/metrics"
)

// Reporter receives the result of every epoch.
type Reporter interface {
	Report(e metrics.Epoch) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(e metrics.Epoch) error

func (f ReporterFunc) Report(e metrics.Epoch) error { return f(e) }

// MultiReporter forwards each report to every reporter in order and stops
// at the first error.
type MultiReporter []Reporter

func (m MultiReporter) Report(e metrics.Epoch) error {
	for _, r := range m {
		if err := r.Report(e); err != nil {
			return err
		}
	}
	return nil
}

// LogReporter writes one line per epoch to the standard logger.
type LogReporter struct {
	Epochs int
}

func (l LogReporter) Report(e metrics.Epoch) error {
	log.Printf("epoch=%d/%d train_loss=%.3f valid_loss=%.3f accuracy=%.3f elapsed=%s",
		e.Epoch,
		l.Epochs,
		e.TrainLoss,
		e.ValidLoss,
		e.Accuracy,
		e.Elapsed.Round(time.Millisecond),
	)
	return nil
}
