// Package chart draws per-epoch loss and accuracy curves.
package chart

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"holdout-forge/internal/metrics"
)

// Kind selects which curves a plot shows.
type Kind string

const (
	Loss     Kind = "loss"
	Accuracy Kind = "accuracy"
)

// Kinds lists every plot a Recorder can draw.
var Kinds = []Kind{Loss, Accuracy}

const (
	defaultWidth  = 6 * vg.Inch
	defaultHeight = 4 * vg.Inch
)

// Recorder accumulates epoch reports and renders them as line plots. It is
// safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	epochs []metrics.Epoch
}

// Report records e. It implements trainer.Reporter.
func (r *Recorder) Report(e metrics.Epoch) error {
	r.mu.Lock()
	r.epochs = append(r.epochs, e)
	r.mu.Unlock()
	return nil
}

// Epochs returns a copy of the recorded history.
func (r *Recorder) Epochs() []metrics.Epoch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]metrics.Epoch(nil), r.epochs...)
}

// Plot builds the plot of the given kind from the recorded history.
func (r *Recorder) Plot(kind Kind) (*plot.Plot, error) {
	epochs := r.Epochs()
	switch kind {
	case Loss:
		return newPlot("loss", epochs, []series{
			{name: "training loss", value: func(e metrics.Epoch) float64 { return e.TrainLoss }},
			{name: "validation loss", value: func(e metrics.Epoch) float64 { return e.ValidLoss }},
		})
	case Accuracy:
		return newPlot("accuracy %", epochs, []series{
			{name: "validation accuracy", value: func(e metrics.Epoch) float64 { return 100 * e.Accuracy }},
		})
	default:
		return nil, fmt.Errorf("chart: unknown plot %q", kind)
	}
}

// WriteSVG renders the plot of the given kind to w as SVG.
func (r *Recorder) WriteSVG(w io.Writer, kind Kind) error {
	p, err := r.Plot(kind)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(defaultWidth, defaultHeight, "svg")
	if err != nil {
		return fmt.Errorf("chart: render %s: %w", kind, err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// Save writes every plot into dir as <kind>.<format>, where format is any
// extension gonum/plot understands (png, svg, pdf, ...). It returns the
// written paths.
func (r *Recorder) Save(dir, format string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("chart: create %s: %w", dir, err)
	}
	var paths []string
	for _, kind := range Kinds {
		p, err := r.Plot(kind)
		if err != nil {
			return paths, err
		}
		path := filepath.Join(dir, string(kind)+"."+format)
		if err := p.Save(defaultWidth, defaultHeight, path); err != nil {
			return paths, fmt.Errorf("chart: save %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

type series struct {
	name  string
	value func(metrics.Epoch) float64
}

func newPlot(ylabel string, epochs []metrics.Epoch, lines []series) (*plot.Plot, error) {
	p := plot.New()
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = ylabel
	p.Y.Min = 0
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	for i, s := range lines {
		pts := make(plotter.XYs, len(epochs))
		for j, e := range epochs {
			pts[j].X = float64(e.Epoch)
			pts[j].Y = s.value(e)
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("chart: %s: %w", s.name, err)
		}
		l.Width = vg.Points(2)
		l.Color = plotutil.Color(i)
		p.Add(l)
		p.Legend.Add(s.name, l)
	}
	return p, nil
}
