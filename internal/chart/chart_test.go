package chart

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"holdout-forge/internal/metrics"
)

func TestRecorderWritesSVG(t *testing.T) {
	r := recorded(t, 3)
	for _, kind := range Kinds {
		var buf bytes.Buffer
		if err := r.WriteSVG(&buf, kind); err != nil {
			t.Fatalf("WriteSVG(%s): %v", kind, err)
		}
		if !strings.Contains(buf.String(), "<svg") {
			t.Fatalf("%s output is not SVG", kind)
		}
	}
}

func TestRecorderSave(t *testing.T) {
	r := recorded(t, 2)
	dir := filepath.Join(t.TempDir(), "plots")
	paths, err := r.Save(dir, "png")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(paths) != len(Kinds) {
		t.Fatalf("got %d files, want %d", len(paths), len(Kinds))
	}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", path, err)
		}
		if info.Size() == 0 {
			t.Fatalf("%s is empty", path)
		}
	}
}

func TestRecorderRejectsUnknownKind(t *testing.T) {
	var r Recorder
	if _, err := r.Plot("throughput"); err == nil {
		t.Fatal("expected error for unknown plot kind")
	}
}

func TestRecorderEpochsIsACopy(t *testing.T) {
	r := recorded(t, 2)
	got := r.Epochs()
	got[0].TrainLoss = 99
	if r.Epochs()[0].TrainLoss == 99 {
		t.Fatal("Epochs exposed internal history")
	}
}

func recorded(t *testing.T, n int) *Recorder {
	t.Helper()
	var r Recorder
	for i := 1; i <= n; i++ {
		err := r.Report(metrics.Epoch{
			Epoch:     i,
			TrainLoss: 1 / float64(i),
			ValidLoss: 1.2 / float64(i),
			Accuracy:  0.5 + 0.1*float64(i),
		})
		if err != nil {
			t.Fatalf("Report: %v", err)
		}
	}
	return &r
}
