package export

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/san-kum/pidloop/internal/storage"
)

func testRun() *storage.Run {
	return &storage.Run{
		Times:    []float64{0, 0.1, 0.2, 0.3},
		Setpoint: []float64{1, 1, 1, 1},
		PV:       []float64{0, 0.6, 0.95, 1.02},
		Output:   []float64{5, 2, 0.25, -0.1},
	}
}

func TestSavePlot(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"run.png", "run.svg"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := SavePlot(path, testRun(), DefaultPlotOptions()); err != nil {
				t.Fatalf("save failed: %v", err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("stat failed: %v", err)
			}
			if info.Size() == 0 {
				t.Error("expected non-empty plot file")
			}
		})
	}
}

func TestSavePlotErrors(t *testing.T) {
	dir := t.TempDir()

	if err := SavePlot(filepath.Join(dir, "a.png"), &storage.Run{}, DefaultPlotOptions()); !errors.Is(err, ErrEmptyRun) {
		t.Errorf("expected ErrEmptyRun, got %v", err)
	}

	if err := SavePlot(filepath.Join(dir, "a.bogus"), testRun(), DefaultPlotOptions()); err == nil {
		t.Error("expected error for unsupported extension")
	}
}
