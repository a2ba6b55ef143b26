package export

import (
	"errors"
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/san-kum/pidloop/internal/storage"
)

var ErrEmptyRun = errors.New("export: run has no samples")

// PlotOptions controls the rendered figure.
type PlotOptions struct {
	Title  string
	Width  vg.Length
	Height vg.Length
	// WithOutput adds the controller output as a third line.
	WithOutput bool
}

func DefaultPlotOptions() PlotOptions {
	return PlotOptions{
		Title:      "closed loop response",
		Width:      20 * vg.Centimeter,
		Height:     12 * vg.Centimeter,
		WithOutput: true,
	}
}

// SavePlot draws setpoint and process variable over time and writes the
// figure to path. The format follows the extension (png, svg, pdf, ...).
func SavePlot(path string, run *storage.Run, opts PlotOptions) error {
	if run == nil || len(run.Times) == 0 {
		return ErrEmptyRun
	}

	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "value"
	p.Add(plotter.NewGrid())

	lines := []any{
		"setpoint", plotterXY(run.Times, run.Setpoint),
		"pv", plotterXY(run.Times, run.PV),
	}
	if opts.WithOutput {
		lines = append(lines, "output", plotterXY(run.Times, run.Output))
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return fmt.Errorf("could not draw plot contents: %w", err)
	}

	if err := p.Save(opts.Width, opts.Height, path); err != nil {
		return fmt.Errorf("could not save plot: %w", err)
	}
	return nil
}

func plotterXY(x, y []float64) plotter.XYs {
	xy := make(plotter.XYs, len(x))
	for i := range x {
		xy[i].X = x[i]
		if i < len(y) {
			xy[i].Y = y[i]
		}
	}
	return xy
}
