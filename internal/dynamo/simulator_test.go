package dynamo

import (
	"context"
	"errors"
	"math"
	"testing"
)

type decay struct{}

func (d *decay) Derive(x State, u Control, t float64) State {
	return State{-x[0] + u.First()}
}

func (d *decay) StateDim() int   { return 1 }
func (d *decay) ControlDim() int { return 1 }

type eulerStep struct{}

func (e *eulerStep) Step(dyn System, x State, u Control, t float64, dt float64) State {
	dx := dyn.Derive(x, u, t)
	return State{x[0] + dt*dx[0]}
}

type zeroController struct{}

func (z *zeroController) Compute(x State, t float64) Control {
	return Control{0}
}

// tracker drives the plant toward a fixed setpoint with a proportional law.
type tracker struct {
	sp, gain float64
	last     float64
}

func (p *tracker) Compute(x State, t float64) Control {
	p.last = x[0]
	return Control{p.gain * (p.sp - x[0])}
}

func (p *tracker) Setpoint(t float64) float64 { return p.sp }
func (p *tracker) Measured() float64          { return p.last }

func TestSimulatorRun(t *testing.T) {
	sim := New(&decay{}, &eulerStep{}, &zeroController{})

	cfg := Config{
		Dt:       0.1,
		Duration: 1.0,
	}

	result, err := sim.Run(context.Background(), State{1.0}, cfg)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(result.States) != 11 {
		t.Errorf("expected 11 states, got %d", len(result.States))
	}

	if len(result.Times) != 11 {
		t.Errorf("expected 11 times, got %d", len(result.Times))
	}

	if len(result.Setpoints) != 10 || len(result.Measured) != 10 {
		t.Errorf("expected 10 setpoint and measurement samples, got %d and %d", len(result.Setpoints), len(result.Measured))
	}

	finalState := result.States[len(result.States)-1][0]
	expected := math.Exp(-1.0)
	if math.Abs(finalState-expected) > 0.2 {
		t.Errorf("expected final state ~%.4f, got %.4f", expected, finalState)
	}
}

func TestSimulatorInvalidConfig(t *testing.T) {
	sim := New(&decay{}, &eulerStep{}, &zeroController{})

	tests := []struct {
		name string
		x0   State
		cfg  Config
		want error
	}{
		{"zero dt", State{1}, Config{Dt: 0, Duration: 1.0}, ErrInvalidConfig},
		{"negative dt", State{1}, Config{Dt: -0.1, Duration: 1.0}, ErrInvalidConfig},
		{"zero duration", State{1}, Config{Dt: 0.1, Duration: 0}, ErrInvalidConfig},
		{"negative duration", State{1}, Config{Dt: 0.1, Duration: -1.0}, ErrInvalidConfig},
		{"wrong dimension", State{1, 2}, Config{Dt: 0.1, Duration: 1.0}, ErrDimensionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sim.Run(context.Background(), tt.x0, tt.cfg)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSimulatorCanceled(t *testing.T) {
	sim := New(&decay{}, &eulerStep{}, &zeroController{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := sim.Run(ctx, State{1}, Config{Dt: 0.1, Duration: 1})
	if !errors.Is(err, ErrContextCanceled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if result == nil || result.StepsTaken != 0 {
		t.Errorf("expected partial result with no steps, got %+v", result)
	}
}

type explode struct{ decay }

func (e *explode) Derive(x State, u Control, t float64) State {
	return State{math.Inf(1)}
}

func TestSimulatorInvalidState(t *testing.T) {
	sim := New(&explode{}, &eulerStep{}, &zeroController{})

	result, err := sim.Run(context.Background(), State{1}, Config{Dt: 0.1, Duration: 1, ValidateState: true})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(result.Errors))
	}

	var simErr *SimulationError
	if !errors.As(result.Errors[0], &simErr) || !errors.Is(result.Errors[0], ErrInvalidState) {
		t.Errorf("expected SimulationError wrapping ErrInvalidState, got %v", result.Errors[0])
	}
	if result.StepsTaken != 0 {
		t.Errorf("expected no completed steps, got %d", result.StepsTaken)
	}
}

type testMetric struct {
	count int
	sum   float64
}

func (t *testMetric) Name() string { return "test" }
func (t *testMetric) Observe(s Sample) {
	t.count++
	t.sum += s.Error()
}
func (t *testMetric) Value() float64 {
	if t.count == 0 {
		return 0
	}
	return t.sum / float64(t.count)
}
func (t *testMetric) Reset() {
	t.count = 0
	t.sum = 0
}

func TestSimulatorMetricsAndReference(t *testing.T) {
	ctrl := &tracker{sp: 2, gain: 4}
	sim := New(&decay{}, &eulerStep{}, ctrl)

	metric := &testMetric{}
	sim.AddMetric(metric)

	result, err := sim.Run(context.Background(), State{0}, Config{Dt: 0.01, Duration: 1.0})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if _, ok := result.Metrics["test"]; !ok {
		t.Error("metric not found in result")
	}
	if metric.count != 100 {
		t.Errorf("expected 100 observations, got %d", metric.count)
	}
	if result.Setpoints[0] != 2 {
		t.Errorf("expected setpoint 2, got %f", result.Setpoints[0])
	}
	if result.Measured[0] != 0 {
		t.Errorf("expected first measurement 0, got %f", result.Measured[0])
	}
	if metric.Value() <= 0 {
		t.Errorf("expected positive mean error while approaching setpoint, got %f", metric.Value())
	}
}

func TestRunWithCallback(t *testing.T) {
	sim := New(&decay{}, &eulerStep{}, &zeroController{})

	calls := 0
	err := sim.RunWithCallback(context.Background(), State{1}, Config{Dt: 0.1, Duration: 1}, func(s Sample) bool {
		calls++
		return calls < 3
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 callbacks, got %d", calls)
	}
}

func TestEnsemble(t *testing.T) {
	build := func(seed int64) (*Simulator, error) {
		return New(&decay{}, &eulerStep{}, &tracker{sp: float64(seed), gain: 1}), nil
	}

	results, err := NewEnsemble(build, 4, 10).Run(context.Background(), State{0}, Config{Dt: 0.1, Duration: 1})
	if err != nil {
		t.Fatalf("ensemble failed: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Setpoints[0] != float64(10+i) {
			t.Errorf("run %d: expected setpoint %d, got %f", i, 10+i, r.Setpoints[0])
		}
	}
}

func TestEnsembleBuildError(t *testing.T) {
	boom := errors.New("boom")
	build := func(seed int64) (*Simulator, error) { return nil, boom }

	_, err := NewEnsemble(build, 2, 0).Run(context.Background(), State{0}, Config{Dt: 0.1, Duration: 1})
	if !errors.Is(err, boom) {
		t.Errorf("expected build error, got %v", err)
	}
}
