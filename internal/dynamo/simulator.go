package dynamo

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
)

type Simulator struct {
	dyn        System
	integrator Integrator
	controller Controller
	metrics    []Metric
	observers  []Observer
	log        logr.Logger
}

func New(dyn System, integrator Integrator, controller Controller) *Simulator {
	return &Simulator{
		dyn:        dyn,
		integrator: integrator,
		controller: controller,
		metrics:    make([]Metric, 0),
		observers:  make([]Observer, 0),
		log:        logr.Discard(),
	}
}

func (s *Simulator) AddMetric(m Metric)        { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o Observer)    { s.observers = append(s.observers, o) }
func (s *Simulator) SetLogger(log logr.Logger) { s.log = log }

func (s *Simulator) Run(ctx context.Context, x0 State, cfg Config) (*Result, error) {
	if err := s.validate(x0, cfg); err != nil {
		return nil, err
	}

	steps := int(cfg.Duration/cfg.Dt + 0.5)
	result := &Result{
		States:    make([]State, 0, steps+1),
		Controls:  make([]Control, 0, steps),
		Times:     make([]float64, 0, steps+1),
		Setpoints: make([]float64, 0, steps),
		Measured:  make([]float64, 0, steps),
		Metrics:   make(map[string]float64),
		Errors:    make([]error, 0),
	}

	for _, m := range s.metrics {
		m.Reset()
	}

	x := x0.Clone()
	t := 0.0
	dt := cfg.Dt

	result.States = append(result.States, x.Clone())
	result.Times = append(result.Times, t)

	s.log.V(1).Info("simulation started", "steps", steps, "dt", dt)

	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			s.collect(result)
			return result, fmt.Errorf("%w: %w", ErrContextCanceled, ctx.Err())
		default:
		}

		u := s.controller.Compute(x, t)
		sample := s.sample(x, u, t)

		for _, m := range s.metrics {
			m.Observe(sample)
		}
		for _, obs := range s.observers {
			obs.OnStep(sample)
		}

		newX := s.integrator.Step(s.dyn, x, u, t, dt)

		if cfg.ValidateState && !newX.IsValid() {
			err := &SimulationError{
				Step:    i,
				Time:    t,
				State:   newX,
				Wrapped: fmt.Errorf("%w: %s", ErrInvalidState, SimError{Time: t, Step: i, Message: "state diverged"}),
			}
			s.log.Error(err, "simulation stopped", "step", i)
			result.Errors = append(result.Errors, err)
			break
		}

		x = newX
		t = float64(i+1) * dt
		result.StepsTaken++

		result.States = append(result.States, x.Clone())
		result.Controls = append(result.Controls, u)
		result.Setpoints = append(result.Setpoints, sample.Setpoint)
		result.Measured = append(result.Measured, sample.PV)
		result.Times = append(result.Times, t)
	}

	s.collect(result)
	s.log.V(1).Info("simulation finished", "steps", result.StepsTaken, "metrics", result.Metrics)
	return result, nil
}

func (s *Simulator) collect(result *Result) {
	for _, m := range s.metrics {
		result.Metrics[m.Name()] = m.Value()
	}
}

// sample prefers the controller's own view of the process variable, which
// includes any sensor noise, over the plant's noiseless measurement.
func (s *Simulator) sample(x State, u Control, t float64) Sample {
	smp := Sample{T: t, X: x, U: u}
	if sensor, ok := s.dyn.(Sensor); ok {
		smp.PV = sensor.Measure(x)
	} else if len(x) > 0 {
		smp.PV = x[0]
	}
	if ref, ok := s.controller.(Reference); ok {
		smp.Setpoint = ref.Setpoint(t)
		smp.PV = ref.Measured()
	}
	return smp
}

func (s *Simulator) validate(x0 State, cfg Config) error {
	if cfg.Dt <= 0 {
		return fmt.Errorf("%w: dt must be positive, got %f", ErrInvalidConfig, cfg.Dt)
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %f", ErrInvalidConfig, cfg.Duration)
	}
	if dim := s.dyn.StateDim(); dim > 0 && len(x0) != dim {
		return fmt.Errorf("%w: initial state has %d values, system expects %d", ErrDimensionMismatch, len(x0), dim)
	}
	return nil
}

// RunWithCallback steps the loop until the callback returns false, the
// duration elapses or ctx is done. It records nothing.
func (s *Simulator) RunWithCallback(ctx context.Context, x0 State, cfg Config, callback func(Sample) bool) error {
	if err := s.validate(x0, cfg); err != nil {
		return err
	}

	x := x0.Clone()
	dt := cfg.Dt
	steps := int(cfg.Duration/cfg.Dt + 0.5)

	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		t := float64(i) * dt
		u := s.controller.Compute(x, t)

		if !callback(s.sample(x, u, t)) {
			return nil
		}

		x = s.integrator.Step(s.dyn, x, u, t, dt)

		if cfg.ValidateState && !x.IsValid() {
			return fmt.Errorf("%w at t=%.4f", ErrInvalidState, t+dt)
		}
	}

	return nil
}
