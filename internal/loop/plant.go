package loop

import (
	"sync"

	"github.com/san-kum/pidloop/internal/dynamo"
)

// Scenario is what surrounds a simulated plant over simulated time: the
// controller's clock, scheduled changes and the measurement path.
// control.Loop implements it.
type Scenario interface {
	// Advance moves to time t and returns the process variable for x.
	Advance(x dynamo.State, t float64) float64
	Setpoint(t float64) float64
}

// SimulatedPlant lets a Runner drive a dynamo.System in real time. Each
// Read advances the plant by one step under the last written output.
type SimulatedPlant struct {
	mu     sync.Mutex
	sys    dynamo.System
	integ  dynamo.Integrator
	sensor dynamo.Sensor
	x      dynamo.State
	u      float64
	t      float64
	dt     float64
	steps  int

	scenario   Scenario
	onSetpoint func(float64)
	scheduled  float64
	announced  bool
}

func NewSimulatedPlant(sys dynamo.System, integ dynamo.Integrator, x0 dynamo.State, dt float64) *SimulatedPlant {
	p := &SimulatedPlant{
		sys:   sys,
		integ: integ,
		x:     x0.Clone(),
		dt:    dt,
	}
	if s, ok := sys.(dynamo.Sensor); ok {
		p.sensor = s
	}
	return p
}

// FollowScenario advances s to the plant's simulated time on every
// successful Read and measures through it. The scheduled setpoint is
// passed to onSetpoint on the first Read and again whenever the schedule
// changes it, so setpoints set by hand in between are kept until the next
// scheduled step.
func (p *SimulatedPlant) FollowScenario(s Scenario, onSetpoint func(float64)) *SimulatedPlant {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scenario = s
	p.onSetpoint = onSetpoint
	p.announced = false
	return p
}

func (p *SimulatedPlant) Read() (float64, error) {
	p.mu.Lock()

	next := p.integ.Step(p.sys, p.x, dynamo.Control{p.u}, p.t, p.dt)
	if !next.IsValid() {
		p.mu.Unlock()
		return 0, dynamo.ErrInvalidState
	}
	p.x = next
	p.steps++
	p.t = float64(p.steps) * p.dt

	if p.scenario == nil {
		pv := p.measure()
		p.mu.Unlock()
		return pv, nil
	}

	pv := p.scenario.Advance(p.x, p.t)
	sp := p.scenario.Setpoint(p.t)
	changed := !p.announced || sp != p.scheduled
	p.scheduled, p.announced = sp, true
	notify := p.onSetpoint
	p.mu.Unlock()

	if changed && notify != nil {
		notify(sp)
	}
	return pv, nil
}

func (p *SimulatedPlant) Write(out float64) error {
	p.mu.Lock()
	p.u = out
	p.mu.Unlock()
	return nil
}

func (p *SimulatedPlant) measure() float64 {
	if p.sensor != nil {
		return p.sensor.Measure(p.x)
	}
	return p.x[0]
}

// State returns a copy of the plant state and the simulated time.
func (p *SimulatedPlant) State() (dynamo.State, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.x.Clone(), p.t
}
