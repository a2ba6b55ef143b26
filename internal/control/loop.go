package control

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/go-logr/logr"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/san-kum/pidloop/internal/dynamo"
	"github.com/san-kum/pidloop/internal/pid"
)

// Epoch is the wall time that simulation time zero maps onto.
var Epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// NewClock returns a clock parked at Epoch. Pass it to both pid.WithClock
// and NewLoop so the controller measures simulated rather than wall time.
func NewClock() *clocktesting.FakeClock {
	return clocktesting.NewFakeClock(Epoch)
}

// SetpointStep changes the setpoint to Value once simulation time reaches At.
type SetpointStep struct {
	At    float64 `json:"at" yaml:"at"`
	Value float64 `json:"value" yaml:"value"`
}

// Event is a scheduled change to the controller applied before the first
// Compute at or after At. Nil fields are left untouched.
type Event struct {
	At       float64    `json:"at" yaml:"at"`
	Gains    *pid.Gains `json:"gains,omitempty" yaml:"gains,omitempty"`
	Deadzone *float64   `json:"deadzone,omitempty" yaml:"deadzone,omitempty"`
	Reset    bool       `json:"reset,omitempty" yaml:"reset,omitempty"`
}

// Loop closes a pid.Controller around a simulated plant. It implements
// dynamo.Controller and dynamo.Reference.
type Loop struct {
	ctrl *pid.Controller
	clk  *clocktesting.FakeClock
	log  logr.Logger

	setpoint  float64
	schedule  []SetpointStep
	events    []Event
	nextEvent int

	pvIndex int
	sensor  dynamo.Sensor
	noise   float64
	rng     *rand.Rand

	lastPV float64
}

type LoopOption func(*Loop)

// WithSetpoint sets the setpoint in force before any scheduled step.
func WithSetpoint(sp float64) LoopOption {
	return func(l *Loop) { l.setpoint = sp }
}

func WithSchedule(steps []SetpointStep) LoopOption {
	return func(l *Loop) {
		l.schedule = append([]SetpointStep(nil), steps...)
		sort.SliceStable(l.schedule, func(i, j int) bool { return l.schedule[i].At < l.schedule[j].At })
	}
}

func WithEvents(events []Event) LoopOption {
	return func(l *Loop) {
		l.events = append([]Event(nil), events...)
		sort.SliceStable(l.events, func(i, j int) bool { return l.events[i].At < l.events[j].At })
	}
}

// WithSensor reads the process variable through the plant's own output map
// instead of a state index.
func WithSensor(s dynamo.Sensor) LoopOption {
	return func(l *Loop) { l.sensor = s }
}

// WithPVIndex selects which state component is the process variable.
func WithPVIndex(i int) LoopOption {
	return func(l *Loop) { l.pvIndex = i }
}

// WithNoise adds zero-mean Gaussian noise with the given standard
// deviation to every measurement.
func WithNoise(stddev float64, seed int64) LoopOption {
	return func(l *Loop) {
		l.noise = stddev
		l.rng = rand.New(rand.NewSource(seed))
	}
}

func WithLoopLogger(log logr.Logger) LoopOption {
	return func(l *Loop) { l.log = log }
}

func NewLoop(clk *clocktesting.FakeClock, ctrl *pid.Controller, opts ...LoopOption) *Loop {
	l := &Loop{
		ctrl: ctrl,
		clk:  clk,
		log:  logr.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loop) Controller() *pid.Controller { return l.ctrl }

func (l *Loop) Compute(x dynamo.State, t float64) dynamo.Control {
	pv := l.Advance(x, t)
	return dynamo.Control{l.ctrl.Compute(l.Setpoint(t), pv)}
}

// Advance moves the loop to simulation time t without computing: it sets
// the clock, applies due events and returns the process variable measured
// from x. Callers that run the controller themselves use it in place of
// Compute.
func (l *Loop) Advance(x dynamo.State, t float64) float64 {
	l.clk.SetTime(Epoch.Add(time.Duration(math.Round(t * float64(time.Second)))))
	l.applyEvents(t)
	l.lastPV = l.measure(x)
	return l.lastPV
}

func (l *Loop) Setpoint(t float64) float64 {
	sp := l.setpoint
	for _, s := range l.schedule {
		if s.At > t {
			break
		}
		sp = s.Value
	}
	return sp
}

func (l *Loop) Measured() float64 { return l.lastPV }

func (l *Loop) measure(x dynamo.State) float64 {
	var pv float64
	switch {
	case l.sensor != nil:
		pv = l.sensor.Measure(x)
	case l.pvIndex >= 0 && l.pvIndex < len(x):
		pv = x[l.pvIndex]
	}
	if l.rng != nil && l.noise > 0 {
		pv += l.rng.NormFloat64() * l.noise
	}
	return pv
}

func (l *Loop) applyEvents(t float64) {
	for l.nextEvent < len(l.events) && l.events[l.nextEvent].At <= t {
		ev := l.events[l.nextEvent]
		l.nextEvent++

		if ev.Gains != nil {
			l.ctrl.UpdateGains(*ev.Gains)
		}
		if ev.Deadzone != nil {
			l.ctrl.UpdateDeadzone(*ev.Deadzone)
		}
		if ev.Reset {
			l.ctrl.Reset()
		}
		l.log.V(1).Info("event applied", "t", t, "gains", ev.Gains, "deadzone", ev.Deadzone, "reset", ev.Reset)
	}
}
