package pid

import (
	"math"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/san-kum/pidloop/internal/timer"
)

// DefaultTimeUnit is the unit dt is measured in unless WithTimeUnit is used.
const DefaultTimeUnit = time.Microsecond

// Gains groups the three path gains so they can be swapped in one step.
type Gains struct {
	P uint32 `json:"p" yaml:"p"`
	I uint32 `json:"i" yaml:"i"`
	D uint32 `json:"d" yaml:"d"`
}

// Status is a consistent snapshot of the controller's accumulated state.
type Status struct {
	Gains               Gains
	Deadzone            float64
	Integral            float64
	PastError           float64
	PastProcessVariable float64
	Lower, Upper        int32
	AntiKickback        bool
}

type Controller struct {
	mu    sync.Mutex
	timer timer.Timer
	unit  time.Duration
	log   logr.Logger

	gains        Gains
	lower, upper int32
	deadzone     float64
	antiKickback bool

	integral  float64
	pastError float64
	pastPV    float64

	// -1, 0 or +1 depending on which bound the integral is pinned at.
	saturation int
}

type Option func(*Controller)

// WithAntiKickback selects derivative-on-measurement (true, the default) or
// derivative-on-error (false).
func WithAntiKickback(enabled bool) Option {
	return func(c *Controller) { c.antiKickback = enabled }
}

// WithTimer replaces the elapsed-time source.
func WithTimer(t timer.Timer) Option {
	return func(c *Controller) {
		if t != nil {
			c.timer = t
		}
	}
}

// WithClock measures dt with a stopwatch reading from clk.
func WithClock(clk clock.PassiveClock) Option {
	return func(c *Controller) { c.timer = timer.NewStopwatch(clk) }
}

// WithTimeUnit sets the unit dt is counted in. Non-positive units are ignored.
func WithTimeUnit(unit time.Duration) Option {
	return func(c *Controller) {
		if unit > 0 {
			c.unit = unit
		}
	}
}

func WithLogger(log logr.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// New returns a controller with the given gains, output bounds and deadzone.
// lower must not exceed upper; this is not checked.
func New(p, i, d uint32, lower, upper int32, deadzone float64, opts ...Option) *Controller {
	c := &Controller{
		unit:         DefaultTimeUnit,
		log:          logr.Discard(),
		gains:        Gains{P: p, I: i, D: d},
		lower:        lower,
		upper:        upper,
		deadzone:     deadzone,
		antiKickback: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timer == nil {
		c.timer = timer.NewStopwatch(clock.RealClock{})
	}
	return c
}

func (c *Controller) UpdateProportionalGain(p uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gains.P = p
}

func (c *Controller) UpdateIntegralGain(i uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gains.I = i
}

func (c *Controller) UpdateDerivativeGain(d uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gains.D = d
}

func (c *Controller) UpdateDeadzone(deadzone float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadzone = deadzone
}

// UpdateGains replaces all three gains atomically.
func (c *Controller) UpdateGains(g Gains) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gains = g
}

func (c *Controller) ProportionalGain() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gains.P
}

func (c *Controller) IntegralGain() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gains.I
}

func (c *Controller) DerivativeGain() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gains.D
}

func (c *Controller) Deadzone() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadzone
}

func (c *Controller) Gains() Gains {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gains
}

// Bounds, AntiKickback and TimeUnit are fixed at construction and need no lock.
func (c *Controller) Bounds() (lower, upper int32) { return c.lower, c.upper }
func (c *Controller) AntiKickback() bool           { return c.antiKickback }
func (c *Controller) TimeUnit() time.Duration      { return c.unit }

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Gains:               c.gains,
		Deadzone:            c.deadzone,
		Integral:            c.integral,
		PastError:           c.pastError,
		PastProcessVariable: c.pastPV,
		Lower:               c.lower,
		Upper:               c.upper,
		AntiKickback:        c.antiKickback,
	}
}

// Reset clears the integral accumulator and history and stops the timer, so
// the next Compute behaves like the first call on a new controller.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.integral = 0
	c.pastError = 0
	c.pastPV = 0
	c.saturation = 0
	c.timer.Stop()
	c.timer.Reset()
}

// Compute runs one control iteration and returns an output within the
// controller's bounds.
func (c *Controller) Compute(setPoint, processVariable float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := setPoint - processVariable
	if math.Abs(e) < c.deadzone {
		e = 0
	}

	c.timer.Stop()
	dt := timer.Ticks(c.timer.Elapsed(), c.unit)
	c.timer.Reset()

	out := c.proportional(e)
	out += c.integrate(e, dt)
	if c.antiKickback {
		out += c.derivativeOnMeasurement(processVariable, dt)
	} else {
		out += c.derivativeOnError(e, dt)
	}
	out = c.clamp(out)

	c.pastError = e
	c.pastPV = processVariable
	c.timer.Start()
	return out
}

// The path helpers below expect c.mu to be held.

func (c *Controller) proportional(e float64) float64 {
	return e * float64(c.gains.P)
}

// integrate advances the accumulator and pins it inside the output bounds.
func (c *Controller) integrate(e float64, dt int64) float64 {
	raw := c.integral + e*float64(dt)*float64(c.gains.I)
	c.integral = c.clamp(raw)
	c.trackSaturation(raw)
	return c.integral
}

func (c *Controller) derivativeOnError(e float64, dt int64) float64 {
	if dt == 0 {
		return 0
	}
	return float64(c.gains.D) * (e - c.pastError) / float64(dt)
}

func (c *Controller) derivativeOnMeasurement(pv float64, dt int64) float64 {
	if dt == 0 {
		return 0
	}
	return float64(c.gains.D) * (pv - c.pastPV) / float64(dt)
}

// clamp maps NaN to the lower bound so a poisoned input cannot escape the
// bounds or stick in the accumulator.
func (c *Controller) clamp(v float64) float64 {
	lo, hi := float64(c.lower), float64(c.upper)
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}

// trackSaturation logs when the accumulator starts or stops being clipped.
func (c *Controller) trackSaturation(raw float64) {
	s := 0
	switch {
	case raw > float64(c.upper):
		s = 1
	case raw < float64(c.lower) || math.IsNaN(raw):
		s = -1
	}
	if s == c.saturation {
		return
	}
	c.saturation = s
	if s == 0 {
		c.log.V(1).Info("integral left saturation", "integral", c.integral)
		return
	}
	c.log.V(1).Info("integral saturated", "integral", c.integral, "lower", c.lower, "upper", c.upper)
}
