package loop

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/san-kum/pidloop/internal/pid"
)

// Sensor supplies the process variable.
type Sensor interface {
	Read() (float64, error)
}

// Actuator receives the controller output.
type Actuator interface {
	Write(out float64) error
}

// Reading records one iteration of the loop.
type Reading struct {
	Time      time.Time
	Setpoint  float64
	PV        float64
	Output    float64
	Saturated bool
}

// Runner calls a controller at a fixed period: read the sensor, compute,
// write the actuator. Setpoint and gain changes may come from any goroutine
// while it runs.
type Runner struct {
	ctrl     *pid.Controller
	sensor   Sensor
	actuator Actuator
	period   time.Duration
	clock    clock.WithTicker
	metrics  *Metrics
	log      logr.Logger
	observe  func(Reading)

	mu       sync.Mutex
	setpoint float64
}

type Option func(*Runner)

func WithClock(c clock.WithTicker) Option {
	return func(r *Runner) { r.clock = c }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithLogger(log logr.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithObserver registers a callback run after every iteration on the loop
// goroutine. It must not block.
func WithObserver(fn func(Reading)) Option {
	return func(r *Runner) { r.observe = fn }
}

func NewRunner(ctrl *pid.Controller, sensor Sensor, actuator Actuator, period time.Duration, setpoint float64, opts ...Option) *Runner {
	r := &Runner{
		ctrl:     ctrl,
		sensor:   sensor,
		actuator: actuator,
		period:   period,
		clock:    clock.RealClock{},
		log:      logr.Discard(),
		setpoint: setpoint,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics()
	}
	return r
}

func (r *Runner) Controller() *pid.Controller { return r.ctrl }
func (r *Runner) Metrics() *Metrics           { return r.metrics }

func (r *Runner) Setpoint() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setpoint
}

func (r *Runner) SetSetpoint(sp float64) {
	r.mu.Lock()
	r.setpoint = sp
	r.mu.Unlock()
	r.log.V(1).Info("setpoint changed", "setpoint", sp)
}

// Run iterates once per period until ctx is done. Sensor and actuator
// failures are counted and logged but do not stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.period)
	defer ticker.Stop()

	r.log.Info("control loop started", "period", r.period, "gains", r.ctrl.Gains())
	defer r.log.Info("control loop stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			r.Step()
		}
	}
}

// Step runs a single iteration and reports whether it completed.
func (r *Runner) Step() bool {
	pv, err := r.sensor.Read()
	if err != nil {
		r.metrics.failures.WithLabelValues("sensor").Inc()
		r.log.Error(err, "sensor read failed")
		return false
	}

	sp := r.Setpoint()
	start := r.clock.Now()
	out := r.ctrl.Compute(sp, pv)
	r.metrics.latency.Observe(r.clock.Since(start).Seconds())

	if err := r.actuator.Write(out); err != nil {
		r.metrics.failures.WithLabelValues("actuator").Inc()
		r.log.Error(err, "actuator write failed", "output", out)
		return false
	}

	lower, upper := r.ctrl.Bounds()
	reading := Reading{
		Time:      r.clock.Now(),
		Setpoint:  sp,
		PV:        pv,
		Output:    out,
		Saturated: out <= float64(lower) || out >= float64(upper),
	}

	r.metrics.iterations.Inc()
	r.metrics.output.Set(out)
	r.metrics.pv.Set(pv)
	r.metrics.setpoint.Set(sp)
	if reading.Saturated {
		r.metrics.saturations.Inc()
	}
	r.log.V(2).Info("iteration", "setpoint", sp, "pv", pv, "output", out)

	if r.observe != nil {
		r.observe(reading)
	}
	return true
}
