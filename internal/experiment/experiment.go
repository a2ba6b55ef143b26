package experiment

import (
	"context"
	"fmt"
	"math"

	"github.com/go-logr/logr"

	"github.com/san-kum/pidloop/internal/config"
	"github.com/san-kum/pidloop/internal/control"
	"github.com/san-kum/pidloop/internal/dynamo"
	"github.com/san-kum/pidloop/internal/metrics"
	"github.com/san-kum/pidloop/internal/pid"
	"github.com/san-kum/pidloop/internal/storage"
)

// Experiment is one configured closed loop: a plant, an integrator and a
// pid.Controller wrapped in a control.Loop.
type Experiment struct {
	cfg *config.Config
	reg *Registry
	log logr.Logger

	plant     dynamo.System
	loop      *control.Loop
	simulator *dynamo.Simulator
	x0        dynamo.State
}

func New(cfg *config.Config, reg *Registry, log logr.Logger) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Experiment{cfg: cfg, reg: reg, log: log}

	sim, plant, loop, err := e.build(cfg.Seed)
	if err != nil {
		return nil, err
	}
	e.simulator, e.plant, e.loop = sim, plant, loop

	e.x0 = RestState(plant)
	if len(cfg.InitState) > 0 {
		e.x0 = dynamo.State(cfg.InitState).Clone()
	}
	return e, nil
}

func (e *Experiment) build(seed int64) (*dynamo.Simulator, dynamo.System, *control.Loop, error) {
	plant, err := e.reg.Plant(e.cfg.Plant)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(e.cfg.PlantParams) > 0 {
		c, ok := plant.(dynamo.Configurable)
		if !ok {
			return nil, nil, nil, fmt.Errorf("plant %s has no parameters", e.cfg.Plant)
		}
		for k, v := range e.cfg.PlantParams {
			if err := c.SetParam(k, v); err != nil {
				return nil, nil, nil, fmt.Errorf("plant %s: %w", e.cfg.Plant, err)
			}
		}
	}

	integ, err := e.reg.Integrator(e.cfg.Integrator)
	if err != nil {
		return nil, nil, nil, err
	}

	loop, err := e.newLoop(plant, seed)
	if err != nil {
		return nil, nil, nil, err
	}

	sim := dynamo.New(plant, integ, loop)
	sim.SetLogger(e.log.WithName("sim"))
	for _, m := range DefaultMetrics(e.cfg) {
		sim.AddMetric(m)
	}
	return sim, plant, loop, nil
}

func (e *Experiment) newLoop(plant dynamo.System, seed int64) (*control.Loop, error) {
	cc := e.cfg.Controller
	unit, err := e.cfg.Unit()
	if err != nil {
		return nil, err
	}

	clk := control.NewClock()
	ctrl := pid.New(cc.Kp, cc.Ki, cc.Kd, cc.Lower, cc.Upper, cc.Deadzone,
		pid.WithAntiKickback(cc.AntiKickback),
		pid.WithClock(clk),
		pid.WithTimeUnit(unit),
		pid.WithLogger(e.log.WithName("pid")),
	)

	opts := []control.LoopOption{
		control.WithSetpoint(cc.Setpoint),
		control.WithSchedule(e.cfg.Setpoints),
		control.WithEvents(e.cfg.Events),
		control.WithLoopLogger(e.log.WithName("loop")),
	}
	if cc.PVIndex >= 0 {
		opts = append(opts, control.WithPVIndex(cc.PVIndex))
	} else if s, ok := plant.(dynamo.Sensor); ok {
		opts = append(opts, control.WithSensor(s))
	}
	if e.cfg.Noise.StdDev > 0 {
		opts = append(opts, control.WithNoise(e.cfg.Noise.StdDev, seed))
	}

	return control.NewLoop(clk, ctrl, opts...), nil
}

// DefaultMetrics is the scorecard recorded for every run.
func DefaultMetrics(cfg *config.Config) []dynamo.Metric {
	cc := cfg.Controller
	band := math.Max(0.02*math.Abs(cc.Setpoint), cc.Deadzone)
	if band == 0 {
		band = 0.01
	}
	return []dynamo.Metric{
		metrics.NewControlEffort(),
		metrics.NewIAE(),
		metrics.NewISE(),
		metrics.NewOvershoot(),
		metrics.NewSettlingTime(0.02),
		metrics.NewSaturation(float64(cc.Lower), float64(cc.Upper)),
		metrics.NewStability(band),
		metrics.NewErrorStdDev(cfg.Duration / 2),
	}
}

func (e *Experiment) simConfig(seed int64) dynamo.Config {
	return dynamo.Config{
		Dt:            e.cfg.Dt,
		Duration:      e.cfg.Duration,
		Seed:          seed,
		ValidateState: true,
	}
}

func (e *Experiment) Run(ctx context.Context) (*dynamo.Result, error) {
	e.log.Info("running experiment", "plant", e.cfg.Plant, "integrator", e.cfg.Integrator,
		"duration", e.cfg.Duration, "gains", e.loop.Controller().Gains())
	return e.simulator.Run(ctx, e.x0, e.simConfig(e.cfg.Seed))
}

// RunEnsemble repeats the experiment over consecutive seeds starting at the
// configured one. Only measurement noise depends on the seed.
func (e *Experiment) RunEnsemble(ctx context.Context, runs int) ([]*dynamo.Result, error) {
	build := func(seed int64) (*dynamo.Simulator, error) {
		sim, _, _, err := e.build(seed)
		return sim, err
	}
	return dynamo.NewEnsemble(build, runs, e.cfg.Seed).Run(ctx, e.x0, e.simConfig(e.cfg.Seed))
}

// Metadata describes the experiment for storage.
func (e *Experiment) Metadata() storage.RunMetadata {
	cc := e.cfg.Controller
	return storage.RunMetadata{
		Plant:        e.cfg.Plant,
		Seed:         e.cfg.Seed,
		Dt:           e.cfg.Dt,
		Duration:     e.cfg.Duration,
		Integrator:   e.cfg.Integrator,
		Gains:        pid.Gains{P: cc.Kp, I: cc.Ki, D: cc.Kd},
		Lower:        cc.Lower,
		Upper:        cc.Upper,
		Deadzone:     cc.Deadzone,
		AntiKickback: cc.AntiKickback,
		TimeUnit:     cc.TimeUnit,
	}
}

func (e *Experiment) Config() *config.Config       { return e.cfg }
func (e *Experiment) Plant() dynamo.System         { return e.plant }
func (e *Experiment) Loop() *control.Loop          { return e.loop }
func (e *Experiment) Simulator() *dynamo.Simulator { return e.simulator }
func (e *Experiment) InitialState() dynamo.State   { return e.x0.Clone() }
