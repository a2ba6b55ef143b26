package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/pidloop/internal/control"
)

const (
	DefaultDt       = 0.1
	DefaultDuration = 300.0
	DefaultTimeUnit = "100ms"
	DefaultKp       = 20
	DefaultKi       = 1
	DefaultKd       = 0
	DefaultLower    = 0
	DefaultUpper    = 100
	DefaultSetpoint = 40.0
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Plant       string                 `yaml:"plant"`
	Integrator  string                 `yaml:"integrator"`
	Dt          float64                `yaml:"dt"`
	Duration    float64                `yaml:"duration"`
	Seed        int64                  `yaml:"seed"`
	InitState   []float64              `yaml:"init_state,omitempty"`
	PlantParams map[string]float64     `yaml:"plant_params,omitempty"`
	Controller  ControllerConfig       `yaml:"controller"`
	Setpoints   []control.SetpointStep `yaml:"setpoints,omitempty"`
	Events      []control.Event        `yaml:"events,omitempty"`
	Noise       NoiseConfig            `yaml:"noise,omitempty"`
}

type ControllerConfig struct {
	Kp           uint32  `yaml:"kp"`
	Ki           uint32  `yaml:"ki"`
	Kd           uint32  `yaml:"kd"`
	Lower        int32   `yaml:"lower"`
	Upper        int32   `yaml:"upper"`
	Deadzone     float64 `yaml:"deadzone"`
	AntiKickback bool    `yaml:"anti_kickback"`
	// TimeUnit is the tick dt is counted in, as a Go duration string.
	TimeUnit string  `yaml:"time_unit"`
	Setpoint float64 `yaml:"setpoint"`
	// PVIndex selects a state component as the process variable. A negative
	// value uses the plant's own measurement.
	PVIndex int `yaml:"pv_index"`
}

type NoiseConfig struct {
	StdDev float64 `yaml:"stddev"`
}

func DefaultConfig() *Config {
	return &Config{
		Plant:      "thermal",
		Integrator: "euler",
		Dt:         DefaultDt,
		Duration:   DefaultDuration,
		Controller: ControllerConfig{
			Kp:           DefaultKp,
			Ki:           DefaultKi,
			Kd:           DefaultKd,
			Lower:        DefaultLower,
			Upper:        DefaultUpper,
			AntiKickback: true,
			TimeUnit:     DefaultTimeUnit,
			Setpoint:     DefaultSetpoint,
			PVIndex:      -1,
		},
	}
}

// Load reads a YAML file over the defaults, so omitted fields keep their
// default values, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Unit parses the controller time unit.
func (c *Config) Unit() (time.Duration, error) {
	unit, err := time.ParseDuration(c.Controller.TimeUnit)
	if err != nil {
		return 0, fmt.Errorf("%w: time_unit: %w", ErrInvalid, err)
	}
	if unit <= 0 {
		return 0, fmt.Errorf("%w: time_unit must be positive, got %s", ErrInvalid, unit)
	}
	return unit, nil
}

func (c *Config) Validate() error {
	if c.Dt <= 0 {
		return fmt.Errorf("%w: dt must be positive, got %f", ErrInvalid, c.Dt)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %f", ErrInvalid, c.Duration)
	}
	if c.Controller.Lower > c.Controller.Upper {
		return fmt.Errorf("%w: lower bound %d above upper bound %d", ErrInvalid, c.Controller.Lower, c.Controller.Upper)
	}
	if c.Controller.Deadzone < 0 {
		return fmt.Errorf("%w: deadzone must not be negative, got %f", ErrInvalid, c.Controller.Deadzone)
	}
	if c.Noise.StdDev < 0 {
		return fmt.Errorf("%w: noise stddev must not be negative, got %f", ErrInvalid, c.Noise.StdDev)
	}

	unit, err := c.Unit()
	if err != nil {
		return err
	}
	// a unit coarser than the step would make every dt zero, and a step
	// that is not a whole number of units loses the remainder on every Compute
	step := time.Duration(math.Round(c.Dt * float64(time.Second)))
	if step < unit {
		return fmt.Errorf("%w: time_unit %s is longer than dt %s", ErrInvalid, unit, step)
	}
	if step%unit != 0 {
		return fmt.Errorf("%w: dt %s is not a whole multiple of time_unit %s", ErrInvalid, step, unit)
	}

	for i, ev := range c.Events {
		if ev.Gains == nil && ev.Deadzone == nil && !ev.Reset {
			return fmt.Errorf("%w: event %d at t=%.3f changes nothing", ErrInvalid, i, ev.At)
		}
	}
	return nil
}
