package config

import (
	"sort"

	"github.com/san-kum/pidloop/internal/control"
	"github.com/san-kum/pidloop/internal/pid"
)

func thermal(kp, ki uint32) *Config {
	cfg := DefaultConfig()
	cfg.Controller.Kp = kp
	cfg.Controller.Ki = ki
	return cfg
}

func withSetpoints(cfg *Config, steps ...control.SetpointStep) *Config {
	cfg.Setpoints = steps
	return cfg
}

func withNoise(cfg *Config, stddev, deadzone float64) *Config {
	cfg.Noise.StdDev = stddev
	cfg.Controller.Deadzone = deadzone
	cfg.Seed = 7
	return cfg
}

func withEvents(cfg *Config, events ...control.Event) *Config {
	cfg.Events = events
	return cfg
}

func motor(kp, ki uint32) *Config {
	return &Config{
		Plant:      "dc_motor",
		Integrator: "rk4",
		Dt:         0.01,
		Duration:   10,
		Controller: ControllerConfig{
			Kp:           kp,
			Ki:           ki,
			Lower:        -24,
			Upper:        24,
			AntiKickback: true,
			TimeUnit:     "10ms",
			Setpoint:     2,
			PVIndex:      -1,
		},
	}
}

func spring(kp, ki, kd uint32) *Config {
	return &Config{
		Plant:      "spring_mass",
		Integrator: "rk4",
		Dt:         0.01,
		Duration:   20,
		Controller: ControllerConfig{
			Kp:    kp,
			Ki:    ki,
			Kd:    kd,
			Lower: -100,
			Upper: 100,
			// derivative on error damps the mass; the measurement form would
			// feed velocity back with the wrong sign for this plant
			AntiKickback: false,
			TimeUnit:     "10ms",
			Setpoint:     1,
			PVIndex:      0,
		},
	}
}

var Presets = map[string]map[string]*Config{
	"thermal": {
		"p-only":  thermal(5, 0),
		"pi":      thermal(20, 1),
		"windup":  withSetpoints(thermal(20, 4), control.SetpointStep{At: 150, Value: 30}),
		"steps":   withSetpoints(thermal(20, 1), control.SetpointStep{At: 100, Value: 60}, control.SetpointStep{At: 200, Value: 35}),
		"noisy":   withNoise(thermal(20, 1), 0.3, 0.5),
		"retuned": withEvents(thermal(5, 0), control.Event{At: 100, Gains: &pid.Gains{P: 20, I: 1}}),
	},
	"dc_motor": {
		"p-only": motor(40, 0),
		"pi":     motor(40, 1),
	},
	"spring_mass": {
		"pd":  spring(60, 0, 500),
		"pid": spring(60, 1, 500),
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(plant, preset string) *Config {
	plantPresets, ok := Presets[plant]
	if !ok {
		return nil
	}
	cfg, ok := plantPresets[preset]
	if !ok {
		return nil
	}
	c := *cfg
	return &c
}

func ListPresets(plant string) []string {
	plantPresets, ok := Presets[plant]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(plantPresets))
	for name := range plantPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
