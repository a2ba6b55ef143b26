package physics

import (
	"fmt"

	"github.com/san-kum/pidloop/internal/dynamo"
)

// Thermal is a lumped heater: a single thermal mass heated by the control
// input and losing heat to a fixed ambient temperature.
//
//	C dT/dt = P*u - (T - Ta)/R
//
// Negative input is treated as zero since a resistive heater cannot cool.
type Thermal struct {
	Capacity   float64 // J/K
	Resistance float64 // K/W to ambient
	Ambient    float64 // degrees C
	PowerScale float64 // W per unit of controller output
}

func NewThermal() *Thermal {
	return &Thermal{
		Capacity:   50.0,
		Resistance: 2.0,
		Ambient:    20.0,
		PowerScale: 1.0,
	}
}

func (h *Thermal) StateDim() int   { return 1 }
func (h *Thermal) ControlDim() int { return 1 }

func (h *Thermal) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	power := u.First() * h.PowerScale
	if power < 0 {
		power = 0
	}
	loss := (x[0] - h.Ambient) / h.Resistance
	return dynamo.State{(power - loss) / h.Capacity}
}

func (h *Thermal) Measure(x dynamo.State) float64 { return x[0] }

// SteadyState returns the temperature reached under constant input u.
func (h *Thermal) SteadyState(u float64) float64 {
	if u < 0 {
		u = 0
	}
	return h.Ambient + u*h.PowerScale*h.Resistance
}

func (h *Thermal) GetParams() map[string]float64 {
	return map[string]float64{
		"capacity":    h.Capacity,
		"resistance":  h.Resistance,
		"ambient":     h.Ambient,
		"power_scale": h.PowerScale,
	}
}

func (h *Thermal) SetParam(name string, value float64) error {
	switch name {
	case "capacity":
		if value <= 0 {
			return fmt.Errorf("capacity must be positive, got %f", value)
		}
		h.Capacity = value
	case "resistance":
		if value <= 0 {
			return fmt.Errorf("resistance must be positive, got %f", value)
		}
		h.Resistance = value
	case "ambient":
		h.Ambient = value
	case "power_scale":
		h.PowerScale = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}
