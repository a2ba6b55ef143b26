package physics

import (
	"fmt"

	"github.com/san-kum/pidloop/internal/dynamo"
)

// DCMotor is a permanent magnet motor with an inertial load. State is
// (angle, speed, current) and the input is armature voltage.
type DCMotor struct {
	Inertia     float64 // kg m^2
	Friction    float64 // N m s
	Torque      float64 // N m/A
	BackEMF     float64 // V s
	Resistance  float64 // ohm
	Inductance  float64 // H
	VoltsPerOut float64 // volts per unit of controller output

	// Output selects the measured quantity: 0 for angle, 1 for speed.
	Output int
}

func NewDCMotor() *DCMotor {
	return &DCMotor{
		Inertia:     0.01,
		Friction:    0.1,
		Torque:      0.01,
		BackEMF:     0.01,
		Resistance:  1.0,
		Inductance:  0.5,
		VoltsPerOut: 1.0,
		Output:      1,
	}
}

func (m *DCMotor) StateDim() int   { return 3 }
func (m *DCMotor) ControlDim() int { return 1 }

func (m *DCMotor) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	omega, current := x[1], x[2]
	voltage := u.First() * m.VoltsPerOut

	alpha := (m.Torque*current - m.Friction*omega) / m.Inertia
	di := (voltage - m.Resistance*current - m.BackEMF*omega) / m.Inductance

	return dynamo.State{omega, alpha, di}
}

func (m *DCMotor) Measure(x dynamo.State) float64 {
	if m.Output == 0 {
		return x[0]
	}
	return x[1]
}

// SteadySpeed returns the speed reached under constant input u.
func (m *DCMotor) SteadySpeed(u float64) float64 {
	v := u * m.VoltsPerOut
	return m.Torque * v / (m.Friction*m.Resistance + m.Torque*m.BackEMF)
}

func (m *DCMotor) GetParams() map[string]float64 {
	return map[string]float64{
		"inertia":    m.Inertia,
		"friction":   m.Friction,
		"torque":     m.Torque,
		"back_emf":   m.BackEMF,
		"resistance": m.Resistance,
		"inductance": m.Inductance,
		"volts":      m.VoltsPerOut,
		"output":     float64(m.Output),
	}
}

func (m *DCMotor) SetParam(name string, value float64) error {
	switch name {
	case "inertia", "resistance", "inductance":
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, value)
		}
	}

	switch name {
	case "inertia":
		m.Inertia = value
	case "friction":
		m.Friction = value
	case "torque":
		m.Torque = value
	case "back_emf":
		m.BackEMF = value
	case "resistance":
		m.Resistance = value
	case "inductance":
		m.Inductance = value
	case "volts":
		m.VoltsPerOut = value
	case "output":
		if value != 0 && value != 1 {
			return fmt.Errorf("output must be 0 (angle) or 1 (speed), got %f", value)
		}
		m.Output = int(value)
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}
