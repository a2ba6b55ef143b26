package physics

import (
	"fmt"

	"github.com/san-kum/pidloop/internal/dynamo"
)

const (
	DefaultMass      = 1.0
	DefaultStiffness = 10.0
	DefaultDamping   = 0.5
)

// SpringMass is a chain of masses joined by springs. The control force acts
// on the first mass and the measured output is its position.
type SpringMass struct {
	NumMasses int
	Masses    []float64
	Stiffness []float64
	Damping   []float64
}

func NewSpringMass() *SpringMass {
	return &SpringMass{
		NumMasses: 1,
		Masses:    []float64{DefaultMass},
		Stiffness: []float64{DefaultStiffness},
		Damping:   []float64{DefaultDamping},
	}
}

func NewSpringMassChain(n int) *SpringMass {
	masses := make([]float64, n)
	stiffness := make([]float64, n+1)
	damping := make([]float64, n)

	for i := 0; i < n; i++ {
		masses[i] = DefaultMass
		stiffness[i] = DefaultStiffness
		damping[i] = 0.2
	}
	stiffness[n] = DefaultStiffness

	return &SpringMass{
		NumMasses: n,
		Masses:    masses,
		Stiffness: stiffness,
		Damping:   damping,
	}
}

func (s *SpringMass) StateDim() int   { return s.NumMasses * 2 }
func (s *SpringMass) ControlDim() int { return 1 }

func (s *SpringMass) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	n := s.NumMasses
	dx := make(dynamo.State, n*2)
	copy(dx[:n], x[n:])

	for i := 0; i < n; i++ {
		pos, vel := x[i], x[n+i]

		var left float64
		if i == 0 {
			left = pos
		} else {
			left = pos - x[i-1]
		}
		force := -s.Stiffness[i] * left

		if i < n-1 {
			force -= s.Stiffness[i+1] * (pos - x[i+1])
		} else if n > 1 && len(s.Stiffness) > n {
			force -= s.Stiffness[n] * pos
		}

		force -= s.Damping[i] * vel
		if i == 0 {
			force += u.First()
		}
		dx[n+i] = force / s.Masses[i]
	}

	return dx
}

// Measure returns the position of the driven mass.
func (s *SpringMass) Measure(x dynamo.State) float64 { return x[0] }

func (s *SpringMass) Energy(x dynamo.State) float64 {
	n := s.NumMasses
	energy := 0.0

	for i := 0; i < n; i++ {
		v := x[n+i]
		energy += 0.5 * s.Masses[i] * v * v

		stretch := x[i]
		if i > 0 {
			stretch -= x[i-1]
		}
		energy += 0.5 * s.Stiffness[i] * stretch * stretch
	}

	if n > 1 && len(s.Stiffness) > n {
		energy += 0.5 * s.Stiffness[n] * x[n-1] * x[n-1]
	}

	return energy
}

// GetParams exposes the driven mass only; chains are tuned through the
// exported slices.
func (s *SpringMass) GetParams() map[string]float64 {
	return map[string]float64{
		"mass":      s.Masses[0],
		"stiffness": s.Stiffness[0],
		"damping":   s.Damping[0],
	}
}

func (s *SpringMass) SetParam(name string, value float64) error {
	switch name {
	case "mass":
		if value <= 0 {
			return fmt.Errorf("mass must be positive, got %f", value)
		}
		s.Masses[0] = value
	case "stiffness":
		s.Stiffness[0] = value
	case "damping":
		s.Damping[0] = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}
