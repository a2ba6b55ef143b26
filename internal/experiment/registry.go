package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/pidloop/internal/dynamo"
	"github.com/san-kum/pidloop/internal/integrators"
	"github.com/san-kum/pidloop/internal/physics"
)

type Registry struct {
	plants      map[string]func() dynamo.System
	integrators map[string]func() dynamo.Integrator
}

func NewRegistry() *Registry {
	r := &Registry{
		plants:      make(map[string]func() dynamo.System),
		integrators: make(map[string]func() dynamo.Integrator),
	}

	r.plants["thermal"] = func() dynamo.System { return physics.NewThermal() }
	r.plants["dc_motor"] = func() dynamo.System { return physics.NewDCMotor() }
	r.plants["spring_mass"] = func() dynamo.System { return physics.NewSpringMass() }
	r.plants["pendulum"] = func() dynamo.System { return physics.NewPendulum() }

	r.integrators["euler"] = func() dynamo.Integrator { return integrators.NewEuler() }
	r.integrators["rk4"] = func() dynamo.Integrator { return integrators.NewRK4() }
	r.integrators["rk45"] = func() dynamo.Integrator { return integrators.NewRK45() }

	return r
}

// Plant returns a fresh instance of the named plant.
func (r *Registry) Plant(name string) (dynamo.System, error) {
	fn, ok := r.plants[name]
	if !ok {
		return nil, fmt.Errorf("%w: plant %q", dynamo.ErrUnknownComponent, name)
	}
	return fn(), nil
}

func (r *Registry) Integrator(name string) (dynamo.Integrator, error) {
	fn, ok := r.integrators[name]
	if !ok {
		return nil, fmt.Errorf("%w: integrator %q", dynamo.ErrUnknownComponent, name)
	}
	return fn(), nil
}

func (r *Registry) ListPlants() []string      { return sortedKeys(r.plants) }
func (r *Registry) ListIntegrators() []string { return sortedKeys(r.integrators) }

func sortedKeys[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RestState is the state a plant sits in with no input applied.
func RestState(sys dynamo.System) dynamo.State {
	if h, ok := sys.(*physics.Thermal); ok {
		return dynamo.State{h.Ambient}
	}
	return make(dynamo.State, sys.StateDim())
}
