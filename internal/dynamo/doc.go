// Package dynamo provides the closed-loop simulation core used to exercise
// controllers against simulated plants.
//
// The package defines the interfaces and types for fixed-step simulation of
// ordinary differential equations (dX/dt = f(X, u, t)) under feedback:
//
//   - [State]: vector representing plant state
//   - [System]: interface for plant dynamics
//   - [Sensor]: plant that exposes a scalar process variable
//   - [Integrator]: numerical integrator interface
//   - [Controller]: feedback controller interface
//   - [Simulator]: orchestrates simulation runs
//
// # Example
//
//	plant := physics.NewThermal()
//	integ := integrators.NewRK4()
//	sim := dynamo.New(plant, integ, loop)
//	result, _ := sim.Run(ctx, x0, cfg)
//
// # Thread Safety
//
// Simulator instances are NOT thread-safe. For parallel simulations,
// use the [Ensemble] type which builds one simulator per run.
package dynamo
