// Package control connects controllers to simulated plants.
//
// Controllers implement the [dynamo.Controller] interface to compute
// control inputs based on system state:
//
//   - [Loop]: a pid.Controller running on simulated time
//   - [None]: zero actuation, for open-loop comparison
//
// # Usage
//
//	clk := control.NewClock()
//	ctrl := pid.New(40, 2, 0, 0, 100, 0, pid.WithClock(clk), pid.WithTimeUnit(time.Millisecond))
//	loop := control.NewLoop(clk, ctrl, control.WithSetpoint(60))
//	sim := dynamo.New(plant, integ, loop)
//
// The loop moves the clock to the simulation time before every Compute, so
// the controller's dt equals the simulation step.
package control
