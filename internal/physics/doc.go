// Package physics provides the plants a controller can be closed around.
//
// Each plant implements [dynamo.System] and [dynamo.Sensor]:
//
//   - [Thermal]: first-order heater losing heat to ambient
//   - [DCMotor]: armature-controlled motor, speed or angle output
//   - [SpringMass]: damped mass on a spring, force input
//   - [Pendulum]: damped pendulum, torque input
//
// All plants also implement [dynamo.Configurable] for runtime parameter
// adjustment:
//
//	p := physics.NewThermal()
//	if c, ok := dynamo.System(p).(dynamo.Configurable); ok {
//	    _ = c.SetParam("ambient", 15)
//	}
package physics
