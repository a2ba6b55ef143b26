// Package pid implements a bounded, thread-safe PID controller for use
// inside a real-time control loop.
//
// Every call to [Controller.Compute] performs one loop iteration:
//
//	error = setPoint - processVariable    (forced to 0 inside the deadzone)
//	P     = Kp * error
//	I     = clamp(I + Ki * error * dt, lower, upper)
//	D     = Kd * d(pv)/dt                 (anti-kickback, the default)
//	D     = Kd * d(error)/dt              (classic, WithAntiKickback(false))
//	out   = clamp(P + I + D, lower, upper)
//
// # Time unit
//
// dt is the whole number of time units elapsed since the previous Compute
// or Reset call. The unit is microseconds unless changed with
// [WithTimeUnit]; the integral and derivative gains are expressed per unit.
// The first Compute after construction or Reset sees dt = 0, which
// suppresses both the integral and the derivative contribution.
//
// # Concurrency
//
// A Controller is safe for concurrent use. A single mutex serializes every
// public method; Compute holds it for the whole iteration, so gain updates
// issued from other goroutines are observed either entirely before or
// entirely after a given iteration.
package pid
