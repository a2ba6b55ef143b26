// Package timer provides the elapsed-time source used by the controller.
//
// A [Timer] is started after every control iteration and stopped at the
// start of the next one, so [Timer.Elapsed] yields the loop period. The
// [Stopwatch] implementation reads time from a [k8s.io/utils/clock.PassiveClock],
// which lets tests and simulations drive it with a fake clock:
//
//	fc := testclock.NewFakeClock(time.Now())
//	sw := timer.NewStopwatch(fc)
//	sw.Start()
//	fc.Step(10 * time.Millisecond)
//	sw.Stop()
//	sw.Elapsed() // 10ms
package timer
