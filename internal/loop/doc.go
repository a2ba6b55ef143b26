// Package loop runs a pid.Controller in real time against a sensor and an
// actuator, exporting Prometheus metrics for every iteration.
//
//	runner := loop.NewRunner(ctrl, plant, plant, 100*time.Millisecond, 40)
//	http.Handle("/metrics", runner.Metrics().Handler())
//	err := runner.Run(ctx)
package loop
