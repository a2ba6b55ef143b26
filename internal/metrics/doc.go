// Package metrics scores closed-loop runs. Every metric implements
// [dynamo.Metric] and is fed one [dynamo.Sample] per simulation step.
package metrics
