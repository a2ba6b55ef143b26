// Package analysis inspects recorded loop signals in the frequency domain.
//
//   - [PowerSpectrum]: magnitude spectrum of a signal
//   - [DominantFrequency]: strongest oscillation in a signal
//
// # Limit Cycle Detection
//
// An oscillating loop concentrates its error energy in a single bin:
//
//	f, mag := analysis.DominantFrequency(errors, 1/dt)
//	if mag > threshold {
//	    // loop is hunting at f Hz
//	}
package analysis
