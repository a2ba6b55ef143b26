package analysis

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// PowerSpectrum returns the single-sided magnitude spectrum of data with
// its mean removed, so bin 0 carries no DC offset. Any length is accepted.
func PowerSpectrum(data []float64) []float64 {
	n := len(data)
	if n < 2 {
		return nil
	}

	mean := 0.0
	for _, v := range data {
		mean += v
	}
	mean /= float64(n)

	centered := make([]float64, n)
	for i, v := range data {
		centered[i] = v - mean
	}

	spectrum := fft.FFTReal(centered)
	ps := make([]float64, n/2)
	for i := range ps {
		ps[i] = cmplx.Abs(spectrum[i])
	}

	return ps
}

// DominantFrequency returns the frequency in Hz of the strongest non-DC
// component of data sampled at sampleRate, and its magnitude. A loop that
// settles has no dominant component; a limit cycle from too much gain or
// a deadzone shows up as a clear peak.
func DominantFrequency(data []float64, sampleRate float64) (freq, magnitude float64) {
	ps := PowerSpectrum(data)
	if len(ps) < 2 {
		return 0, 0
	}

	peak := 1
	for i := 2; i < len(ps); i++ {
		if ps[i] > ps[peak] {
			peak = i
		}
	}

	return float64(peak) * sampleRate / float64(len(data)), ps[peak]
}
