package metrics

import (
	"math"

	"github.com/san-kum/pidloop/internal/dynamo"
)

// Overshoot is the largest excursion past the setpoint, as a percentage of
// the initial error. The direction of the first nonzero error decides which
// side counts as past.
type Overshoot struct {
	initial float64
	peak    float64
}

func NewOvershoot() *Overshoot { return &Overshoot{} }

func (o *Overshoot) Name() string { return "overshoot_pct" }

func (o *Overshoot) Observe(s dynamo.Sample) {
	e := s.Error()
	if o.initial == 0 {
		o.initial = e
		return
	}
	// past the setpoint the error has the opposite sign to the initial one
	if past := -e * math.Copysign(1, o.initial); past > o.peak {
		o.peak = past
	}
}

func (o *Overshoot) Value() float64 {
	if o.initial == 0 {
		return 0
	}
	return 100 * o.peak / math.Abs(o.initial)
}

func (o *Overshoot) Reset() {
	o.initial = 0
	o.peak = 0
}

// SettlingTime is the time of the last sample whose error lies outside a
// band of fraction times the initial error. Zero means the loop never left
// the band.
type SettlingTime struct {
	fraction float64
	band     float64
	last     float64
	started  bool
}

func NewSettlingTime(fraction float64) *SettlingTime {
	return &SettlingTime{fraction: fraction}
}

func (s *SettlingTime) Name() string { return "settling_time" }

func (s *SettlingTime) Observe(smp dynamo.Sample) {
	e := math.Abs(smp.Error())
	if !s.started {
		s.band = s.fraction * e
		s.started = true
	}
	if e > s.band {
		s.last = smp.T
	}
}

func (s *SettlingTime) Value() float64 { return s.last }

func (s *SettlingTime) Reset() {
	s.band = 0
	s.last = 0
	s.started = false
}

// Saturation is the fraction of samples where the output sits on a bound.
type Saturation struct {
	lower, upper float64
	hits         int
	samples      int
}

func NewSaturation(lower, upper float64) *Saturation {
	return &Saturation{lower: lower, upper: upper}
}

func (s *Saturation) Name() string { return "saturation" }

func (s *Saturation) Observe(smp dynamo.Sample) {
	s.samples++
	if u := smp.U.First(); u <= s.lower || u >= s.upper {
		s.hits++
	}
}

func (s *Saturation) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return float64(s.hits) / float64(s.samples)
}

func (s *Saturation) Reset() {
	s.hits = 0
	s.samples = 0
}
