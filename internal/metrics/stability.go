package metrics

import (
	"math"

	"github.com/san-kum/pidloop/internal/dynamo"
)

// Stability is the fraction of samples whose tracking error stays within
// threshold. A run that never leaves the band scores 1.
type Stability struct {
	name       string
	threshold  float64
	violations int
	samples    int
}

func NewStability(threshold float64) *Stability {
	return &Stability{
		name:      "stability",
		threshold: threshold,
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(smp dynamo.Sample) {
	s.samples++
	if math.Abs(smp.Error()) > s.threshold {
		s.violations++
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}
