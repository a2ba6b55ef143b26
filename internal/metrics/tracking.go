package metrics

import (
	"math"

	"github.com/san-kum/pidloop/internal/dynamo"
)

// Tracking integrates a penalty of the tracking error over time using the
// spacing between consecutive samples.
type Tracking struct {
	name    string
	penalty func(e float64) float64

	sum   float64
	prevT float64
	prevE float64
	seen  bool
}

// NewIAE integrates the absolute error.
func NewIAE() *Tracking {
	return &Tracking{name: "iae", penalty: math.Abs}
}

// NewISE integrates the squared error, punishing large excursions harder.
func NewISE() *Tracking {
	return &Tracking{name: "ise", penalty: func(e float64) float64 { return e * e }}
}

func (m *Tracking) Name() string { return m.name }

func (m *Tracking) Observe(s dynamo.Sample) {
	e := s.Error()
	if m.seen {
		m.sum += m.penalty(m.prevE) * (s.T - m.prevT)
	}
	m.prevT, m.prevE, m.seen = s.T, e, true
}

func (m *Tracking) Value() float64 { return m.sum }

func (m *Tracking) Reset() {
	m.sum = 0
	m.prevT, m.prevE, m.seen = 0, 0, false
}
