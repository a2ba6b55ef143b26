package metrics

import (
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/pidloop/internal/dynamo"
)

// ErrorStdDev is the sample standard deviation of the tracking error over
// the trailing part of a run, which measures chatter once the transient
// has passed.
type ErrorStdDev struct {
	after  float64
	errors []float64
}

// NewErrorStdDev ignores samples taken before time after.
func NewErrorStdDev(after float64) *ErrorStdDev {
	return &ErrorStdDev{after: after}
}

func (m *ErrorStdDev) Name() string { return "error_stddev" }

func (m *ErrorStdDev) Observe(s dynamo.Sample) {
	if s.T < m.after {
		return
	}
	m.errors = append(m.errors, s.Error())
}

func (m *ErrorStdDev) Value() float64 {
	if len(m.errors) < 2 {
		return 0
	}
	return stat.StdDev(m.errors, nil)
}

func (m *ErrorStdDev) Reset() { m.errors = m.errors[:0] }
