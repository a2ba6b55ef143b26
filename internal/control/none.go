package control

import "github.com/san-kum/pidloop/internal/dynamo"

// None applies no actuation. It gives the open-loop baseline a tuned loop
// is compared against.
type None struct {
	dim int
}

func NewNone(dim int) *None {
	return &None{
		dim: dim,
	}
}

func (n *None) Compute(x dynamo.State, t float64) dynamo.Control {
	return make(dynamo.Control, n.dim)
}
