package pid

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr/funcr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	testclock "k8s.io/utils/clock/testing"
)

// stubTimer reports a fixed elapsed time once stopped after a start.
type stubTimer struct {
	elapsed time.Duration
	started bool
	calls   []string
}

func (s *stubTimer) Start() { s.started = true; s.calls = append(s.calls, "start") }
func (s *stubTimer) Stop()  { s.calls = append(s.calls, "stop") }
func (s *stubTimer) Reset() { s.calls = append(s.calls, "reset") }
func (s *stubTimer) Elapsed() time.Duration {
	if !s.started {
		return 0
	}
	return s.elapsed
}

var _ = Describe("Controller", func() {
	var fc *testclock.FakeClock

	BeforeEach(func() {
		fc = testclock.NewFakeClock(time.Unix(1700000000, 0))
	})

	newController := func(p, i, d uint32, lower, upper int32, deadzone float64, opts ...Option) *Controller {
		return New(p, i, d, lower, upper, deadzone, append([]Option{WithClock(fc)}, opts...)...)
	}

	It("computes the proportional example", func() {
		c := newController(2, 0, 0, -100, 100, 0)
		Expect(c.Compute(10, 0)).To(Equal(20.0))
	})

	It("defaults to anti-kickback and microsecond ticks", func() {
		c := New(1, 1, 1, -1, 1, 0)
		Expect(c.AntiKickback()).To(BeTrue())
		Expect(c.TimeUnit()).To(Equal(time.Microsecond))
		lower, upper := c.Bounds()
		Expect(lower).To(Equal(int32(-1)))
		Expect(upper).To(Equal(int32(1)))
	})

	Describe("gain and deadzone accessors", func() {
		It("reports what was last written", func() {
			c := newController(1, 2, 3, -10, 10, 0.25)
			Expect(c.ProportionalGain()).To(Equal(uint32(1)))
			Expect(c.IntegralGain()).To(Equal(uint32(2)))
			Expect(c.DerivativeGain()).To(Equal(uint32(3)))
			Expect(c.Deadzone()).To(Equal(0.25))

			c.UpdateProportionalGain(7)
			c.UpdateIntegralGain(8)
			c.UpdateDerivativeGain(9)
			c.UpdateDeadzone(1.5)

			Expect(c.Gains()).To(Equal(Gains{P: 7, I: 8, D: 9}))
			Expect(c.Deadzone()).To(Equal(1.5))

			c.UpdateGains(Gains{P: 4, I: 5, D: 6})
			Expect(c.ProportionalGain()).To(Equal(uint32(4)))
			Expect(c.IntegralGain()).To(Equal(uint32(5)))
			Expect(c.DerivativeGain()).To(Equal(uint32(6)))
		})
	})

	Describe("bounding", func() {
		It("keeps the output and the integral inside the bounds", func() {
			rng := rand.New(rand.NewSource(7))
			c := newController(40, 3, 5000, -250, 400, 0.1, WithAntiKickback(false))

			for i := 0; i < 2000; i++ {
				fc.Step(time.Duration(rng.Intn(5000)) * time.Microsecond)
				sp := rng.NormFloat64() * 500
				pv := rng.NormFloat64() * 500
				out := c.Compute(sp, pv)
				Expect(out).To(BeNumerically(">=", -250))
				Expect(out).To(BeNumerically("<=", 400))

				st := c.Status()
				Expect(st.Integral).To(BeNumerically(">=", -250))
				Expect(st.Integral).To(BeNumerically("<=", 400))
			}
		})

		It("maps NaN inputs to the lower bound", func() {
			c := newController(1, 1, 1, -5, 5, 0)
			Expect(c.Compute(math.NaN(), 0)).To(Equal(-5.0))
			fc.Step(time.Millisecond)
			Expect(c.Compute(0, math.Inf(1))).To(Equal(-5.0))
			Expect(c.Status().Integral).To(BeNumerically(">=", -5))
		})

		It("is deterministic when the bounds are inverted", func() {
			a := newController(1, 0, 0, 10, -10, 0)
			b := New(1, 0, 0, 10, -10, 0, WithClock(testclock.NewFakeClock(fc.Now())))
			Expect(a.Compute(3, 0)).To(Equal(b.Compute(3, 0)))
		})
	})

	Describe("deadzone", func() {
		It("treats small errors as zero on a fresh controller", func() {
			c := newController(5, 3, 7, -100, 100, 0.5)
			Expect(c.Compute(10, 9.7)).To(Equal(0.0))
		})

		It("keeps error-driven paths at zero across calls", func() {
			c := newController(5, 3, 7, -100, 100, 0.5, WithAntiKickback(false))
			Expect(c.Compute(10, 9.7)).To(Equal(0.0))
			fc.Step(time.Millisecond)
			Expect(c.Compute(10, 10.4)).To(Equal(0.0))
			Expect(c.Status().PastError).To(Equal(0.0))
		})

		It("passes errors at or above the threshold", func() {
			c := newController(2, 0, 0, -100, 100, 0.5)
			Expect(c.Compute(10, 9.5)).To(BeNumerically("~", 1.0, 1e-9))
		})
	})

	Describe("zero dt", func() {
		DescribeTable("suppresses the derivative path",
			func(antiKickback bool) {
				c := newController(0, 0, 1000, -1000, 1000, 0, WithAntiKickback(antiKickback))
				Expect(c.Compute(0, 0)).To(Equal(0.0))
				Expect(c.Compute(0, 50)).To(Equal(0.0))
				Expect(c.Compute(80, 50)).To(Equal(0.0))
			},
			Entry("on measurement", true),
			Entry("on error", false),
		)

		It("adds nothing to the integral", func() {
			c := newController(0, 9, 0, -1000, 1000, 0)
			c.Compute(100, 0)
			c.Compute(100, 0)
			Expect(c.Status().Integral).To(Equal(0.0))
		})
	})

	Describe("integral path", func() {
		It("scales by elapsed ticks", func() {
			c := newController(0, 1, 0, -1000, 1000, 0, WithTimeUnit(time.Millisecond))
			c.Compute(2, 0)
			fc.Step(5 * time.Millisecond)
			Expect(c.Compute(2, 0)).To(BeNumerically("~", 10, 1e-9))
			Expect(c.Status().Integral).To(BeNumerically("~", 10, 1e-9))
		})

		It("measures dt from the previous call only", func() {
			c := newController(0, 1, 0, -1e6, 1e6, 0, WithTimeUnit(time.Millisecond))
			c.Compute(1, 0)
			fc.Step(3 * time.Millisecond)
			c.Compute(1, 0)
			fc.Step(3 * time.Millisecond)
			Expect(c.Compute(1, 0)).To(BeNumerically("~", 6, 1e-9))
		})
	})

	Describe("anti-windup", func() {
		It("pins the integral at the upper bound and reacts to a sign change at once", func() {
			c := newController(1, 1, 0, -100, 100, 0)
			Expect(c.Compute(10, 0)).To(Equal(10.0))

			var last float64
			for i := 0; i < 200; i++ {
				fc.Step(time.Millisecond)
				last = c.Compute(10, 0)
				Expect(c.Status().Integral).To(Equal(100.0))
			}
			Expect(last).To(Equal(100.0))

			fc.Step(time.Millisecond)
			reversed := c.Compute(0, 10)
			Expect(reversed).To(BeNumerically("<", last))
			Expect(reversed).To(Equal(-100.0))
		})

		It("pins the integral at the lower bound for negative error", func() {
			c := newController(0, 1, 0, -50, 80, 0)
			c.Compute(-3, 0)
			for i := 0; i < 100; i++ {
				fc.Step(time.Millisecond)
				Expect(c.Compute(-3, 0)).To(Equal(-50.0))
			}
			Expect(c.Status().Integral).To(Equal(-50.0))

			fc.Step(time.Microsecond)
			Expect(c.Compute(3, 0)).To(BeNumerically(">", -50))
		})
	})

	Describe("derivative kickback", func() {
		step := func(c *Controller) float64 {
			c.Compute(0, 5)
			fc.Step(time.Millisecond)
			return c.Compute(100, 5)
		}

		It("ignores a setpoint jump with anti-kickback", func() {
			c := newController(0, 0, 1000, -1000, 1000, 0)
			Expect(step(c)).To(Equal(0.0))
		})

		It("spikes on a setpoint jump without anti-kickback", func() {
			c := newController(0, 0, 1000, -1000, 1000, 0, WithAntiKickback(false))
			Expect(step(c)).To(BeNumerically("~", 100, 1e-9))
		})

		It("follows process variable movement with anti-kickback", func() {
			c := newController(0, 0, 1000, -1000, 1000, 0)
			c.Compute(0, 5)
			fc.Step(time.Millisecond)
			Expect(c.Compute(0, 7)).To(BeNumerically("~", 2, 1e-9))
		})
	})

	Describe("Reset", func() {
		It("behaves like a freshly constructed controller", func() {
			c := newController(2, 1, 50, -1000, 1000, 0)
			for i := 0; i < 20; i++ {
				c.Compute(7, float64(i))
				fc.Step(2 * time.Millisecond)
			}
			Expect(c.Status().Integral).NotTo(BeZero())

			c.Reset()
			st := c.Status()
			Expect(st.Integral).To(BeZero())
			Expect(st.PastError).To(BeZero())
			Expect(st.PastProcessVariable).To(BeZero())

			fc.Step(time.Second)
			fresh := New(2, 1, 50, -1000, 1000, 0, WithClock(testclock.NewFakeClock(fc.Now())))
			Expect(c.Compute(7, 3)).To(Equal(fresh.Compute(7, 3)))
			Expect(c.Status().Integral).To(BeZero())
		})

		It("is idempotent", func() {
			c := newController(2, 1, 0, -10, 10, 0)
			c.Compute(1, 0)
			fc.Step(time.Millisecond)
			c.Compute(1, 0)
			c.Reset()
			c.Reset()
			Expect(c.Status().Integral).To(BeZero())
			Expect(c.Compute(1, 0)).To(Equal(2.0))
		})
	})

	Describe("timer discipline", func() {
		It("stops, reads, resets and restarts the timer each iteration", func() {
			st := &stubTimer{elapsed: 2 * time.Millisecond}
			c := New(0, 1, 0, -1e6, 1e6, 0, WithTimer(st))

			Expect(c.Compute(1, 0)).To(Equal(0.0))
			Expect(st.calls).To(Equal([]string{"stop", "reset", "start"}))
			Expect(c.Compute(1, 0)).To(BeNumerically("~", 2000, 1e-9))

			st.calls = nil
			c.Reset()
			Expect(st.calls).To(Equal([]string{"stop", "reset"}))
		})
	})

	Describe("logging", func() {
		It("reports integral saturation transitions once", func() {
			var lines []string
			log := funcr.New(func(prefix, args string) {
				lines = append(lines, args)
			}, funcr.Options{Verbosity: 1})

			c := newController(0, 1, 0, -10, 10, 0, WithLogger(log))
			c.Compute(5, 0)
			for i := 0; i < 5; i++ {
				fc.Step(time.Millisecond)
				c.Compute(5, 0)
			}
			fc.Step(time.Microsecond)
			c.Compute(-5, 0)

			saturated := 0
			for _, l := range lines {
				if strings.Contains(l, `"integral saturated"`) {
					saturated++
				}
			}
			Expect(saturated).To(Equal(1))
			Expect(lines[len(lines)-1]).To(ContainSubstring("integral left saturation"))
		})
	})

	Describe("concurrent use", func() {
		It("never observes a gain outside the written set", func() {
			c := New(1, 0, 0, -100, 100, 0)

			var wg sync.WaitGroup
			stop := make(chan struct{})
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				for i := 0; ; i++ {
					select {
					case <-stop:
						return
					default:
					}
					if i%2 == 0 {
						c.UpdateProportionalGain(2)
					} else {
						c.UpdateGains(Gains{P: 1})
					}
					_ = c.Gains()
				}
			}()

			for i := 0; i < 5000; i++ {
				out := c.Compute(10, 0)
				Expect(out == 10 || out == 20).To(BeTrue(), "unexpected output %v", out)
			}
			close(stop)
			wg.Wait()
		})

		It("serializes concurrent Compute calls", func() {
			c := New(0, 1, 0, -1e9, 1e9, 0, WithTimer(&stubTimer{elapsed: time.Microsecond}))
			c.Compute(1, 0)

			var wg sync.WaitGroup
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 250; i++ {
						c.Compute(1, 0)
					}
				}()
			}
			wg.Wait()
			Expect(c.Status().Integral).To(Equal(2000.0))
		})
	})
})
