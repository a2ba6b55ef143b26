package timer

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	testclock "k8s.io/utils/clock/testing"
)

var _ = Describe("Stopwatch", func() {
	var (
		fc *testclock.FakeClock
		sw *Stopwatch
	)

	BeforeEach(func() {
		fc = testclock.NewFakeClock(time.Unix(1700000000, 0))
		sw = NewStopwatch(fc)
	})

	It("reports zero before it is ever started", func() {
		fc.Step(time.Second)
		Expect(sw.Elapsed()).To(BeZero())
		sw.Stop()
		Expect(sw.Elapsed()).To(BeZero())
	})

	It("measures the time between start and stop", func() {
		sw.Start()
		fc.Step(250 * time.Microsecond)
		sw.Stop()
		Expect(sw.Elapsed()).To(Equal(250 * time.Microsecond))

		fc.Step(time.Second)
		Expect(sw.Elapsed()).To(Equal(250*time.Microsecond), "stopped stopwatch must not advance")
	})

	It("includes the running segment while started", func() {
		sw.Start()
		fc.Step(3 * time.Millisecond)
		Expect(sw.Running()).To(BeTrue())
		Expect(sw.Elapsed()).To(Equal(3 * time.Millisecond))
	})

	It("accumulates across segments until reset", func() {
		sw.Start()
		fc.Step(time.Millisecond)
		sw.Stop()
		sw.Start()
		fc.Step(2 * time.Millisecond)
		sw.Stop()
		Expect(sw.Elapsed()).To(Equal(3 * time.Millisecond))

		sw.Reset()
		Expect(sw.Elapsed()).To(BeZero())
		Expect(sw.Running()).To(BeFalse())
	})

	It("never reports negative time when the clock goes backwards", func() {
		sw.Start()
		fc.SetTime(fc.Now().Add(-time.Second))
		sw.Stop()
		Expect(sw.Elapsed()).To(BeZero())
	})

	It("falls back to the real clock", func() {
		wall := NewStopwatch(nil)
		wall.Start()
		Eventually(wall.Elapsed).Should(BeNumerically(">", 0))
	})
})

var _ = DescribeTable("Ticks",
	func(d, unit time.Duration, want int64) {
		Expect(Ticks(d, unit)).To(Equal(want))
	},
	Entry("microseconds", 10*time.Millisecond, time.Microsecond, int64(10000)),
	Entry("milliseconds truncate", 1500*time.Microsecond, time.Millisecond, int64(1)),
	Entry("sub-unit", 500*time.Microsecond, time.Millisecond, int64(0)),
	Entry("zero unit", time.Second, time.Duration(0), int64(0)),
)
