package loop

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/san-kum/pidloop/internal/control"
	"github.com/san-kum/pidloop/internal/dynamo"
	"github.com/san-kum/pidloop/internal/integrators"
	"github.com/san-kum/pidloop/internal/physics"
	"github.com/san-kum/pidloop/internal/pid"
)

type fixedSensor struct {
	pv  float64
	err error
}

func (s *fixedSensor) Read() (float64, error) { return s.pv, s.err }

type recordingActuator struct {
	mu      sync.Mutex
	outputs []float64
	err     error
}

func (a *recordingActuator) Write(out float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.outputs = append(a.outputs, out)
	return nil
}

func (a *recordingActuator) Outputs() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.outputs...)
}

var _ = Describe("Runner", func() {
	var (
		fc       *clocktesting.FakeClock
		sensor   *fixedSensor
		actuator *recordingActuator
		runner   *Runner
		steps    atomic.Int32
	)

	const period = 100 * time.Millisecond

	BeforeEach(func() {
		fc = clocktesting.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		sensor = &fixedSensor{pv: 1}
		actuator = &recordingActuator{}
		steps.Store(0)

		ctrl := pid.New(2, 0, 0, -10, 10, 0, pid.WithClock(fc))
		runner = NewRunner(ctrl, sensor, actuator, period, 3,
			WithClock(fc),
			WithObserver(func(Reading) { steps.Add(1) }),
		)
	})

	It("reads, computes and actuates in one step", func() {
		Expect(runner.Step()).To(BeTrue())

		Expect(actuator.Outputs()).To(Equal([]float64{4}))
		m := runner.Metrics()
		Expect(testutil.ToFloat64(m.iterations)).To(Equal(1.0))
		Expect(testutil.ToFloat64(m.output)).To(Equal(4.0))
		Expect(testutil.ToFloat64(m.pv)).To(Equal(1.0))
		Expect(testutil.ToFloat64(m.setpoint)).To(Equal(3.0))
		Expect(testutil.ToFloat64(m.saturations)).To(BeZero())
		Expect(testutil.CollectAndCount(m.latency)).To(Equal(1))
	})

	It("counts saturated iterations", func() {
		runner.SetSetpoint(100)
		Expect(runner.Step()).To(BeTrue())

		Expect(actuator.Outputs()).To(Equal([]float64{10}))
		Expect(testutil.ToFloat64(runner.Metrics().saturations)).To(Equal(1.0))
	})

	It("skips the iteration when the sensor fails", func() {
		sensor.err = errors.New("disconnected")

		Expect(runner.Step()).To(BeFalse())
		Expect(actuator.Outputs()).To(BeEmpty())
		Expect(testutil.ToFloat64(runner.Metrics().failures.WithLabelValues("sensor"))).To(Equal(1.0))
		Expect(testutil.ToFloat64(runner.Metrics().iterations)).To(BeZero())
	})

	It("counts actuator failures", func() {
		actuator.err = errors.New("stuck")

		Expect(runner.Step()).To(BeFalse())
		Expect(testutil.ToFloat64(runner.Metrics().failures.WithLabelValues("actuator"))).To(Equal(1.0))
	})

	It("ticks once per period until cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- runner.Run(ctx) }()

		Eventually(fc.HasWaiters).Should(BeTrue())
		for i := 1; i <= 3; i++ {
			fc.Step(period)
			Eventually(steps.Load).Should(Equal(int32(i)))
		}

		cancel()
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
		Expect(actuator.Outputs()).To(HaveLen(3))
	})

	It("accepts setpoint changes while running", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = runner.Run(ctx) }()

		Eventually(fc.HasWaiters).Should(BeTrue())
		runner.SetSetpoint(4)
		fc.Step(period)
		Eventually(steps.Load).Should(Equal(int32(1)))

		Expect(actuator.Outputs()).To(Equal([]float64{6}))
	})

	It("serves the registry over HTTP", func() {
		runner.Step()

		rec := httptest.NewRecorder()
		runner.Metrics().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("pidloop_iterations_total 1"))
		Expect(rec.Body.String()).To(ContainSubstring("pidloop_output 4"))
	})
})

var _ = Describe("SimulatedPlant", func() {
	It("advances the plant under the last output", func() {
		h := physics.NewThermal()
		plant := NewSimulatedPlant(h, integrators.NewEuler(), dynamo.State{h.Ambient}, 1)

		idle, err := plant.Read()
		Expect(err).NotTo(HaveOccurred())
		Expect(idle).To(Equal(h.Ambient))

		Expect(plant.Write(50)).To(Succeed())
		warm, err := plant.Read()
		Expect(err).NotTo(HaveOccurred())
		Expect(warm).To(BeNumerically(">", h.Ambient))

		x, t := plant.State()
		Expect(x).To(HaveLen(1))
		Expect(t).To(Equal(2.0))
	})

	It("follows a scenario in simulated time", func() {
		h := physics.NewThermal()
		clk := control.NewClock()
		ctrl := pid.New(1, 1, 0, 0, 1000, 0, pid.WithClock(clk), pid.WithTimeUnit(100*time.Millisecond))
		scenario := control.NewLoop(clk, ctrl,
			control.WithSetpoint(30),
			control.WithSchedule([]control.SetpointStep{{At: 0.2, Value: 50}, {At: 0.5, Value: 45}}),
			control.WithEvents([]control.Event{{At: 0.2, Gains: &pid.Gains{P: 3, I: 2}}}),
		)

		plant := NewSimulatedPlant(h, integrators.NewEuler(), dynamo.State{h.Ambient}, 0.1)
		runner := NewRunner(ctrl, plant, plant, time.Second, 0,
			WithClock(clocktesting.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))
		plant.FollowScenario(scenario, runner.SetSetpoint)

		Expect(runner.Step()).To(BeTrue())
		Expect(runner.Setpoint()).To(Equal(30.0))
		Expect(ctrl.Gains()).To(Equal(pid.Gains{P: 1, I: 1}))

		Expect(runner.Step()).To(BeTrue())
		Expect(runner.Setpoint()).To(Equal(50.0))
		Expect(ctrl.Gains()).To(Equal(pid.Gains{P: 3, I: 2}))
		Expect(ctrl.Status().Integral).To(BeNumerically(">", 0))

		runner.SetSetpoint(35)
		Expect(runner.Step()).To(BeTrue())
		Expect(runner.Setpoint()).To(Equal(35.0))

		Expect(runner.Step()).To(BeTrue())
		Expect(runner.Step()).To(BeTrue())
		Expect(runner.Setpoint()).To(Equal(45.0))

		_, t := plant.State()
		Expect(t).To(BeNumerically("~", 0.5, 1e-9))
		Expect(clk.Since(control.Epoch)).To(Equal(500 * time.Millisecond))
	})

	It("reports divergence", func() {
		h := physics.NewThermal()
		plant := NewSimulatedPlant(h, integrators.NewEuler(), dynamo.State{h.Ambient}, 1)

		Expect(plant.Write(math.Inf(1))).To(Succeed())
		_, err := plant.Read()
		Expect(err).To(MatchError(dynamo.ErrInvalidState))
	})
})
