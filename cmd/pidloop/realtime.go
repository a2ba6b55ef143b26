package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/san-kum/pidloop/internal/config"
	"github.com/san-kum/pidloop/internal/experiment"
	"github.com/san-kum/pidloop/internal/logging"
	"github.com/san-kum/pidloop/internal/loop"
	"github.com/san-kum/pidloop/internal/tui"
)

// newRealtimeRunner wires the experiment's controller to a simulated plant
// paced by the wall clock. Iterations run every cfg.Dt/speed of wall time,
// while the setpoint schedule, events, noise and measurement follow the
// plant's simulated time exactly as in a simulated run.
func newRealtimeRunner(cfg *config.Config, opts ...loop.Option) (*loop.Runner, error) {
	if speed <= 0 {
		return nil, fmt.Errorf("speed must be positive, got %g", speed)
	}

	reg := experiment.NewRegistry()
	exp, err := experiment.New(cfg, reg, logger)
	if err != nil {
		return nil, err
	}
	integ, err := reg.Integrator(cfg.Integrator)
	if err != nil {
		return nil, err
	}

	period := time.Duration(cfg.Dt / speed * float64(time.Second))
	if period <= 0 {
		return nil, fmt.Errorf("speed %g is too high for dt %g", speed, cfg.Dt)
	}

	scenario := exp.Loop()
	plant := loop.NewSimulatedPlant(exp.Plant(), integ, exp.InitialState(), cfg.Dt)
	opts = append([]loop.Option{loop.WithLogger(logger.WithName("loop"))}, opts...)
	runner := loop.NewRunner(scenario.Controller(), plant, plant, period, scenario.Setpoint(0), opts...)
	plant.FollowScenario(scenario, runner.SetSetpoint)
	return runner, nil
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Console logs would tear the alternate screen.
	if logFile == "" {
		logger = logging.Discard()
	}

	feed := tui.NewFeed(64)
	runner, err := newRealtimeRunner(cfg, loop.WithObserver(feed.Observe))
	if err != nil {
		return err
	}

	return tui.Run(cmd.Context(), runner, feed, cfg.Plant)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	runner, err := newRealtimeRunner(cfg)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", runner.Metrics().Handler())
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", listenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
			cancel()
			return
		}
		srvErr <- nil
	}()

	runErr := runner.Run(ctx)

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-srvErr; err != nil {
		return err
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
