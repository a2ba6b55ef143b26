package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-logr/logr"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/pidloop/internal/analysis"
	"github.com/san-kum/pidloop/internal/config"
	"github.com/san-kum/pidloop/internal/experiment"
	"github.com/san-kum/pidloop/internal/export"
	"github.com/san-kum/pidloop/internal/logging"
	"github.com/san-kum/pidloop/internal/storage"
)

var (
	dataDir  string
	logLevel string
	logFile  string

	configFile string
	preset     string
	plantName  string
	integrator string
	dt         float64
	duration   float64
	seed       int64
	kp         uint32
	ki         uint32
	kd         uint32
	lower      int32
	upper      int32
	deadzone   float64
	setpoint   float64
	timeUnit   string
	classicD   bool
	noise      float64
	saveConfig string

	speed      = 1.0
	listenAddr string
	runs       int
	outPath    string
	width      int
	height     int

	logger = logr.Discard()
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "pidloop",
		Short:         "bounded pid controller lab",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logging.New(logging.Options{Level: logLevel, File: logFile})
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".pidloop", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "error, warn, info, debug, trace or a verbosity number")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write rotated JSON logs to this file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "simulate a closed loop and store the run",
		Args:  cobra.NoArgs,
		RunE:  runExperiment,
	}
	addLoopFlags(runCmd)
	runCmd.Flags().StringVar(&saveConfig, "save-config", "", "write the effective config to this yaml file")

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "tune a loop against a simulated plant in real time",
		Args:  cobra.NoArgs,
		RunE:  runLive,
	}
	addLoopFlags(liveCmd)
	liveCmd.Flags().Float64Var(&speed, "speed", 1, "simulated seconds per wall clock second")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run a loop in real time and expose prometheus metrics",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	addLoopFlags(serveCmd)
	serveCmd.Flags().Float64Var(&speed, "speed", 1, "simulated seconds per wall clock second")
	serveCmd.Flags().StringVar(&listenAddr, "addr", ":9090", "metrics listen address")

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "run an ensemble over consecutive seeds and summarize the metrics",
		Args:  cobra.NoArgs,
		RunE:  benchEnsemble,
	}
	addLoopFlags(benchCmd)
	benchCmd.Flags().IntVar(&runs, "runs", 8, "number of ensemble members")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot run results in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().IntVar(&width, "width", 80, "graph width")
	plotCmd.Flags().IntVar(&height, "height", 12, "graph height")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "frequency analysis of the tracking error",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export run samples to CSV on stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return storage.New(dataDir).CopySamples(args[0], os.Stdout)
		},
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run metadata and samples to JSON on stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}

	exportPNGCmd := &cobra.Command{
		Use:   "export-png [run_id]",
		Short: "render the run to an image",
		Args:  cobra.ExactArgs(1),
		RunE:  exportPNG,
	}
	exportPNGCmd.Flags().StringVarP(&outPath, "output", "o", "", "output file, format follows the extension (default <run_id>.png)")

	presetsCmd := &cobra.Command{
		Use:   "presets [plant]",
		Short: "list available presets",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listPresets,
	}

	rootCmd.AddCommand(runCmd, liveCmd, serveCmd, benchCmd, listCmd, plotCmd, analyzeCmd,
		exportCSVCmd, exportJSONCmd, exportPNGCmd, presetsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addLoopFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "config file path (yaml)")
	f.StringVar(&preset, "preset", "", "use a preset for --plant")
	f.StringVar(&plantName, "plant", "thermal", "plant model")
	f.StringVar(&integrator, "integrator", "euler", "integrator")
	f.Float64Var(&dt, "dt", config.DefaultDt, "controller period in simulated seconds")
	f.Float64Var(&duration, "time", config.DefaultDuration, "duration in simulated seconds")
	f.Int64Var(&seed, "seed", 0, "noise seed")
	f.Uint32Var(&kp, "kp", config.DefaultKp, "proportional gain")
	f.Uint32Var(&ki, "ki", config.DefaultKi, "integral gain")
	f.Uint32Var(&kd, "kd", config.DefaultKd, "derivative gain")
	f.Int32Var(&lower, "lower", config.DefaultLower, "lower output bound")
	f.Int32Var(&upper, "upper", config.DefaultUpper, "upper output bound")
	f.Float64Var(&deadzone, "deadzone", 0, "error deadzone")
	f.Float64Var(&setpoint, "setpoint", config.DefaultSetpoint, "setpoint")
	f.StringVar(&timeUnit, "unit", config.DefaultTimeUnit, "time unit dt is counted in")
	f.BoolVar(&classicD, "classic-d", false, "derivative on error instead of on measurement")
	f.Float64Var(&noise, "noise", 0, "measurement noise standard deviation")
}

// loadConfig resolves the effective config: a config file or preset first,
// then any flag given explicitly on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	switch {
	case configFile != "":
		c, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = c
	case preset != "":
		c := config.GetPreset(plantName, preset)
		if c == nil {
			return nil, fmt.Errorf("unknown preset: %s (available for %s: %v)", preset, plantName, config.ListPresets(plantName))
		}
		cfg = c
	}

	f := cmd.Flags()
	cc := &cfg.Controller
	if f.Changed("plant") {
		cfg.Plant = plantName
	}
	if f.Changed("integrator") {
		cfg.Integrator = integrator
	}
	if f.Changed("dt") {
		cfg.Dt = dt
	}
	if f.Changed("time") {
		cfg.Duration = duration
	}
	if f.Changed("seed") {
		cfg.Seed = seed
	}
	if f.Changed("kp") {
		cc.Kp = kp
	}
	if f.Changed("ki") {
		cc.Ki = ki
	}
	if f.Changed("kd") {
		cc.Kd = kd
	}
	if f.Changed("lower") {
		cc.Lower = lower
	}
	if f.Changed("upper") {
		cc.Upper = upper
	}
	if f.Changed("deadzone") {
		cc.Deadzone = deadzone
	}
	if f.Changed("setpoint") {
		cc.Setpoint = setpoint
	}
	if f.Changed("unit") {
		cc.TimeUnit = timeUnit
	}
	if f.Changed("classic-d") {
		cc.AntiKickback = !classicD
	}
	if f.Changed("noise") {
		cfg.Noise.StdDev = noise
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runExperiment(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	exp, err := experiment.New(cfg, experiment.NewRegistry(), logger)
	if err != nil {
		return err
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	cc := cfg.Controller
	fmt.Printf("running %s (kp=%d ki=%d kd=%d, bounds [%d, %d])...\n", cfg.Plant, cc.Kp, cc.Ki, cc.Kd, cc.Lower, cc.Upper)
	start := time.Now()

	result, err := exp.Run(cmd.Context())
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	for _, e := range result.Errors {
		fmt.Printf("warning: %v\n", e)
	}

	runID, err := st.Save(exp.Metadata(), result)
	if err != nil {
		return err
	}

	if saveConfig != "" {
		if err := config.Save(saveConfig, cfg); err != nil {
			return err
		}
	}

	fmt.Printf("completed in %v\n", elapsed)
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("steps: %d\n", result.StepsTaken)
	fmt.Println("\nmetrics:")
	for _, name := range slices.Sorted(maps.Keys(result.Metrics)) {
		fmt.Printf("  %-16s %.6f\n", name, result.Metrics[name])
	}

	return nil
}

func benchEnsemble(cmd *cobra.Command, args []string) error {
	if runs < 1 {
		return fmt.Errorf("runs must be at least 1, got %d", runs)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	exp, err := experiment.New(cfg, experiment.NewRegistry(), logger)
	if err != nil {
		return err
	}

	fmt.Printf("benchmarking %s over %d seeds from %d\n\n", cfg.Plant, runs, cfg.Seed)
	start := time.Now()
	results, err := exp.RunEnsemble(cmd.Context(), runs)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	steps := 0
	for _, r := range results {
		steps += r.StepsTaken
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tMEAN\tSTDDEV\tMIN\tMAX")

	for _, name := range slices.Sorted(maps.Keys(results[0].Metrics)) {
		vals := make([]float64, len(results))
		for i, r := range results {
			vals[i] = r.Metrics[name]
		}
		mean, std := stat.MeanStdDev(vals, nil)
		if len(vals) < 2 {
			std = 0
		}
		fmt.Fprintf(w, "%s\t%.6f\t%.6f\t%.6f\t%.6f\n", name, mean, std, slices.Min(vals), slices.Max(vals))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d steps in %v (%.0f steps/sec)\n", steps, elapsed, float64(steps)/elapsed.Seconds())
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	runs, err := storage.New(dataDir).List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPLANT\tTIME\tDURATION\tDT\tGAINS\tBOUNDS\tIAE")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1fs\t%.4fs\t%d/%d/%d\t[%d, %d]\t%.3f\n",
			run.ID,
			run.Plant,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Duration,
			run.Dt,
			run.Gains.P, run.Gains.I, run.Gains.D,
			run.Lower, run.Upper,
			run.Metrics["iae"],
		)
	}

	return w.Flush()
}

func loadStored(runID string) (*storage.RunMetadata, *storage.Run, error) {
	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return nil, nil, err
	}
	run, err := st.LoadRun(runID)
	if err != nil {
		return nil, nil, err
	}
	if len(run.Times) == 0 {
		return nil, nil, export.ErrEmptyRun
	}
	return meta, run, nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	meta, run, err := loadStored(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("plant: %s\n", meta.Plant)
	fmt.Printf("samples: %d\n\n", len(run.Times))

	fmt.Println(asciigraph.PlotMany([][]float64{run.Setpoint, run.PV},
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.SeriesColors(asciigraph.Red, asciigraph.Green),
		asciigraph.Caption("setpoint (red) / process variable (green)"),
	))
	fmt.Println()
	fmt.Println(asciigraph.Plot(run.Output,
		asciigraph.Height(height/2),
		asciigraph.Width(width),
		asciigraph.LowerBound(float64(meta.Lower)),
		asciigraph.UpperBound(float64(meta.Upper)),
		asciigraph.Caption(fmt.Sprintf("output [%d, %d]", meta.Lower, meta.Upper)),
	))

	return nil
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	meta, run, err := loadStored(args[0])
	if err != nil {
		return err
	}

	errs := make([]float64, len(run.PV))
	for i := range run.PV {
		errs[i] = run.Setpoint[i] - run.PV[i]
	}

	fmt.Printf("frequency analysis: %s\n", meta.ID)
	fmt.Printf("plant: %s\n\n", meta.Plant)

	ps := analysis.PowerSpectrum(errs)
	if len(ps) > 8 {
		fmt.Println(asciigraph.Plot(ps[:len(ps)/4],
			asciigraph.Height(15),
			asciigraph.Width(80),
			asciigraph.Caption("tracking error spectrum"),
		))
		fmt.Println()
	}

	freq, mag := analysis.DominantFrequency(errs, 1/meta.Dt)
	fmt.Printf("dominant frequency: %.4f hz (magnitude %.3f)\n", freq, mag)
	if freq > 0 {
		fmt.Printf("period: %.3f s\n", 1/freq)
	}
	fmt.Printf("error stddev: %.4f\n", stat.StdDev(errs, nil))

	return nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	meta, run, err := loadStored(args[0])
	if err != nil {
		return err
	}
	return storage.ExportRun(os.Stdout, *meta, run)
}

func exportPNG(cmd *cobra.Command, args []string) error {
	meta, run, err := loadStored(args[0])
	if err != nil {
		return err
	}

	path := outPath
	if path == "" {
		path = meta.ID + ".png"
	}

	opts := export.DefaultPlotOptions()
	opts.Title = fmt.Sprintf("%s  kp=%d ki=%d kd=%d", meta.Plant, meta.Gains.P, meta.Gains.I, meta.Gains.D)
	if err := export.SavePlot(path, run, opts); err != nil {
		return err
	}

	fmt.Printf("wrote %s\n", path)
	return nil
}

func listPresets(cmd *cobra.Command, args []string) error {
	plants := slices.Sorted(maps.Keys(config.Presets))
	if len(args) == 1 {
		plants = []string{args[0]}
	}

	for _, plant := range plants {
		names := config.ListPresets(plant)
		if len(names) == 0 {
			fmt.Printf("no presets for plant: %s\n", plant)
			continue
		}
		fmt.Printf("presets for %s:\n", plant)
		for _, name := range names {
			c := config.Presets[plant][name].Controller
			fmt.Printf("  %-10s kp=%d ki=%d kd=%d setpoint=%g\n", name, c.Kp, c.Ki, c.Kd, c.Setpoint)
		}
	}
	return nil
}
