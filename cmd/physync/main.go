package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/san-kum/physync/internal/config"
	"github.com/san-kum/physync/internal/logging"
	"github.com/san-kum/physync/internal/optim"
	"github.com/san-kum/physync/internal/sim"
	"github.com/san-kum/physync/internal/storage"
	"github.com/san-kum/physync/internal/tui"
)

var (
	dataDir    string
	configFile string
	logLevel   string
	logFormat  string

	mode        string
	duration    float64
	bodies      int
	seed        uint64
	latency     float64
	jitter      float64
	loss        float64
	bufferDepth int
	frameSkip   int
	runs        int
	workers     int
	params      []string
	metric      string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "physync",
		Short:         "rigid-body state replication lab",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "data directory (default from config)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console, json)")

	runCmd := &cobra.Command{
		Use:   "run [preset]",
		Short: "run an owner and a replica over a simulated link",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSimulation,
	}
	addSimFlags(runCmd)
	runCmd.Flags().IntVar(&runs, "runs", 1, "number of runs with consecutive seeds")
	runCmd.Flags().IntVar(&workers, "workers", 4, "parallel runs")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot replication error and tracked height",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Run: func(cmd *cobra.Command, args []string) {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, name := range config.ListPresets() {
				fmt.Fprintf(w, "%s\t%s\n", name, config.Presets[name].Description)
			}
			w.Flush()
		},
	}

	liveCmd := &cobra.Command{
		Use:   "live [preset]",
		Short: "watch a replication run in the terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLive,
	}
	addSimFlags(liveCmd)

	tuneCmd := &cobra.Command{
		Use:   "tune [preset]",
		Short: "grid search replication parameters",
		Long: "Run every combination of the --param values and report the one with the\n" +
			"lowest --metric. Parameters: " + strings.Join(optim.KnobNames(), ", "),
		Args: cobra.MaximumNArgs(1),
		RunE: tuneParams,
	}
	addSimFlags(tuneCmd)
	tuneCmd.Flags().StringArrayVar(&params, "param", nil, "name=v1,v2,... (repeatable)")
	tuneCmd.Flags().StringVar(&metric, "metric", "position_error_mean", "metric to minimise")
	tuneCmd.Flags().IntVar(&workers, "workers", 4, "parallel runs")

	rootCmd.AddCommand(runCmd, listCmd, plotCmd, exportJSONCmd, presetsCmd, liveCmd, tuneCmd, peerCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addSimFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&mode, "mode", "playback", "replica mode (playback, corrective, direct)")
	cmd.Flags().Float64Var(&duration, "time", 10.0, "duration in seconds")
	cmd.Flags().IntVar(&bodies, "bodies", 4, "number of bodies")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().Float64Var(&latency, "latency", 0.03, "one-way link latency in seconds")
	cmd.Flags().Float64Var(&jitter, "jitter", 0.01, "link jitter in seconds")
	cmd.Flags().Float64Var(&loss, "loss", 0, "packet loss probability")
	cmd.Flags().IntVar(&bufferDepth, "buffer-depth", 3, "snapshots buffered before playback")
	cmd.Flags().IntVar(&frameSkip, "frame-skip", 0, "frames skipped between sends")
}

// loadConfig resolves file, preset and changed flags, in that order.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, string, error) {
	cfg := config.DefaultConfig()
	preset := ""
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, "", err
		}
		cfg = loaded
	}
	if len(args) > 0 {
		preset = args[0]
		p := config.GetPreset(preset)
		if p == nil {
			return nil, "", fmt.Errorf("unknown preset %q (see physync presets)", preset)
		}
		cfg = p
	}

	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Simulation.Mode = mode
	}
	if flags.Changed("time") {
		cfg.Simulation.Duration = duration
	}
	if flags.Changed("bodies") {
		cfg.Simulation.Bodies = bodies
	}
	if flags.Changed("seed") {
		cfg.Simulation.Seed = seed
		cfg.Link.Seed = seed
	}
	if flags.Changed("latency") {
		cfg.Link.Latency = latency
	}
	if flags.Changed("jitter") {
		cfg.Link.Jitter = jitter
	}
	if flags.Changed("loss") {
		cfg.Link.Loss = loss
	}
	if flags.Changed("buffer-depth") {
		cfg.Replication.BufferDepth = bufferDepth
	}
	if flags.Changed("frame-skip") {
		cfg.Replication.FrameSkip = frameSkip
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, preset, nil
}

func newLogger(cfg *config.Config) (zerolog.Logger, func(), error) {
	log, closer, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	return log, func() { closer.Close() }, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, preset, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	st := storage.New(cfg.DataDir)
	if err := st.Init(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	setup := cfg.Setup()
	setup.Logger = log

	fmt.Printf("running %s replication (%d run(s))...\n", cfg.Simulation.Mode, runs)
	start := time.Now()

	var results []*sim.Result
	if runs > 1 {
		results, err = sim.Ensemble(ctx, setup, runs, workers)
	} else {
		var r *sim.Result
		r, err = sim.Run(ctx, setup)
		results = []*sim.Result{r}
	}
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	for i, result := range results {
		meta := storage.RunMetadata{
			Preset:      preset,
			Seed:        cfg.Simulation.Seed + uint64(i),
			FixedDt:     cfg.Replication.FixedDt,
			Duration:    cfg.Simulation.Duration,
			Bodies:      cfg.Simulation.Bodies,
			BufferDepth: cfg.Replication.BufferDepth,
			FrameSkip:   cfg.Replication.FrameSkip,
			Latency:     cfg.Link.Latency,
			Jitter:      cfg.Link.Jitter,
			Loss:        cfg.Link.Loss,
		}
		runID, err := st.Save(meta, result)
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s (seed %d, %d steps, %d errors)\n", runID, meta.Seed, result.Steps, len(result.Errors))
	}

	fmt.Printf("completed in %v\n", elapsed)
	fmt.Println("\nmetrics:")
	printMetrics(sim.Summarize(results))
	return nil
}

func printMetrics(m map[string]float64) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s: %.6f\n", name, m[name])
	}
}

func store() (*storage.Store, error) {
	dir := dataDir
	if dir == "" {
		cfg := config.DefaultConfig()
		if configFile != "" {
			loaded, err := config.Load(configFile)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
		dir = cfg.DataDir
	}
	return storage.New(dir), nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st, err := store()
	if err != nil {
		return err
	}
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRESET\tMODE\tTIME\tDURATION\tLATENCY\tLOSS\tERR MEAN\tBYTES/S")

	for _, run := range runs {
		preset := run.Preset
		if preset == "" {
			preset = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1fs\t%.0fms\t%.0f%%\t%.4f\t%.0f\n",
			run.ID,
			preset,
			run.Mode,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Duration,
			run.Latency*1000,
			run.Loss*100,
			run.Metrics["position_error_mean"],
			run.Metrics["bandwidth_bytes_per_sec"],
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st, err := store()
	if err != nil {
		return err
	}
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	trace, err := st.LoadTrace(runID)
	if err != nil {
		return err
	}
	if len(trace) == 0 {
		return fmt.Errorf("run %s has no trace", runID)
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("mode: %s, latency: %.0fms, loss: %.0f%%\n\n", meta.Mode, meta.Latency*1000, meta.Loss*100)

	errs := make([]float64, len(trace))
	ownerY := make([]float64, len(trace))
	replicaY := make([]float64, len(trace))
	for i, p := range trace {
		errs[i] = p.Error
		ownerY[i] = p.Owner[1]
		replicaY[i] = p.Replica[1]
	}

	fmt.Println(asciigraph.Plot(errs,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption("position error (m)"),
	))
	fmt.Println()
	fmt.Println(asciigraph.PlotMany([][]float64{ownerY, replicaY},
		asciigraph.Height(12),
		asciigraph.Width(80),
		asciigraph.SeriesColors(asciigraph.Green, asciigraph.Yellow),
		asciigraph.Caption("height: owner (green) replica (yellow)"),
	))
	fmt.Println()

	fmt.Println("metrics:")
	printMetrics(meta.Metrics)
	return nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st, err := store()
	if err != nil {
		return err
	}
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	trace, err := st.LoadTrace(runID)
	if err != nil {
		return err
	}
	return storage.ExportJSON(os.Stdout, meta, trace)
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, preset, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	name := preset
	if name == "" {
		name = "custom"
	}
	// Logs would tear the alternate screen; only the file sink is kept.
	setup := cfg.Setup()
	if cfg.Log.File != "" {
		log, closer, err := logging.New(cfg.Log, io.Discard)
		if err != nil {
			return err
		}
		defer closer.Close()
		setup.Logger = log
	}
	return tui.RunLive(name, setup)
}

func tuneParams(cmd *cobra.Command, args []string) error {
	if len(params) == 0 {
		return fmt.Errorf("at least one --param is required")
	}
	cfg, _, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(params))
	ranges := make([][]float64, 0, len(params))
	for _, p := range params {
		name, list, ok := strings.Cut(p, "=")
		if !ok {
			return fmt.Errorf("param %q: expected name=v1,v2", p)
		}
		var values []float64
		for _, f := range strings.Split(list, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return fmt.Errorf("param %s: %w", name, err)
			}
			values = append(values, v)
		}
		names = append(names, name)
		ranges = append(ranges, values)
	}

	g, err := optim.NewGridSearch(names, ranges, workers)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	points, best, err := g.Search(ctx, cfg.Setup(), metric)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(names, "\t"))+"\t"+strings.ToUpper(metric)+"\t")
	for i, p := range points {
		for _, name := range names {
			fmt.Fprintf(w, "%g\t", p.Params[name])
		}
		mark := ""
		if i == best {
			mark = "*"
		}
		fmt.Fprintf(w, "%.6f\t%s\n", p.Metrics[metric], mark)
	}
	return w.Flush()
}
