package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"neurodrive/pkg/neurodrive"
)

const envFile = ".env"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}
	env, err := loadEnv(envFile)
	if err != nil {
		return err
	}

	switch args[0] {
	case "run":
		return runRun(ctx, env, args[1:])
	case "runs":
		return runRuns(ctx, env, args[1:])
	case "log":
		return runLog(ctx, env, args[1:])
	case "summary":
		return runSummary(ctx, env, args[1:])
	case "plot":
		return runPlot(ctx, env, args[1:])
	case "export":
		return runExport(ctx, env, args[1:])
	case "replay":
		return runReplay(ctx, env, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// clientFlags are shared by every subcommand.
type clientFlags struct {
	storeKind *string
	dbPath    *string
	runsDir   *string
	logLevel  *string
}

func registerClientFlags(fs *flag.FlagSet, env envDefaults) clientFlags {
	return clientFlags{
		storeKind: fs.String("store", env.StoreKind, "store backend: memory|sqlite"),
		dbPath:    fs.String("db-path", env.DBPath, "sqlite database path"),
		runsDir:   fs.String("runs-dir", env.RunsDir, "run artifacts directory"),
		logLevel:  fs.String("log-level", "info", "log level: debug|info|warn|error"),
	}
}

func (f clientFlags) client() (*neurodrive.Client, error) {
	logger, err := newLogger(*f.logLevel, os.Stderr)
	if err != nil {
		return nil, err
	}
	return neurodrive.New(neurodrive.Options{
		StoreKind: *f.storeKind,
		DBPath:    *f.dbPath,
		RunsDir:   *f.runsDir,
		Logger:    logger,
	})
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func runRun(ctx context.Context, env envDefaults, args []string) error {
	def := neurodrive.DefaultRunRequest()
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	common := registerClientFlags(fs, env)
	configPath := fs.String("config", "", "optional run config path (YAML or JSON)")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	scene := fs.String("scene", def.Scene, "scene name; prefixes the log and checkpoints")
	population := fs.Int("pop", def.PopulationSize, "population size")
	slots := fs.Int("slots", def.Slots, "concurrent episode slots")
	elite := fs.Int("elite", def.EliteCount, "elites carried unchanged per generation")
	tournament := fs.Int("tournament", def.TournamentSize, "tournament size")
	generations := fs.Int("gens", def.Generations, "generation count")
	seed := fs.Int64("seed", def.Seed, "rng seed")
	obstacleSeed := fs.Int64("obstacle-seed", def.ObstacleSeedBase, "obstacle placement seed base")
	obstacles := fs.Int("obstacles", def.ObstacleCount, "obstacle count")
	workers := fs.Int("workers", defaultActWorkers(), "parallel act workers")
	stepMax := fs.Int("step-max", def.Car.StepMax, "episode step budget")
	localStepMax := fs.Int("local-step-max", def.Car.LocalStepMax, "steps allowed without reaching a new waypoint")
	backup := fs.Bool("backup", def.Car.BackUpOnCollision, "back up after collisions instead of ending the episode")
	allowPlus := fs.Bool("allow-plus-reward", def.Car.AllowPlusReward, "keep positive final rewards")
	hidden := fs.Int("hidden", def.Brain.HiddenSize, "hidden layer width")
	layers := fs.Int("layers", def.Brain.HiddenLayers, "hidden layer count")
	obsIndices := fs.String("obs-indices", "", "comma separated observation indices fed to the brain")
	statusAddr := fs.String("status-addr", "", "serve /status and /metrics on this address during the run")
	jsonOut := fs.Bool("json", false, "emit run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req, err := loadOrDefaultRunRequest(*configPath)
	if err != nil {
		return err
	}
	if *configPath == "" && !setFlags["workers"] {
		req.ActWorkers = *workers
	}
	if err := overrideFromFlags(&req, setFlags, map[string]any{
		"run-id":            *runID,
		"scene":             *scene,
		"pop":               *population,
		"slots":             *slots,
		"elite":             *elite,
		"tournament":        *tournament,
		"gens":              *generations,
		"seed":              *seed,
		"obstacle-seed":     *obstacleSeed,
		"obstacles":         *obstacles,
		"workers":           *workers,
		"step-max":          *stepMax,
		"local-step-max":    *localStepMax,
		"backup":            *backup,
		"allow-plus-reward": *allowPlus,
		"hidden":            *hidden,
		"layers":            *layers,
		"obs-indices":       *obsIndices,
		"status-addr":       *statusAddr,
	}); err != nil {
		return err
	}

	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(summary)
	}
	fmt.Printf("run_id=%s generations=%d best=%g final_avg=%g\n", summary.RunID, len(summary.Records), summary.BestRecord, summary.Summary.FinalAvg)
	fmt.Printf("log=%s\n", summary.LogPath)
	fmt.Printf("checkpoint=%s\n", summary.CheckpointPath)
	fmt.Printf("artifacts=%s\n", summary.ArtifactsDir)
	for kind, n := range summary.Failures {
		fmt.Printf("transient_failures kind=%s count=%d\n", kind, n)
	}
	return nil
}

func runRuns(ctx context.Context, env envDefaults, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	common := registerClientFlags(fs, env)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	entries, err := client.Runs(ctx, neurodrive.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("run_id=%s created_at=%s scene=%s seed=%d population=%d slots=%d generations=%d best=%g\n",
			e.RunID, e.CreatedAtUTC, e.Scene, e.Seed, e.PopulationSize, e.Slots, e.Generations, e.BestRecord)
	}
	return nil
}

func runLog(ctx context.Context, env envDefaults, args []string) error {
	fs := flag.NewFlagSet("log", flag.ContinueOnError)
	common := registerClientFlags(fs, env)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	limit := fs.Int("limit", 0, "show only the last N generations (0 shows all)")
	jsonOut := fs.Bool("json", false, "emit records as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit < 0 {
		return errors.New("limit must be >= 0")
	}

	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	records, err := client.Log(ctx, neurodrive.LogRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(records)
	}
	fmt.Println("generation,bestRecord,genBestRecord,avgReward")
	for _, r := range records {
		fmt.Printf("%d,%g,%g,%g\n", r.Generation, r.BestRecord, r.GenBestRecord, r.AvgReward)
	}
	return nil
}

func runSummary(ctx context.Context, env envDefaults, args []string) error {
	fs := flag.NewFlagSet("summary", flag.ContinueOnError)
	common := registerClientFlags(fs, env)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Summary(ctx, neurodrive.LogRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runPlot(ctx context.Context, env envDefaults, args []string) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	common := registerClientFlags(fs, env)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	out := fs.String("out", "", "output image path (.png, .svg, .pdf); defaults to the run directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	path, err := client.Plot(ctx, neurodrive.PlotRequest{RunID: *runID, Latest: *latest, Out: *out})
	if err != nil {
		return err
	}
	fmt.Printf("plot=%s\n", path)
	return nil
}

func runExport(ctx context.Context, env envDefaults, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := registerClientFlags(fs, env)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	outDir := fs.String("out", "exports", "export directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, neurodrive.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s dir=%s\n", exported.RunID, exported.Directory)
	return nil
}

func runReplay(ctx context.Context, env envDefaults, args []string) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	common := registerClientFlags(fs, env)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	checkpoint := fs.String("checkpoint", "", "checkpoint path; defaults to the run's latest checkpoint")
	generation := fs.Int("generation", 0, "generation whose obstacle layout is replayed")
	maxSteps := fs.Int("max-steps", 0, "step cap (0 uses the car step budget)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *generation < 0 || *maxSteps < 0 {
		return errors.New("generation and max-steps must be >= 0")
	}

	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	result, err := client.Replay(ctx, neurodrive.ReplayRequest{
		RunID:          *runID,
		Latest:         *latest,
		CheckpointPath: *checkpoint,
		Generation:     *generation,
		MaxSteps:       *maxSteps,
	})
	if err != nil {
		return err
	}
	fmt.Printf("run_id=%s policy=%s reward=%g steps=%d\n", result.RunID, result.PolicyID, result.Reward, result.Steps)
	return printJSON(result.Trace)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: neurodrivectl <run|runs|log|summary|plot|export|replay> [flags]", msg)
}
