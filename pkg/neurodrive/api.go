package neurodrive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"neurodrive/internal/brain"
	"neurodrive/internal/evo"
	"neurodrive/internal/model"
	"neurodrive/internal/scape"
	"neurodrive/internal/sceneid"
	"neurodrive/internal/stats"
	"neurodrive/internal/storage"
	"neurodrive/internal/telemetry"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "neurodrive.db"
	checkpointsDir    = "checkpoints"
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	Logger     *slog.Logger
}

type Client struct {
	store  storage.Store
	logger *slog.Logger

	runsDir    string
	exportsDir string

	initOnce sync.Once
	initErr  error
}

// TrackConfig describes the circuit. Explicit waypoints win over the oval
// parameters.
type TrackConfig struct {
	RadiusX   float64      `json:"radius_x" yaml:"radius_x"`
	RadiusY   float64      `json:"radius_y" yaml:"radius_y"`
	Points    int          `json:"points" yaml:"points"`
	HalfWidth float64      `json:"half_width" yaml:"half_width"`
	Waypoints [][2]float64 `json:"waypoints,omitempty" yaml:"waypoints,omitempty"`
}

type RunRequest struct {
	RunID          string `json:"run_id" yaml:"run_id"`
	Scene          string `json:"scene" yaml:"scene"`
	PopulationSize int    `json:"population_size" yaml:"population_size"`
	Slots          int    `json:"slots" yaml:"slots"`
	EliteCount     int    `json:"elite_count" yaml:"elite_count"`
	TournamentSize int    `json:"tournament_size" yaml:"tournament_size"`
	Generations    int    `json:"generations" yaml:"generations"`
	Seed           int64  `json:"seed" yaml:"seed"`
	// ObstacleSeedBase seeds obstacle placement; generation g uses base+g.
	ObstacleSeedBase   int64   `json:"obstacle_seed_base" yaml:"obstacle_seed_base"`
	ObstacleCount      int     `json:"obstacle_count" yaml:"obstacle_count"`
	ObstacleRadius     float64 `json:"obstacle_radius" yaml:"obstacle_radius"`
	ObservationIndices []int   `json:"observation_indices,omitempty" yaml:"observation_indices,omitempty"`
	ActWorkers         int     `json:"act_workers" yaml:"act_workers"`

	Track     TrackConfig            `json:"track" yaml:"track"`
	Car       scape.CarConfig        `json:"car" yaml:"car"`
	Brain     brain.Config           `json:"brain" yaml:"brain"`
	Obstacles scape.RandomizerConfig `json:"obstacles" yaml:"obstacles"`

	// StatusAddr, when set, serves /status and /metrics for the duration of
	// the run.
	StatusAddr string `json:"status_addr,omitempty" yaml:"status_addr,omitempty"`
}

// DefaultRunRequest returns a complete request; callers overlay their
// changes on it.
func DefaultRunRequest() RunRequest {
	return RunRequest{
		Scene:            "oval",
		PopulationSize:   50,
		Slots:            10,
		EliteCount:       2,
		TournamentSize:   4,
		Generations:      20,
		Seed:             1,
		ObstacleSeedBase: 1,
		ObstacleCount:    4,
		ObstacleRadius:   1,
		ActWorkers:       1,
		Track: TrackConfig{
			RadiusX:   60,
			RadiusY:   35,
			Points:    40,
			HalfWidth: 5,
		},
		Car: scape.DefaultCarConfig(),
		Brain: brain.Config{
			HiddenSize:   8,
			HiddenLayers: 1,
			WeightSpread: 1,
		},
		Obstacles: scape.DefaultRandomizerConfig(),
	}
}

func (r RunRequest) withDefaults() RunRequest {
	def := DefaultRunRequest()
	r.Scene = sceneid.Normalize(r.Scene)
	if r.Scene == "" {
		r.Scene = def.Scene
	}
	if r.PopulationSize <= 0 {
		r.PopulationSize = def.PopulationSize
	}
	if r.Slots <= 0 {
		r.Slots = def.Slots
	}
	if r.TournamentSize == 0 {
		r.TournamentSize = def.TournamentSize
		if r.TournamentSize > r.PopulationSize {
			r.TournamentSize = r.PopulationSize
		}
	}
	if r.Generations <= 0 {
		r.Generations = def.Generations
	}
	if r.ObstacleRadius <= 0 {
		r.ObstacleRadius = def.ObstacleRadius
	}
	if r.ActWorkers <= 0 {
		r.ActWorkers = def.ActWorkers
	}
	if len(r.Track.Waypoints) == 0 && r.Track.Points == 0 {
		r.Track = def.Track
	}
	if r.Track.HalfWidth <= 0 {
		r.Track.HalfWidth = def.Track.HalfWidth
	}
	if r.Car.StepMax == 0 {
		r.Car = def.Car
	}
	if r.Brain.HiddenLayers == 0 && r.Brain.HiddenSize == 0 {
		r.Brain.HiddenLayers = def.Brain.HiddenLayers
		r.Brain.HiddenSize = def.Brain.HiddenSize
	}
	if r.Brain.WeightSpread <= 0 {
		r.Brain.WeightSpread = def.Brain.WeightSpread
	}
	if r.Obstacles.EveryNth <= 0 {
		r.Obstacles = def.Obstacles
	}
	return r
}

type RunSummary struct {
	RunID          string
	ArtifactsDir   string
	LogPath        string
	CheckpointPath string
	Records        []model.GenerationRecord
	BestRecord     float64
	Summary        stats.Summary
	Failures       map[string]int
}

type RunsRequest struct {
	Limit int
}

type LogRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type PlotRequest struct {
	RunID  string
	Latest bool
	Out    string
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(opts.StoreKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		logger:     logger,
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Init prepares the store. It runs once per client.
func (c *Client) Init(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	req = req.withDefaults()
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	logger := c.logger.With("run_id", req.RunID, "scene", req.Scene)

	track, err := buildTrack(req)
	if err != nil {
		return RunSummary{}, err
	}
	randomizer, err := buildRandomizer(track, req, logger)
	if err != nil {
		return RunSummary{}, err
	}
	episodes, err := scape.NewCarEpisodes(req.Slots, track, randomizer, req.Car)
	if err != nil {
		return RunSummary{}, err
	}
	brainCfg := brainConfig(req)
	population, err := brain.NewPopulation(req.PopulationSize, brainCfg, req.Seed)
	if err != nil {
		return RunSummary{}, err
	}

	runDir := stats.RunDir(c.runsDir, req.RunID)
	csvSink, err := stats.NewCSVSink(runDir, req.Scene)
	if err != nil {
		return RunSummary{}, err
	}
	checkpointer := evo.FileCheckpointer{Dir: filepath.Join(runDir, checkpointsDir), Name: req.Scene}
	metrics := telemetry.NewMetrics(req.RunID, req.Scene)
	if req.StatusAddr != "" {
		server, err := telemetry.NewServer(metrics, logger)
		if err != nil {
			return RunSummary{}, err
		}
		server.Start(req.StatusAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("status server shutdown failed", "err", err)
			}
		}()
	}

	manager, err := evo.NewGenerationManager(evo.ManagerConfig{
		PopulationSize:     req.PopulationSize,
		EliteCount:         req.EliteCount,
		TournamentSize:     req.TournamentSize,
		Seed:               req.Seed,
		TickSeconds:        req.Car.TickSeconds,
		ObservationIndices: req.ObservationIndices,
		ActWorkers:         req.ActWorkers,
		Sink:               stats.MultiSink{csvSink, stats.StoreSink{Store: c.store, RunID: req.RunID}},
		Checkpointer:       checkpointer,
		Recorder:           metrics,
		OnGenerationStart: func(generation int) {
			placed := randomizer.Randomize(req.ObstacleSeedBase + int64(generation))
			logger.Debug("obstacles placed", "generation", generation, "placed", placed)
		},
		Logger: logger,
	}, population, episodes)
	if err != nil {
		return RunSummary{}, err
	}

	started := time.Now().UTC()
	logger.Info("run started", "population", req.PopulationSize, "slots", req.Slots, "generations", req.Generations)
	if err := manager.Run(ctx, req.Generations); err != nil {
		return RunSummary{}, fmt.Errorf("run %s: %w", req.RunID, err)
	}

	records := manager.Records()
	lineage := manager.Lineage()
	if err := c.store.SaveLineage(ctx, req.RunID, lineage); err != nil {
		return RunSummary{}, err
	}
	if best, err := brain.Load(checkpointer.LatestPath(), brainCfg); err == nil {
		if err := c.store.SaveGenome(ctx, best.Genome()); err != nil {
			return RunSummary{}, err
		}
	} else {
		logger.Warn("latest checkpoint unreadable", "path", checkpointer.LatestPath(), "err", err)
	}

	if _, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		RunID:   req.RunID,
		Config:  req,
		Records: records,
		Lineage: lineage,
	}); err != nil {
		return RunSummary{}, err
	}
	summary, err := stats.Summarize(records)
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.WriteSummary(c.runsDir, req.RunID, summary); err != nil {
		return RunSummary{}, err
	}

	entry := model.RunIndexEntry{
		RunID:          req.RunID,
		Scene:          req.Scene,
		CreatedAtUTC:   started.Format(time.RFC3339Nano),
		Seed:           req.Seed,
		PopulationSize: req.PopulationSize,
		Slots:          req.Slots,
		Generations:    req.Generations,
		BestRecord:     manager.BestRecord(),
	}
	if err := stats.AppendRunIndex(c.runsDir, entry); err != nil {
		return RunSummary{}, err
	}
	if err := c.store.SaveRun(ctx, entry); err != nil {
		return RunSummary{}, err
	}
	logger.Info("run finished", "best_record", manager.BestRecord(), "elapsed", time.Since(started))

	return RunSummary{
		RunID:          req.RunID,
		ArtifactsDir:   filepath.Clean(runDir),
		LogPath:        csvSink.Path(),
		CheckpointPath: checkpointer.LatestPath(),
		Records:        records,
		BestRecord:     manager.BestRecord(),
		Summary:        summary,
		Failures:       metrics.Snapshot().Failures,
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]model.RunIndexEntry, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	return entries, nil
}

// Log returns the generation records of a run, preferring the store and
// falling back to the run artifacts.
func (c *Client) Log(ctx context.Context, req LogRequest) ([]model.GenerationRecord, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	records, ok, err := c.store.GetGenerationRecords(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		records, ok, err = stats.ReadGenerationRecords(c.runsDir, runID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("generation log not found for run %s", runID)
		}
	}
	if req.Limit > 0 && len(records) > req.Limit {
		records = records[len(records)-req.Limit:]
	}
	return records, nil
}

func (c *Client) Summary(ctx context.Context, req LogRequest) (stats.Summary, error) {
	records, err := c.Log(ctx, LogRequest{RunID: req.RunID, Latest: req.Latest})
	if err != nil {
		return stats.Summary{}, err
	}
	return stats.Summarize(records)
}

// Plot renders the generation log of a run and returns the image path.
func (c *Client) Plot(ctx context.Context, req PlotRequest) (string, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return "", err
	}
	records, err := c.Log(ctx, LogRequest{RunID: runID})
	if err != nil {
		return "", err
	}
	out := req.Out
	if out == "" {
		out = filepath.Join(stats.RunDir(c.runsDir, runID), "progress.png")
	}
	if err := stats.WritePlot(records, runID, out); err != nil {
		return "", err
	}
	return filepath.Clean(out), nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID == "" && !latest {
		return "", errors.New("run id or latest is required")
	}
	if runID != "" {
		return runID, nil
	}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func buildTrack(req RunRequest) (*scape.Track, error) {
	if len(req.Track.Waypoints) > 0 {
		waypoints := make([]scape.Vec2, len(req.Track.Waypoints))
		for i, p := range req.Track.Waypoints {
			waypoints[i] = scape.Vec2{X: p[0], Y: p[1]}
		}
		return scape.NewTrack(req.Scene, waypoints, req.Track.HalfWidth)
	}
	return scape.NewOvalTrack(req.Scene, req.Track.RadiusX, req.Track.RadiusY, req.Track.Points, req.Track.HalfWidth)
}

func buildRandomizer(track *scape.Track, req RunRequest, logger *slog.Logger) (*scape.ObstacleRandomizer, error) {
	randomizer, err := scape.NewObstacleRandomizer(track, req.Obstacles, logger)
	if err != nil {
		return nil, err
	}
	for i := 0; i < req.ObstacleCount; i++ {
		if err := randomizer.Register(req.Obstacles.Tag, req.ObstacleRadius); err != nil {
			return nil, err
		}
	}
	return randomizer, nil
}

func brainConfig(req RunRequest) brain.Config {
	cfg := req.Brain
	cfg.Inputs = scape.ObservationSize(req.Car)
	if len(req.ObservationIndices) > 0 {
		cfg.Inputs = len(req.ObservationIndices)
	}
	cfg.Outputs = scape.ActionSize
	return cfg
}
