package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shirou/gopsutil/v3/cpu"
	"gopkg.in/yaml.v3"

	"neurodrive/pkg/neurodrive"
)

const (
	envStore   = "NEURODRIVE_STORE"
	envDBPath  = "NEURODRIVE_DB_PATH"
	envRunsDir = "NEURODRIVE_RUNS_DIR"
)

// envDefaults seed the shared flags. Process environment wins over the
// .env file.
type envDefaults struct {
	StoreKind string
	DBPath    string
	RunsDir   string
}

func loadEnv(path string) (envDefaults, error) {
	values := map[string]string{}
	if path != "" {
		read, err := godotenv.Read(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return envDefaults{}, fmt.Errorf("load env file %s: %w", path, err)
		}
		if read != nil {
			values = read
		}
	}
	get := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		if v := values[key]; v != "" {
			return v
		}
		return fallback
	}
	return envDefaults{
		StoreKind: get(envStore, "memory"),
		DBPath:    get(envDBPath, "neurodrive.db"),
		RunsDir:   get(envRunsDir, "runs"),
	}, nil
}

// loadRunRequestFromConfig overlays a YAML (or JSON) file on the default
// request, so omitted keys keep their defaults.
func loadRunRequestFromConfig(path string) (neurodrive.RunRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return neurodrive.RunRequest{}, err
	}
	req := neurodrive.DefaultRunRequest()
	if err := yaml.Unmarshal(data, &req); err != nil {
		return neurodrive.RunRequest{}, err
	}
	return req, nil
}

func loadOrDefaultRunRequest(configPath string) (neurodrive.RunRequest, error) {
	if configPath == "" {
		return neurodrive.DefaultRunRequest(), nil
	}
	req, err := loadRunRequestFromConfig(configPath)
	if err != nil {
		return neurodrive.RunRequest{}, fmt.Errorf("load config: %w", err)
	}
	return req, nil
}

// overrideFromFlags copies only the flags set on the command line.
func overrideFromFlags(req *neurodrive.RunRequest, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "run-id":
			req.RunID = v.(string)
		case "scene":
			req.Scene = v.(string)
		case "pop":
			req.PopulationSize = v.(int)
		case "slots":
			req.Slots = v.(int)
		case "elite":
			req.EliteCount = v.(int)
		case "tournament":
			req.TournamentSize = v.(int)
		case "gens":
			req.Generations = v.(int)
		case "seed":
			req.Seed = v.(int64)
		case "obstacle-seed":
			req.ObstacleSeedBase = v.(int64)
		case "obstacles":
			req.ObstacleCount = v.(int)
		case "workers":
			req.ActWorkers = v.(int)
		case "step-max":
			req.Car.StepMax = v.(int)
		case "local-step-max":
			req.Car.LocalStepMax = v.(int)
		case "backup":
			req.Car.BackUpOnCollision = v.(bool)
		case "allow-plus-reward":
			req.Car.AllowPlusReward = v.(bool)
		case "hidden":
			req.Brain.HiddenSize = v.(int)
		case "layers":
			req.Brain.HiddenLayers = v.(int)
		case "obs-indices":
			indices, err := parseIndices(v.(string))
			if err != nil {
				return err
			}
			req.ObservationIndices = indices
		case "status-addr":
			req.StatusAddr = v.(string)
		default:
			return fmt.Errorf("unsupported override flag: %s", name)
		}
	}
	return nil
}

func parseIndices(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid observation index %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// defaultActWorkers is the logical CPU count, or 1 when it is unknown.
func defaultActWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
