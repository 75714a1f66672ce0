package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Genome is the persisted weight layout of a brain.
type Genome struct {
	VersionedRecord
	ID           string    `json:"id"`
	InputIDs     []string  `json:"input_ids"`
	OutputIDs    []string  `json:"output_ids"`
	Neurons      []Neuron  `json:"neurons"`
	Synapses     []Synapse `json:"synapses"`
	ParentID     string    `json:"parent_id,omitempty"`
	Generation   int       `json:"generation"`
	Fitness      float64   `json:"fitness"`
	MutationSeed int64     `json:"mutation_seed,omitempty"`
}

type Neuron struct {
	ID         string  `json:"id"`
	Activation string  `json:"activation"`
	Bias       float64 `json:"bias"`
}

type Synapse struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Weight float64 `json:"weight"`
}

// GenerationRecord is the immutable per-generation statistics row.
type GenerationRecord struct {
	Generation    int     `json:"generation" yaml:"generation"`
	BestRecord    float64 `json:"best_record" yaml:"best_record"`
	GenBestRecord float64 `json:"gen_best_record" yaml:"gen_best_record"`
	AvgReward     float64 `json:"avg_reward" yaml:"avg_reward"`
}

const (
	OperationSeed       = "seed"
	OperationEliteClone = "elite_clone"
	OperationMutate     = "mutate"
)

type LineageRecord struct {
	PolicyID     string `json:"policy_id"`
	ParentID     string `json:"parent_id,omitempty"`
	Generation   int    `json:"generation"`
	Operation    string `json:"operation"`
	MutationSeed int64  `json:"mutation_seed,omitempty"`
}

type RunIndexEntry struct {
	RunID          string  `json:"run_id"`
	Scene          string  `json:"scene"`
	CreatedAtUTC   string  `json:"created_at_utc"`
	Seed           int64   `json:"seed"`
	PopulationSize int     `json:"population_size"`
	Slots          int     `json:"slots"`
	Generations    int     `json:"generations"`
	BestRecord     float64 `json:"best_record"`
}
