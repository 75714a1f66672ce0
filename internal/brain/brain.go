package brain

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"neurodrive/internal/evo"
	"neurodrive/internal/model"
	"neurodrive/internal/nn"
	"neurodrive/internal/storage"
)

var ErrShapeMismatch = errors.New("brain shape mismatch")

const (
	defaultMaxDelta  = 0.5
	defaultBiasDelta = 0.25
)

// Config sizes a layered brain and bounds its mutation steps.
type Config struct {
	Inputs       int     `json:"inputs" yaml:"inputs"`
	HiddenSize   int     `json:"hidden_size" yaml:"hidden_size"`
	HiddenLayers int     `json:"hidden_layers" yaml:"hidden_layers"`
	Outputs      int     `json:"outputs" yaml:"outputs"`
	WeightSpread float64 `json:"weight_spread" yaml:"weight_spread"`
	MaxDelta     float64 `json:"max_delta" yaml:"max_delta"`
	BiasDelta    float64 `json:"bias_delta" yaml:"bias_delta"`
}

func (c Config) withDefaults() Config {
	if c.MaxDelta <= 0 {
		c.MaxDelta = defaultMaxDelta
	}
	if c.BiasDelta < 0 {
		c.BiasDelta = 0
	} else if c.BiasDelta == 0 {
		c.BiasDelta = defaultBiasDelta
	}
	return c
}

// NNBrain is a feed-forward policy backed by a compiled genome. Mutation never
// touches the receiver.
type NNBrain struct {
	genome    model.Genome
	net       *nn.Network
	maxDelta  float64
	biasDelta float64
}

var _ evo.Policy = (*NNBrain)(nil)

// New builds a randomly initialised brain.
func New(id string, cfg Config, rng *rand.Rand) (*NNBrain, error) {
	genome, err := nn.BuildLayered(id, nn.LayeredSpec{
		Inputs:       cfg.Inputs,
		HiddenSize:   cfg.HiddenSize,
		HiddenLayers: cfg.HiddenLayers,
		Outputs:      cfg.Outputs,
		WeightSpread: cfg.WeightSpread,
	}, rng)
	if err != nil {
		return nil, err
	}
	genome.VersionedRecord = storage.StampVersion()
	return FromGenome(genome, cfg)
}

// FromGenome wraps an existing genome. Only the mutation bounds of cfg are used.
func FromGenome(genome model.Genome, cfg Config) (*NNBrain, error) {
	net, err := nn.Compile(genome)
	if err != nil {
		return nil, fmt.Errorf("compile brain %s: %w", genome.ID, err)
	}
	cfg = cfg.withDefaults()
	return &NNBrain{
		genome:    cloneGenome(genome),
		net:       net,
		maxDelta:  cfg.MaxDelta,
		biasDelta: cfg.BiasDelta,
	}, nil
}

// NewPopulation seeds size brains with ids seed-0..seed-(size-1) from one
// random stream.
func NewPopulation(size int, cfg Config, seed int64) ([]evo.Policy, error) {
	if size <= 0 {
		return nil, fmt.Errorf("population size must be > 0: %d", size)
	}
	rng := rand.New(rand.NewSource(seed))
	out := make([]evo.Policy, 0, size)
	for i := 0; i < size; i++ {
		b, err := New(fmt.Sprintf("seed-%d", i), cfg, rng)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Load reads a brain written by Save.
func Load(path string, cfg Config) (*NNBrain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	genome, err := storage.DecodeGenome(data)
	if err != nil {
		return nil, fmt.Errorf("decode brain %s: %w", path, err)
	}
	return FromGenome(genome, cfg)
}

func (b *NNBrain) ID() string {
	return b.genome.ID
}

func (b *NNBrain) Inputs() int {
	return b.net.Inputs()
}

func (b *NNBrain) Outputs() int {
	return b.net.Outputs()
}

// CheckShape reports ErrShapeMismatch when the brain cannot consume inputs
// observations or produce outputs actions.
func (b *NNBrain) CheckShape(inputs, outputs int) error {
	if b.net.Inputs() != inputs || b.net.Outputs() != outputs {
		return fmt.Errorf("%w: brain %s is %dx%d, want %dx%d", ErrShapeMismatch, b.genome.ID, b.net.Inputs(), b.net.Outputs(), inputs, outputs)
	}
	return nil
}

func (b *NNBrain) Act(observation []float64) ([]float64, error) {
	out, err := b.net.Activate(observation)
	if errors.Is(err, nn.ErrInputSize) {
		return nil, fmt.Errorf("%w: brain %s: %v", ErrShapeMismatch, b.genome.ID, err)
	}
	return out, err
}

// Mutate returns a perturbed copy. Each synapse weight moves with probability
// 1/sqrt(synapses), at least one always does; each bias moves with probability
// 1/sqrt(neurons).
func (b *NNBrain) Mutate(seed int64, id string) evo.Policy {
	rng := rand.New(rand.NewSource(seed))
	child := cloneGenome(b.genome)
	child.ID = id
	child.ParentID = b.genome.ID
	child.Generation = b.genome.Generation + 1
	child.MutationSeed = seed
	child.Fitness = 0

	if n := len(child.Synapses); n > 0 {
		mp := 1 / math.Sqrt(float64(n))
		mutated := 0
		for i := range child.Synapses {
			if rng.Float64() >= mp {
				continue
			}
			child.Synapses[i].Weight += (rng.Float64()*2 - 1) * b.maxDelta
			mutated++
		}
		if mutated == 0 {
			idx := rng.Intn(n)
			child.Synapses[idx].Weight += (rng.Float64()*2 - 1) * b.maxDelta
		}
	}
	if n := len(child.Neurons); n > 0 && b.biasDelta > 0 {
		mp := 1 / math.Sqrt(float64(n))
		for i := range child.Neurons {
			if rng.Float64() < mp {
				child.Neurons[i].Bias += (rng.Float64()*2 - 1) * b.biasDelta
			}
		}
	}

	net, err := nn.Compile(child)
	if err != nil {
		// Weights and biases changed, the topology did not.
		panic(fmt.Sprintf("recompile mutated brain %s: %v", id, err))
	}
	return &NNBrain{genome: child, net: net, maxDelta: b.maxDelta, biasDelta: b.biasDelta}
}

func (b *NNBrain) Fitness() float64 {
	return b.genome.Fitness
}

func (b *NNBrain) SetFitness(fitness float64) {
	b.genome.Fitness = fitness
}

// Save writes the genome as indented versioned JSON to the path identifier.
func (b *NNBrain) Save(identifier string) error {
	if identifier == "" {
		return errors.New("save path is required")
	}
	data, err := storage.EncodeGenomeIndent(b.genome)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(identifier); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(identifier, data, 0o644)
}

// Genome returns a copy of the underlying genome.
func (b *NNBrain) Genome() model.Genome {
	return cloneGenome(b.genome)
}

func cloneGenome(g model.Genome) model.Genome {
	out := g
	out.InputIDs = append([]string(nil), g.InputIDs...)
	out.OutputIDs = append([]string(nil), g.OutputIDs...)
	out.Neurons = append([]model.Neuron(nil), g.Neurons...)
	out.Synapses = append([]model.Synapse(nil), g.Synapses...)
	return out
}
