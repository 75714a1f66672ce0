package nn

import (
	"errors"
	"fmt"
	"math/rand"

	"neurodrive/internal/model"
)

var ErrInputSize = errors.New("input size mismatch")

// LayeredSpec describes a fully connected feed-forward layout.
type LayeredSpec struct {
	Inputs           int
	HiddenSize       int
	HiddenLayers     int
	Outputs          int
	HiddenActivation string
	OutputActivation string
	WeightSpread     float64
}

// BuildLayered creates a fully connected genome with uniform weights in
// [-WeightSpread, WeightSpread]. Neurons are emitted in evaluation order.
func BuildLayered(id string, spec LayeredSpec, rng *rand.Rand) (model.Genome, error) {
	if rng == nil {
		return model.Genome{}, errors.New("random source is required")
	}
	if spec.Inputs <= 0 || spec.Outputs <= 0 {
		return model.Genome{}, fmt.Errorf("inputs and outputs must be > 0: inputs=%d outputs=%d", spec.Inputs, spec.Outputs)
	}
	if spec.HiddenLayers < 0 || (spec.HiddenLayers > 0 && spec.HiddenSize <= 0) {
		return model.Genome{}, fmt.Errorf("invalid hidden layout: layers=%d size=%d", spec.HiddenLayers, spec.HiddenSize)
	}
	if spec.HiddenActivation == "" {
		spec.HiddenActivation = "tanh"
	}
	if spec.OutputActivation == "" {
		spec.OutputActivation = "tanh"
	}
	if spec.WeightSpread <= 0 {
		spec.WeightSpread = 1
	}
	uniform := func() float64 {
		return (rng.Float64()*2 - 1) * spec.WeightSpread
	}

	genome := model.Genome{ID: id}
	previous := make([]string, 0, spec.Inputs)
	for i := 0; i < spec.Inputs; i++ {
		nid := fmt.Sprintf("i%d", i)
		genome.InputIDs = append(genome.InputIDs, nid)
		previous = append(previous, nid)
	}

	connect := func(ids []string, activation string) {
		for _, to := range ids {
			genome.Neurons = append(genome.Neurons, model.Neuron{ID: to, Activation: activation, Bias: uniform()})
			for _, from := range previous {
				genome.Synapses = append(genome.Synapses, model.Synapse{From: from, To: to, Weight: uniform()})
			}
		}
		previous = ids
	}

	for layer := 0; layer < spec.HiddenLayers; layer++ {
		ids := make([]string, spec.HiddenSize)
		for k := range ids {
			ids[k] = fmt.Sprintf("h%d_%d", layer, k)
		}
		connect(ids, spec.HiddenActivation)
	}
	outputs := make([]string, spec.Outputs)
	for k := range outputs {
		outputs[k] = fmt.Sprintf("o%d", k)
	}
	connect(outputs, spec.OutputActivation)
	genome.OutputIDs = outputs
	return genome, nil
}

// Network is an index-compiled genome. It is immutable after Compile and safe
// for concurrent Activate calls.
type Network struct {
	inputs   int
	units    []unit
	outputAt []int
	size     int
}

type unit struct {
	slot   int
	bias   float64
	act    ActivationFunc
	fromAt []int
	weight []float64
}

// Compile resolves neuron ids into value slots. Neurons must be listed in
// evaluation order: a synapse may only read from an input or an earlier neuron.
func Compile(genome model.Genome) (*Network, error) {
	slots := make(map[string]int, len(genome.InputIDs)+len(genome.Neurons))
	for _, id := range genome.InputIDs {
		if _, dup := slots[id]; dup {
			return nil, fmt.Errorf("duplicate input id %s", id)
		}
		slots[id] = len(slots)
	}

	incoming := make(map[string][]model.Synapse, len(genome.Neurons))
	for _, synapse := range genome.Synapses {
		incoming[synapse.To] = append(incoming[synapse.To], synapse)
	}

	net := &Network{inputs: len(genome.InputIDs)}
	for _, neuron := range genome.Neurons {
		if _, dup := slots[neuron.ID]; dup {
			return nil, fmt.Errorf("duplicate neuron id %s", neuron.ID)
		}
		fn, err := GetActivation(neuron.Activation)
		if err != nil {
			return nil, fmt.Errorf("neuron %s: %w", neuron.ID, err)
		}
		u := unit{slot: len(slots), bias: neuron.Bias, act: fn}
		for _, synapse := range incoming[neuron.ID] {
			from, ok := slots[synapse.From]
			if !ok {
				return nil, fmt.Errorf("neuron %s reads from unknown or later neuron %s", neuron.ID, synapse.From)
			}
			u.fromAt = append(u.fromAt, from)
			u.weight = append(u.weight, synapse.Weight)
		}
		slots[neuron.ID] = u.slot
		net.units = append(net.units, u)
	}

	for _, id := range genome.OutputIDs {
		at, ok := slots[id]
		if !ok {
			return nil, fmt.Errorf("unknown output id %s", id)
		}
		net.outputAt = append(net.outputAt, at)
	}
	net.size = len(slots)
	return net, nil
}

func (n *Network) Inputs() int {
	return n.inputs
}

func (n *Network) Outputs() int {
	return len(n.outputAt)
}

// Activate runs one forward pass.
func (n *Network) Activate(inputs []float64) ([]float64, error) {
	if len(inputs) != n.inputs {
		return nil, fmt.Errorf("%w: got=%d want=%d", ErrInputSize, len(inputs), n.inputs)
	}
	values := make([]float64, n.size)
	copy(values, inputs)
	for _, u := range n.units {
		total := u.bias
		for i, from := range u.fromAt {
			total += values[from] * u.weight[i]
		}
		values[u.slot] = u.act(total)
	}
	out := make([]float64, len(n.outputAt))
	for i, at := range n.outputAt {
		out[i] = values[at]
	}
	return out, nil
}
