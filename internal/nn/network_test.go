package nn

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"neurodrive/internal/model"
)

func TestActivateSimpleFeedForward(t *testing.T) {
	genome := model.Genome{
		InputIDs:  []string{"i1", "i2"},
		OutputIDs: []string{"o"},
		Neurons: []model.Neuron{
			{ID: "o", Activation: "identity", Bias: 0.5},
		},
		Synapses: []model.Synapse{
			{From: "i1", To: "o", Weight: 2},
			{From: "i2", To: "o", Weight: -1},
		},
	}

	net, err := Compile(genome)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	out, err := net.Activate([]float64{1.0, 0.25})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if math.Abs(out[0]-2.25) > 1e-9 {
		t.Fatalf("unexpected output: got=%f want=2.25", out[0])
	}
}

func TestCompileRejectsUnknownActivation(t *testing.T) {
	genome := model.Genome{
		OutputIDs: []string{"o"},
		Neurons:   []model.Neuron{{ID: "o", Activation: "unknown"}},
	}
	_, err := Compile(genome)
	if !errors.Is(err, ErrActivationNotFound) {
		t.Fatalf("expected ErrActivationNotFound, got %v", err)
	}
}

func TestCompileRejectsForwardReference(t *testing.T) {
	genome := model.Genome{
		InputIDs:  []string{"i"},
		OutputIDs: []string{"b"},
		Neurons: []model.Neuron{
			{ID: "a", Activation: "identity"},
			{ID: "b", Activation: "identity"},
		},
		Synapses: []model.Synapse{
			{From: "b", To: "a", Weight: 1},
			{From: "a", To: "b", Weight: 1},
		},
	}
	if _, err := Compile(genome); err == nil {
		t.Fatal("expected forward reference error")
	}
}

func TestActivateInputSizeMismatch(t *testing.T) {
	genome, err := BuildLayered("g", LayeredSpec{Inputs: 3, HiddenSize: 2, HiddenLayers: 1, Outputs: 1}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	net, err := Compile(genome)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := net.Activate([]float64{1}); !errors.Is(err, ErrInputSize) {
		t.Fatalf("expected ErrInputSize, got %v", err)
	}
}

func TestBuildLayeredShape(t *testing.T) {
	spec := LayeredSpec{Inputs: 4, HiddenSize: 3, HiddenLayers: 2, Outputs: 2}
	genome, err := BuildLayered("g", spec, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(genome.InputIDs) != 4 || len(genome.OutputIDs) != 2 {
		t.Fatalf("unexpected io ids: in=%v out=%v", genome.InputIDs, genome.OutputIDs)
	}
	if len(genome.Neurons) != 3+3+2 {
		t.Fatalf("unexpected neuron count: %d", len(genome.Neurons))
	}
	wantSynapses := 4*3 + 3*3 + 3*2
	if len(genome.Synapses) != wantSynapses {
		t.Fatalf("unexpected synapse count: got=%d want=%d", len(genome.Synapses), wantSynapses)
	}
	for _, s := range genome.Synapses {
		if s.Weight < -1 || s.Weight > 1 {
			t.Fatalf("weight out of spread: %f", s.Weight)
		}
	}

	net, err := Compile(genome)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	out, err := net.Activate([]float64{0.1, 0.2, 0.3, 0.4})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	for _, v := range out {
		if v < -1 || v > 1 {
			t.Fatalf("tanh output out of range: %f", v)
		}
	}
}

func TestBuildLayeredDeterministic(t *testing.T) {
	spec := LayeredSpec{Inputs: 2, HiddenSize: 2, HiddenLayers: 1, Outputs: 1}
	a, _ := BuildLayered("a", spec, rand.New(rand.NewSource(3)))
	b, _ := BuildLayered("b", spec, rand.New(rand.NewSource(3)))
	for i := range a.Synapses {
		if a.Synapses[i].Weight != b.Synapses[i].Weight {
			t.Fatalf("synapse %d differs for the same seed", i)
		}
	}
}

func TestListActivations(t *testing.T) {
	names := ListActivations()
	want := map[string]bool{"identity": true, "relu": true, "tanh": true, "sigmoid": true}
	for _, name := range names {
		delete(want, name)
	}
	if len(want) != 0 {
		t.Fatalf("missing built-in activations: %v", want)
	}
	if err := RegisterActivation("tanh", func(x float64) float64 { return x }); !errors.Is(err, ErrActivationExists) {
		t.Fatalf("expected ErrActivationExists, got %v", err)
	}
}
