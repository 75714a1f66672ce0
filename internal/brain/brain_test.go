package brain

import (
	"errors"
	"math/rand"
	"path/filepath"
	"reflect"
	"testing"

	"neurodrive/internal/model"
	"neurodrive/internal/storage"
)

var testConfig = Config{Inputs: 4, HiddenSize: 5, HiddenLayers: 2, Outputs: 3, WeightSpread: 1}

func newTestBrain(t *testing.T, id string, seed int64) *NNBrain {
	t.Helper()
	b, err := New(id, testConfig, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("new brain: %v", err)
	}
	return b
}

func TestNewBrainShape(t *testing.T) {
	b := newTestBrain(t, "b", 1)
	if b.Inputs() != 4 || b.Outputs() != 3 {
		t.Fatalf("unexpected shape %dx%d", b.Inputs(), b.Outputs())
	}
	out, err := b.Act([]float64{0.1, 0.2, -0.3, 1})
	if err != nil {
		t.Fatalf("act: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(out))
	}
	for _, v := range out {
		if v < -1 || v > 1 {
			t.Fatalf("tanh output out of range: %v", out)
		}
	}
	if err := b.CheckShape(4, 3); err != nil {
		t.Fatalf("check shape: %v", err)
	}
	if err := b.CheckShape(5, 3); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestActRejectsWrongObservationSize(t *testing.T) {
	b := newTestBrain(t, "b", 1)
	if _, err := b.Act([]float64{1, 2}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestMutateLeavesParentUntouched(t *testing.T) {
	parent := newTestBrain(t, "parent", 2)
	parent.SetFitness(3.5)
	before := parent.Genome()

	child := parent.Mutate(77, "g1-i0").(*NNBrain)
	if !reflect.DeepEqual(parent.Genome(), before) {
		t.Fatal("mutation changed the parent genome")
	}
	if child.ID() != "g1-i0" {
		t.Fatalf("unexpected child id %s", child.ID())
	}
	g := child.Genome()
	if g.ParentID != "parent" || g.Generation != 1 || g.MutationSeed != 77 || g.Fitness != 0 {
		t.Fatalf("unexpected child metadata: parent=%s gen=%d seed=%d fitness=%f", g.ParentID, g.Generation, g.MutationSeed, g.Fitness)
	}

	changed := 0
	for i := range g.Synapses {
		if g.Synapses[i].Weight != before.Synapses[i].Weight {
			changed++
		}
	}
	if changed == 0 {
		t.Fatal("expected at least one perturbed weight")
	}
}

func TestMutateDeterministicForSeed(t *testing.T) {
	parent := newTestBrain(t, "parent", 3)
	a := parent.Mutate(11, "x").(*NNBrain).Genome()
	b := parent.Mutate(11, "x").(*NNBrain).Genome()
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same seed produced different children")
	}
	c := parent.Mutate(12, "x").(*NNBrain).Genome()
	if reflect.DeepEqual(a.Synapses, c.Synapses) {
		t.Fatal("different seeds produced identical weights")
	}
}

func TestMutateSingleSynapseAlwaysMoves(t *testing.T) {
	genome := model.Genome{
		VersionedRecord: storage.StampVersion(),
		ID:              "tiny",
		InputIDs:        []string{"i0"},
		OutputIDs:       []string{"o0"},
		Neurons:         []model.Neuron{{ID: "o0", Activation: "identity"}},
		Synapses:        []model.Synapse{{From: "i0", To: "o0", Weight: 1}},
	}
	b, err := FromGenome(genome, Config{MaxDelta: 0.1, BiasDelta: -1})
	if err != nil {
		t.Fatalf("from genome: %v", err)
	}
	for seed := int64(0); seed < 20; seed++ {
		child := b.Mutate(seed, "c").(*NNBrain).Genome()
		w := child.Synapses[0].Weight
		if w == 1 || w < 0.9 || w > 1.1 {
			t.Fatalf("seed %d: weight %f outside (0.9, 1.1) or unchanged", seed, w)
		}
		if child.Neurons[0].Bias != 0 {
			t.Fatalf("bias moved with bias mutation disabled")
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	b := newTestBrain(t, "best", 4)
	b.SetFitness(21.5)
	path := filepath.Join(t.TempDir(), "nested", "best.json")
	if err := b.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path, testConfig)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(loaded.Genome(), b.Genome()) {
		t.Fatal("loaded genome differs")
	}
	obs := []float64{0.5, -0.5, 0.25, 0}
	want, _ := b.Act(obs)
	got, _ := loaded.Act(obs)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("loaded brain acts differently: got=%v want=%v", got, want)
	}
	if loaded.Fitness() != 21.5 {
		t.Fatalf("fitness not persisted: %f", loaded.Fitness())
	}
}

func TestNewPopulation(t *testing.T) {
	population, err := NewPopulation(3, testConfig, 9)
	if err != nil {
		t.Fatalf("new population: %v", err)
	}
	if len(population) != 3 {
		t.Fatalf("expected 3 brains, got %d", len(population))
	}
	for i, p := range population {
		if want := "seed-" + string(rune('0'+i)); p.ID() != want {
			t.Fatalf("brain %d: id %s want %s", i, p.ID(), want)
		}
	}
	again, _ := NewPopulation(3, testConfig, 9)
	if !reflect.DeepEqual(population[2].(*NNBrain).Genome(), again[2].(*NNBrain).Genome()) {
		t.Fatal("population not reproducible for seed")
	}
	if _, err := NewPopulation(0, testConfig, 9); err == nil {
		t.Fatal("expected error for empty population")
	}
}
