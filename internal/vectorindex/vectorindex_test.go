package vectorindex

import (
	"math"
	"testing"
)

func TestEmbedDeterministic(t *testing.T) {
	a := Embed("OpenAI announces a new model for code generation")
	b := Embed("OpenAI announces a new model for code generation")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at slot %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestEmbedIsUnitLength(t *testing.T) {
	vec := Embed("some nontrivial text with several distinct words")
	if len(vec) != Dimensions {
		t.Fatalf("got %d dimensions, want %d", len(vec), Dimensions)
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if math.Abs(norm-1.0) > 1e-9 {
		t.Errorf("squared norm = %v, want 1", norm)
	}
}

func TestEmbedEmptyIsZeroVector(t *testing.T) {
	vec := Embed("")
	for i, v := range vec {
		if v != 0 {
			t.Fatalf("slot %d = %v, want 0 for empty text", i, v)
		}
	}
}

func TestCosine(t *testing.T) {
	text := "chipmaker raises quarterly guidance on AI demand"
	self := Embed(text)
	if got := Cosine(self, self); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("self similarity = %v, want 1", got)
	}

	related := Embed("chipmaker raises its quarterly guidance citing AI demand")
	unrelated := Embed("recipe for sourdough bread with a long cold proof")
	simRelated := Cosine(self, related)
	simUnrelated := Cosine(self, unrelated)
	if simRelated <= simUnrelated {
		t.Errorf("related similarity %v should exceed unrelated %v", simRelated, simUnrelated)
	}
}

func TestCosineLengthMismatch(t *testing.T) {
	if got := Cosine([]float64{1, 0}, []float64{1}); got != 0 {
		t.Errorf("Cosine with mismatched lengths = %v, want 0", got)
	}
}
