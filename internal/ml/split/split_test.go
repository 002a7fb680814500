package split

import (
	"fmt"
	"testing"
)

func TestAssignIsStable(t *testing.T) {
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("rec-%04d", i)
		first := Assign(id)
		for j := 0; j < 5; j++ {
			if got := Assign(id); got != first {
				t.Fatalf("assignment for %s changed: %s -> %s", id, first, got)
			}
		}
	}
}

func TestAssignKnownVectors(t *testing.T) {
	// Pinned so an accidental change to the hash or bucket math fails loudly.
	cases := map[string]Partition{
		"rec-0000": Train,
		"rec-0002": Val,
		"rec-0003": Train,
		"rec-0005": Val,
		"rec-0024": Test,
	}
	for id, want := range cases {
		if got := Assign(id); got != want {
			t.Fatalf("Assign(%q) = %s, want %s (key=%d)", id, got, want, Key(id))
		}
	}
}

func TestDistributionRoughly801010(t *testing.T) {
	ids := make([]string, 0, 20000)
	for i := 0; i < 20000; i++ {
		ids = append(ids, fmt.Sprintf("record/%d", i))
	}
	counts := Counts(ids)

	frac := func(p Partition) float64 { return float64(counts[p]) / float64(len(ids)) }
	if f := frac(Train); f < 0.77 || f > 0.83 {
		t.Fatalf("train fraction %0.3f outside [0.77, 0.83]", f)
	}
	if f := frac(Val); f < 0.08 || f > 0.12 {
		t.Fatalf("val fraction %0.3f outside [0.08, 0.12]", f)
	}
	if f := frac(Test); f < 0.08 || f > 0.12 {
		t.Fatalf("test fraction %0.3f outside [0.08, 0.12]", f)
	}
	if counts[Train]+counts[Val]+counts[Test] != len(ids) {
		t.Fatalf("partitions do not cover all ids")
	}
}
