package evaluate

import (
	"math"
	"reflect"
	"testing"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestClassifyPerfectPredictions(t *testing.T) {
	yTrue := []string{"low", "high", "low", "medium"}
	report, err := Classify(yTrue, yTrue, []string{"low", "medium", "high"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if report.Accuracy != 1 || !almostEqual(report.MacroF1, 1) {
		t.Fatalf("perfect predictions: accuracy=%v macroF1=%v", report.Accuracy, report.MacroF1)
	}
	if report.PerClass["low"].Support != 2 {
		t.Fatalf("support for low = %d, want 2", report.PerClass["low"].Support)
	}
}

func TestClassifyConfusionAndMacroF1(t *testing.T) {
	yTrue := []string{"a", "a", "b", "b"}
	yPred := []string{"a", "b", "b", "b"}
	report, err := Classify(yTrue, yPred, []string{"a", "b"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if report.Accuracy != 0.75 {
		t.Fatalf("accuracy = %v, want 0.75", report.Accuracy)
	}
	wantConfusion := [][]int{{1, 1}, {0, 2}}
	if !reflect.DeepEqual(report.Confusion, wantConfusion) {
		t.Fatalf("confusion = %v, want %v", report.Confusion, wantConfusion)
	}
	// a: P=1, R=0.5, F1=2/3. b: P=2/3, R=1, F1=0.8. Macro = (2/3+0.8)/2.
	if !almostEqual(report.PerClass["a"].F1, 2.0/3.0) {
		t.Fatalf("F1(a) = %v", report.PerClass["a"].F1)
	}
	if !almostEqual(report.MacroF1, (2.0/3.0+0.8)/2) {
		t.Fatalf("macro F1 = %v", report.MacroF1)
	}
}

func TestClassifyRejectsUnknownLabel(t *testing.T) {
	if _, err := Classify([]string{"x"}, []string{"x"}, []string{"a"}); err == nil {
		t.Fatalf("expected error for label outside class set")
	}
	if _, err := Classify([]string{"a"}, []string{"a", "a"}, []string{"a"}); err == nil {
		t.Fatalf("expected error for length mismatch")
	}
}

func TestMinorityClasses(t *testing.T) {
	labels := []string{"a", "a", "a", "a", "a", "a", "a", "a", "a", "a",
		"a", "a", "a", "a", "a", "a", "a", "a", "a", "b"}
	got := MinorityClasses(labels, 0.05)
	if len(got) != 0 {
		t.Fatalf("5%% share should not be flagged at threshold 0.05: %v", got)
	}
	labels = append(labels, "a") // b now 1/21 < 5%
	got = MinorityClasses(labels, 0.05)
	if !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("minority classes = %v, want [b]", got)
	}
}

func TestPercentile(t *testing.T) {
	vals := []float64{4, 1, 3, 2}
	if got := Percentile(vals, 50); !almostEqual(got, 2.5) {
		t.Fatalf("p50 = %v, want 2.5", got)
	}
	if got := Percentile(vals, 0); got != 1 {
		t.Fatalf("p0 = %v, want 1", got)
	}
	if got := Percentile(vals, 100); got != 4 {
		t.Fatalf("p100 = %v, want 4", got)
	}
	if got := Percentile(vals, 90); !almostEqual(got, 3.7) {
		t.Fatalf("p90 = %v, want 3.7", got)
	}
	if !reflect.DeepEqual(vals, []float64{4, 1, 3, 2}) {
		t.Fatalf("input mutated: %v", vals)
	}
	if got := Percentile(nil, 50); got != 0 {
		t.Fatalf("empty input should yield 0, got %v", got)
	}
}
