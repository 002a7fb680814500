package algo

import (
	"bytes"
	"encoding/json"
	"math"
	"math/rand"
	"testing"
)

func syntheticClassification(n int, seed int64) ([][]float64, []string) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]string, n)
	for i := 0; i < n; i++ {
		a := rng.Float64()
		b := rng.Float64()
		X[i] = []float64{a, b}
		switch {
		case a > 0.66:
			y[i] = "high"
		case a > 0.33:
			y[i] = "medium"
		default:
			y[i] = "low"
		}
	}
	return X, y
}

func TestFitGBMIsDeterministic(t *testing.T) {
	X, y := syntheticClassification(200, 7)
	params := GBMParams{NumRounds: 10, Seed: 42, Subsample: 0.8}

	m1, err := FitGBM(X, y, params)
	if err != nil {
		t.Fatalf("FitGBM: %v", err)
	}
	m2, err := FitGBM(X, y, params)
	if err != nil {
		t.Fatalf("FitGBM: %v", err)
	}
	b1, _ := json.Marshal(m1)
	b2, _ := json.Marshal(m2)
	if !bytes.Equal(b1, b2) {
		t.Fatalf("same data and seed produced different models")
	}
}

func TestGBMLearnsSeparablePattern(t *testing.T) {
	X, y := syntheticClassification(300, 11)
	m, err := FitGBM(X, y, GBMParams{NumRounds: 30, Seed: 1})
	if err != nil {
		t.Fatalf("FitGBM: %v", err)
	}

	correct := 0
	for i := range X {
		pred, conf := m.PredictClass(X[i])
		if pred == y[i] {
			correct++
		}
		if conf <= 0 || conf > 1 {
			t.Fatalf("confidence out of range: %v", conf)
		}
	}
	if acc := float64(correct) / float64(len(X)); acc < 0.9 {
		t.Fatalf("training accuracy %0.3f below 0.9 on a separable pattern", acc)
	}
}

func TestGBMProbabilitiesSumToOne(t *testing.T) {
	X, y := syntheticClassification(150, 3)
	m, err := FitGBM(X, y, GBMParams{NumRounds: 5, Seed: 1})
	if err != nil {
		t.Fatalf("FitGBM: %v", err)
	}
	probs := m.PredictProba([]float64{0.5, 0.5})
	if len(probs) != 3 {
		t.Fatalf("expected 3 class probabilities, got %d", len(probs))
	}
	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("probabilities sum to %v", sum)
	}
}

func TestFitGBMRejectsDegenerateInput(t *testing.T) {
	if _, err := FitGBM(nil, nil, GBMParams{}); err == nil {
		t.Fatalf("expected error for empty input")
	}
	X := [][]float64{{1}, {2}}
	if _, err := FitGBM(X, []string{"a", "a"}, GBMParams{}); err == nil {
		t.Fatalf("expected error for a single class")
	}
	if _, err := FitGBM(X, []string{"a"}, GBMParams{}); err == nil {
		t.Fatalf("expected error for row/label mismatch")
	}
}
