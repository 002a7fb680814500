package artifact

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/halcyonops/opsml-backend/internal/ml/algo"
	"github.com/halcyonops/opsml-backend/internal/ml/feature"
)

func fittedBundle(t *testing.T) *Bundle {
	t.Helper()
	created := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	rows := []feature.Row{
		{RecordID: "a", CreatedAt: created, Values: map[string]string{"amount": "1", "region": "emea"}, Label: "low"},
		{RecordID: "b", CreatedAt: created, Values: map[string]string{"amount": "9", "region": "apac"}, Label: "high"},
		{RecordID: "c", CreatedAt: created, Values: map[string]string{"amount": "2", "region": "emea"}, Label: "low"},
		{RecordID: "d", CreatedAt: created, Values: map[string]string{"amount": "8", "region": "apac"}, Label: "high"},
	}
	spec := feature.Fit(rows, []string{"amount"}, []string{"region"})

	X := spec.EncodeAll(rows, created)
	labels := make([]string, len(rows))
	for i, r := range rows {
		labels[i] = r.Label
	}
	clf, err := algo.FitGBM(X, labels, algo.GBMParams{NumRounds: 3, MinLeaf: 1, Seed: 4})
	if err != nil {
		t.Fatalf("FitGBM: %v", err)
	}
	return &Bundle{
		SchemaVersion: SchemaVersion,
		Algorithm:     AlgorithmGBM,
		FeatureSpec:   spec,
		Classifier:    clf,
		Threshold:     0.5,
		Seed:          4,
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	b := fittedBundle(t)
	data1, sha1, err := Encode(b)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	data2, sha2, err := Encode(b)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(data1, data2) || sha1 != sha2 {
		t.Fatalf("encoding the same bundle produced different bytes")
	}
}

func TestRoundTripPredictsIdentically(t *testing.T) {
	b := fittedBundle(t)
	data, _, err := Encode(b)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.FeatureSpec.Digest() != b.FeatureSpec.Digest() {
		t.Fatalf("feature spec digest changed across round trip")
	}
	x := []float64{5, 0, 10, 24, 1}
	wantClass, wantConf := b.Classifier.PredictClass(x)
	gotClass, gotConf := back.Classifier.PredictClass(x)
	if wantClass != gotClass || wantConf != gotConf {
		t.Fatalf("round-tripped model predicts differently: %s/%v vs %s/%v", wantClass, wantConf, gotClass, gotConf)
	}
}

func TestDecodeRejectsCorruptPayloads(t *testing.T) {
	cases := map[string][]byte{
		"garbage":       []byte("{not json"),
		"empty object":  []byte("{}"),
		"wrong schema":  []byte(`{"schema_version": 99, "algorithm": "gbm"}`),
		"wrong payload": []byte(`{"schema_version": 1, "algorithm": "gbm", "feature_spec": {"numeric_features":["a"],"categorical_features":[],"temporal_features":[],"encoding_maps":{}}}`),
		"unknown algo":  []byte(`{"schema_version": 1, "algorithm": "perceptron"}`),
	}
	for name, payload := range cases {
		if _, err := Decode(payload); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("%s: expected ErrCorrupt, got %v", name, err)
		}
	}
}

func TestEncodeRejectsInvalidBundle(t *testing.T) {
	b := fittedBundle(t)
	b.Algorithm = AlgorithmIsolationForest // classifier payload, detector algorithm
	if _, _, err := Encode(b); err == nil {
		t.Fatalf("expected mismatched algorithm/payload to fail validation")
	}
}
