package train

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	types "github.com/halcyonops/opsml-backend/internal/domain"
)

// Hyperparams is the full knob surface of a training run, loadable from a
// YAML file. Whatever is absent takes the defaults below; the effective
// values are persisted on the run row so every run is reproducible from its
// ledger entry alone.
type Hyperparams struct {
	Seed int64 `yaml:"seed" json:"seed"`

	NumericFeatures     []string `yaml:"numeric_features" json:"numeric_features"`
	CategoricalFeatures []string `yaml:"categorical_features" json:"categorical_features"`

	// Gradient-boosted classifier.
	NumRounds    int     `yaml:"num_rounds" json:"num_rounds"`
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`
	MaxDepth     int     `yaml:"max_depth" json:"max_depth"`
	MinLeaf      int     `yaml:"min_leaf" json:"min_leaf"`
	Subsample    float64 `yaml:"subsample" json:"subsample"`

	// Isolation forest.
	NumTrees      int     `yaml:"num_trees" json:"num_trees"`
	SampleSize    int     `yaml:"sample_size" json:"sample_size"`
	Contamination float64 `yaml:"contamination" json:"contamination"`
}

const (
	defaultSeed          = 42
	defaultContamination = 0.05

	// Classes below this share of the training labels get a class-balance
	// warning in the run log.
	minorityShareThreshold = 0.05
)

func (h Hyperparams) withDefaults() Hyperparams {
	if h.Seed == 0 {
		h.Seed = defaultSeed
	}
	if h.Contamination <= 0 || h.Contamination >= 1 {
		h.Contamination = defaultContamination
	}
	return h
}

func (h Hyperparams) validateFor(algorithm string) error {
	if len(h.NumericFeatures)+len(h.CategoricalFeatures) == 0 {
		return fmt.Errorf("hyperparams: at least one numeric or categorical feature is required")
	}
	switch algorithm {
	case types.AlgorithmGBM, types.AlgorithmIsolationForest:
		return nil
	default:
		return fmt.Errorf("hyperparams: unknown algorithm %q", algorithm)
	}
}

// LoadHyperparamsFile reads a YAML hyperparameter file. Unknown keys are
// rejected so a typoed knob fails the run instead of silently training with
// defaults.
func LoadHyperparamsFile(path string) (Hyperparams, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Hyperparams{}, fmt.Errorf("read hyperparams file: %w", err)
	}
	var h Hyperparams
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&h); err != nil {
		return Hyperparams{}, fmt.Errorf("parse hyperparams file %s: %w", path, err)
	}
	return h, nil
}
