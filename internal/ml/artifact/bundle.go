package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/halcyonops/opsml-backend/internal/ml/algo"
	"github.com/halcyonops/opsml-backend/internal/ml/feature"
)

// SchemaVersion is bumped whenever the bundle layout changes incompatibly.
// Decode refuses versions it does not know.
const SchemaVersion = 1

const (
	AlgorithmGBM             = "gbm"
	AlgorithmIsolationForest = "isolation_forest"
)

// ErrCorrupt wraps every decode failure so callers can distinguish a bad
// artifact from transport errors and fail the run accordingly.
var ErrCorrupt = errors.New("artifact: corrupt or incompatible bundle")

// Bundle is the single self-contained model artifact. It carries everything
// inference needs: the frozen feature spec, the fitted model and the decision
// threshold. Nothing in it depends on wall-clock time, so encoding the same
// trained state always yields the same bytes.
type Bundle struct {
	SchemaVersion int                   `json:"schema_version"`
	Algorithm     string                `json:"algorithm"`
	FeatureSpec   feature.Spec          `json:"feature_spec"`
	Classifier    *algo.GBMClassifier   `json:"classifier,omitempty"`
	Detector      *algo.IsolationForest `json:"detector,omitempty"`
	Threshold     float64               `json:"threshold"`
	Seed          int64                 `json:"seed"`
}

func (b *Bundle) Validate() error {
	if b.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema version %d", b.SchemaVersion)
	}
	if err := b.FeatureSpec.Validate(); err != nil {
		return err
	}
	switch b.Algorithm {
	case AlgorithmGBM:
		if b.Classifier == nil {
			return fmt.Errorf("algorithm %q without classifier payload", b.Algorithm)
		}
	case AlgorithmIsolationForest:
		if b.Detector == nil {
			return fmt.Errorf("algorithm %q without detector payload", b.Algorithm)
		}
	default:
		return fmt.Errorf("unknown algorithm %q", b.Algorithm)
	}
	return nil
}

// Encode serializes the bundle and returns the bytes with their SHA-256 hex
// digest. encoding/json writes map keys in sorted order, so equal bundles
// encode to equal bytes and equal digests.
func Encode(b *Bundle) ([]byte, string, error) {
	if err := b.Validate(); err != nil {
		return nil, "", fmt.Errorf("artifact encode: %w", err)
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, "", fmt.Errorf("artifact encode: %w", err)
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}

// Decode parses and validates a bundle. Any failure reports ErrCorrupt; a
// model that cannot be reconstructed exactly must never score records.
func Decode(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &b, nil
}
