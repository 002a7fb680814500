package feature

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Row is one operational record as fetched from the source-of-truth query or a
// materialized dataset extract. Values holds the raw feature columns by name;
// a missing key takes the documented default (0 for numeric, "unknown" for
// categorical) instead of failing the batch.
type Row struct {
	RecordID   string
	CreatedAt  time.Time
	Values     map[string]string
	Label      string
	ActualFlag *bool
}

// Temporal features are derived from CreatedAt with the same formulas at train
// and inference time. Their names and order are part of the contract.
const (
	TemporalDayOfWeek = "created_dow"
	TemporalHourOfDay = "created_hour"
	TemporalAgeHours  = "age_hours"
)

// UnknownCode is the ordinal every category unseen at training time maps to.
const UnknownCode = 0

// Spec is the frozen feature contract produced once per training run and
// embedded in the artifact. At inference it is read-only and must reproduce
// identical column order and encoding; it is never refit.
type Spec struct {
	NumericFeatures     []string                  `json:"numeric_features"`
	CategoricalFeatures []string                  `json:"categorical_features"`
	TemporalFeatures    []string                  `json:"temporal_features"`
	EncodingMaps        map[string]map[string]int `json:"encoding_maps"`
}

// Fit builds the spec from the training partition only. Ordinal codes start at
// 1 in sorted category order so fitting is independent of row order; 0 stays
// reserved for unknown.
func Fit(trainRows []Row, numeric, categorical []string) Spec {
	spec := Spec{
		NumericFeatures:     append([]string{}, numeric...),
		CategoricalFeatures: append([]string{}, categorical...),
		TemporalFeatures:    []string{TemporalDayOfWeek, TemporalHourOfDay, TemporalAgeHours},
		EncodingMaps:        map[string]map[string]int{},
	}
	for _, feat := range categorical {
		seen := map[string]bool{}
		for _, row := range trainRows {
			seen[NormalizeCategory(rawValue(row, feat))] = true
		}
		cats := make([]string, 0, len(seen))
		for c := range seen {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		codes := make(map[string]int, len(cats))
		for i, c := range cats {
			codes[c] = i + 1
		}
		spec.EncodingMaps[feat] = codes
	}
	return spec
}

// Columns returns the canonical feature order: numeric, then temporal, then
// categorical. Order is part of the spec; it is never inferred from map
// iteration.
func (s Spec) Columns() []string {
	out := make([]string, 0, len(s.NumericFeatures)+len(s.TemporalFeatures)+len(s.CategoricalFeatures))
	out = append(out, s.NumericFeatures...)
	out = append(out, s.TemporalFeatures...)
	out = append(out, s.CategoricalFeatures...)
	return out
}

// Digest is the SHA-256 of the canonical JSON encoding. Encoding maps are
// plain maps, which encoding/json serializes with sorted keys, so the digest
// is deterministic for a given spec.
func (s Spec) Digest() string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (s Spec) Validate() error {
	if len(s.NumericFeatures)+len(s.CategoricalFeatures) == 0 {
		return fmt.Errorf("feature spec has no features")
	}
	for _, feat := range s.CategoricalFeatures {
		if _, ok := s.EncodingMaps[feat]; !ok {
			return fmt.Errorf("feature spec missing encoding map for %q", feat)
		}
	}
	return nil
}

func NormalizeCategory(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}

func rawValue(row Row, name string) string {
	if row.Values == nil {
		return ""
	}
	return row.Values[name]
}
