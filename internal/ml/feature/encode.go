package feature

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Encode produces the fixed-order feature vector for one row. asOf anchors the
// elapsed-hours derivation; training and inference both pass their own scoring
// reference time through here so the formula never diverges.
func (s Spec) Encode(row Row, asOf time.Time) []float64 {
	out := make([]float64, 0, len(s.NumericFeatures)+len(s.TemporalFeatures)+len(s.CategoricalFeatures))
	for _, feat := range s.NumericFeatures {
		out = append(out, numericValue(rawValue(row, feat)))
	}
	for _, feat := range s.TemporalFeatures {
		out = append(out, temporalValue(feat, row.CreatedAt, asOf))
	}
	for _, feat := range s.CategoricalFeatures {
		out = append(out, float64(s.CategoryCode(feat, rawValue(row, feat))))
	}
	return out
}

// EncodeAll returns the feature matrix in row order.
func (s Spec) EncodeAll(rows []Row, asOf time.Time) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = s.Encode(row, asOf)
	}
	return out
}

// FeatureMap pairs the canonical column names with the encoded values, for
// persisting what the model actually saw alongside each score.
func (s Spec) FeatureMap(row Row, asOf time.Time) map[string]float64 {
	cols := s.Columns()
	vec := s.Encode(row, asOf)
	out := make(map[string]float64, len(cols))
	for i, c := range cols {
		out[c] = vec[i]
	}
	return out
}

// CategoryCode maps a raw categorical value to its ordinal. Anything unseen at
// training time gets UnknownCode instead of raising.
func (s Spec) CategoryCode(featureName, raw string) int {
	codes := s.EncodingMaps[featureName]
	if codes == nil {
		return UnknownCode
	}
	code, ok := codes[NormalizeCategory(raw)]
	if !ok {
		return UnknownCode
	}
	return code
}

// Numeric coercion: missing, blank, unparseable, NaN and Inf all collapse to 0.
func numericValue(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func temporalValue(name string, createdAt, asOf time.Time) float64 {
	if createdAt.IsZero() {
		return 0
	}
	switch name {
	case TemporalDayOfWeek:
		return float64(createdAt.UTC().Weekday())
	case TemporalHourOfDay:
		return float64(createdAt.UTC().Hour())
	case TemporalAgeHours:
		h := asOf.Sub(createdAt).Hours()
		if h < 0 {
			return 0
		}
		return h
	default:
		return 0
	}
}
