package evaluate

import (
	"fmt"
	"math"
	"sort"
)

// ClassMetrics holds one-vs-rest precision/recall/F1 for a single class.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ClassificationReport is the evaluation payload persisted as the metrics
// document of a classification training run.
type ClassificationReport struct {
	Accuracy  float64                 `json:"accuracy"`
	MacroF1   float64                 `json:"macro_f1"`
	Classes   []string                `json:"classes"`
	Confusion [][]int                 `json:"confusion_matrix"`
	PerClass  map[string]ClassMetrics `json:"per_class"`
	NumRows   int                     `json:"num_rows"`
}

// Classify compares predictions against held-out labels. classes fixes row and
// column order of the confusion matrix; labels outside it are an input error.
func Classify(yTrue, yPred, classes []string) (ClassificationReport, error) {
	if len(yTrue) != len(yPred) {
		return ClassificationReport{}, fmt.Errorf("evaluate: %d labels vs %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return ClassificationReport{}, fmt.Errorf("evaluate: empty evaluation set")
	}
	idx := make(map[string]int, len(classes))
	for i, c := range classes {
		idx[c] = i
	}

	confusion := make([][]int, len(classes))
	for i := range confusion {
		confusion[i] = make([]int, len(classes))
	}
	correct := 0
	for i := range yTrue {
		ti, ok := idx[yTrue[i]]
		if !ok {
			return ClassificationReport{}, fmt.Errorf("evaluate: label %q not in class set", yTrue[i])
		}
		pi, ok := idx[yPred[i]]
		if !ok {
			return ClassificationReport{}, fmt.Errorf("evaluate: prediction %q not in class set", yPred[i])
		}
		confusion[ti][pi]++
		if ti == pi {
			correct++
		}
	}

	perClass := make(map[string]ClassMetrics, len(classes))
	macroF1 := 0.0
	for i, c := range classes {
		tp := confusion[i][i]
		fp, fn, support := 0, 0, 0
		for j := range classes {
			support += confusion[i][j]
			if j != i {
				fn += confusion[i][j]
				fp += confusion[j][i]
			}
		}
		m := ClassMetrics{
			Precision: safeRatio(tp, tp+fp),
			Recall:    safeRatio(tp, tp+fn),
			Support:   support,
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		perClass[c] = m
		macroF1 += m.F1
	}

	return ClassificationReport{
		Accuracy:  float64(correct) / float64(len(yTrue)),
		MacroF1:   macroF1 / float64(len(classes)),
		Classes:   append([]string{}, classes...),
		Confusion: confusion,
		PerClass:  perClass,
		NumRows:   len(yTrue),
	}, nil
}

// ClassShares returns each label's fraction of the batch.
func ClassShares(labels []string) map[string]float64 {
	counts := map[string]int{}
	for _, l := range labels {
		counts[l]++
	}
	out := make(map[string]float64, len(counts))
	for l, n := range counts {
		out[l] = float64(n) / float64(len(labels))
	}
	return out
}

// MinorityClasses lists classes whose share falls below threshold, sorted for
// stable log output.
func MinorityClasses(labels []string, threshold float64) []string {
	var out []string
	for c, share := range ClassShares(labels) {
		if share < threshold {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// Percentile computes the p-th percentile (0..100) with linear interpolation
// between order statistics. The input is not mutated.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func safeRatio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
