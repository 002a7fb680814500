package algo

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// GBMParams tunes the gradient-boosted classifier. Zero values take the
// defaults below; Seed drives row subsampling so identical params and data
// always produce an identical model.
type GBMParams struct {
	NumRounds    int     `json:"num_rounds"`
	LearningRate float64 `json:"learning_rate"`
	MaxDepth     int     `json:"max_depth"`
	MinLeaf      int     `json:"min_leaf"`
	Subsample    float64 `json:"subsample"`
	Seed         int64   `json:"seed"`
}

const (
	defaultNumRounds    = 50
	defaultLearningRate = 0.1
	defaultMaxDepth     = 3
	defaultMinLeaf      = 2
	defaultSubsample    = 1.0
)

func (p GBMParams) withDefaults() GBMParams {
	if p.NumRounds <= 0 {
		p.NumRounds = defaultNumRounds
	}
	if p.LearningRate <= 0 {
		p.LearningRate = defaultLearningRate
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = defaultMaxDepth
	}
	if p.MinLeaf <= 0 {
		p.MinLeaf = defaultMinLeaf
	}
	if p.Subsample <= 0 || p.Subsample > 1 {
		p.Subsample = defaultSubsample
	}
	return p
}

// GBMClassifier is a multi-class gradient-boosted tree ensemble with a
// softmax objective. Classes are sorted label strings; Rounds[r][k] is the
// round-r tree for class k.
type GBMClassifier struct {
	Params  GBMParams          `json:"params"`
	Classes []string           `json:"classes"`
	Init    []float64          `json:"init_scores"`
	Rounds  [][]RegressionTree `json:"rounds"`
}

// FitGBM trains on the full matrix. Labels define the class set; at least two
// distinct classes are required.
func FitGBM(X [][]float64, labels []string, params GBMParams) (*GBMClassifier, error) {
	if len(X) == 0 || len(X) != len(labels) {
		return nil, fmt.Errorf("gbm: %d rows vs %d labels", len(X), len(labels))
	}
	params = params.withDefaults()

	classSet := map[string]int{}
	for _, l := range labels {
		classSet[l] = 0
	}
	if len(classSet) < 2 {
		return nil, fmt.Errorf("gbm: need at least 2 classes, got %d", len(classSet))
	}
	classes := make([]string, 0, len(classSet))
	for c := range classSet {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	for i, c := range classes {
		classSet[c] = i
	}

	n := len(X)
	k := len(classes)
	yIdx := make([]int, n)
	counts := make([]int, k)
	for i, l := range labels {
		yIdx[i] = classSet[l]
		counts[classSet[l]]++
	}

	// Init scores are log priors; softmax of them recovers the class shares.
	init := make([]float64, k)
	for c := range init {
		init[c] = math.Log(float64(counts[c]) / float64(n))
	}

	model := &GBMClassifier{
		Params:  params,
		Classes: classes,
		Init:    init,
		Rounds:  make([][]RegressionTree, 0, params.NumRounds),
	}

	scores := make([][]float64, n)
	for i := range scores {
		scores[i] = append([]float64{}, init...)
	}

	rng := rand.New(rand.NewSource(params.Seed))
	residual := make([]float64, n)
	probs := make([]float64, k)

	for round := 0; round < params.NumRounds; round++ {
		idx := sampleRows(rng, n, params.Subsample)
		roundTrees := make([]RegressionTree, k)
		for c := 0; c < k; c++ {
			for i := 0; i < n; i++ {
				softmaxInto(scores[i], probs)
				target := 0.0
				if yIdx[i] == c {
					target = 1.0
				}
				residual[i] = target - probs[c]
			}
			tree := fitRegressionTree(X, residual, idx, params.MaxDepth, params.MinLeaf)
			roundTrees[c] = tree
			for i := 0; i < n; i++ {
				scores[i][c] += params.LearningRate * tree.Predict(X[i])
			}
		}
		model.Rounds = append(model.Rounds, roundTrees)
	}
	return model, nil
}

// PredictProba returns the softmax class distribution in Classes order.
func (m *GBMClassifier) PredictProba(x []float64) []float64 {
	scores := append([]float64{}, m.Init...)
	for _, round := range m.Rounds {
		for c := range round {
			scores[c] += m.Params.LearningRate * round[c].Predict(x)
		}
	}
	probs := make([]float64, len(scores))
	softmaxInto(scores, probs)
	return probs
}

// PredictClass returns the argmax class and its probability. Ties break to the
// lexicographically first class.
func (m *GBMClassifier) PredictClass(x []float64) (string, float64) {
	probs := m.PredictProba(x)
	best := 0
	for c := 1; c < len(probs); c++ {
		if probs[c] > probs[best] {
			best = c
		}
	}
	return m.Classes[best], probs[best]
}

func sampleRows(rng *rand.Rand, n int, ratio float64) []int {
	if ratio >= 1 {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	want := int(math.Max(1, math.Round(ratio*float64(n))))
	perm := rng.Perm(n)[:want]
	sort.Ints(perm)
	return perm
}

func softmaxInto(scores, out []float64) {
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	sum := 0.0
	for i, s := range scores {
		out[i] = math.Exp(s - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
}
