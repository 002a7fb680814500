package algo

import (
	"fmt"
	"math"
	"math/rand"
)

// IsolationForestParams tunes the unsupervised anomaly detector. Seed fixes
// both the per-tree sampling and the random split choices.
type IsolationForestParams struct {
	NumTrees   int   `json:"num_trees"`
	SampleSize int   `json:"sample_size"`
	Seed       int64 `json:"seed"`
}

const (
	defaultNumTrees   = 100
	defaultSampleSize = 256
)

func (p IsolationForestParams) withDefaults(n int) IsolationForestParams {
	if p.NumTrees <= 0 {
		p.NumTrees = defaultNumTrees
	}
	if p.SampleSize <= 0 {
		p.SampleSize = defaultSampleSize
	}
	if p.SampleSize > n {
		p.SampleSize = n
	}
	return p
}

type IsoNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Size      int     `json:"n"`
	Leaf      bool    `json:"leaf"`
}

type IsolationTree struct {
	Nodes []IsoNode `json:"nodes"`
}

// IsolationForest scores rows in (0, 1); higher means easier to isolate and
// therefore more anomalous.
type IsolationForest struct {
	Params IsolationForestParams `json:"params"`
	Trees  []IsolationTree       `json:"trees"`
}

func FitIsolationForest(X [][]float64, params IsolationForestParams) (*IsolationForest, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("isolation forest: empty training matrix")
	}
	params = params.withDefaults(len(X))
	rng := rand.New(rand.NewSource(params.Seed))
	heightLimit := int(math.Ceil(math.Log2(float64(params.SampleSize)))) + 1

	forest := &IsolationForest{
		Params: params,
		Trees:  make([]IsolationTree, 0, params.NumTrees),
	}
	for t := 0; t < params.NumTrees; t++ {
		sample := rng.Perm(len(X))[:params.SampleSize]
		tree := IsolationTree{}
		tree.grow(X, sample, 0, heightLimit, rng)
		forest.Trees = append(forest.Trees, tree)
	}
	return forest, nil
}

func (t *IsolationTree) grow(X [][]float64, idx []int, depth, limit int, rng *rand.Rand) int {
	nodeID := len(t.Nodes)
	t.Nodes = append(t.Nodes, IsoNode{})

	if depth >= limit || len(idx) <= 1 {
		t.Nodes[nodeID] = IsoNode{Leaf: true, Size: len(idx)}
		return nodeID
	}

	// Only features with spread in this node can split it.
	numFeatures := len(X[idx[0]])
	var eligible []int
	for f := 0; f < numFeatures; f++ {
		lo, hi := featureRange(X, idx, f)
		if hi > lo {
			eligible = append(eligible, f)
		}
	}
	if len(eligible) == 0 {
		t.Nodes[nodeID] = IsoNode{Leaf: true, Size: len(idx)}
		return nodeID
	}

	feat := eligible[rng.Intn(len(eligible))]
	lo, hi := featureRange(X, idx, feat)
	thr := lo + rng.Float64()*(hi-lo)

	var left, right []int
	for _, i := range idx {
		if X[i][feat] < thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := t.grow(X, left, depth+1, limit, rng)
	r := t.grow(X, right, depth+1, limit, rng)
	t.Nodes[nodeID] = IsoNode{Feature: feat, Threshold: thr, Left: l, Right: r, Size: len(idx)}
	return nodeID
}

func (t *IsolationTree) pathLength(x []float64) float64 {
	i := 0
	depth := 0.0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return depth + avgUnsuccessfulSearch(n.Size)
		}
		if x[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// Score is the standard anomaly score 2^(-E[h(x)] / c(sampleSize)).
func (f *IsolationForest) Score(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	total := 0.0
	for i := range f.Trees {
		total += f.Trees[i].pathLength(x)
	}
	avg := total / float64(len(f.Trees))
	return math.Pow(2, -avg/avgUnsuccessfulSearch(f.Params.SampleSize))
}

func (f *IsolationForest) ScoreAll(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i := range X {
		out[i] = f.Score(X[i])
	}
	return out
}

const eulerMascheroni = 0.5772156649

// c(n) from Liu et al., the average path length of an unsuccessful BST search.
func avgUnsuccessfulSearch(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerMascheroni) - 2*(fn-1)/fn
	}
}

func featureRange(X [][]float64, idx []int, f int) (float64, float64) {
	lo, hi := X[idx[0]][f], X[idx[0]][f]
	for _, i := range idx[1:] {
		v := X[i][f]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
