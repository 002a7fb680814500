package algo

import "sort"

// TreeNode is one node of a regression tree, stored in a flat array so the
// whole tree serializes to JSON without recursion. Leaf nodes carry Value;
// internal nodes route on Feature/Threshold to child indices.
type TreeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
	Leaf      bool    `json:"leaf"`
}

type RegressionTree struct {
	Nodes []TreeNode `json:"nodes"`
}

func (t *RegressionTree) Predict(x []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

func fitRegressionTree(X [][]float64, y []float64, idx []int, maxDepth, minLeaf int) RegressionTree {
	t := RegressionTree{}
	t.grow(X, y, idx, 0, maxDepth, minLeaf)
	return t
}

func (t *RegressionTree) grow(X [][]float64, y []float64, idx []int, depth, maxDepth, minLeaf int) int {
	nodeID := len(t.Nodes)
	t.Nodes = append(t.Nodes, TreeNode{})

	if depth >= maxDepth || len(idx) < 2*minLeaf {
		t.Nodes[nodeID] = TreeNode{Leaf: true, Value: meanAt(y, idx)}
		return nodeID
	}
	feat, thr, ok := bestSplit(X, y, idx, minLeaf)
	if !ok {
		t.Nodes[nodeID] = TreeNode{Leaf: true, Value: meanAt(y, idx)}
		return nodeID
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feat] <= thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := t.grow(X, y, left, depth+1, maxDepth, minLeaf)
	r := t.grow(X, y, right, depth+1, maxDepth, minLeaf)
	t.Nodes[nodeID] = TreeNode{Feature: feat, Threshold: thr, Left: l, Right: r}
	return nodeID
}

// bestSplit scans features in index order and candidate thresholds in value
// order, keeping a split only on strict improvement. That makes tree growth
// fully deterministic for a given matrix.
func bestSplit(X [][]float64, y []float64, idx []int, minLeaf int) (int, float64, bool) {
	if len(idx) == 0 {
		return 0, 0, false
	}
	numFeatures := len(X[idx[0]])

	total := 0.0
	for _, i := range idx {
		total += y[i]
	}
	baseScore := total * total / float64(len(idx))

	bestGain := 1e-12
	bestFeat, bestThr, found := 0, 0.0, false

	type pair struct{ v, t float64 }
	pairs := make([]pair, len(idx))
	for f := 0; f < numFeatures; f++ {
		for j, i := range idx {
			pairs[j] = pair{v: X[i][f], t: y[i]}
		}
		sort.Slice(pairs, func(a, b int) bool { return pairs[a].v < pairs[b].v })

		sumLeft := 0.0
		for j := 0; j < len(pairs)-1; j++ {
			sumLeft += pairs[j].t
			if pairs[j].v == pairs[j+1].v {
				continue
			}
			nLeft := j + 1
			nRight := len(pairs) - nLeft
			if nLeft < minLeaf || nRight < minLeaf {
				continue
			}
			sumRight := total - sumLeft
			score := sumLeft*sumLeft/float64(nLeft) + sumRight*sumRight/float64(nRight)
			gain := score - baseScore
			if gain > bestGain {
				bestGain = gain
				bestFeat = f
				bestThr = (pairs[j].v + pairs[j+1].v) / 2
				found = true
			}
		}
	}
	return bestFeat, bestThr, found
}

func meanAt(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range idx {
		sum += y[i]
	}
	return sum / float64(len(idx))
}
