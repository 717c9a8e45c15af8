package ml

import (
	"errors"
	"math"
	"sort"
)

// RegressionTree fits a single CART tree that minimizes squared error.
type RegressionTree struct {
	MaxDepth       int
	MinSamplesLeaf int

	nodes []TreeNode
}

// NewRegressionTree returns a tree with the given depth limit.
func NewRegressionTree(maxDepth, minSamplesLeaf int) *RegressionTree {
	return &RegressionTree{MaxDepth: maxDepth, MinSamplesLeaf: minSamplesLeaf}
}

// Train fits the tree. Leaf values are the mean target scaled by shrinkage.
func (rt *RegressionTree) Train(features [][]float64, targets []float64, shrinkage float64) error {
	if len(features) == 0 || len(targets) == 0 {
		return errors.New("features or targets empty")
	}
	if len(features) != len(targets) {
		return errors.New("features and targets size mismatch")
	}
	if rt.MaxDepth <= 0 {
		rt.MaxDepth = 3
	}
	if rt.MinSamplesLeaf <= 0 {
		rt.MinSamplesLeaf = 1
	}

	indices := make([]int, len(features))
	for i := range indices {
		indices[i] = i
	}
	rt.nodes = rt.nodes[:0]
	rt.build(features, targets, indices, 0, shrinkage)
	return nil
}

// Predict walks the tree for one vector.
func (rt *RegressionTree) Predict(features []float64) (float64, error) {
	if len(rt.nodes) == 0 {
		return 0, errors.New("model not trained")
	}
	tree := Tree{Nodes: rt.nodes}
	return rt.nodes[tree.leaf(features)].Value, nil
}

// Tree returns the fitted nodes.
func (rt *RegressionTree) Tree() Tree {
	return Tree{Nodes: append([]TreeNode(nil), rt.nodes...)}
}

// build appends the subtree for indices and returns its root position.
// Children are always appended after their parent.
func (rt *RegressionTree) build(features [][]float64, targets []float64, indices []int, depth int, shrinkage float64) int {
	idx := len(rt.nodes)
	rt.nodes = append(rt.nodes, TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Value:      shrinkage * meanOf(targets, indices),
		Cover:      float64(len(indices)),
		IsLeaf:     true,
	})

	if depth >= rt.MaxDepth || len(indices) < 2*rt.MinSamplesLeaf || isConstant(targets, indices) {
		return idx
	}
	feature, threshold, ok := rt.findBestSplit(features, targets, indices)
	if !ok {
		return idx
	}
	left, right := partition(features, indices, feature, threshold)

	leftIdx := rt.build(features, targets, left, depth+1, shrinkage)
	rightIdx := rt.build(features, targets, right, depth+1, shrinkage)

	node := &rt.nodes[idx]
	node.FeatureIdx = feature
	node.Threshold = threshold
	node.LeftChild = leftIdx
	node.RightChild = rightIdx
	node.IsLeaf = false
	return idx
}

func (rt *RegressionTree) findBestSplit(features [][]float64, targets []float64, indices []int) (int, float64, bool) {
	bestFeature := -1
	bestThreshold := 0.0
	bestSSE := sse(targets, indices) - 1e-12

	sorted := append([]int(nil), indices...)
	featureCount := len(features[indices[0]])
	for featureIdx := 0; featureIdx < featureCount; featureIdx++ {
		sort.Slice(sorted, func(a, b int) bool {
			return features[sorted[a]][featureIdx] < features[sorted[b]][featureIdx]
		})

		totalSum, totalSq := 0.0, 0.0
		for _, i := range sorted {
			totalSum += targets[i]
			totalSq += targets[i] * targets[i]
		}
		leftSum, leftSq := 0.0, 0.0
		n := len(sorted)
		for pos := 0; pos < n-1; pos++ {
			y := targets[sorted[pos]]
			leftSum += y
			leftSq += y * y

			leftN := pos + 1
			rightN := n - leftN
			current := features[sorted[pos]][featureIdx]
			next := features[sorted[pos+1]][featureIdx]
			if current == next || leftN < rt.MinSamplesLeaf || rightN < rt.MinSamplesLeaf {
				continue
			}
			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			split := (leftSq - leftSum*leftSum/float64(leftN)) + (rightSq - rightSum*rightSum/float64(rightN))
			if split < bestSSE {
				bestSSE = split
				bestFeature = featureIdx
				bestThreshold = (current + next) / 2
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func partition(features [][]float64, indices []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, i := range indices {
		if features[i][featureIdx] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func meanOf(values []float64, indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range indices {
		sum += values[i]
	}
	return sum / float64(len(indices))
}

func sse(values []float64, indices []int) float64 {
	mean := meanOf(values, indices)
	total := 0.0
	for _, i := range indices {
		diff := values[i] - mean
		total += diff * diff
	}
	return total
}

func isConstant(values []float64, indices []int) bool {
	if len(indices) == 0 {
		return true
	}
	first := values[indices[0]]
	for _, i := range indices[1:] {
		if math.Abs(values[i]-first) > 1e-12 {
			return false
		}
	}
	return true
}
