package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

const ModelTypeGBTree = "gbtree"

// TreeNode is one node of a regression tree. Child indices are absolute
// positions inside the owning tree.
type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	Cover      float64 `json:"cover"`
	IsLeaf     bool    `json:"is_leaf"`
}

// Tree is a regression tree stored as a flat node array rooted at index 0.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`

	expected []float64
}

// Ensemble is a gradient-boosted sum of regression trees.
type Ensemble struct {
	BaseScore   float64 `json:"base_score"`
	NumFeatures int     `json:"num_features"`
	Trees       []Tree  `json:"trees"`

	explainable bool
	baseline    float64
}

type modelFile struct {
	ModelType string `json:"model_type"`
	*Ensemble
}

// NewEnsemble validates the trees and precomputes node expectations.
func NewEnsemble(baseScore float64, trees []Tree) (*Ensemble, error) {
	e := &Ensemble{BaseScore: baseScore, NumFeatures: FeatureCount, Trees: trees}
	if err := e.prepare(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Ensemble) Predict(normalized []float64) (float64, error) {
	if err := checkShape(normalized); err != nil {
		return 0, err
	}
	sum := e.BaseScore
	for i := range e.Trees {
		leaf := e.Trees[i].leaf(normalized)
		sum += e.Trees[i].Nodes[leaf].Value
	}
	return sum, nil
}

// Explain credits every split on each decision path with the change of the
// expected output between the node and the child the sample falls into.
func (e *Ensemble) Explain(normalized []float64) (Attribution, error) {
	if !e.explainable {
		return Attribution{}, fmt.Errorf("%w: model has no node cover statistics", ErrExplainUnsupported)
	}
	if err := checkShape(normalized); err != nil {
		return Attribution{}, err
	}
	values := make([]float64, FeatureCount)
	for i := range e.Trees {
		tree := &e.Trees[i]
		idx := 0
		for !tree.Nodes[idx].IsLeaf {
			node := tree.Nodes[idx]
			next := node.RightChild
			if normalized[node.FeatureIdx] <= node.Threshold {
				next = node.LeftChild
			}
			values[node.FeatureIdx] += tree.expected[next] - tree.expected[idx]
			idx = next
		}
	}
	return Attribution{Baseline: e.baseline, Values: values}, nil
}

// Baseline returns the expected model output over the training distribution.
func (e *Ensemble) Baseline() (float64, bool) {
	return e.baseline, e.explainable
}

// Save writes the ensemble as a model artifact.
func (e *Ensemble) Save(path string) error {
	if len(e.Trees) == 0 {
		return errors.New("model not trained")
	}
	payload, err := json.Marshal(modelFile{ModelType: ModelTypeGBTree, Ensemble: e})
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

func decodeEnsemble(payload []byte) (*Ensemble, error) {
	file := modelFile{Ensemble: &Ensemble{}}
	if err := json.Unmarshal(payload, &file); err != nil {
		return nil, err
	}
	if file.ModelType != ModelTypeGBTree {
		return nil, fmt.Errorf("unsupported model type %q", file.ModelType)
	}
	if err := file.Ensemble.prepare(); err != nil {
		return nil, err
	}
	return file.Ensemble, nil
}

func (e *Ensemble) prepare() error {
	if e.NumFeatures != FeatureCount {
		return fmt.Errorf("model expects %d features, want %d", e.NumFeatures, FeatureCount)
	}
	if !finite(e.BaseScore) {
		return errors.New("base score is not finite")
	}
	if len(e.Trees) == 0 {
		return errors.New("model has no trees")
	}
	e.explainable = true
	e.baseline = e.BaseScore
	for i := range e.Trees {
		if err := e.Trees[i].validate(); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
		if !e.Trees[i].computeExpected() {
			e.explainable = false
			continue
		}
		e.baseline += e.Trees[i].expected[0]
	}
	return nil
}

func (t *Tree) validate() error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for idx, node := range t.Nodes {
		if node.IsLeaf {
			if !finite(node.Value) {
				return fmt.Errorf("leaf %d value is not finite", idx)
			}
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= FeatureCount {
			return fmt.Errorf("node %d feature index %d out of range", idx, node.FeatureIdx)
		}
		if !finite(node.Threshold) {
			return fmt.Errorf("node %d threshold is not finite", idx)
		}
		// children after their parent rule out cycles
		for _, child := range []int{node.LeftChild, node.RightChild} {
			if child <= idx || child >= len(t.Nodes) {
				return fmt.Errorf("node %d child %d out of range", idx, child)
			}
		}
	}
	return nil
}

// computeExpected fills the cover-weighted mean leaf value below every node.
// It reports false when cover statistics are missing.
func (t *Tree) computeExpected() bool {
	expected := make([]float64, len(t.Nodes))
	for idx := len(t.Nodes) - 1; idx >= 0; idx-- {
		node := t.Nodes[idx]
		if node.IsLeaf {
			expected[idx] = node.Value
			continue
		}
		left, right := t.Nodes[node.LeftChild].Cover, t.Nodes[node.RightChild].Cover
		if left <= 0 || right <= 0 {
			return false
		}
		expected[idx] = (left*expected[node.LeftChild] + right*expected[node.RightChild]) / (left + right)
	}
	t.expected = expected
	return true
}

func (t *Tree) leaf(normalized []float64) int {
	idx := 0
	for !t.Nodes[idx].IsLeaf {
		node := t.Nodes[idx]
		if normalized[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
	}
	return idx
}
