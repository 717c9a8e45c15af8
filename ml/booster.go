package ml

import (
	"errors"
	"fmt"
	"math"
)

// BoosterConfig controls gradient boosting.
type BoosterConfig struct {
	Trees          int
	MaxDepth       int
	LearningRate   float64
	MinSamplesLeaf int
}

// DefaultBoosterConfig mirrors the defaults of common gradient boosting libraries.
func DefaultBoosterConfig() BoosterConfig {
	return BoosterConfig{
		Trees:          100,
		MaxDepth:       3,
		LearningRate:   0.1,
		MinSamplesLeaf: 1,
	}
}

// TrainBooster fits a least-squares gradient-boosted ensemble on normalized features.
func TrainBooster(features [][]float64, targets []float64, config BoosterConfig) (*Ensemble, error) {
	if len(features) == 0 {
		return nil, errors.New("features is empty")
	}
	if len(features) != len(targets) {
		return nil, errors.New("features and targets size mismatch")
	}
	for i, row := range features {
		if err := checkShape(row); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	if config.Trees <= 0 {
		return nil, errors.New("trees must be positive")
	}
	if config.LearningRate <= 0 || config.LearningRate > 1 {
		return nil, errors.New("learning rate must be in (0, 1]")
	}

	base := meanOf(targets, seq(len(targets)))
	predictions := make([]float64, len(targets))
	for i := range predictions {
		predictions[i] = base
	}
	residuals := make([]float64, len(targets))

	trees := make([]Tree, 0, config.Trees)
	for round := 0; round < config.Trees; round++ {
		for i := range residuals {
			residuals[i] = targets[i] - predictions[i]
		}
		rt := NewRegressionTree(config.MaxDepth, config.MinSamplesLeaf)
		if err := rt.Train(features, residuals, config.LearningRate); err != nil {
			return nil, fmt.Errorf("round %d: %w", round, err)
		}
		for i, row := range features {
			delta, err := rt.Predict(row)
			if err != nil {
				return nil, err
			}
			predictions[i] += delta
		}
		trees = append(trees, rt.Tree())
	}
	return NewEnsemble(base, trees)
}

// Metrics summarizes regression quality on a holdout set.
type Metrics struct {
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	R2   float64 `json:"r2"`
}

// Evaluate scores a regressor on normalized features.
func Evaluate(model Regressor, features [][]float64, targets []float64) (Metrics, error) {
	if len(features) == 0 || len(features) != len(targets) {
		return Metrics{}, errors.New("features and targets must be non-empty and equal length")
	}
	mean := meanOf(targets, seq(len(targets)))
	var sq, abs, total float64
	for i, row := range features {
		predicted, err := model.Predict(row)
		if err != nil {
			return Metrics{}, err
		}
		diff := targets[i] - predicted
		sq += diff * diff
		abs += math.Abs(diff)
		dev := targets[i] - mean
		total += dev * dev
	}
	n := float64(len(targets))
	metrics := Metrics{RMSE: math.Sqrt(sq / n), MAE: abs / n}
	if total > 0 {
		metrics.R2 = 1 - sq/total
	}
	return metrics, nil
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
