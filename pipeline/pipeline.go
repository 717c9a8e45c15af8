package pipeline

import (
	"pecpredict/ml"
)

// Predictor is the prediction contract shared by the real pipeline and its doubles.
type Predictor interface {
	Predict(features []float64) (float64, error)
	Run(features []float64, explain bool) (*Result, error)
	Unit() string
}

// Result is the outcome of one prediction request.
type Result struct {
	Prediction   float64         `json:"prediction"`
	Unit         string          `json:"unit"`
	Features     []float64       `json:"features"`
	Normalized   []float64       `json:"normalized,omitempty"`
	Attribution  *ml.Attribution `json:"attribution,omitempty"`
	ExplainError string          `json:"explain_error,omitempty"`
}

// Pipeline runs scaler.Transform then model.Predict against loaded artifacts.
// It holds no mutable state and is safe for concurrent use.
type Pipeline struct {
	artifacts *Artifacts
	unit      string
}

// New wraps loaded artifacts. An empty unit falls back to ml.PredictionUnit.
func New(artifacts *Artifacts, unit string) *Pipeline {
	if unit == "" {
		unit = ml.PredictionUnit
	}
	return &Pipeline{artifacts: artifacts, unit: unit}
}

// Open loads artifacts through the loader and wraps them.
func Open(loader *Loader, scalerPath, modelPath, unit string) (*Pipeline, error) {
	artifacts, err := loader.Load(scalerPath, modelPath)
	if err != nil {
		return nil, err
	}
	return New(artifacts, unit), nil
}

func (p *Pipeline) Unit() string {
	return p.unit
}

// Artifacts returns the loaded scaler/model pair.
func (p *Pipeline) Artifacts() *Artifacts {
	return p.artifacts
}

func (p *Pipeline) Predict(features []float64) (float64, error) {
	return ml.Predict(p.artifacts.Scaler, p.artifacts.Model, features)
}

// Explain attributes a prediction given the normalized features it was made from.
func (p *Pipeline) Explain(normalized []float64) (ml.Attribution, error) {
	return ml.Explain(p.artifacts.Model, normalized)
}

// Run predicts and, when asked, explains. An explain failure is reported on
// the result and never replaces the prediction.
func (p *Pipeline) Run(features []float64, explain bool) (*Result, error) {
	value, normalized, err := ml.PredictNormalized(p.artifacts.Scaler, p.artifacts.Model, features)
	if err != nil {
		return nil, err
	}
	result := &Result{
		Prediction: value,
		Unit:       p.unit,
		Features:   append([]float64(nil), features...),
		Normalized: normalized,
	}
	if !explain {
		return result, nil
	}
	attribution, err := p.Explain(normalized)
	if err != nil {
		result.ExplainError = err.Error()
		return result, nil
	}
	result.Attribution = &attribution
	return result, nil
}
