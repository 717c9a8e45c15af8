package pipeline

import (
	"errors"
	"fmt"

	"pecpredict/ml"
)

// MockPipeline validates input like the real pipeline but always predicts a
// fixed value. It is a test and demo double, not a production path.
type MockPipeline struct {
	Value float64
	unit  string
}

// NewMock returns a mock predicting value.
func NewMock(value float64) *MockPipeline {
	return &MockPipeline{Value: value, unit: ml.PredictionUnit}
}

func (m *MockPipeline) Unit() string {
	return m.unit
}

func (m *MockPipeline) Predict(features []float64) (float64, error) {
	if err := ml.ValidateFeatures(features); err != nil {
		return 0, err
	}
	return m.Value, nil
}

func (m *MockPipeline) Run(features []float64, explain bool) (*Result, error) {
	value, err := m.Predict(features)
	if err != nil {
		return nil, err
	}
	result := &Result{
		Prediction: value,
		Unit:       m.unit,
		Features:   append([]float64(nil), features...),
	}
	if explain {
		result.ExplainError = fmt.Errorf("%w: mock pipeline", ml.ErrExplainUnsupported).Error()
	}
	return result, nil
}

// ErrArtifactsUnavailable blocks predictions after a session-fatal load failure.
var ErrArtifactsUnavailable = errors.New("model artifacts unavailable")

// Unavailable is the predictor used when the artifacts could not be loaded.
// Every call fails with ErrArtifactsUnavailable wrapping the load error.
type Unavailable struct {
	Cause error
	unit  string
}

// NewUnavailable returns a blocked predictor for cause.
func NewUnavailable(cause error, unit string) *Unavailable {
	if unit == "" {
		unit = ml.PredictionUnit
	}
	return &Unavailable{Cause: cause, unit: unit}
}

func (u *Unavailable) Unit() string {
	return u.unit
}

func (u *Unavailable) Predict([]float64) (float64, error) {
	return 0, u.err()
}

func (u *Unavailable) Run([]float64, bool) (*Result, error) {
	return nil, u.err()
}

func (u *Unavailable) err() error {
	return fmt.Errorf("%w: %w", ErrArtifactsUnavailable, u.Cause)
}
