package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

func readArtifact(path string) ([]byte, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactCorrupt, path, err)
	}
	return payload, nil
}

// LoadModel reads a model artifact and dispatches on its model_type.
func LoadModel(path string) (Regressor, error) {
	payload, err := readArtifact(path)
	if err != nil {
		return nil, err
	}
	var header struct {
		ModelType string `json:"model_type"`
	}
	if err := json.Unmarshal(payload, &header); err != nil {
		return nil, fmt.Errorf("%w: model %s: %v", ErrArtifactCorrupt, path, err)
	}
	switch header.ModelType {
	case ModelTypeGBTree:
		model, err := decodeEnsemble(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: model %s: %v", ErrArtifactCorrupt, path, err)
		}
		return model, nil
	default:
		return nil, fmt.Errorf("%w: model %s: unsupported model type %q", ErrArtifactCorrupt, path, header.ModelType)
	}
}

// Load reads the scaler and then the model. A scaler failure returns before
// the model file is touched.
func Load(scalerPath, modelPath string) (Scaler, Regressor, error) {
	scaler, err := LoadScaler(scalerPath)
	if err != nil {
		return nil, nil, err
	}
	model, err := LoadModel(modelPath)
	if err != nil {
		return nil, nil, err
	}
	return scaler, model, nil
}

// Predict validates the raw features, normalizes them and runs the model.
func Predict(scaler Scaler, model Regressor, features []float64) (float64, error) {
	value, _, err := predict(scaler, model, features)
	return value, err
}

// PredictNormalized is Predict that also returns the normalized vector fed
// to the model, for a follow-up Explain call.
func PredictNormalized(scaler Scaler, model Regressor, features []float64) (float64, []float64, error) {
	return predict(scaler, model, features)
}

func predict(scaler Scaler, model Regressor, features []float64) (float64, []float64, error) {
	if err := ValidateFeatures(features); err != nil {
		return 0, nil, err
	}
	normalized, err := scaler.Transform(features)
	if err != nil {
		return 0, nil, err
	}
	for i, value := range normalized {
		if !finite(value) {
			return 0, nil, fmt.Errorf("%w: normalized feature %d is %v", ErrInferenceFailure, i, value)
		}
	}
	value, err := model.Predict(normalized)
	if err != nil {
		if errors.Is(err, ErrShapeMismatch) {
			return 0, nil, err
		}
		return 0, nil, fmt.Errorf("%w: %v", ErrInferenceFailure, err)
	}
	if !finite(value) {
		return 0, nil, fmt.Errorf("%w: model returned %v", ErrInferenceFailure, value)
	}
	return value, normalized, nil
}

// Explain attributes the prediction for an already normalized vector.
func Explain(model Regressor, normalized []float64) (Attribution, error) {
	explainer, ok := model.(Explainer)
	if !ok {
		return Attribution{}, fmt.Errorf("%w: %T", ErrExplainUnsupported, model)
	}
	if err := checkShape(normalized); err != nil {
		return Attribution{}, err
	}
	return explainer.Explain(normalized)
}
