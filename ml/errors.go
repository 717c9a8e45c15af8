package ml

import "errors"

var (
	// ErrArtifactMissing is returned when a scaler or model file does not exist.
	ErrArtifactMissing = errors.New("artifact missing")
	// ErrArtifactCorrupt is returned when an artifact cannot be decoded or fails validation.
	ErrArtifactCorrupt = errors.New("artifact corrupt")
	// ErrShapeMismatch is returned when a feature vector does not have FeatureCount values.
	ErrShapeMismatch = errors.New("feature vector shape mismatch")
	// ErrInvalidCategory is returned when a categorical feature holds an unknown code.
	ErrInvalidCategory = errors.New("invalid categorical code")
	// ErrInferenceFailure is returned when inference meets or produces a non-finite value.
	ErrInferenceFailure = errors.New("inference failure")
	// ErrExplainUnsupported is returned when a model has no attribution method.
	ErrExplainUnsupported = errors.New("explain unsupported")
)
