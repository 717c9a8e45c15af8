package ml

// Regressor maps a normalized feature vector to a single scalar.
type Regressor interface {
	Predict(normalized []float64) (float64, error)
}

// Explainer is implemented by regressors that can attribute a prediction to
// the individual features.
type Explainer interface {
	Explain(normalized []float64) (Attribution, error)
}

// Attribution decomposes one prediction: Baseline + sum(Values) equals the
// prediction within floating-point tolerance.
type Attribution struct {
	Baseline float64   `json:"baseline"`
	Values   []float64 `json:"values"`
}

// Sum returns the total contribution of all features.
func (a Attribution) Sum() float64 {
	total := 0.0
	for _, v := range a.Values {
		total += v
	}
	return total
}

// Named pairs each attribution value with its feature name.
func (a Attribution) Named() map[string]float64 {
	names := FeatureNames()
	out := make(map[string]float64, len(a.Values))
	for i, v := range a.Values {
		if i < len(names) {
			out[names[i]] = v
		}
	}
	return out
}
