package ml

import (
	"fmt"
	"math"
)

// FeatureCount is the length of every feature vector the scaler and model accept.
const FeatureCount = 9

// PredictionUnit is the unit of the permeability coefficient the bundled
// models were trained against.
const PredictionUnit = "mm/s"

// Feature positions in the canonical order.
const (
	FeatureWaterCement = iota
	FeatureAggregateCement
	FeatureMinAggregate
	FeatureMaxAggregate
	FeaturePorosity
	FeatureSpecimenShape
	FeatureSpecimenDiameter
	FeatureSpecimenHeight
	FeatureTestMethod
)

// Specimen shape codes.
const (
	ShapeCylinder = 1
	ShapeCube     = 2
)

// Test method codes.
const (
	MethodConstantHead = 1
	MethodFallingHead  = 2
)

// FeatureSpec describes one position of the feature vector.
type FeatureSpec struct {
	Position int      `json:"position"`
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Unit     string   `json:"unit,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	// MinExclusive makes Min a strict lower bound.
	MinExclusive bool      `json:"min_exclusive,omitempty"`
	Codes        []float64 `json:"codes,omitempty"`
}

// Categorical reports whether the feature only accepts enumerated codes.
func (s FeatureSpec) Categorical() bool {
	return len(s.Codes) > 0
}

func bound(v float64) *float64 {
	return &v
}

var featureSpecs = [FeatureCount]FeatureSpec{
	{Position: FeatureWaterCement, Name: "wc", Label: "Water-Cement Ratio (W/C)", Min: bound(0.2), Max: bound(1.0)},
	{Position: FeatureAggregateCement, Name: "ac", Label: "Aggregate-Cement Ratio (A/C)", Min: bound(1.0), Max: bound(6.0)},
	{Position: FeatureMinAggregate, Name: "dmin", Label: "Minimum Aggregate Size (Dmin)", Unit: "mm", Min: bound(0)},
	{Position: FeatureMaxAggregate, Name: "dmax", Label: "Maximum Aggregate Size (Dmax)", Unit: "mm", Min: bound(0)},
	{Position: FeaturePorosity, Name: "porosity", Label: "Porosity", Unit: "%", Min: bound(0), Max: bound(100)},
	{Position: FeatureSpecimenShape, Name: "ss", Label: "Specimen Shape (1=cylinder, 2=cube)", Codes: []float64{ShapeCylinder, ShapeCube}},
	{Position: FeatureSpecimenDiameter, Name: "sd", Label: "Specimen Diameter (SD)", Unit: "mm", Min: bound(0), MinExclusive: true},
	{Position: FeatureSpecimenHeight, Name: "sh", Label: "Specimen Height (SH)", Unit: "mm", Min: bound(0), MinExclusive: true},
	{Position: FeatureTestMethod, Name: "tm", Label: "Test Method (1=constant head, 2=falling head)", Codes: []float64{MethodConstantHead, MethodFallingHead}},
}

// FeatureSpecs returns the schema of the feature vector in canonical order.
func FeatureSpecs() []FeatureSpec {
	specs := make([]FeatureSpec, FeatureCount)
	copy(specs, featureSpecs[:])
	return specs
}

// FeatureNames returns the short feature names in canonical order.
func FeatureNames() []string {
	names := make([]string, FeatureCount)
	for i, spec := range featureSpecs {
		names[i] = spec.Name
	}
	return names
}

// MixDesign is the named form of a feature vector.
type MixDesign struct {
	WaterCementRatio     float64 `json:"water_cement_ratio"`
	AggregateCementRatio float64 `json:"aggregate_cement_ratio"`
	MinAggregateSize     float64 `json:"min_aggregate_size"`
	MaxAggregateSize     float64 `json:"max_aggregate_size"`
	Porosity             float64 `json:"porosity"`
	SpecimenShape        float64 `json:"specimen_shape"`
	SpecimenDiameter     float64 `json:"specimen_diameter"`
	SpecimenHeight       float64 `json:"specimen_height"`
	TestMethod           float64 `json:"test_method"`
}

// Vector returns the mix design in canonical feature order.
func (m MixDesign) Vector() []float64 {
	return []float64{
		m.WaterCementRatio,
		m.AggregateCementRatio,
		m.MinAggregateSize,
		m.MaxAggregateSize,
		m.Porosity,
		m.SpecimenShape,
		m.SpecimenDiameter,
		m.SpecimenHeight,
		m.TestMethod,
	}
}

// ValidateFeatures checks the length, finiteness and categorical codes of a
// raw feature vector. Values are never clamped.
func ValidateFeatures(features []float64) error {
	if len(features) != FeatureCount {
		return fmt.Errorf("%w: got %d values, want %d", ErrShapeMismatch, len(features), FeatureCount)
	}
	for i, value := range features {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("%w: feature %s is %v", ErrInferenceFailure, featureSpecs[i].Name, value)
		}
	}
	for _, spec := range featureSpecs {
		if !spec.Categorical() {
			continue
		}
		if !containsCode(spec.Codes, features[spec.Position]) {
			return fmt.Errorf("%w: feature %s = %v, want one of %v", ErrInvalidCategory, spec.Name, features[spec.Position], spec.Codes)
		}
	}
	return nil
}

func containsCode(codes []float64, value float64) bool {
	for _, code := range codes {
		if code == value {
			return true
		}
	}
	return false
}

func checkShape(values []float64) error {
	if len(values) != FeatureCount {
		return fmt.Errorf("%w: got %d values, want %d", ErrShapeMismatch, len(values), FeatureCount)
	}
	return nil
}
