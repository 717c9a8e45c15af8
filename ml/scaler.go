package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// Scaler maps raw feature vectors into the space the model was trained on.
type Scaler interface {
	Transform(features []float64) ([]float64, error)
	InverseTransform(normalized []float64) ([]float64, error)
}

const (
	ScalerStandard = "standard"
	ScalerMinMax   = "minmax"
)

// StandardScaler normalizes each feature as (x - mean) / scale.
type StandardScaler struct {
	mean  []float64
	scale []float64
}

// NewStandardScaler validates the fitted parameters. A zero scale is treated as 1.
func NewStandardScaler(mean, scale []float64) (*StandardScaler, error) {
	if len(mean) != FeatureCount || len(scale) != FeatureCount {
		return nil, fmt.Errorf("standard scaler needs %d means and scales, got %d/%d", FeatureCount, len(mean), len(scale))
	}
	s := &StandardScaler{
		mean:  append([]float64(nil), mean...),
		scale: append([]float64(nil), scale...),
	}
	for i := range s.scale {
		if !finite(s.mean[i]) || !finite(s.scale[i]) {
			return nil, fmt.Errorf("standard scaler parameter %d is not finite", i)
		}
		if s.scale[i] < 0 {
			return nil, fmt.Errorf("standard scaler scale %d is negative", i)
		}
		if s.scale[i] == 0 {
			s.scale[i] = 1
		}
	}
	return s, nil
}

func (s *StandardScaler) Transform(features []float64) ([]float64, error) {
	if err := checkShape(features); err != nil {
		return nil, err
	}
	out := make([]float64, FeatureCount)
	for i, value := range features {
		out[i] = (value - s.mean[i]) / s.scale[i]
	}
	return out, nil
}

func (s *StandardScaler) InverseTransform(normalized []float64) ([]float64, error) {
	if err := checkShape(normalized); err != nil {
		return nil, err
	}
	out := make([]float64, FeatureCount)
	for i, value := range normalized {
		out[i] = value*s.scale[i] + s.mean[i]
	}
	return out, nil
}

// Mean returns a copy of the fitted means.
func (s *StandardScaler) Mean() []float64 {
	return append([]float64(nil), s.mean...)
}

// Scale returns a copy of the fitted scales.
func (s *StandardScaler) Scale() []float64 {
	return append([]float64(nil), s.scale...)
}

// MinMaxScaler normalizes each feature as (x - min) / (max - min).
type MinMaxScaler struct {
	dataMin []float64
	span    []float64
}

// NewMinMaxScaler validates the fitted ranges. A zero range is treated as 1.
func NewMinMaxScaler(dataMin, dataMax []float64) (*MinMaxScaler, error) {
	if len(dataMin) != FeatureCount || len(dataMax) != FeatureCount {
		return nil, fmt.Errorf("minmax scaler needs %d mins and maxs, got %d/%d", FeatureCount, len(dataMin), len(dataMax))
	}
	s := &MinMaxScaler{
		dataMin: append([]float64(nil), dataMin...),
		span:    make([]float64, FeatureCount),
	}
	for i := range dataMin {
		if !finite(dataMin[i]) || !finite(dataMax[i]) {
			return nil, fmt.Errorf("minmax scaler parameter %d is not finite", i)
		}
		if dataMax[i] < dataMin[i] {
			return nil, fmt.Errorf("minmax scaler max %d is below min", i)
		}
		s.span[i] = dataMax[i] - dataMin[i]
		if s.span[i] == 0 {
			s.span[i] = 1
		}
	}
	return s, nil
}

func (s *MinMaxScaler) Transform(features []float64) ([]float64, error) {
	if err := checkShape(features); err != nil {
		return nil, err
	}
	out := make([]float64, FeatureCount)
	for i, value := range features {
		out[i] = (value - s.dataMin[i]) / s.span[i]
	}
	return out, nil
}

func (s *MinMaxScaler) InverseTransform(normalized []float64) ([]float64, error) {
	if err := checkShape(normalized); err != nil {
		return nil, err
	}
	out := make([]float64, FeatureCount)
	for i, value := range normalized {
		out[i] = value*s.span[i] + s.dataMin[i]
	}
	return out, nil
}

// FitStandardScaler computes per-column population mean and standard deviation.
func FitStandardScaler(rows [][]float64) (*StandardScaler, error) {
	if len(rows) == 0 {
		return nil, errors.New("no rows to fit scaler")
	}
	mean := make([]float64, FeatureCount)
	for _, row := range rows {
		if err := checkShape(row); err != nil {
			return nil, err
		}
		for i, value := range row {
			mean[i] += value
		}
	}
	n := float64(len(rows))
	for i := range mean {
		mean[i] /= n
	}
	scale := make([]float64, FeatureCount)
	for _, row := range rows {
		for i, value := range row {
			diff := value - mean[i]
			scale[i] += diff * diff
		}
	}
	for i := range scale {
		scale[i] = math.Sqrt(scale[i] / n)
	}
	return NewStandardScaler(mean, scale)
}

type scalerFile struct {
	ScalerType string    `json:"scaler_type"`
	Mean       []float64 `json:"mean,omitempty"`
	Scale      []float64 `json:"scale,omitempty"`
	DataMin    []float64 `json:"data_min,omitempty"`
	DataMax    []float64 `json:"data_max,omitempty"`
}

// LoadScaler reads a scaler artifact written by SaveScaler.
func LoadScaler(path string) (Scaler, error) {
	payload, err := readArtifact(path)
	if err != nil {
		return nil, err
	}
	var file scalerFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return nil, fmt.Errorf("%w: scaler %s: %v", ErrArtifactCorrupt, path, err)
	}

	var scaler Scaler
	switch file.ScalerType {
	case ScalerStandard, "":
		scaler, err = NewStandardScaler(file.Mean, file.Scale)
	case ScalerMinMax:
		scaler, err = NewMinMaxScaler(file.DataMin, file.DataMax)
	default:
		err = fmt.Errorf("unsupported scaler type %q", file.ScalerType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scaler %s: %v", ErrArtifactCorrupt, path, err)
	}
	return scaler, nil
}

// SaveScaler writes a scaler artifact.
func SaveScaler(path string, scaler Scaler) error {
	var file scalerFile
	switch s := scaler.(type) {
	case *StandardScaler:
		file = scalerFile{ScalerType: ScalerStandard, Mean: s.mean, Scale: s.scale}
	case *MinMaxScaler:
		dataMax := make([]float64, FeatureCount)
		for i := range dataMax {
			dataMax[i] = s.dataMin[i] + s.span[i]
		}
		file = scalerFile{ScalerType: ScalerMinMax, DataMin: s.dataMin, DataMax: dataMax}
	default:
		return fmt.Errorf("cannot save scaler of type %T", scaler)
	}
	payload, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
