package ml

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
	"strings"
)

// Dataset holds raw training rows in canonical feature order.
type Dataset struct {
	Features [][]float64
	Targets  []float64
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.Targets)
}

// ReadDataset parses a CSV with a header row. The first FeatureCount columns
// are the features, the next column is the measured permeability coefficient.
func ReadDataset(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("dataset is empty")
		}
		return nil, err
	}
	if len(header) < FeatureCount+1 {
		return nil, fmt.Errorf("header has %d columns, want at least %d", len(header), FeatureCount+1)
	}

	dataset := &Dataset{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)
		if len(record) < FeatureCount+1 {
			return nil, fmt.Errorf("line %d: %d columns, want %d", line, len(record), FeatureCount+1)
		}
		row := make([]float64, FeatureCount)
		for i := 0; i < FeatureCount; i++ {
			row[i], err = parseCell(record[i])
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, header[i], err)
			}
		}
		target, err := parseCell(record[FeatureCount])
		if err != nil {
			return nil, fmt.Errorf("line %d column %s: %w", line, header[FeatureCount], err)
		}
		dataset.Features = append(dataset.Features, row)
		dataset.Targets = append(dataset.Targets, target)
	}
	if dataset.Len() == 0 {
		return nil, errors.New("dataset has no rows")
	}
	return dataset, nil
}

func parseCell(cell string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("non-finite value %q", cell)
	}
	return value, nil
}

// Split shuffles rows with the given seed and returns train and test parts.
func (d *Dataset) Split(testRatio float64, seed int64) (train, test *Dataset) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(d.Len())

	split := int(math.Round(float64(d.Len()) * (1 - testRatio)))
	train, test = &Dataset{}, &Dataset{}
	for i, idx := range indices {
		target := train
		if i >= split {
			target = test
		}
		target.Features = append(target.Features, d.Features[idx])
		target.Targets = append(target.Targets, d.Targets[idx])
	}
	return train, test
}

// Transform normalizes every row with scaler.
func (d *Dataset) Transform(scaler Scaler) ([][]float64, error) {
	out := make([][]float64, len(d.Features))
	for i, row := range d.Features {
		normalized, err := scaler.Transform(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = normalized
	}
	return out, nil
}
