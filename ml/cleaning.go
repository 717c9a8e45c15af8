package ml

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Row is one experiment of a training dataset.
type Row struct {
	Index    int
	Features []float64
	Target   float64
}

// CleaningRule accepts or rejects a training row.
type CleaningRule interface {
	Check(row Row) error
	Name() string
}

// QualityIssue records why a row was dropped.
type QualityIssue struct {
	Rule    string `json:"rule"`
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// CleaningStats counts what a cleaning pass did.
type CleaningStats struct {
	TotalProcessed int            `json:"total_processed"`
	Passed         int            `json:"passed"`
	Rejected       int            `json:"rejected"`
	Issues         map[string]int `json:"issues"`
}

// DataCleaner drops training rows that the inference path would reject or
// that are physically implausible. Values are never corrected.
type DataCleaner struct {
	rules []CleaningRule
}

// NewDataCleaner returns a cleaner with the default rules.
func NewDataCleaner() *DataCleaner {
	cleaner := &DataCleaner{}
	cleaner.AddRule(CategoryRule{})
	cleaner.AddRule(RangeRule{})
	cleaner.AddRule(AggregateOrderRule{})
	cleaner.AddRule(TargetRule{})
	return cleaner
}

func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
}

// Clean returns the rows every rule accepts. Exact duplicate rows are kept
// once.
func (dc *DataCleaner) Clean(d *Dataset) (*Dataset, []QualityIssue, CleaningStats) {
	cleaned := &Dataset{}
	var issues []QualityIssue
	stats := CleaningStats{Issues: make(map[string]int)}
	seen := make(map[string]int)

	for i, features := range d.Features {
		stats.TotalProcessed++
		row := Row{Index: i, Features: features, Target: d.Targets[i]}

		var rowIssues []QualityIssue
		for _, rule := range dc.rules {
			if err := rule.Check(row); err != nil {
				rowIssues = append(rowIssues, QualityIssue{Rule: rule.Name(), Row: i, Message: err.Error()})
				stats.Issues[rule.Name()]++
			}
		}
		if len(rowIssues) == 0 {
			key := rowKey(row)
			if first, ok := seen[key]; ok {
				rowIssues = append(rowIssues, QualityIssue{Rule: "duplicate", Row: i, Message: fmt.Sprintf("duplicate of row %d", first)})
				stats.Issues["duplicate"]++
			} else {
				seen[key] = i
			}
		}

		if len(rowIssues) > 0 {
			stats.Rejected++
			issues = append(issues, rowIssues...)
			continue
		}
		stats.Passed++
		cleaned.Features = append(cleaned.Features, features)
		cleaned.Targets = append(cleaned.Targets, row.Target)
	}
	return cleaned, issues, stats
}

func rowKey(row Row) string {
	parts := make([]string, 0, len(row.Features)+1)
	for _, v := range row.Features {
		parts = append(parts, strconv.FormatFloat(v, 'g', -1, 64))
	}
	parts = append(parts, strconv.FormatFloat(row.Target, 'g', -1, 64))
	return strings.Join(parts, ",")
}

// CategoryRule rejects rows with shape or method codes outside their domain.
type CategoryRule struct{}

func (CategoryRule) Name() string {
	return "category"
}

func (CategoryRule) Check(row Row) error {
	return ValidateFeatures(row.Features)
}

// RangeRule enforces the bounds declared by FeatureSpecs.
type RangeRule struct{}

func (RangeRule) Name() string {
	return "range"
}

func (RangeRule) Check(row Row) error {
	for _, spec := range featureSpecs {
		if spec.Position >= len(row.Features) {
			continue
		}
		v := row.Features[spec.Position]
		if spec.Min != nil {
			if spec.MinExclusive && v <= *spec.Min {
				return fmt.Errorf("%s %g must be above %g", spec.Name, v, *spec.Min)
			}
			if v < *spec.Min {
				return fmt.Errorf("%s %g below %g", spec.Name, v, *spec.Min)
			}
		}
		if spec.Max != nil && v > *spec.Max {
			return fmt.Errorf("%s %g above %g", spec.Name, v, *spec.Max)
		}
	}
	return nil
}

// AggregateOrderRule requires the minimum aggregate size not to exceed the maximum.
type AggregateOrderRule struct{}

func (AggregateOrderRule) Name() string {
	return "aggregate_order"
}

func (AggregateOrderRule) Check(row Row) error {
	if len(row.Features) != FeatureCount {
		return nil
	}
	dmin, dmax := row.Features[FeatureMinAggregate], row.Features[FeatureMaxAggregate]
	if dmin > dmax {
		return fmt.Errorf("dmin %g exceeds dmax %g", dmin, dmax)
	}
	return nil
}

// TargetRule requires a finite, non-negative permeability.
type TargetRule struct{}

func (TargetRule) Name() string {
	return "target"
}

func (TargetRule) Check(row Row) error {
	if math.IsNaN(row.Target) || math.IsInf(row.Target, 0) || row.Target < 0 {
		return fmt.Errorf("permeability %g is not a finite non-negative value", row.Target)
	}
	return nil
}
