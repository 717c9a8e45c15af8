package monitoring

import (
	"sync"
	"time"
)

// MetricsCollector keeps in-process prediction counters and latency stats.
type MetricsCollector struct {
	mu sync.Mutex

	predictions     int64
	errorsByKind    map[string]int64
	explainFailures int64
	latencyCount    int64
	latencyTotal    time.Duration
	latencyMax      time.Duration

	startTime time.Time
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	PredictionsTotal     int64            `json:"predictions_total"`
	PredictionErrors     map[string]int64 `json:"prediction_errors_total"`
	ExplainFailuresTotal int64            `json:"explain_failures_total"`
	LatencyMeanMs        float64          `json:"latency_mean_ms"`
	LatencyMaxMs         float64          `json:"latency_max_ms"`
	Uptime               string           `json:"uptime"`
	StartTime            time.Time        `json:"start_time"`
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		errorsByKind: make(map[string]int64),
		startTime:    time.Now(),
	}
}

// RecordPrediction counts a successful prediction and its latency.
func (mc *MetricsCollector) RecordPrediction(latency time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.predictions++
	mc.latencyCount++
	mc.latencyTotal += latency
	if latency > mc.latencyMax {
		mc.latencyMax = latency
	}
}

// RecordError counts a failed prediction by error kind.
func (mc *MetricsCollector) RecordError(kind string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.errorsByKind[kind]++
}

// RecordExplainFailure counts an attribution pass that was omitted.
func (mc *MetricsCollector) RecordExplainFailure() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.explainFailures++
}

func (mc *MetricsCollector) Snapshot() Snapshot {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	errs := make(map[string]int64, len(mc.errorsByKind))
	for kind, count := range mc.errorsByKind {
		errs[kind] = count
	}
	snapshot := Snapshot{
		PredictionsTotal:     mc.predictions,
		PredictionErrors:     errs,
		ExplainFailuresTotal: mc.explainFailures,
		LatencyMaxMs:         float64(mc.latencyMax) / float64(time.Millisecond),
		Uptime:               time.Since(mc.startTime).Round(time.Second).String(),
		StartTime:            mc.startTime,
	}
	if mc.latencyCount > 0 {
		snapshot.LatencyMeanMs = float64(mc.latencyTotal) / float64(mc.latencyCount) / float64(time.Millisecond)
	}
	return snapshot
}
