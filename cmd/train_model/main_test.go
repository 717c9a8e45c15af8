package main

import (
	"math"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"pecpredict/db"
	"pecpredict/ml"
)

func TestRunWritesLoadableArtifacts(t *testing.T) {
	dir := t.TempDir()
	opts := options{
		dataPath:  filepath.Join("..", "..", "ml", "testdata", "experiments.csv"),
		scalerOut: filepath.Join(dir, "models", "scaler.json"),
		modelOut:  filepath.Join(dir, "models", "model.json"),
		dbPath:    filepath.Join(dir, "train.db"),
		testRatio: 0.25,
		seed:      7,
		booster:   ml.BoosterConfig{Trees: 20, MaxDepth: 2, LearningRate: 0.3, MinSamplesLeaf: 1},
	}

	metrics, err := run(opts, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.IsNaN(metrics.RMSE) || metrics.RMSE < 0 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}

	scaler, model, err := ml.Load(opts.scalerOut, opts.modelOut)
	if err != nil {
		t.Fatalf("trained artifacts do not load: %v", err)
	}
	value, normalized, err := ml.PredictNormalized(scaler, model, []float64{0.30, 4.0, 4.75, 9.5, 15.0, 1, 100, 200, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	attribution, err := ml.Explain(model, normalized)
	if err != nil {
		t.Fatalf("trained model must be explainable: %v", err)
	}
	if math.Abs(attribution.Baseline+attribution.Sum()-value) > 1e-6 {
		t.Fatalf("attribution %+v does not add up to %v", attribution, value)
	}

	if err := db.InitDB(opts.dbPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Close()
	entries, err := db.LoadTrainingLog()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].ModelName != "model.json" || entries[0].DataPoints != 4 {
		t.Fatalf("unexpected training log: %+v", entries)
	}
}

func TestRunRejectsMissingData(t *testing.T) {
	opts := options{dataPath: filepath.Join(t.TempDir(), "missing.csv"), booster: ml.DefaultBoosterConfig()}
	if _, err := run(opts, zap.NewNop()); err == nil {
		t.Fatal("expected error for missing data file")
	}
}
