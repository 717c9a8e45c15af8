// Command train_model fits the scaler and gradient-boosted model from a CSV of
// experiments and writes both JSON artifacts.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"pecpredict/db"
	"pecpredict/logger"
	"pecpredict/ml"
)

type options struct {
	dataPath  string
	scalerOut string
	modelOut  string
	dbPath    string
	testRatio float64
	seed      int64
	booster   ml.BoosterConfig
}

func main() {
	defaults := ml.DefaultBoosterConfig()
	opts := options{}
	flag.StringVar(&opts.dataPath, "data", "", "CSV of experiments: 9 feature columns then the permeability")
	flag.StringVar(&opts.scalerOut, "scaler_out", "./models/scaler.json", "scaler output path")
	flag.StringVar(&opts.modelOut, "model_out", "./models/model.json", "model output path")
	flag.IntVar(&opts.booster.Trees, "trees", defaults.Trees, "number of boosting rounds")
	flag.IntVar(&opts.booster.MaxDepth, "max_depth", defaults.MaxDepth, "max tree depth")
	flag.Float64Var(&opts.booster.LearningRate, "learning_rate", defaults.LearningRate, "shrinkage per tree")
	flag.IntVar(&opts.booster.MinSamplesLeaf, "min_leaf", defaults.MinSamplesLeaf, "minimum samples per leaf")
	flag.Float64Var(&opts.testRatio, "test_ratio", 0.2, "holdout ratio")
	flag.Int64Var(&opts.seed, "seed", 42, "shuffle seed")
	flag.StringVar(&opts.dbPath, "db", "", "optional SQLite database for the training log")
	flag.Parse()

	log, err := logger.New(logger.Config{Level: "info", Development: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if opts.dataPath == "" {
		log.Fatal("data is required")
	}

	metrics, err := run(opts, log)
	if err != nil {
		log.Fatal("training failed", zap.Error(err))
	}
	fmt.Printf("rmse=%.4f mae=%.4f r2=%.4f\n", metrics.RMSE, metrics.MAE, metrics.R2)
	fmt.Printf("scaler saved to %s\nmodel saved to %s\n", opts.scalerOut, opts.modelOut)
}

func run(opts options, log *zap.Logger) (ml.Metrics, error) {
	file, err := os.Open(opts.dataPath)
	if err != nil {
		return ml.Metrics{}, err
	}
	raw, err := ml.ReadDataset(file)
	file.Close()
	if err != nil {
		return ml.Metrics{}, fmt.Errorf("read %s: %w", opts.dataPath, err)
	}

	dataset, issues, stats := ml.NewDataCleaner().Clean(raw)
	for _, issue := range issues {
		log.Warn("dropping training row",
			zap.Int("row", issue.Row),
			zap.String("rule", issue.Rule),
			zap.String("reason", issue.Message))
	}
	if stats.Rejected > 0 {
		log.Info("dataset cleaned", zap.Int("passed", stats.Passed), zap.Int("rejected", stats.Rejected))
	}

	train, test := dataset.Split(opts.testRatio, opts.seed)
	if train.Len() == 0 {
		return ml.Metrics{}, fmt.Errorf("no training rows in %s", opts.dataPath)
	}
	if test.Len() == 0 {
		log.Warn("holdout set is empty, evaluating on the training set", zap.Int("rows", dataset.Len()))
		test = train
	}
	log.Info("dataset loaded", zap.Int("train", train.Len()), zap.Int("test", test.Len()))

	scaler, err := ml.FitStandardScaler(train.Features)
	if err != nil {
		return ml.Metrics{}, fmt.Errorf("fit scaler: %w", err)
	}
	trainX, err := train.Transform(scaler)
	if err != nil {
		return ml.Metrics{}, err
	}
	testX, err := test.Transform(scaler)
	if err != nil {
		return ml.Metrics{}, err
	}

	start := time.Now()
	model, err := ml.TrainBooster(trainX, train.Targets, opts.booster)
	if err != nil {
		return ml.Metrics{}, fmt.Errorf("train model: %w", err)
	}
	metrics, err := ml.Evaluate(model, testX, test.Targets)
	if err != nil {
		return ml.Metrics{}, fmt.Errorf("evaluate model: %w", err)
	}
	log.Info("model trained",
		zap.Int("trees", len(model.Trees)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Float64("rmse", metrics.RMSE),
		zap.Float64("mae", metrics.MAE),
		zap.Float64("r2", metrics.R2))

	for _, path := range []string{opts.scalerOut, opts.modelOut} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return ml.Metrics{}, fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := ml.SaveScaler(opts.scalerOut, scaler); err != nil {
		return ml.Metrics{}, fmt.Errorf("save scaler: %w", err)
	}
	if err := model.Save(opts.modelOut); err != nil {
		return ml.Metrics{}, fmt.Errorf("save model: %w", err)
	}

	if opts.dbPath != "" {
		if err := db.InitDB(opts.dbPath); err != nil {
			return metrics, fmt.Errorf("open training log: %w", err)
		}
		defer db.Close()
		entry := db.TrainingLog{
			ModelName:  filepath.Base(opts.modelOut),
			RMSE:       metrics.RMSE,
			MAE:        metrics.MAE,
			R2:         metrics.R2,
			DataPoints: dataset.Len(),
		}
		if err := db.SaveTrainingLog(entry); err != nil {
			return metrics, fmt.Errorf("save training log: %w", err)
		}
	}
	return metrics, nil
}
