// Package pipeline wires the scaler and model artifacts into a prediction
// pipeline and memoizes artifact loading.
package pipeline

import (
	"fmt"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"pecpredict/ml"
)

// DefaultCacheSize bounds the number of artifact pairs kept in memory.
const DefaultCacheSize = 4

// Artifacts is an immutable, loaded scaler/model pair.
type Artifacts struct {
	Scaler     ml.Scaler
	Model      ml.Regressor
	ScalerPath string
	ModelPath  string
	LoadedAt   time.Time
}

// LoadFunc reads a scaler/model pair from disk.
type LoadFunc func(scalerPath, modelPath string) (ml.Scaler, ml.Regressor, error)

// Loader loads each artifact pair at most once. Concurrent requests for the
// same pair share one load; failures are not cached.
type Loader struct {
	cache  *lru.Cache[string, *Artifacts]
	group  singleflight.Group
	load   LoadFunc
	logger *zap.Logger
}

// NewLoader creates a loader backed by ml.Load.
func NewLoader(size int, logger *zap.Logger) (*Loader, error) {
	return newLoader(size, logger, ml.Load)
}

func newLoader(size int, logger *zap.Logger, load LoadFunc) (*Loader, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, *Artifacts](size)
	if err != nil {
		return nil, err
	}
	return &Loader{cache: cache, load: load, logger: logger}, nil
}

// Load returns the cached artifacts for the path pair, loading them on first use.
func (l *Loader) Load(scalerPath, modelPath string) (*Artifacts, error) {
	key, err := cacheKey(scalerPath, modelPath)
	if err != nil {
		return nil, err
	}
	if artifacts, ok := l.cache.Get(key); ok {
		return artifacts, nil
	}

	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		if artifacts, ok := l.cache.Get(key); ok {
			return artifacts, nil
		}
		start := time.Now()
		scaler, model, err := l.load(scalerPath, modelPath)
		if err != nil {
			l.logger.Error("artifact load failed",
				zap.String("scaler", scalerPath),
				zap.String("model", modelPath),
				zap.Error(err))
			return nil, err
		}
		artifacts := &Artifacts{
			Scaler:     scaler,
			Model:      model,
			ScalerPath: scalerPath,
			ModelPath:  modelPath,
			LoadedAt:   time.Now(),
		}
		l.cache.Add(key, artifacts)
		l.logger.Info("artifacts loaded",
			zap.String("scaler", scalerPath),
			zap.String("model", modelPath),
			zap.Duration("elapsed", time.Since(start)))
		return artifacts, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifacts), nil
}

// Len returns the number of cached artifact pairs.
func (l *Loader) Len() int {
	return l.cache.Len()
}

func cacheKey(scalerPath, modelPath string) (string, error) {
	scalerAbs, err := filepath.Abs(scalerPath)
	if err != nil {
		return "", fmt.Errorf("resolve scaler path: %w", err)
	}
	modelAbs, err := filepath.Abs(modelPath)
	if err != nil {
		return "", fmt.Errorf("resolve model path: %w", err)
	}
	return scalerAbs + "\x00" + modelAbs, nil
}
