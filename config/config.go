// Package config loads the service configuration.
package config

import (
	"errors"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"pecpredict/logger"
	"pecpredict/ml"
)

type Config struct {
	Http struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	} `yaml:"http"`
	Model struct {
		ScalerPath string `yaml:"scaler_path"`
		ModelPath  string `yaml:"model_path"`
		Unit       string `yaml:"unit"`
		CacheSize  int    `yaml:"cache_size"`
		Explain    bool   `yaml:"explain"`
		Watch      bool   `yaml:"watch"`
	} `yaml:"model"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log logger.Config `yaml:"log"`
}

// Default returns the configuration used for keys missing from the file.
func Default() *Config {
	cfg := &Config{}
	cfg.Http.Port = 8080
	cfg.Http.Timeout = 30 * time.Second
	cfg.Http.AllowedOrigins = []string{"*"}
	cfg.Http.MaxBodyBytes = 1 << 20
	cfg.Model.ScalerPath = "models/scaler.json"
	cfg.Model.ModelPath = "models/model.json"
	cfg.Model.Unit = ml.PredictionUnit
	cfg.Model.CacheSize = 4
	cfg.Model.Explain = true
	cfg.Model.Watch = true
	cfg.Database.Path = "data/predictions.db"
	cfg.Log.Level = "info"
	return cfg
}

// Load reads path on top of Default. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if c.Http.Timeout <= 0 {
		return errors.New("http.timeout must be positive")
	}
	if c.Model.ScalerPath == "" || c.Model.ModelPath == "" {
		return errors.New("model.scaler_path and model.model_path are required")
	}
	return nil
}
