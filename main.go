package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"pecpredict/config"
	"pecpredict/db"
	phttp "pecpredict/http"
	"pecpredict/logger"
	"pecpredict/monitoring"
	"pecpredict/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 2. Initialize database
	if err := db.InitDB(cfg.Database.Path); err != nil {
		log.Fatal("failed to initialize database", zap.String("path", cfg.Database.Path), zap.Error(err))
	}
	defer db.Close()
	log.Info("database initialized", zap.String("path", cfg.Database.Path))

	// 3. Load artifacts; a failure blocks predictions but keeps /api/health up
	predictor := openPredictor(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Model.Watch {
		paths := []string{cfg.Model.ScalerPath, cfg.Model.ModelPath}
		err := config.WatchArtifacts(ctx, paths, log, func(path string) {
			log.Warn("model artifact changed on disk, restart the service to load it", zap.String("path", path))
		})
		if err != nil {
			log.Warn("artifact watcher disabled", zap.Error(err))
		}
	}

	// 4. Start HTTP server
	hub := monitoring.NewHub(log.Named("ws"), cfg.Http.AllowedOrigins)
	go hub.Run()
	defer hub.Stop()

	api := phttp.NewAPI(predictor, log.Named("api"))
	api.Hub = hub
	api.History = phttp.DBHistory{}
	api.Explain = cfg.Model.Explain

	server := phttp.NewServer(phttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
		MaxBodyBytes:   cfg.Http.MaxBodyBytes,
	}, api, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 5. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server failed", zap.Error(err))
		}
	}

	cancel()
	if err := server.Stop(); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("exiting")
}

func openPredictor(cfg *config.Config, log *zap.Logger) pipeline.Predictor {
	loader, err := pipeline.NewLoader(cfg.Model.CacheSize, log.Named("loader"))
	if err != nil {
		log.Fatal("failed to create artifact loader", zap.Error(err))
	}
	p, err := pipeline.Open(loader, cfg.Model.ScalerPath, cfg.Model.ModelPath, cfg.Model.Unit)
	if err != nil {
		log.Error("failed to load model artifacts, predictions are disabled",
			zap.String("scaler", cfg.Model.ScalerPath),
			zap.String("model", cfg.Model.ModelPath),
			zap.Error(err))
		return pipeline.NewUnavailable(err, cfg.Model.Unit)
	}
	log.Info("model artifacts loaded",
		zap.String("scaler", cfg.Model.ScalerPath),
		zap.String("model", cfg.Model.ModelPath),
		zap.String("unit", p.Unit()))
	return p
}
