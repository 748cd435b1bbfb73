package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/crop-diagnosis/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/crop-diagnosis/internal/adapter/kafka"
	"github.com/couchcryptid/crop-diagnosis/internal/adapter/mapbox"
	"github.com/couchcryptid/crop-diagnosis/internal/config"
	"github.com/couchcryptid/crop-diagnosis/internal/domain"
	"github.com/couchcryptid/crop-diagnosis/internal/imaging"
	"github.com/couchcryptid/crop-diagnosis/internal/observability"
	"github.com/couchcryptid/crop-diagnosis/internal/pipeline"
	"github.com/couchcryptid/crop-diagnosis/internal/reference"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Geocoding is feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN.
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics, mapbox.WithCountry(cfg.MapboxCountry))
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "country", cfg.MapboxCountry, "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	catalog, err := reference.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		logger.Error("failed to load advisory catalog", "path", cfg.CatalogPath, "error", err)
		os.Exit(1)
	}
	logger.Info("advisory catalog loaded", "crops", len(catalog.Crops()), "entries", catalog.Len())

	directory, err := reference.LoadDirectory(ctx, cfg.RegistryPath, geocoder, logger)
	if err != nil {
		logger.Error("failed to load supplier registry", "path", cfg.RegistryPath, "error", err)
		os.Exit(1)
	}

	diagnoser := pipeline.NewDiagnoser(
		imaging.NewDecoder(imaging.Limits{MaxBytes: cfg.MaxUploadBytes, MaxPixels: cfg.MaxImagePixels}, logger),
		domain.NewClassifier(),
		catalog,
		domain.NewLocator(directory),
		geocoder,
		pipeline.Options{NearestK: cfg.NearestK, RegionFallback: cfg.RegionFallback},
		logger,
		metrics,
	)

	var (
		worker *pipeline.Pipeline
		reader *kafkaadapter.Reader
		writer *kafkaadapter.Writer
	)
	ready := httpadapter.ReadyFunc(func(context.Context) error { return nil })
	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		writer = kafkaadapter.NewWriter(cfg, logger)
		worker = pipeline.New(reader, pipeline.NewTransformer(diagnoser), writer, logger, metrics, cfg.BatchSize,
			pipeline.WithWorkers(cfg.DiagnosisWorkers))
		ready = worker.CheckReadiness
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, ready, diagnoser, cfg.MaxUploadBytes, logger)

	// A listener failure cancels the group and takes the worker down with it.
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if worker != nil {
		group.Go(func() error { return worker.Run(groupCtx) })
	}

	exitCode := 0
	if err := group.Wait(); err != nil {
		logger.Error("service stopped with error", "error", err)
		exitCode = 1
	}

	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	if exitCode != 0 {
		stop()
		os.Exit(exitCode)
	}
}
