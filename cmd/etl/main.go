package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/station-data-etl/internal/adapter/api"
	"github.com/couchcryptid/station-data-etl/internal/adapter/georef"
	httpadapter "github.com/couchcryptid/station-data-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/station-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/station-data-etl/internal/adapter/parquet"
	"github.com/couchcryptid/station-data-etl/internal/adapter/postgres"
	"github.com/couchcryptid/station-data-etl/internal/adapter/solar"
	"github.com/couchcryptid/station-data-etl/internal/catalog"
	"github.com/couchcryptid/station-data-etl/internal/config"
	"github.com/couchcryptid/station-data-etl/internal/domain"
	"github.com/couchcryptid/station-data-etl/internal/observability"
	"github.com/couchcryptid/station-data-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	layouts, err := config.LoadLayouts(cfg.LayoutsFile)
	if err != nil {
		logger.Error("failed to load station layouts", "error", err)
		os.Exit(1)
	}
	vars, err := config.LoadVariables(cfg.VariablesFile)
	if err != nil {
		logger.Error("failed to load variable specs", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat := catalog.New()
	cat.TrackSize(metrics.CatalogSeries)

	// Without a geo reference every station uses the fixed daylight window.
	geoLoader := georef.NewLoader(cfg.GeoReferenceURL, cfg.GeoReferenceCache, cfg.GeoReferenceTimeout, layouts, logger, metrics)
	if geo, err := geoLoader.Load(ctx); err != nil {
		logger.Warn("geo reference unavailable", "error", err)
	} else {
		cat.SetGeo(geo)
		logger.Info("geo reference loaded", "stations", len(geo))
	}

	sun := solar.NewCachedCalculator(solar.NewCalculator(), cfg.SunCacheSize, metrics)
	processor := pipeline.NewProcessor(layouts, vars, cat, sun, logger, metrics)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	sinks := []pipeline.Sink{
		{Name: "catalog", Loader: cat},
		{Name: "kafka", Loader: writer},
	}

	var pg *postgres.Loader
	if cfg.DatabaseURL != "" {
		pg, err = postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Error("failed to initialize postgres sink", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, pipeline.Sink{Name: "postgres", Loader: pg})
	}
	if cfg.ParquetDir != "" {
		sinks = append(sinks, pipeline.Sink{Name: "parquet", Loader: parquet.NewWriter(cfg.ParquetDir, logger)})
	}

	loader := pipeline.NewMultiLoader(logger, metrics, sinks...)
	logger.Info("sinks configured", "sinks", loader.Names())

	p := pipeline.New(reader, processor, loader, logger, metrics, cfg.BatchSize)

	checks := []httpadapter.Check{{Name: "pipeline", Checker: p}}
	if pg != nil {
		checks = append(checks, httpadapter.Check{Name: "postgres", Checker: pg})
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, logger, checks...)

	apiSrv := api.New(cfg.APIAddr, cat, vars, domain.SummaryOptions{SeasonGapDays: cfg.RainSeasonGapDays}, logger)

	// Start ops server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start query API; it shuts itself down when ctx ends.
	go func() {
		if err := apiSrv.Run(ctx); err != nil {
			logger.Error("api server error", "error", err)
		}
	}()

	// Start ETL pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if pg != nil {
		pg.Close()
	}

	logger.Info("shutdown complete")
}
