package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/anomaly"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/archive"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/cache"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/forecast"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/handlers"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/influxdb"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/insight"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/kafka"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/logger"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/processor"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logg.Sync()

	// Create context that can be canceled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable writes: the archive acknowledges, InfluxDB mirrors
	arch, err := archive.New(cfg.Store.ArchiveDir, logg)
	if err != nil {
		logg.Fatal("Failed to open archive", "dir", cfg.Store.ArchiveDir, "error", err)
	}
	persisters := store.MultiPersister{arch}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.NewClient(ctx, cfg.InfluxDB, logg)
		if err != nil {
			logg.Fatal("Failed to create InfluxDB client", "error", err)
		}
		persisters = append(persisters, influxClient)
	}

	measurements := store.New(store.Options{
		Persister:       persisters,
		FutureTolerance: cfg.Store.FutureTolerance,
		Logger:          logg,
	})
	loadHistory(ctx, cfg, measurements, arch, influxClient, logg)

	model, sequenceModel := loadModels(cfg.Model, logg)

	profile, err := anomaly.ParseProfile(cfg.Pipeline.DefaultProfile)
	if err != nil {
		logg.Fatal("Invalid default anomaly profile", "error", err)
	}
	detector := anomaly.NewDetector(anomaly.Config{
		Contamination: cfg.Pipeline.Contamination,
		Seed:          cfg.Pipeline.RandomSeed,
		Trees:         cfg.Pipeline.Trees,
		SampleSize:    cfg.Pipeline.SampleSize,
		MinSamples:    cfg.Pipeline.MinAnomalySamples,
	}, logg)
	forecaster := forecast.NewForecaster(cfg.Pipeline.UnitPrice, cfg.Pipeline.HorizonDays, cfg.Pipeline.MinHistoryDays, logg)
	composer := insight.NewComposer(forecaster, detector, cfg.Pipeline.UnitPrice, cfg.Pipeline.ComposeTimeout, logg)

	deps := handlers.Dependencies{
		Store:          measurements,
		Detector:       detector,
		Forecaster:     forecaster,
		Composer:       composer,
		Model:          model,
		SequenceModel:  sequenceModel,
		UnitPrice:      cfg.Pipeline.UnitPrice,
		DefaultProfile: profile,
		Logger:         logg,
	}
	if cfg.Redis.Enabled {
		redisCache, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.TTL, logg)
		if err != nil {
			logg.Warn("Insight cache disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			defer redisCache.Close()
			deps.Cache = redisCache
			logg.Info("Connected to Redis", "addr", cfg.Redis.Addr)
		}
	}

	// Kafka ingestion
	var wg sync.WaitGroup
	var proc *processor.Processor
	if cfg.Kafka.Enabled {
		var sink processor.BillingSink
		if influxClient != nil {
			sink = influxClient
		}
		proc = processor.NewProcessor(measurements, sink, cfg.Processor, cfg.Pipeline.UnitPrice, logg)

		logg.Info("Starting Kafka consumers", "count", cfg.Kafka.ConsumerCount)
		for i := 0; i < cfg.Kafka.ConsumerCount; i++ {
			consumer, err := kafka.NewConsumer(fmt.Sprintf("consumer-%d", i), cfg.Kafka, proc.ProcessMessages, logg)
			if err != nil {
				logg.Fatal("Failed to create consumer", "id", i, "error", err)
			}

			wg.Add(1)
			go func(c *kafka.Consumer, id int) {
				defer wg.Done()
				defer c.Close()
				if err := c.Consume(ctx); err != nil {
					logg.Error("Consumer stopped with error", "id", id, "error", err)
				}
				logg.Info("Consumer stopped", "id", id)
			}(consumer, i)
		}
	}

	srv := &http.Server{
		Addr:           cfg.HTTP.Addr,
		Handler:        handlers.New(deps).Router(),
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		logg.Info("Server starting", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("Server failed to start", "error", err)
		}
	}()

	// Handle termination signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logg.Info("Received termination signal. Shutting down...")

	// Set a deadline for clean shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("Server forced to shutdown", "error", err)
	}

	// Cancel context to stop consumers
	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logg.Info("All consumers stopped successfully")
	case <-shutdownCtx.Done():
		logg.Warn("Shutdown timed out, forcing exit")
	}

	if proc != nil {
		proc.Stop()
	}

	// Now it's safe to close the InfluxDB client
	if influxClient != nil {
		influxClient.Close()
	}
	logg.Info("Shutdown complete")
}

// loadHistory fills the store from records that are already durable
func loadHistory(ctx context.Context, cfg *config.Config, s *store.Store, arch *archive.Archive, influxClient *influxdb.Client, logg *logger.Logger) {
	archived, err := arch.LoadAll()
	if err != nil {
		logg.Error("Failed to read archive", "error", err)
	} else {
		s.Load(archived)
	}

	if cfg.Store.ImportFile != "" {
		result, err := archive.ImportFile(cfg.Store.ImportFile, logg)
		if err != nil {
			logg.Error("Failed to import measurements", "file", cfg.Store.ImportFile, "error", err)
		} else {
			s.Load(result.Measurements)
		}
	}

	if influxClient != nil && cfg.InfluxDB.ImportLookback > 0 {
		since := time.Now().Add(-cfg.InfluxDB.ImportLookback)
		ms, err := influxClient.LoadMeasurements(ctx, since)
		if err != nil {
			logg.Error("Failed to load measurements from InfluxDB", "error", err)
		} else {
			s.Load(ms)
		}
	}
	logg.Info("History loaded", "measurements", s.Len(), "breakers", len(s.Breakers()))
}

// loadModels resolves the forecasting models. A missing model is not fatal for
// the service; forecasts report it as unavailable.
func loadModels(cfg config.ModelConfig, logg *logger.Logger) (forecast.Model, forecast.SequenceModel) {
	var model forecast.Model
	switch {
	case cfg.Path != "":
		linear, err := forecast.LoadLinearModel(cfg.Path)
		if err != nil {
			logg.Error("Forecast model unavailable", "path", cfg.Path, "error", err)
		} else {
			model = linear
			logg.Info("Loaded linear forecast model", "path", cfg.Path, "features", linear.Features)
		}
	case cfg.URL != "":
		model = forecast.NewHTTPModel(cfg.URL, cfg.Timeout)
		logg.Info("Using remote forecast model", "url", cfg.URL)
	default:
		logg.Warn("No forecast model configured")
	}

	var sequenceModel forecast.SequenceModel
	if cfg.SequenceURL != "" {
		sequenceModel = forecast.NewHTTPSequenceModel(cfg.SequenceURL, cfg.Timeout)
		logg.Info("Using remote sequence model", "url", cfg.SequenceURL)
	}
	return model, sequenceModel
}
