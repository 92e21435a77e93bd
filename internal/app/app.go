// Package app wires configuration into a ready-to-use analysis pipeline.
package app

import (
	"fmt"
	"log/slog"

	"github.com/couchcryptid/flood-risk-service/internal/adapter/gemini"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/kafka"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/mapbox"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/openai"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/stub"
	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/pipeline"
)

// App holds the pipeline and the adapters that need closing.
type App struct {
	Pipeline  *pipeline.Pipeline
	publisher *kafka.Publisher
	logger    *slog.Logger
}

// Build creates the model client, optional geocoder and optional publisher
// selected by cfg and assembles them into a pipeline.
func Build(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*App, error) {
	model, err := NewModelClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("model client configured", "provider", cfg.ModelProvider, "model", cfg.ModelName)

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	a := &App{logger: logger}
	var publisher pipeline.AssessmentPublisher
	if len(cfg.KafkaBrokers) > 0 {
		a.publisher = kafka.NewPublisher(cfg, logger, metrics)
		publisher = a.publisher
		logger.Info("assessment publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaAssessmentTopic)
	}

	a.Pipeline = pipeline.New(Settings(cfg), model, geocoder, publisher, logger, metrics)
	return a, nil
}

// Close flushes and closes the publisher, if any.
func (a *App) Close() {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Close(); err != nil {
		a.logger.Error("kafka publisher close error", "error", err)
	}
}

// Settings derives the immutable pipeline settings from cfg.
func Settings(cfg *config.Config) pipeline.Settings {
	return pipeline.Settings{
		Limits: domain.ValidationLimits{MaxImageBytes: cfg.MaxImageBytes},
		Retry: pipeline.RetryPolicy{
			MaxRetries:     cfg.MaxRetries,
			AttemptTimeout: cfg.RequestTimeout,
			InitialBackoff: cfg.RetryInitialBackoff,
			MaxBackoff:     cfg.RetryMaxBackoff,
		},
		MaxInFlight: int64(cfg.MaxConcurrentAnalyses),
	}
}

// NewModelClient returns the client for cfg.ModelProvider.
func NewModelClient(cfg *config.Config, logger *slog.Logger) (pipeline.ModelClient, error) {
	switch cfg.ModelProvider {
	case config.ProviderGemini:
		return gemini.NewClient(cfg.ModelAPIKey, cfg.ModelName, cfg.ModelBaseURL, logger), nil
	case config.ProviderOpenAI:
		return openai.NewClient(cfg.ModelAPIKey, cfg.ModelName, cfg.ModelBaseURL, logger), nil
	case config.ProviderStub:
		return stub.NewClient(cfg.ModelName), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.ModelProvider)
	}
}
