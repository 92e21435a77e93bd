package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Model providers accepted in MODEL_PROVIDER.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderStub   = "stub"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	Port            string
	HTTPAddr        string
	Debug           bool
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	// Generative model configuration.
	ModelProvider string
	ModelAPIKey   string
	ModelName     string
	ModelBaseURL  string

	// Retry policy for model calls. RequestTimeout bounds a single attempt.
	RequestTimeout      time.Duration
	MaxRetries          int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration

	MaxImageBytes         int64
	MaxConcurrentAnalyses int

	// Mapbox reverse geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// Assessment publication. Empty KafkaBrokers disables it.
	KafkaBrokers         []string
	KafkaAssessmentTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	provider := strings.ToLower(sharedcfg.EnvOrDefault("MODEL_PROVIDER", ProviderGemini))

	requestTimeout, err := parsePositiveInt("REQUEST_TIMEOUT_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	maxRetries, err := parseNonNegativeInt("MAX_RETRIES", 2)
	if err != nil {
		return nil, err
	}
	initialBackoff, err := parseDuration("RETRY_INITIAL_BACKOFF", "500ms")
	if err != nil {
		return nil, err
	}
	maxBackoff, err := parseDuration("RETRY_MAX_BACKOFF", "5s")
	if err != nil {
		return nil, err
	}
	maxImageBytes, err := parsePositiveInt("MAX_IMAGE_SIZE_BYTES", 10<<20)
	if err != nil {
		return nil, err
	}
	maxConcurrent, err := parseNonNegativeInt("MAX_CONCURRENT_ANALYSES", 32)
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := parseDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	var brokers []string
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}

	port := sharedcfg.EnvOrDefault("PORT", "8000")

	cfg := &Config{
		Port:            port,
		HTTPAddr:        ":" + port,
		Debug:           parseBool(os.Getenv("DEBUG")),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		AllowedOrigins:  splitList(sharedcfg.EnvOrDefault("ALLOWED_ORIGINS", "*")),

		ModelProvider: provider,
		ModelAPIKey:   modelAPIKey(provider),
		ModelName:     sharedcfg.EnvOrDefault("MODEL_NAME", defaultModelName(provider)),
		ModelBaseURL:  os.Getenv("MODEL_BASE_URL"),

		RequestTimeout:      time.Duration(requestTimeout) * time.Second,
		MaxRetries:          maxRetries,
		RetryInitialBackoff: initialBackoff,
		RetryMaxBackoff:     maxBackoff,

		MaxImageBytes:         int64(maxImageBytes),
		MaxConcurrentAnalyses: maxConcurrent,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),

		KafkaBrokers:         brokers,
		KafkaAssessmentTopic: sharedcfg.EnvOrDefault("KAFKA_ASSESSMENT_TOPIC", "flood-risk-assessments"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.ModelProvider {
	case ProviderGemini, ProviderOpenAI:
		if c.ModelAPIKey == "" {
			return fmt.Errorf("MODEL_API_KEY is required for MODEL_PROVIDER=%s", c.ModelProvider)
		}
	case ProviderStub:
	default:
		return fmt.Errorf("invalid MODEL_PROVIDER %q: expected gemini, openai or stub", c.ModelProvider)
	}
	if c.RetryMaxBackoff < c.RetryInitialBackoff {
		return errors.New("RETRY_MAX_BACKOFF must not be less than RETRY_INITIAL_BACKOFF")
	}
	if len(c.AllowedOrigins) == 0 {
		return errors.New("ALLOWED_ORIGINS must list at least one origin")
	}
	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaAssessmentTopic == "" {
		return errors.New("KAFKA_ASSESSMENT_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// modelAPIKey prefers MODEL_API_KEY and falls back to the provider's own variable.
func modelAPIKey(provider string) string {
	if v := os.Getenv("MODEL_API_KEY"); v != "" {
		return v
	}
	switch provider {
	case ProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

func defaultModelName(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-4o"
	case ProviderStub:
		return "stub-1"
	default:
		return "gemini-2.0-flash"
	}
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	n, err := parseInt(key, def)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseNonNegativeInt(key string, def int) (int, error) {
	n, err := parseInt(key, def)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: must be zero or a positive integer", key)
	}
	return n, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(strings.TrimSpace(s))
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
