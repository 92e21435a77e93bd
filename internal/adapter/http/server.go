package http

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceVersion = "1.0.0"

// Analyzer runs one analysis request.
type Analyzer interface {
	Analyze(ctx context.Context, raw domain.RawInput) (domain.RiskAssessment, error)

	// Reject records a request refused before it reached Analyze and
	// returns the error to send to the client.
	Reject(ctx context.Context, input domain.InputKind, err error) error
}

// Options configures the HTTP server.
type Options struct {
	Addr           string
	AllowedOrigins []string
	MaxImageBytes  int64

	// ModelName is reported by /health.
	ModelName string

	// WriteTimeout must exceed the longest model invocation.
	WriteTimeout time.Duration
	Debug        bool
}

// Server exposes the analysis API alongside health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the analysis routes plus /health,
// /healthz, /readyz, and /metrics.
func NewServer(opts Options, analyzer Analyzer, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	engine := gin.New()
	engine.Use(requestIDMiddleware())
	engine.Use(loggingMiddleware(logger))
	engine.Use(gin.CustomRecovery(recoveryHandler(logger)))
	engine.Use(cors.New(corsConfig(opts.AllowedOrigins)))

	h := &handlers{analyzer: analyzer, maxImageBytes: opts.MaxImageBytes, modelName: opts.ModelName}

	engine.GET("/", handleBanner)
	engine.GET("/health", h.handleHealth)
	engine.GET("/healthz", gin.WrapF(sharedobs.LivenessHandler()))
	engine.GET("/readyz", gin.WrapF(sharedobs.ReadinessHandler(ready)))
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api/analyze")
	api.POST("/coordinates", h.analyzeCoordinates)
	api.POST("/image", h.analyzeImage)

	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", headerRequestID},
		ExposeHeaders: []string{headerRequestID},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}
