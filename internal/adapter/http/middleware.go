package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-ID"
	maxRequestIDLen = 128
)

// requestIDMiddleware propagates a caller-supplied X-Request-ID or assigns a
// new one, echoes it on the response and stores it in the request context.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		c.Header(headerRequestID, id)
		c.Request = c.Request.WithContext(pipeline.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// loggingMiddleware writes one access log line per request. Health check and scrape
// traffic is logged at debug level.
func loggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		switch c.Request.URL.Path {
		case "/health", "/healthz", "/readyz", "/metrics":
			level = slog.LevelDebug
		}
		logger.LogAttrs(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			slog.String("request_id", pipeline.RequestIDFrom(c.Request.Context())),
		)
	}
}

func recoveryHandler(logger *slog.Logger) gin.RecoveryFunc {
	return func(c *gin.Context, recovered any) {
		logger.Error("panic in http handler",
			"path", c.Request.URL.Path,
			"request_id", pipeline.RequestIDFrom(c.Request.Context()),
			"panic", fmt.Sprint(recovered),
		)
		writeError(c, domain.NewInternalError("", fmt.Errorf("panic: %v", recovered)))
		c.Abort()
	}
}

// statusFor maps a pipeline error onto the HTTP contract.
func statusFor(pe *domain.PipelineError) int {
	switch pe.Kind {
	case domain.KindValidation:
		if pe.Reason == domain.ReasonTooLarge {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case domain.KindModelUnavailable, domain.KindModelTimeout, domain.KindParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Stage string `json:"stage,omitempty"`
}

// writeError sends the caller-safe part of err. Causes stay in the logs.
func writeError(c *gin.Context, err error) {
	pe := domain.AsPipelineError(err, "")
	c.JSON(statusFor(pe), errorResponse{
		Error: pe.Message,
		Code:  pe.Kind.Code(),
		Stage: string(pe.Stage),
	})
}
