// Package stub provides an offline model client for local development and
// tests. Its answers are derived from a hash of the payload, so they are
// stable but carry no information about real flood risk.
package stub

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

var levels = []domain.RiskLevel{domain.RiskLow, domain.RiskModerate, domain.RiskHigh, domain.RiskSevere}

// Client implements pipeline.ModelClient without any network access.
type Client struct {
	version string
}

// NewClient creates a stub client that reports version as its model version.
func NewClient(version string) *Client {
	if version == "" {
		version = "stub-1"
	}
	return &Client{version: version}
}

// Generate answers in the canonical line format, detail lines included.
func (c *Client) Generate(ctx context.Context, payload domain.ModelPayload) (domain.RawModelOutput, error) {
	if err := ctx.Err(); err != nil {
		return domain.RawModelOutput{}, err
	}

	h := sha256.New()
	h.Write([]byte(payload.ContextText))
	if payload.Image != nil {
		h.Write(payload.Image.Data)
	}
	sum := h.Sum(nil)

	level := levels[int(sum[0])%len(levels)]
	confidence := 0.5 + float64(sum[1]%50)/100

	text := fmt.Sprintf("Risk: %s, Confidence: %.2f, offline stub assessment, no model was consulted\n"+
		"Recommendations: check the official flood map; sign up for local flood alerts; review insurance cover\n"+
		"Elevation: %d m\n"+
		"Distance from water: %d m",
		level, confidence, int(sum[2])*2, int(sum[3])*20)
	if payload.Image != nil {
		text += "\nImage analysis: not inspected by the offline stub"
	}

	return domain.RawModelOutput{Text: text, ModelVersion: c.version}, nil
}
