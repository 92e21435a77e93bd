package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	goopenai "github.com/sashabaranov/go-openai"
)

const providerName = "openai"

// Client implements pipeline.ModelClient against any OpenAI-compatible chat
// completions endpoint with vision support.
type Client struct {
	api    *goopenai.Client
	model  string
	logger *slog.Logger
}

// NewClient creates a client for model. An empty baseURL selects the OpenAI API.
func NewClient(apiKey, model, baseURL string, logger *slog.Logger) *Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		api:    goopenai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

// Generate sends the instructions as the system message and the context text,
// plus the image as a data URL, as the user message.
func (c *Client) Generate(ctx context.Context, payload domain.ModelPayload) (domain.RawModelOutput, error) {
	user := goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser}
	if payload.Image != nil {
		user.MultiContent = []goopenai.ChatMessagePart{
			{Type: goopenai.ChatMessagePartTypeText, Text: payload.ContextText},
			{
				Type: goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", payload.Image.MimeType, base64.StdEncoding.EncodeToString(payload.Image.Data)),
					Detail: goopenai.ImageURLDetailAuto,
				},
			},
		}
	} else {
		user.Content = payload.ContextText
	}

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: payload.Instructions},
			user,
		},
	})
	if err != nil {
		return domain.RawModelOutput{}, classify(err)
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	version := resp.Model
	if version == "" {
		version = c.model
	}
	c.logger.Debug("chat completion finished", "model", version, "total_tokens", resp.Usage.TotalTokens)
	return domain.RawModelOutput{Text: text, ModelVersion: version}, nil
}

// classify maps go-openai errors onto domain.UpstreamError. Errors without an
// HTTP status are transport failures and are retried.
func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &domain.UpstreamError{
			Provider:   providerName,
			StatusCode: apiErr.HTTPStatusCode,
			Retryable:  domain.RetryableStatus(apiErr.HTTPStatusCode),
			Err:        err,
		}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &domain.UpstreamError{
			Provider:   providerName,
			StatusCode: reqErr.HTTPStatusCode,
			Retryable:  domain.RetryableStatus(reqErr.HTTPStatusCode),
			Err:        err,
		}
	}
	return &domain.UpstreamError{Provider: providerName, Retryable: true, Err: err}
}
