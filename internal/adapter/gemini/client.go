package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

const (
	providerName   = "gemini"
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 4 << 20
)

// Client implements pipeline.ModelClient using the Gemini generateContent REST API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Gemini client. An empty baseURL selects the public
// endpoint. Timeouts come from the caller's context.
func NewClient(apiKey, model, baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Generate sends the payload as a single user turn, with the instructions as
// the system instruction and the image as inline data.
func (c *Client) Generate(ctx context.Context, payload domain.ModelPayload) (domain.RawModelOutput, error) {
	parts := []part{{Text: payload.ContextText}}
	if payload.Image != nil {
		parts = append(parts, part{
			InlineData: &inlineData{
				MimeType: payload.Image.MimeType,
				Data:     base64.StdEncoding.EncodeToString(payload.Image.Data),
			},
		})
	}

	body := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: payload.Instructions}}},
		Contents:          []content{{Role: "user", Parts: parts}},
		GenerationConfig:  generationConfig{Temperature: 0, CandidateCount: 1},
	}

	resp, err := c.doRequest(ctx, body)
	if err != nil {
		return domain.RawModelOutput{}, err
	}

	version := resp.ModelVersion
	if version == "" {
		version = c.model
	}
	return domain.RawModelOutput{Text: resp.text(), ModelVersion: version}, nil
}

func (c *Client) doRequest(ctx context.Context, body generateRequest) (generateResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return generateResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return generateResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return generateResponse{}, &domain.UpstreamError{Provider: providerName, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail := readErrorMessage(resp.Body)
		c.logger.Debug("gemini API error", "status", resp.StatusCode, "detail", detail)
		return generateResponse{}, &domain.UpstreamError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Retryable:  domain.RetryableStatus(resp.StatusCode),
			Err:        errors.New(detail),
		}
	}

	var out generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return generateResponse{}, &domain.UpstreamError{Provider: providerName, StatusCode: resp.StatusCode, Retryable: true, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return generateResponse{}, &domain.UpstreamError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("prompt blocked: %s", out.PromptFeedback.BlockReason),
		}
	}
	return out, nil
}

// readErrorMessage extracts error.message from a Gemini error body, falling
// back to the HTTP status text.
func readErrorMessage(r io.Reader) string {
	var e errorResponse
	if err := json.NewDecoder(io.LimitReader(r, maxResponseBytes)).Decode(&e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return "unexpected response"
}

// Gemini API wire types.

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature    float64 `json:"temperature"`
	CandidateCount int     `json:"candidateCount,omitempty"`
}

type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	ModelVersion string `json:"modelVersion"`
}

// text joins the text parts of the first candidate. No candidates yields "".
func (r generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
