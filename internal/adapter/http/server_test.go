package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	httpadapter "github.com/couchcryptid/flood-risk-service/internal/adapter/http"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maxImageBytes = 1024

var pngImage = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

// fakeModel answers with a fixed text, or blocks until the attempt times out.
type fakeModel struct {
	text  string
	block bool
	calls atomic.Int32
}

func (m *fakeModel) Generate(ctx context.Context, _ domain.ModelPayload) (domain.RawModelOutput, error) {
	m.calls.Add(1)
	if m.block {
		<-ctx.Done()
		return domain.RawModelOutput{}, ctx.Err()
	}
	return domain.RawModelOutput{Text: m.text, ModelVersion: "fake-1"}, nil
}

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type panicAnalyzer struct{}

func (panicAnalyzer) Analyze(context.Context, domain.RawInput) (domain.RiskAssessment, error) {
	panic("boom")
}

func (panicAnalyzer) Reject(_ context.Context, _ domain.InputKind, err error) error {
	return err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(model pipeline.ModelClient) *pipeline.Pipeline {
	return newPipelineWithMetrics(model, observability.NewMetricsForTesting())
}

func newPipelineWithMetrics(model pipeline.ModelClient, metrics *observability.Metrics) *pipeline.Pipeline {
	settings := pipeline.Settings{
		Limits: domain.ValidationLimits{MaxImageBytes: maxImageBytes},
		Retry: pipeline.RetryPolicy{
			MaxRetries:     1,
			AttemptTimeout: 20 * time.Millisecond,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		},
	}
	return pipeline.New(settings, model, nil, nil, discardLogger(), metrics)
}

func newTestServer(analyzer httpadapter.Analyzer, readyErr error) *httpadapter.Server {
	opts := httpadapter.Options{
		Addr:           ":0",
		AllowedOrigins: []string{"https://maps.example.com"},
		MaxImageBytes:  maxImageBytes,
		ModelName:      "gemini-test",
	}
	return httpadapter.NewServer(opts, analyzer, &mockReadiness{err: readyErr}, discardLogger())
}

func postJSON(t *testing.T, srv http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.ServeHTTP(rec, req)
	return rec
}

func postImage(t *testing.T, srv http.Handler, field, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="terrain.png"`, field))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/analyze/image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAnalyzeCoordinates_HighRisk(t *testing.T) {
	model := &fakeModel{text: "Risk: HIGH, Confidence: 0.82, near river floodplain"}
	srv := newTestServer(newPipeline(model), nil)

	rec := postJSON(t, srv, "/api/analyze/coordinates", `{"latitude":51.5074,"longitude":-0.1278}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "HIGH", body["risk_level"])
	assert.InDelta(t, 0.82, body["confidence"], 1e-9)
	assert.Equal(t, "near river floodplain", body["rationale"])
	assert.Equal(t, "fake-1", body["model_version"])
	assert.NotEmpty(t, body["generated_at"])
	assert.NotContains(t, body, "Method")
}

func TestAnalyzeCoordinates_InvalidLatitude(t *testing.T) {
	model := &fakeModel{text: "Risk: LOW"}
	srv := newTestServer(newPipeline(model), nil)

	rec := postJSON(t, srv, "/api/analyze/coordinates", `{"latitude":999,"longitude":0}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
	assert.Equal(t, "validate", body["stage"])
	assert.Zero(t, model.calls.Load(), "model must not be called")
}

func TestAnalyzeImage_ModelTimeout(t *testing.T) {
	model := &fakeModel{block: true}
	srv := newTestServer(newPipeline(model), nil)

	rec := postImage(t, srv, "file", "image/png", pngImage)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "MODEL_TIMEOUT", body["code"])
	assert.Equal(t, "invoke", body["stage"])
	assert.Equal(t, int32(2), model.calls.Load())
}

func TestAnalyzeCoordinates_UnparseableProse(t *testing.T) {
	model := &fakeModel{text: "I cannot determine this."}
	srv := newTestServer(newPipeline(model), nil)

	rec := postJSON(t, srv, "/api/analyze/coordinates", `{"latitude":29.9511,"longitude":-90.0715}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "UNKNOWN", body["risk_level"])
	assert.InDelta(t, 0.0, body["confidence"], 1e-9)
	assert.Equal(t, "I cannot determine this.", body["rationale"])
}

func TestAnalyzeCoordinates_EmptyModelOutput(t *testing.T) {
	srv := newTestServer(newPipeline(&fakeModel{text: "   "}), nil)

	rec := postJSON(t, srv, "/api/analyze/coordinates", `{"latitude":10,"longitude":10}`)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "PARSE_ERROR", decodeBody(t, rec)["code"])
}

func TestAnalyzeCoordinates_MalformedBody(t *testing.T) {
	model := &fakeModel{text: "Risk: LOW"}
	srv := newTestServer(newPipeline(model), nil)

	rec := postJSON(t, srv, "/api/analyze/coordinates", `{"latitude":`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody(t, rec)["code"])
	assert.Zero(t, model.calls.Load())
}

func TestAnalyzeImage_ImageFieldAlias(t *testing.T) {
	srv := newTestServer(newPipeline(&fakeModel{text: "Risk: LOW, Confidence: 0.9, upland"}), nil)

	rec := postImage(t, srv, "image", "image/png", pngImage)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "LOW", decodeBody(t, rec)["risk_level"])
}

func TestAnalyzeImage_MissingFile(t *testing.T) {
	srv := newTestServer(newPipeline(&fakeModel{}), nil)

	rec := postImage(t, srv, "attachment", "image/png", pngImage)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody(t, rec)["code"])
}

func TestAnalyzeImage_UnsupportedType(t *testing.T) {
	srv := newTestServer(newPipeline(&fakeModel{}), nil)

	rec := postImage(t, srv, "file", "text/plain", []byte("not an image"))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody(t, rec)["code"])
}

func TestAnalyzeImage_TooLarge(t *testing.T) {
	model := &fakeModel{text: "Risk: LOW"}
	srv := newTestServer(newPipeline(model), nil)

	big := append(append([]byte{}, pngImage...), make([]byte, maxImageBytes)...)
	rec := postImage(t, srv, "file", "image/png", big)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody(t, rec)["code"])
	assert.Zero(t, model.calls.Load())
}

func TestAnalyzeImage_FarTooLarge(t *testing.T) {
	srv := newTestServer(newPipeline(&fakeModel{}), nil)

	huge := append(append([]byte{}, pngImage...), make([]byte, 2<<20)...)
	rec := postImage(t, srv, "file", "image/png", huge)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPanicRecoveredAsInternalError(t *testing.T) {
	srv := newTestServer(panicAnalyzer{}, nil)

	rec := postJSON(t, srv, "/api/analyze/coordinates", `{"latitude":1,"longitude":1}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "INTERNAL_ERROR", body["code"])
	assert.NotContains(t, body["error"], "boom")
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(newPipeline(&fakeModel{text: "Risk: LOW"}), nil)

	rec := postJSON(t, srv, "/api/analyze/coordinates", `{"latitude":1,"longitude":1}`)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "caller-123")
	srv.ServeHTTP(rec, req)
	assert.Equal(t, "caller-123", rec.Header().Get("X-Request-ID"))
}

func TestCORSAllowedOrigin(t *testing.T) {
	srv := newTestServer(newPipeline(&fakeModel{}), nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/analyze/coordinates", nil)
	req.Header.Set("Origin", "https://maps.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://maps.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	srv := newTestServer(newPipeline(&fakeModel{}), nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBanner(t *testing.T) {
	srv := newTestServer(newPipeline(&fakeModel{}), nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "1.0.0", body["version"])
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["message"])
	requireTimestamp(t, body)
}

func requireTimestamp(t *testing.T, body map[string]any) {
	t.Helper()
	ts, ok := body["timestamp"].(string)
	require.True(t, ok, "timestamp missing")
	parsed, err := time.Parse(time.RFC3339, ts)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), parsed, time.Minute)
}

func TestHealthReturns200(t *testing.T) {
	srv := newTestServer(newPipeline(&fakeModel{}), nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "gemini-test", body["ai_model"])
	requireTimestamp(t, body)
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(newPipeline(&fakeModel{}), nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv := newTestServer(newPipeline(&fakeModel{}), nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv := newTestServer(newPipeline(&fakeModel{}), errors.New("all 4 analysis slots are busy"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(newPipeline(&fakeModel{}), nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAnalyzeCoordinates_MalformedBodyIsCounted(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	srv := newTestServer(newPipelineWithMetrics(&fakeModel{}, metrics), nil)

	rec := postJSON(t, srv, "/api/analyze/coordinates", `[1, 2]`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AnalysesTotal.WithLabelValues("coordinates", "validation")))
}

func TestAnalyzeCoordinates_NonNumericLatitude(t *testing.T) {
	model := &fakeModel{text: "Risk: LOW, Confidence: 0.9, upland"}
	metrics := observability.NewMetricsForTesting()
	srv := newTestServer(newPipelineWithMetrics(model, metrics), nil)

	for _, body := range []string{
		`{"latitude":"north","longitude":1}`,
		`{"latitude":null,"longitude":1}`,
		`{"latitude":{"deg":51},"longitude":1}`,
		`{"longitude":1}`,
	} {
		rec := postJSON(t, srv, "/api/analyze/coordinates", body)

		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		resp := decodeBody(t, rec)
		assert.Equal(t, "VALIDATION_ERROR", resp["code"], body)
		assert.Equal(t, "missing or out-of-range coordinates", resp["error"], body)
	}
	assert.Zero(t, model.calls.Load())
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.AnalysesTotal.WithLabelValues("coordinates", "validation")))
}

func TestAnalyzeCoordinates_NumericStrings(t *testing.T) {
	srv := newTestServer(newPipeline(&fakeModel{text: "Risk: LOW, Confidence: 0.9, upland"}), nil)

	rec := postJSON(t, srv, "/api/analyze/coordinates", `{"latitude":"51.5","longitude":" -0.12 "}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "LOW", decodeBody(t, rec)["risk_level"])
}

func TestAnalyzeImage_TransportRejectionsAreCounted(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	model := &fakeModel{}
	srv := newTestServer(newPipelineWithMetrics(model, metrics), nil)

	rec := postImage(t, srv, "attachment", "image/png", pngImage)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	huge := append(append([]byte{}, pngImage...), make([]byte, 2<<20)...)
	rec = postImage(t, srv, "file", "image/png", huge)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = postJSON(t, srv, "/api/analyze/image", `{"image":"aGVsbG8="}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Zero(t, model.calls.Load())
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.AnalysesTotal.WithLabelValues("image", "validation")))
}
