package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/gin-gonic/gin"
)

// multipartOverhead is the allowance for boundaries and part headers on top
// of the image itself.
const multipartOverhead = 1 << 20

const maxJSONBodyBytes = 64 << 10

// imageFields are the accepted multipart field names, in lookup order.
var imageFields = []string{"file", "image"}

type handlers struct {
	analyzer      Analyzer
	maxImageBytes int64
	modelName     string
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func handleBanner(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "Flood risk analysis API",
		"version":   serviceVersion,
		"status":    "healthy",
		"timestamp": now(),
	})
}

func (h *handlers) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": now(),
		"ai_model":  h.modelName,
	})
}

// coordinateBody holds the raw coordinate values so that a field of the
// wrong type reaches validation as missing rather than failing the decode.
type coordinateBody struct {
	Latitude  json.RawMessage `json:"latitude"`
	Longitude json.RawMessage `json:"longitude"`
}

func (h *handlers) analyzeCoordinates(c *gin.Context) {
	var body coordinateBody
	dec := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Request.Body, maxJSONBodyBytes))
	if err := dec.Decode(&body); err != nil {
		h.reject(c, domain.InputCoordinates, domain.NewValidationError(domain.ReasonMalformedBody, "request body must be a JSON object with latitude and longitude"))
		return
	}

	h.respond(c, domain.RawInput{Coordinates: &domain.RawCoordinates{
		Latitude:  coordinateValue(body.Latitude),
		Longitude: coordinateValue(body.Longitude),
	}})
}

// coordinateValue accepts a JSON number or a numeric string. Anything else
// is treated as absent.
func coordinateValue(raw json.RawMessage) *float64 {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return &n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

func (h *handlers) analyzeImage(c *gin.Context) {
	if h.maxImageBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxImageBytes+multipartOverhead)
	}

	img, err := h.readImage(c)
	if err != nil {
		h.reject(c, domain.InputImage, err)
		return
	}

	h.respond(c, domain.RawInput{Image: img})
}

func (h *handlers) readImage(c *gin.Context) (*domain.RawImage, error) {
	var (
		fh  *multipart.FileHeader
		err error
	)
	for _, field := range imageFields {
		fh, err = c.FormFile(field)
		if !errors.Is(err, http.ErrMissingFile) {
			break
		}
	}
	switch {
	case err == nil:
	case tooLarge(err):
		return nil, h.tooLargeError()
	case errors.Is(err, http.ErrMissingFile):
		return nil, domain.NewValidationError(domain.ReasonMissingInput, "multipart field \"file\" is required")
	default:
		return nil, domain.NewValidationError(domain.ReasonMalformedBody, "request must be multipart/form-data with an image file")
	}

	f, err := fh.Open()
	if err != nil {
		return nil, domain.NewInternalError(domain.StageValidate, fmt.Errorf("open upload: %w", err))
	}
	defer f.Close()

	r := io.Reader(f)
	if h.maxImageBytes > 0 {
		// One byte past the cap is enough for the validator to reject it.
		r = io.LimitReader(f, h.maxImageBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, domain.NewInternalError(domain.StageValidate, fmt.Errorf("read upload: %w", err))
	}

	return &domain.RawImage{
		Data:     data,
		MimeType: fh.Header.Get("Content-Type"),
		Filename: fh.Filename,
	}, nil
}

func (h *handlers) respond(c *gin.Context, raw domain.RawInput) {
	a, err := h.analyzer.Analyze(c.Request.Context(), raw)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// reject reports a request refused before analysis through the analyzer so
// it is logged and counted like any other failure.
func (h *handlers) reject(c *gin.Context, input domain.InputKind, err error) {
	writeError(c, h.analyzer.Reject(c.Request.Context(), input, err))
}

func (h *handlers) tooLargeError() error {
	return domain.NewValidationError(domain.ReasonTooLarge,
		fmt.Sprintf("upload exceeds the %d byte image limit", h.maxImageBytes))
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
