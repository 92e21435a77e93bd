package domain

import (
	"fmt"
	"math"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ValidationLimits bounds what the validator accepts.
type ValidationLimits struct {
	MaxImageBytes int64
}

const msgInvalidCoordinates = "missing or out-of-range coordinates"

// Validate turns raw transport input into an AnalysisRequest. It rejects
// inputs that carry both variants or neither.
func Validate(raw RawInput, limits ValidationLimits) (AnalysisRequest, error) {
	switch {
	case raw.Coordinates != nil && raw.Image != nil:
		return nil, NewValidationError(ReasonAmbiguousInput, "provide either coordinates or an image, not both")
	case raw.Coordinates != nil:
		req, err := validateCoordinates(*raw.Coordinates)
		if err != nil {
			return nil, err
		}
		return req, nil
	case raw.Image != nil:
		req, err := validateImage(*raw.Image, limits)
		if err != nil {
			return nil, err
		}
		return req, nil
	default:
		return nil, NewValidationError(ReasonMissingInput, "provide coordinates or an image")
	}
}

func validateCoordinates(c RawCoordinates) (CoordinateRequest, error) {
	if c.Latitude == nil || c.Longitude == nil {
		return CoordinateRequest{}, NewValidationError(ReasonInvalidCoordinates, msgInvalidCoordinates)
	}
	lat, lon := *c.Latitude, *c.Longitude
	if !inRange(lat, 90) || !inRange(lon, 180) {
		return CoordinateRequest{}, NewValidationError(ReasonInvalidCoordinates, msgInvalidCoordinates)
	}
	return CoordinateRequest{Latitude: lat, Longitude: lon}, nil
}

func inRange(v, limit float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= -limit && v <= limit
}

// validateImage checks emptiness, then size, then type, so a payload that
// violates several constraints always reports the same one.
func validateImage(img RawImage, limits ValidationLimits) (ImageRequest, error) {
	size := int64(len(img.Data))
	if size == 0 {
		return ImageRequest{}, NewValidationError(ReasonEmptyPayload, "image payload is empty")
	}
	if limits.MaxImageBytes > 0 && size > limits.MaxImageBytes {
		return ImageRequest{}, NewValidationError(ReasonTooLarge,
			fmt.Sprintf("image is too large: %d bytes (max %d bytes)", size, limits.MaxImageBytes))
	}

	declared := NormalizeMimeType(img.MimeType)
	if declared != "" && declared != "application/octet-stream" && !supportedMimeType(declared) {
		return ImageRequest{}, NewValidationError(ReasonUnsupportedType,
			fmt.Sprintf("unsupported image type %q: expected image/png or image/jpeg", declared))
	}

	detected := NormalizeMimeType(mimetype.Detect(img.Data).String())
	if !supportedMimeType(detected) {
		return ImageRequest{}, NewValidationError(ReasonUnsupportedType,
			"unsupported image content: expected image/png or image/jpeg")
	}
	if supportedMimeType(declared) && declared != detected {
		return ImageRequest{}, NewValidationError(ReasonUnsupportedType,
			fmt.Sprintf("image content is %s but was declared as %s", detected, declared))
	}

	return ImageRequest{Data: img.Data, MimeType: detected, SizeBytes: size}, nil
}

// NormalizeMimeType lowercases a media type, drops parameters and maps the
// image/jpg and animated PNG aliases. Unparseable values normalize to "".
func NormalizeMimeType(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	switch mediaType {
	case "image/jpg", "image/pjpeg":
		return MimeJPEG
	case "image/apng", "image/vnd.mozilla.apng":
		// Animated PNGs are valid PNG files.
		return MimePNG
	}
	return mediaType
}

func supportedMimeType(v string) bool {
	return v == MimePNG || v == MimeJPEG
}
