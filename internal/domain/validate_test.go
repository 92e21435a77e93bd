package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pngHeader  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	jpegHeader = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
	gifHeader  = []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00")
)

var testLimits = ValidationLimits{MaxImageBytes: 1024}

func ptr(v float64) *float64 { return &v }

func coords(lat, lon float64) RawInput {
	return RawInput{Coordinates: &RawCoordinates{Latitude: ptr(lat), Longitude: ptr(lon)}}
}

func requireValidationReason(t *testing.T, err error, reason Reason) {
	t.Helper()
	require.Error(t, err)
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindValidation, pe.Kind)
	assert.Equal(t, StageValidate, pe.Stage)
	assert.Equal(t, reason, pe.Reason)
}

func TestValidate_CoordinatesInRange(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
	}{
		{"london", 51.5074, -0.1278},
		{"origin", 0, 0},
		{"north pole", 90, 0},
		{"south pole", -90, 0},
		{"antimeridian east", 0, 180},
		{"antimeridian west", 0, -180},
		{"corner", -90, -180},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Validate(coords(tt.lat, tt.lon), testLimits)
			require.NoError(t, err)
			assert.Equal(t, CoordinateRequest{Latitude: tt.lat, Longitude: tt.lon}, req)
			assert.Equal(t, InputCoordinates, req.Kind())
		})
	}
}

func TestValidate_CoordinatesOutOfRange(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
	}{
		{"latitude too high", 999, 0},
		{"latitude just over", 90.000001, 0},
		{"latitude too low", -91, 0},
		{"longitude too high", 0, 180.5},
		{"longitude too low", 0, -181},
		{"nan latitude", math.NaN(), 0},
		{"infinite longitude", 0, math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Validate(coords(tt.lat, tt.lon), testLimits)
			assert.Nil(t, req)
			requireValidationReason(t, err, ReasonInvalidCoordinates)
			assert.Equal(t, "missing or out-of-range coordinates", err.(*PipelineError).Message)
		})
	}
}

func TestValidate_CoordinateMissingField(t *testing.T) {
	_, err := Validate(RawInput{Coordinates: &RawCoordinates{Latitude: ptr(10)}}, testLimits)
	requireValidationReason(t, err, ReasonInvalidCoordinates)

	_, err = Validate(RawInput{Coordinates: &RawCoordinates{Longitude: ptr(10)}}, testLimits)
	requireValidationReason(t, err, ReasonInvalidCoordinates)
}

func TestValidate_NeitherOrBoth(t *testing.T) {
	_, err := Validate(RawInput{}, testLimits)
	requireValidationReason(t, err, ReasonMissingInput)

	both := coords(1, 1)
	both.Image = &RawImage{Data: pngHeader, MimeType: MimePNG}
	_, err = Validate(both, testLimits)
	requireValidationReason(t, err, ReasonAmbiguousInput)
}

func TestValidate_ImageAccepted(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		declared string
		want     string
	}{
		{"png declared", pngHeader, "image/png", MimePNG},
		{"jpeg declared", jpegHeader, "image/jpeg", MimeJPEG},
		{"jpg alias", jpegHeader, "image/jpg", MimeJPEG},
		{"declared with params", pngHeader, "Image/PNG; charset=binary", MimePNG},
		{"undeclared", jpegHeader, "", MimeJPEG},
		{"octet stream", pngHeader, "application/octet-stream", MimePNG},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Validate(RawInput{Image: &RawImage{Data: tt.data, MimeType: tt.declared}}, testLimits)
			require.NoError(t, err)
			img, ok := req.(ImageRequest)
			require.True(t, ok)
			assert.Equal(t, tt.want, img.MimeType)
			assert.Equal(t, int64(len(tt.data)), img.SizeBytes)
			assert.Equal(t, tt.data, img.Data)
		})
	}
}

func TestValidate_ImageRejected(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		declared string
		reason   Reason
	}{
		{"empty", nil, "image/png", ReasonEmptyPayload},
		{"too large", append(append([]byte{}, pngHeader...), make([]byte, 2048)...), "image/png", ReasonTooLarge},
		{"declared gif", gifHeader, "image/gif", ReasonUnsupportedType},
		{"gif content", gifHeader, "", ReasonUnsupportedType},
		{"text content", []byte("definitely not an image"), "image/png", ReasonUnsupportedType},
		{"declared mismatch", pngHeader, "image/jpeg", ReasonUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Validate(RawInput{Image: &RawImage{Data: tt.data, MimeType: tt.declared}}, testLimits)
			assert.Nil(t, req)
			requireValidationReason(t, err, tt.reason)
		})
	}
}

func TestValidate_ImageCheckOrder(t *testing.T) {
	// Oversized and unsupported: size is reported first.
	big := append(append([]byte{}, gifHeader...), make([]byte, 4096)...)
	_, err := Validate(RawInput{Image: &RawImage{Data: big, MimeType: "image/gif"}}, testLimits)
	requireValidationReason(t, err, ReasonTooLarge)
}

func TestValidate_NoImageLimit(t *testing.T) {
	big := append(append([]byte{}, pngHeader...), make([]byte, 4096)...)
	_, err := Validate(RawInput{Image: &RawImage{Data: big}}, ValidationLimits{})
	require.NoError(t, err)
}

func TestNormalizeMimeType(t *testing.T) {
	assert.Equal(t, "", NormalizeMimeType(""))
	assert.Equal(t, "", NormalizeMimeType(";;;"))
	assert.Equal(t, MimeJPEG, NormalizeMimeType("image/pjpeg"))
	assert.Equal(t, MimePNG, NormalizeMimeType(" image/png "))
	assert.Equal(t, MimePNG, NormalizeMimeType("image/vnd.mozilla.apng"))
	assert.Equal(t, MimePNG, NormalizeMimeType("image/apng"))
}

func TestValidate_AnimatedPNGAccepted(t *testing.T) {
	// IHDR CRC, then an acTL chunk marks the file as animated.
	apng := append(append([]byte{}, pngHeader...), "\x90\x77\x53\xde\x00\x00\x00\x08acTL\x00\x00\x00\x02\x00\x00\x00\x00\x00\x00\x00\x00"...)

	for _, declared := range []string{"image/png", "image/apng", ""} {
		req, err := Validate(RawInput{Image: &RawImage{Data: apng, MimeType: declared}}, ValidationLimits{})
		require.NoError(t, err, declared)
		assert.Equal(t, MimePNG, req.(ImageRequest).MimeType)
	}
}

func TestRawInput_Kind(t *testing.T) {
	assert.Equal(t, InputCoordinates, coords(1, 2).Kind())
	assert.Equal(t, InputImage, RawInput{Image: &RawImage{}}.Kind())
	assert.Equal(t, InputUnknown, RawInput{}.Kind())
}
