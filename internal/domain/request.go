package domain

// InputKind labels the variant of an analysis request in logs, metrics and events.
type InputKind string

const (
	InputCoordinates InputKind = "coordinates"
	InputImage       InputKind = "image"
	InputUnknown     InputKind = "unknown"
)

// Supported image MIME types.
const (
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
)

// RawCoordinates is a coordinate pair as decoded from the transport.
// A nil field means the caller did not send it.
type RawCoordinates struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// RawImage is an uploaded image before validation.
type RawImage struct {
	Data     []byte
	MimeType string // declared by the client, may be empty
	Filename string
}

// RawInput carries whatever the transport received. Exactly one of the two
// fields must be set for the input to validate.
type RawInput struct {
	Coordinates *RawCoordinates
	Image       *RawImage
}

// Kind reports which variant the raw input looks like, for logging before validation.
func (r RawInput) Kind() InputKind {
	switch {
	case r.Coordinates != nil && r.Image == nil:
		return InputCoordinates
	case r.Image != nil && r.Coordinates == nil:
		return InputImage
	default:
		return InputUnknown
	}
}

// AnalysisRequest is a validated request. It is implemented only by
// CoordinateRequest and ImageRequest.
type AnalysisRequest interface {
	Kind() InputKind
	isAnalysisRequest()
}

// CoordinateRequest asks for the flood risk at a WGS-84 location.
type CoordinateRequest struct {
	Latitude  float64
	Longitude float64

	// PlaceName is filled by location enrichment; empty when unknown.
	PlaceName string
}

func (CoordinateRequest) Kind() InputKind   { return InputCoordinates }
func (CoordinateRequest) isAnalysisRequest() {}

// ImageRequest asks for the flood risk visible in a terrain photo.
type ImageRequest struct {
	Data      []byte
	MimeType  string
	SizeBytes int64
}

func (ImageRequest) Kind() InputKind   { return InputImage }
func (ImageRequest) isAnalysisRequest() {}
