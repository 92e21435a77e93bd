package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// AssessmentRecord is the event published for every successful analysis.
// Images are identified by digest; their bytes are never published.
type AssessmentRecord struct {
	RequestID   string         `json:"request_id"`
	Input       InputKind      `json:"input"`
	Latitude    *float64       `json:"latitude,omitempty"`
	Longitude   *float64       `json:"longitude,omitempty"`
	PlaceName   string         `json:"place_name,omitempty"`
	ImageSHA256 string         `json:"image_sha256,omitempty"`
	ImageType   string         `json:"image_type,omitempty"`
	ImageBytes  int64          `json:"image_bytes,omitempty"`
	Assessment  RiskAssessment `json:"assessment"`
}

// NewAssessmentRecord describes req and its assessment for publication.
func NewAssessmentRecord(requestID string, req AnalysisRequest, a RiskAssessment) AssessmentRecord {
	rec := AssessmentRecord{
		RequestID:  requestID,
		Input:      req.Kind(),
		Assessment: a,
	}
	switch r := req.(type) {
	case CoordinateRequest:
		lat, lon := r.Latitude, r.Longitude
		rec.Latitude = &lat
		rec.Longitude = &lon
		rec.PlaceName = r.PlaceName
	case ImageRequest:
		sum := sha256.Sum256(r.Data)
		rec.ImageSHA256 = hex.EncodeToString(sum[:])
		rec.ImageType = r.MimeType
		rec.ImageBytes = r.SizeBytes
	}
	return rec
}
