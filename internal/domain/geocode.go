package domain

import (
	"context"
	"log/slog"
)

// EnrichmentOutcome records what location enrichment did for a request.
type EnrichmentOutcome string

const (
	EnrichSkipped  EnrichmentOutcome = "skipped"
	EnrichResolved EnrichmentOutcome = "resolved"
	EnrichNoMatch  EnrichmentOutcome = "no_match"
	EnrichFailed   EnrichmentOutcome = "failed"
)

// EnrichWithPlace fills CoordinateRequest.PlaceName from the geocoder. Image
// requests, a nil geocoder and geocoding failures leave the request unchanged;
// enrichment never fails the analysis.
func EnrichWithPlace(ctx context.Context, req AnalysisRequest, geocoder Geocoder, logger *slog.Logger) (AnalysisRequest, EnrichmentOutcome) {
	coords, ok := req.(CoordinateRequest)
	if !ok || geocoder == nil {
		return req, EnrichSkipped
	}

	place, err := geocoder.ReverseGeocode(ctx, coords.Latitude, coords.Longitude)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"lat", coords.Latitude,
			"lon", coords.Longitude,
			"error", err,
		)
		return req, EnrichFailed
	}

	name := place.FormattedAddress
	if name == "" {
		name = place.Name
	}
	if name == "" {
		return req, EnrichNoMatch
	}
	coords.PlaceName = name
	return coords, EnrichResolved
}
