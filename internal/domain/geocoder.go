package domain

import "context"

// Place is what a reverse geocoder knows about a coordinate pair.
type Place struct {
	Name             string
	FormattedAddress string
	Relevance        float64 // 0.0-1.0 provider relevance score
}

// Geocoder resolves coordinates to a named place. An empty Place with a nil
// error means the provider had no match.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (Place, error)
}
