package maps

import "context"

// Geocoder resolves coordinates to a human-readable address so operator
// consoles and contact alerts can say where the emergency is.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error)
}

type GeocodeResult struct {
	PlaceID string `json:"place_id"`
	Address string `json:"formatted_address"`
}
