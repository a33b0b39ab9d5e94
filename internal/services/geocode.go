package services

import (
	"context"
	"time"

	"goride-sos/internal/models"
	"goride-sos/internal/repositories/interfaces"
	"goride-sos/pkg/logger"
	"goride-sos/pkg/maps"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AddressEnricher annotates a freshly triggered emergency with a reverse
// geocoded street address. Strictly best-effort: geocoding failures never
// reach the reporter.
type AddressEnricher struct {
	geocoder maps.Geocoder
	repo     interfaces.EmergencyRepository
	logger   *logger.Logger
}

func NewAddressEnricher(geocoder maps.Geocoder, repo interfaces.EmergencyRepository, log *logger.Logger) *AddressEnricher {
	return &AddressEnricher{
		geocoder: geocoder,
		repo:     repo,
		logger:   log,
	}
}

// EnrichAsync kicks off the lookup in the background; the trigger response
// never waits for the maps provider.
func (e *AddressEnricher) EnrichAsync(id primitive.ObjectID, sample *models.LocationSample) {
	if e.geocoder == nil || sample == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		result, err := e.geocoder.ReverseGeocode(ctx, sample.Latitude, sample.Longitude)
		if err != nil {
			e.logger.WithError(err).WithEmergencyID(id).Debug("Reverse geocoding failed")
			return
		}

		if err := e.repo.SetAddress(ctx, id, result.Address); err != nil {
			e.logger.WithError(err).WithEmergencyID(id).Warn("Failed to store emergency address")
		}
	}()
}
