package services

import (
	"context"
	"sync"
	"time"

	"goride-sos/internal/config"
	"goride-sos/internal/models"
	"goride-sos/internal/repositories/interfaces"
	"goride-sos/pkg/logger"
	"goride-sos/pkg/realtime"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LocationRelay ingests location samples from the reporter's device while
// an emergency is trackable. Every accepted sample updates last_location
// and is fanned out on the topic; timeline entries are throttled so the
// audit log does not grow with every sample.
type LocationRelay interface {
	ReportLocation(ctx context.Context, id primitive.ObjectID, sample *models.LocationSample) error
}

type locationRelay struct {
	repo   interfaces.EmergencyRepository
	hub    *realtime.Hub
	config *config.SOSConfig
	logger *logger.Logger
	locks  *LockTable

	mu           sync.Mutex
	lastTimeline map[primitive.ObjectID]time.Time
}

// NewLocationRelay builds the relay. locks is the table shared with the
// state machine; location writes and status transitions for the same
// emergency take the same mutex.
func NewLocationRelay(
	repo interfaces.EmergencyRepository,
	hub *realtime.Hub,
	locks *LockTable,
	cfg *config.SOSConfig,
	log *logger.Logger,
) LocationRelay {
	return &locationRelay{
		repo:         repo,
		hub:          hub,
		config:       cfg,
		logger:       log,
		locks:        locks,
		lastTimeline: make(map[primitive.ObjectID]time.Time),
	}
}

func (r *locationRelay) ReportLocation(ctx context.Context, id primitive.ObjectID, sample *models.LocationSample) error {
	unlock := r.locks.Lock(id.Hex())
	defer unlock()

	emergency, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if !emergency.Trackable() {
		r.forget(id)
		return models.ErrEmergencyNotTrackable
	}

	// Degraded accuracy is an annotation, not a rejection: consumers render
	// a larger uncertainty radius.
	if sample.Accuracy > r.config.AccuracyThresholdMeters {
		sample.LowAccuracy = true
	}

	var event *models.TimelineEvent
	if r.timelineDue(id) {
		event = &models.TimelineEvent{
			Type:      models.TimelineEventLocationUpdated,
			Actor:     emergency.ReporterID.Hex(),
			Timestamp: sample.Timestamp,
		}
	}

	updated, err := r.repo.UpdateLocation(ctx, id, sample, event)
	if err != nil {
		return err
	}
	if !updated {
		// Stale sample from a retried request. Drop without error; only the
		// freshest position matters for live tracking.
		r.logger.WithEmergencyID(id).Debug("Dropping out-of-order location sample")
		return nil
	}

	if event != nil {
		r.commitTimeline(id)
	}

	r.hub.PublishLocation(id, *sample)

	return nil
}

func (r *locationRelay) timelineDue(id primitive.ObjectID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok := r.lastTimeline[id]
	return !ok || time.Since(last) >= r.config.LocationTimelineInterval
}

func (r *locationRelay) commitTimeline(id primitive.ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastTimeline[id] = time.Now()
}

func (r *locationRelay) forget(id primitive.ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.lastTimeline, id)
}
