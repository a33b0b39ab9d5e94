package interfaces

import (
	"context"
	"time"

	"goride-sos/internal/models"
	"goride-sos/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EmergencyRepository is the durable store of emergencies and their
// timelines. Every mutating method that touches status or the timeline is
// atomic at the document level: the status write and the timeline append
// land together or not at all. Conditional methods return false when the
// document was not in the expected state, so a lost race surfaces as a
// clean no-op instead of a double append.
type EmergencyRepository interface {
	Create(ctx context.Context, emergency *models.Emergency) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Emergency, error)

	// GetActiveByReporter finds the non-terminal emergency for a
	// (reporter, ride) pair; rideID is the zero ObjectID when the trigger
	// happened outside a ride. Returns models.ErrEmergencyNotFound when
	// there is none.
	GetActiveByReporter(ctx context.Context, reporterID, rideID primitive.ObjectID) (*models.Emergency, error)

	// UpdateStatus moves status to `to` only if the current status is in
	// allowedFrom, appending the timeline event in the same write. The extra
	// updates map carries fields set alongside the transition (resolution).
	UpdateStatus(ctx context.Context, id primitive.ObjectID, allowedFrom []models.EmergencyStatus, to models.EmergencyStatus, event models.TimelineEvent, updates map[string]interface{}) (bool, error)

	// UpdateLocation stores sample as last_location only while the emergency
	// is trackable and the sample is fresher than what is stored. A non-nil
	// event is appended to the timeline in the same write (throttled entries).
	UpdateLocation(ctx context.Context, id primitive.ObjectID, sample *models.LocationSample, event *models.TimelineEvent) (bool, error)

	AddResponder(ctx context.Context, id, responderID primitive.ObjectID, event models.TimelineEvent) (bool, error)
	RemoveResponder(ctx context.Context, id, responderID primitive.ObjectID, event models.TimelineEvent) (bool, error)

	// AppendTimeline records an event without touching any other field.
	// Used for notification delivery outcomes.
	AppendTimeline(ctx context.Context, id primitive.ObjectID, event models.TimelineEvent) error

	SetAddress(ctx context.Context, id primitive.ObjectID, address string) error

	ListByStatus(ctx context.Context, status models.EmergencyStatus, params *utils.PaginationParams) ([]*models.Emergency, int64, error)
	ListActive(ctx context.Context) ([]*models.Emergency, error)

	// ListStale returns ACTIVE emergencies whose last activity (location or
	// creation) is older than the cutoff, for the auto-cancel sweeper.
	// RESPONDING emergencies are never stale: an operator owns them.
	ListStale(ctx context.Context, olderThan time.Duration) ([]*models.Emergency, error)
}
