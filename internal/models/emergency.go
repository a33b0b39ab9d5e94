package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type EmergencyType string
type EmergencyStatus string
type TimelineEventType string

const (
	EmergencyTypeAccident       EmergencyType = "accident"
	EmergencyTypeMedical        EmergencyType = "medical"
	EmergencyTypeHarassment     EmergencyType = "harassment"
	EmergencyTypeBreakdown      EmergencyType = "breakdown"
	EmergencyTypeRouteDeviation EmergencyType = "route_deviation"
	EmergencyTypeOther          EmergencyType = "other"

	EmergencyStatusActive     EmergencyStatus = "active"
	EmergencyStatusResponding EmergencyStatus = "responding"
	EmergencyStatusResolved   EmergencyStatus = "resolved"
	EmergencyStatusCancelled  EmergencyStatus = "cancelled"

	TimelineEventCreated             TimelineEventType = "created"
	TimelineEventStatusChange        TimelineEventType = "status_change"
	TimelineEventLocationUpdated     TimelineEventType = "location_updated"
	TimelineEventResponderAssigned   TimelineEventType = "responder_assigned"
	TimelineEventResponderUnassigned TimelineEventType = "responder_unassigned"
	TimelineEventHelpDispatched      TimelineEventType = "help_dispatched"
	TimelineEventEscalated           TimelineEventType = "escalated"
	TimelineEventNotificationSent    TimelineEventType = "notification_sent"
	TimelineEventNotificationFailed  TimelineEventType = "notification_failed"
	TimelineEventAutoCancelled       TimelineEventType = "auto_cancelled"
)

// SystemActor marks timeline entries produced by background jobs rather
// than a user or operator.
const SystemActor = "system"

type RideContext struct {
	RideID   primitive.ObjectID  `json:"ride_id" bson:"ride_id"`
	DriverID *primitive.ObjectID `json:"driver_id,omitempty" bson:"driver_id,omitempty"`
}

type TimelineEvent struct {
	Type      TimelineEventType `json:"type" bson:"type"`
	Actor     string            `json:"actor" bson:"actor"`
	Timestamp time.Time         `json:"timestamp" bson:"timestamp"`
	Detail    string            `json:"detail,omitempty" bson:"detail,omitempty"`
}

type Resolution struct {
	Detail     string    `json:"detail" bson:"detail"`
	ResolvedBy string    `json:"resolved_by" bson:"resolved_by"`
	ResolvedAt time.Time `json:"resolved_at" bson:"resolved_at"`
}

// Emergency is the durable record of one SOS incident from trigger to
// resolution. Status only moves along the transition graph enforced by the
// state machine service; the timeline is append-only and its order is the
// ordering guarantee subscribers rely on.
type Emergency struct {
	ID           primitive.ObjectID   `json:"id" bson:"_id,omitempty"`
	ReporterID   primitive.ObjectID   `json:"reporter_id" bson:"reporter_id" validate:"required"`
	RideContext  *RideContext         `json:"ride_context,omitempty" bson:"ride_context,omitempty"`
	Type         EmergencyType        `json:"type" bson:"type" validate:"required"`
	Status       EmergencyStatus      `json:"status" bson:"status"`
	LastLocation *LocationSample      `json:"last_location,omitempty" bson:"last_location,omitempty"`
	Address      string               `json:"address,omitempty" bson:"address,omitempty"`
	Timeline     []TimelineEvent      `json:"timeline" bson:"timeline"`
	Responders   []primitive.ObjectID `json:"responders" bson:"responders"`
	Resolution   *Resolution          `json:"resolution,omitempty" bson:"resolution,omitempty"`
	CreatedAt    time.Time            `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at" bson:"updated_at"`
}

func (e *Emergency) IsTerminal() bool {
	return e.Status == EmergencyStatusResolved || e.Status == EmergencyStatusCancelled
}

// Trackable reports whether location updates are still accepted.
func (e *Emergency) Trackable() bool {
	return e.Status == EmergencyStatusActive || e.Status == EmergencyStatusResponding
}

func (e *Emergency) HasResponder(id primitive.ObjectID) bool {
	for _, r := range e.Responders {
		if r == id {
			return true
		}
	}
	return false
}

// RideID returns the ride id of the ride context, or the zero ObjectID when
// the emergency was triggered outside an active ride.
func (e *Emergency) RideID() primitive.ObjectID {
	if e.RideContext == nil {
		return primitive.NilObjectID
	}
	return e.RideContext.RideID
}
