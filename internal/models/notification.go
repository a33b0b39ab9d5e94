package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type NotificationKind string
type NotificationChannel string
type NotificationPriority string

const (
	NotificationKindTriggered  NotificationKind = "emergency_triggered"
	NotificationKindStatus     NotificationKind = "status_changed"
	NotificationKindResponder  NotificationKind = "responder_changed"
	NotificationKindDispatched NotificationKind = "help_dispatched"
	NotificationKindEscalated  NotificationKind = "escalated"
	NotificationKindResolved   NotificationKind = "emergency_resolved"
	NotificationKindCancelled  NotificationKind = "emergency_cancelled"

	NotificationChannelPush   NotificationChannel = "push"
	NotificationChannelSMS    NotificationChannel = "sms"
	NotificationChannelBanner NotificationChannel = "banner"

	NotificationPriorityNormal NotificationPriority = "normal"
	NotificationPriorityHigh   NotificationPriority = "high"
)

// NotificationTarget is one recipient on one channel. Phone is set for SMS
// targets, DeviceToken for push; banner targets are delivered over the
// realtime channel to the user's console session.
type NotificationTarget struct {
	UserID      primitive.ObjectID  `json:"user_id,omitempty"`
	Channel     NotificationChannel `json:"channel"`
	Phone       string              `json:"phone,omitempty"`
	DeviceToken string              `json:"device_token,omitempty"`
	Name        string              `json:"name,omitempty"`
}

// NotificationEvent is the transient unit of outbound fan-out. It lives only
// in the dispatcher's retry queue; delivery is at-least-once and decoupled
// from the state transition that caused it.
type NotificationEvent struct {
	EmergencyID primitive.ObjectID   `json:"emergency_id"`
	Kind        NotificationKind     `json:"kind"`
	Priority    NotificationPriority `json:"priority"`
	Payload     map[string]string    `json:"payload,omitempty"`
	Targets     []NotificationTarget `json:"targets"`
	Attempt     int                  `json:"attempt"`
}

// EmergencyContact is a person the reporter chose to be alerted when they
// trigger an SOS.
type EmergencyContact struct {
	Name  string `json:"name" bson:"name"`
	Phone string `json:"phone" bson:"phone"`
}
