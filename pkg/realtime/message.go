package realtime

import (
	"time"

	"goride-sos/internal/models"
)

type MessageType string

const (
	MessageSnapshot       MessageType = "snapshot"
	MessageTimelineEvent  MessageType = "timeline_event"
	MessageLocationUpdate MessageType = "location_update"
	MessageTopicClosed    MessageType = "topic_closed"
)

// Message is the single typed unit delivered on an emergency topic. Exactly
// one of Snapshot, Event or Location is set, matching Type, so consumers can
// dispatch in one switch instead of registering per-event callbacks.
type Message struct {
	Type        MessageType             `json:"type"`
	EmergencyID string                  `json:"emergency_id"`
	Timestamp   int64                   `json:"timestamp"`
	Status      models.EmergencyStatus  `json:"status,omitempty"`
	Snapshot    *models.Emergency       `json:"snapshot,omitempty"`
	Event       *models.TimelineEvent   `json:"event,omitempty"`
	Location    *models.LocationSample  `json:"location,omitempty"`
}

func newMessage(msgType MessageType, emergencyID string) Message {
	return Message{
		Type:        msgType,
		EmergencyID: emergencyID,
		Timestamp:   time.Now().Unix(),
	}
}

// Inbound is what a connected client sends: join or leave for one
// emergency topic.
type Inbound struct {
	Action      string `json:"action"` // join, leave
	EmergencyID string `json:"emergency_id"`
}
