package models

import (
	"time"
)

// LocationSample is one position fix reported by the reporter's device.
// Samples are ordered by their own Timestamp, not by arrival order; a sample
// older than the stored one is dropped rather than reordered.
type LocationSample struct {
	Latitude    float64   `json:"latitude" bson:"latitude" validate:"required,min=-90,max=90"`
	Longitude   float64   `json:"longitude" bson:"longitude" validate:"required,min=-180,max=180"`
	Accuracy    float64   `json:"accuracy" bson:"accuracy"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp" validate:"required"`
	LowAccuracy bool      `json:"low_accuracy,omitempty" bson:"low_accuracy,omitempty"`
}

// NewerThan reports whether s carries fresher event time than other.
// A nil other always loses.
func (s *LocationSample) NewerThan(other *LocationSample) bool {
	if other == nil {
		return true
	}
	return s.Timestamp.After(other.Timestamp)
}
