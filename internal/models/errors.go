package models

import "errors"

// Domain error taxonomy. Invariant violations are surfaced to callers;
// tracking and notification failures are recorded but never fail the
// operation that caused them.
var (
	ErrDuplicateActiveEmergency   = errors.New("an active emergency already exists for this reporter and ride")
	ErrInvalidTransition          = errors.New("invalid emergency status transition")
	ErrEmergencyNotTrackable      = errors.New("emergency no longer accepts location updates")
	ErrEmergencyNotFound          = errors.New("emergency not found")
	ErrEmergencyClosed            = errors.New("emergency topic has been closed")
	ErrEmergencyAlreadyTerminal   = errors.New("emergency is already resolved or cancelled")
	ErrNotificationDeliveryFailed = errors.New("notification delivery failed")
	ErrResolutionRequired         = errors.New("resolution detail must not be empty")
)
