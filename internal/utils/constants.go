package utils

import "time"

const (
	AppName = "GoRideSOS"

	// Pagination
	DefaultPageSize = 20
	MaxPageSize     = 100
	MinPageSize     = 1

	// Emergency policy
	EmergencyResponseTarget = 5 * time.Minute
	SOSAutoCancel           = 30 * time.Minute

	// Notification
	NotificationRetryAttempts = 3
	NotificationTimeout       = 30 * time.Second

	// Client retry policy for safety-critical calls (trigger, resolve).
	TriggerMaxAttempts  = 4
	TriggerBackoffBase  = 500 * time.Millisecond
	LocationPostTimeout = 5 * time.Second
)

// Response status values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Common error messages
const (
	ErrValidationFailed = "Validation failed"
	ErrInternalServer   = "Internal server error"
	ErrUnauthorized     = "Unauthorized access"
	ErrForbidden        = "Access forbidden"
)
