package sosclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"goride-sos/internal/models"
	"goride-sos/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	triggerMaxAttempts = 4
	triggerBackoffBase = 500 * time.Millisecond
)

// ErrSessionNotActive is returned by operations that need a triggered
// emergency before one exists.
var ErrSessionNotActive = errors.New("sos session not active")

// Session drives one emergency from the reporter's device: trigger with
// retry, stream location samples while the emergency is live, and cancel
// on request. Streaming always stops, whatever path ends the session.
type Session struct {
	client *Client
	source LocationSource
	logger *logger.Logger

	mu          sync.Mutex
	emergencyID primitive.ObjectID
	cancelWatch context.CancelFunc
	done        chan struct{}
}

func NewSession(client *Client, source LocationSource, log *logger.Logger) *Session {
	return &Session{
		client: client,
		source: source,
		logger: log,
	}
}

// Activate triggers the emergency and starts streaming location samples in
// the background. Trigger is retried with exponential backoff because this
// call happens at the worst possible moment for connectivity.
func (s *Session) Activate(ctx context.Context, request *TriggerRequest) (*models.Emergency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return nil, errors.New("sos session already active")
	}

	result, err := s.triggerWithRetry(ctx, request)
	if err != nil {
		return nil, err
	}

	s.emergencyID = result.Emergency.ID

	watchCtx, cancel := context.WithCancel(context.Background())
	s.cancelWatch = cancel
	s.done = make(chan struct{})

	go s.watch(watchCtx)

	return result.Emergency, nil
}

// Cancel withdraws the alert and stops streaming. The cancel request is
// retried; a terminal emergency on the server counts as success.
func (s *Session) Cancel(ctx context.Context, detail string) error {
	s.mu.Lock()
	id := s.emergencyID
	s.mu.Unlock()

	if id.IsZero() {
		return ErrSessionNotActive
	}

	var lastErr error
	for attempt := 1; attempt <= triggerMaxAttempts; attempt++ {
		lastErr = s.client.Cancel(ctx, id, detail)
		if lastErr == nil || errors.Is(lastErr, models.ErrEmergencyAlreadyTerminal) {
			s.Stop()
			return nil
		}

		select {
		case <-time.After(triggerBackoffBase * time.Duration(1<<(attempt-1))):
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		}
	}

	s.Stop()
	return lastErr
}

// Stop halts location streaming without touching server state.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancelWatch
	s.cancelWatch = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Done closes when the streaming loop has exited.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

func (s *Session) triggerWithRetry(ctx context.Context, request *TriggerRequest) (*TriggerResult, error) {
	var lastErr error

	for attempt := 1; attempt <= triggerMaxAttempts; attempt++ {
		result, err := s.client.Trigger(ctx, request)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt < triggerMaxAttempts {
			select {
			case <-time.After(triggerBackoffBase * time.Duration(1<<(attempt-1))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, lastErr
}

// watch forwards samples from the source to the server. A failed post is
// dropped, not retried: the next sample supersedes it anyway. The loop
// exits when the source closes, the context is cancelled or the server
// reports the emergency terminal.
func (s *Session) watch(ctx context.Context) {
	defer close(s.done)
	defer s.Stop()

	samples := s.source.Subscribe(ctx)

	for sample := range samples {
		sample := sample
		err := s.client.ReportLocation(ctx, s.emergencyID, &sample)
		if err == nil {
			continue
		}

		if errors.Is(err, models.ErrEmergencyNotTrackable) || errors.Is(err, models.ErrEmergencyNotFound) {
			s.logger.WithEmergencyID(s.emergencyID).Info("Emergency closed, stopping location stream")
			return
		}

		s.logger.WithError(err).WithEmergencyID(s.emergencyID).
			Debug("Dropping location sample after failed post")
	}
}
