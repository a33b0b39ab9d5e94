package services

import (
	"context"
	"fmt"
	"time"

	"goride-sos/internal/config"
	"goride-sos/internal/models"
	"goride-sos/internal/repositories/interfaces"
	"goride-sos/pkg/cache"
	"goride-sos/pkg/logger"
	"goride-sos/pkg/realtime"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Notifier is the outbound fan-out hook. Delivery is asynchronous and
// best-effort; Notify never blocks a state transition.
type Notifier interface {
	Notify(event *models.NotificationEvent)
}

// validTransitions is the full status graph. ACTIVE may resolve directly
// without an intermediate acknowledgement; that is deliberate, an operator
// can close out an incident in one step.
var validTransitions = map[models.EmergencyStatus][]models.EmergencyStatus{
	models.EmergencyStatusActive: {
		models.EmergencyStatusResponding,
		models.EmergencyStatusResolved,
		models.EmergencyStatusCancelled,
	},
	models.EmergencyStatusResponding: {
		models.EmergencyStatusResolved,
		models.EmergencyStatusCancelled,
	},
}

func transitionAllowed(from, to models.EmergencyStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type StateMachine interface {
	// Trigger creates an ACTIVE emergency, or returns the existing one for
	// the same (reporter, ride) pair. The second return reports whether the
	// returned emergency already existed; triggering twice is not an error.
	Trigger(ctx context.Context, reporterID primitive.ObjectID, emergencyType models.EmergencyType, sample *models.LocationSample, rideContext *models.RideContext) (*models.Emergency, bool, error)

	// Transition moves an emergency along one edge of the status graph and
	// appends the status_change timeline event atomically with the write.
	Transition(ctx context.Context, id primitive.ObjectID, to models.EmergencyStatus, actor, detail string) (*models.Emergency, error)

	AssignResponder(ctx context.Context, id, responderID primitive.ObjectID, actor string) (*models.Emergency, error)
	UnassignResponder(ctx context.Context, id, responderID primitive.ObjectID, actor string) (*models.Emergency, error)

	// RecordEvent appends a non-transition timeline event (dispatch,
	// escalation) and rebroadcasts it.
	RecordEvent(ctx context.Context, id primitive.ObjectID, eventType models.TimelineEventType, actor, detail string) (*models.Emergency, error)

	Get(ctx context.Context, id primitive.ObjectID) (*models.Emergency, error)
}

type stateMachine struct {
	repo     interfaces.EmergencyRepository
	hub      *realtime.Hub
	notifier Notifier
	cache    *cache.RedisCache
	config   *config.SOSConfig
	locks    *LockTable
	logger   *logger.Logger
}

// NewStateMachine builds the state machine. The lock table must be the same
// instance handed to the location relay, so every in-process mutation of an
// emergency serializes on one mutex.
func NewStateMachine(
	repo interfaces.EmergencyRepository,
	hub *realtime.Hub,
	notifier Notifier,
	cacheService *cache.RedisCache,
	locks *LockTable,
	cfg *config.SOSConfig,
	log *logger.Logger,
) StateMachine {
	return &stateMachine{
		repo:     repo,
		hub:      hub,
		notifier: notifier,
		cache:    cacheService,
		config:   cfg,
		locks:    locks,
		logger:   log,
	}
}

func (s *stateMachine) Trigger(ctx context.Context, reporterID primitive.ObjectID, emergencyType models.EmergencyType, sample *models.LocationSample, rideContext *models.RideContext) (*models.Emergency, bool, error) {
	rideID := primitive.NilObjectID
	if rideContext != nil {
		rideID = rideContext.RideID
	}

	unlock := s.locks.Lock("trigger:" + reporterID.Hex() + ":" + rideID.Hex())
	defer unlock()

	// Cross-process guard; the in-process lock only covers this instance.
	if s.cache != nil {
		lockKey := fmt.Sprintf("sos:trigger:%s:%s", reporterID.Hex(), rideID.Hex())
		if acquired, err := s.cache.SetNX(ctx, lockKey, 1, s.config.TriggerLockTTL); err == nil && !acquired {
			if existing, err := s.repo.GetActiveByReporter(ctx, reporterID, rideID); err == nil {
				return existing, true, nil
			}
		}
	}

	if existing, err := s.repo.GetActiveByReporter(ctx, reporterID, rideID); err == nil {
		return existing, true, nil
	} else if err != models.ErrEmergencyNotFound {
		return nil, false, err
	}

	now := time.Now()
	if sample != nil && sample.Accuracy > s.config.AccuracyThresholdMeters {
		sample.LowAccuracy = true
	}

	emergency := &models.Emergency{
		ID:           primitive.NewObjectID(),
		ReporterID:   reporterID,
		RideContext:  rideContext,
		Type:         emergencyType,
		Status:       models.EmergencyStatusActive,
		LastLocation: sample,
		Timeline: []models.TimelineEvent{{
			Type:      models.TimelineEventCreated,
			Actor:     reporterID.Hex(),
			Timestamp: now,
			Detail:    string(emergencyType),
		}},
		Responders: []primitive.ObjectID{},
	}

	if err := s.repo.Create(ctx, emergency); err != nil {
		if err == models.ErrDuplicateActiveEmergency {
			// Lost the cross-process race; the winner's record is the answer.
			if existing, lookupErr := s.repo.GetActiveByReporter(ctx, reporterID, rideID); lookupErr == nil {
				return existing, true, nil
			}
		}
		return nil, false, err
	}

	s.hub.OpenTopic(emergency.ID)
	s.hub.PublishTimelineEvent(emergency.ID, emergency.Status, emergency.Timeline[0])

	s.notifier.Notify(&models.NotificationEvent{
		EmergencyID: emergency.ID,
		Kind:        models.NotificationKindTriggered,
		Priority:    models.NotificationPriorityHigh,
		Payload: map[string]string{
			"type":     string(emergencyType),
			"reporter": reporterID.Hex(),
		},
	})

	s.logger.WithEmergencyID(emergency.ID).WithUserID(reporterID).
		Infof("Emergency triggered: %s", emergencyType)

	return emergency, false, nil
}

func (s *stateMachine) Transition(ctx context.Context, id primitive.ObjectID, to models.EmergencyStatus, actor, detail string) (*models.Emergency, error) {
	unlock := s.locks.Lock(id.Hex())
	defer unlock()

	emergency, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if emergency.IsTerminal() {
		return nil, models.ErrEmergencyAlreadyTerminal
	}
	if !transitionAllowed(emergency.Status, to) {
		return nil, models.ErrInvalidTransition
	}

	now := time.Now()
	event := models.TimelineEvent{
		Type:      models.TimelineEventStatusChange,
		Actor:     actor,
		Timestamp: now,
		Detail:    fmt.Sprintf("%s -> %s", emergency.Status, to),
	}

	updates := map[string]interface{}{}
	if to == models.EmergencyStatusResolved {
		updates["resolution"] = &models.Resolution{
			Detail:     detail,
			ResolvedBy: actor,
			ResolvedAt: now,
		}
	}

	ok, err := s.repo.UpdateStatus(ctx, id, []models.EmergencyStatus{emergency.Status}, to, event, updates)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Another writer won between the read and the conditional write.
		current, rereadErr := s.repo.GetByID(ctx, id)
		if rereadErr != nil {
			return nil, rereadErr
		}
		if current.IsTerminal() {
			return nil, models.ErrEmergencyAlreadyTerminal
		}
		return nil, models.ErrInvalidTransition
	}

	s.hub.PublishTimelineEvent(id, to, event)
	if to == models.EmergencyStatusResolved || to == models.EmergencyStatusCancelled {
		s.hub.CloseTopic(id)
	}

	s.notifier.Notify(&models.NotificationEvent{
		EmergencyID: id,
		Kind:        notificationKindForStatus(to),
		Priority:    models.NotificationPriorityNormal,
		Payload: map[string]string{
			"status": string(to),
			"actor":  actor,
			"detail": detail,
		},
	})

	s.logger.WithEmergencyID(id).Infof("Emergency transitioned to %s by %s", to, actor)

	return s.repo.GetByID(ctx, id)
}

func (s *stateMachine) AssignResponder(ctx context.Context, id, responderID primitive.ObjectID, actor string) (*models.Emergency, error) {
	unlock := s.locks.Lock(id.Hex())
	defer unlock()

	emergency, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if emergency.IsTerminal() {
		return nil, models.ErrEmergencyAlreadyTerminal
	}

	event := models.TimelineEvent{
		Type:      models.TimelineEventResponderAssigned,
		Actor:     actor,
		Timestamp: time.Now(),
		Detail:    responderID.Hex(),
	}

	changed, err := s.repo.AddResponder(ctx, id, responderID, event)
	if err != nil {
		return nil, err
	}

	if changed {
		s.hub.PublishTimelineEvent(id, emergency.Status, event)
		s.notifier.Notify(&models.NotificationEvent{
			EmergencyID: id,
			Kind:        models.NotificationKindResponder,
			Priority:    models.NotificationPriorityNormal,
			Payload:     map[string]string{"responder": responderID.Hex(), "assigned": "true"},
		})
	}

	return s.repo.GetByID(ctx, id)
}

func (s *stateMachine) UnassignResponder(ctx context.Context, id, responderID primitive.ObjectID, actor string) (*models.Emergency, error) {
	unlock := s.locks.Lock(id.Hex())
	defer unlock()

	emergency, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if emergency.IsTerminal() {
		return nil, models.ErrEmergencyAlreadyTerminal
	}

	event := models.TimelineEvent{
		Type:      models.TimelineEventResponderUnassigned,
		Actor:     actor,
		Timestamp: time.Now(),
		Detail:    responderID.Hex(),
	}

	changed, err := s.repo.RemoveResponder(ctx, id, responderID, event)
	if err != nil {
		return nil, err
	}

	if changed {
		s.hub.PublishTimelineEvent(id, emergency.Status, event)
	}

	return s.repo.GetByID(ctx, id)
}

func (s *stateMachine) RecordEvent(ctx context.Context, id primitive.ObjectID, eventType models.TimelineEventType, actor, detail string) (*models.Emergency, error) {
	unlock := s.locks.Lock(id.Hex())
	defer unlock()

	emergency, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if emergency.IsTerminal() {
		return nil, models.ErrEmergencyAlreadyTerminal
	}

	event := models.TimelineEvent{
		Type:      eventType,
		Actor:     actor,
		Timestamp: time.Now(),
		Detail:    detail,
	}

	if err := s.repo.AppendTimeline(ctx, id, event); err != nil {
		return nil, err
	}

	s.hub.PublishTimelineEvent(id, emergency.Status, event)

	return s.repo.GetByID(ctx, id)
}

func (s *stateMachine) Get(ctx context.Context, id primitive.ObjectID) (*models.Emergency, error) {
	return s.repo.GetByID(ctx, id)
}

func notificationKindForStatus(status models.EmergencyStatus) models.NotificationKind {
	switch status {
	case models.EmergencyStatusResolved:
		return models.NotificationKindResolved
	case models.EmergencyStatusCancelled:
		return models.NotificationKindCancelled
	default:
		return models.NotificationKindStatus
	}
}
