package services

import (
	"context"
	"strings"

	"goride-sos/internal/models"
	"goride-sos/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ResponseCoordinator is the operator-facing surface. Each operation
// validates operator intent and delegates to the state machine; dispatch
// and escalation notify without changing status. Every operation on an
// already-terminal emergency fails with ErrEmergencyAlreadyTerminal.
type ResponseCoordinator interface {
	Acknowledge(ctx context.Context, id, operatorID primitive.ObjectID) (*models.Emergency, error)
	AssignResponder(ctx context.Context, id, operatorID, responderID primitive.ObjectID) (*models.Emergency, error)
	UnassignResponder(ctx context.Context, id, operatorID, responderID primitive.ObjectID) (*models.Emergency, error)
	DispatchHelp(ctx context.Context, id, operatorID primitive.ObjectID, detail string) (*models.Emergency, error)
	Escalate(ctx context.Context, id, operatorID primitive.ObjectID, detail string) (*models.Emergency, error)
	Resolve(ctx context.Context, id, operatorID primitive.ObjectID, detail string) (*models.Emergency, error)
	Cancel(ctx context.Context, id primitive.ObjectID, actor string, detail string) (*models.Emergency, error)
}

type responseCoordinator struct {
	stateMachine StateMachine
	notifier     Notifier
	logger       *logger.Logger
}

func NewResponseCoordinator(stateMachine StateMachine, notifier Notifier, log *logger.Logger) ResponseCoordinator {
	return &responseCoordinator{
		stateMachine: stateMachine,
		notifier:     notifier,
		logger:       log,
	}
}

func (c *responseCoordinator) Acknowledge(ctx context.Context, id, operatorID primitive.ObjectID) (*models.Emergency, error) {
	return c.stateMachine.Transition(ctx, id, models.EmergencyStatusResponding, operatorID.Hex(), "acknowledged")
}

func (c *responseCoordinator) AssignResponder(ctx context.Context, id, operatorID, responderID primitive.ObjectID) (*models.Emergency, error) {
	return c.stateMachine.AssignResponder(ctx, id, responderID, operatorID.Hex())
}

func (c *responseCoordinator) UnassignResponder(ctx context.Context, id, operatorID, responderID primitive.ObjectID) (*models.Emergency, error) {
	return c.stateMachine.UnassignResponder(ctx, id, responderID, operatorID.Hex())
}

// DispatchHelp notifies the external emergency services contact list. It
// does not change status; an emergency can stay ACTIVE while help is on
// the way.
func (c *responseCoordinator) DispatchHelp(ctx context.Context, id, operatorID primitive.ObjectID, detail string) (*models.Emergency, error) {
	emergency, err := c.stateMachine.RecordEvent(ctx, id, models.TimelineEventHelpDispatched, operatorID.Hex(), detail)
	if err != nil {
		return nil, err
	}

	c.notifier.Notify(&models.NotificationEvent{
		EmergencyID: id,
		Kind:        models.NotificationKindDispatched,
		Priority:    models.NotificationPriorityHigh,
		Payload:     map[string]string{"detail": detail},
	})

	return emergency, nil
}

func (c *responseCoordinator) Escalate(ctx context.Context, id, operatorID primitive.ObjectID, detail string) (*models.Emergency, error) {
	emergency, err := c.stateMachine.RecordEvent(ctx, id, models.TimelineEventEscalated, operatorID.Hex(), detail)
	if err != nil {
		return nil, err
	}

	c.notifier.Notify(&models.NotificationEvent{
		EmergencyID: id,
		Kind:        models.NotificationKindEscalated,
		Priority:    models.NotificationPriorityHigh,
		Payload:     map[string]string{"detail": detail},
	})

	return emergency, nil
}

func (c *responseCoordinator) Resolve(ctx context.Context, id, operatorID primitive.ObjectID, detail string) (*models.Emergency, error) {
	if strings.TrimSpace(detail) == "" {
		return nil, models.ErrResolutionRequired
	}

	return c.stateMachine.Transition(ctx, id, models.EmergencyStatusResolved, operatorID.Hex(), detail)
}

// Cancel accepts both reporter- and operator-initiated cancellation; the
// actor lands on the timeline either way.
func (c *responseCoordinator) Cancel(ctx context.Context, id primitive.ObjectID, actor string, detail string) (*models.Emergency, error) {
	return c.stateMachine.Transition(ctx, id, models.EmergencyStatusCancelled, actor, detail)
}
