package services

import (
	"context"
	"testing"

	"goride-sos/internal/models"
	"goride-sos/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newTestCoordinator(env *testEnv) ResponseCoordinator {
	return NewResponseCoordinator(env.sm, env.notifier, logger.NewNopLogger())
}

func TestAcknowledgeMovesToResponding(t *testing.T) {
	env := newTestEnv()
	coordinator := newTestCoordinator(env)
	ctx := context.Background()
	emergency := env.trigger(ctx, primitive.NewObjectID())

	updated, err := coordinator.Acknowledge(ctx, emergency.ID, primitive.NewObjectID())
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusResponding, updated.Status)
}

func TestResolveRequiresDetail(t *testing.T) {
	env := newTestEnv()
	coordinator := newTestCoordinator(env)
	ctx := context.Background()
	emergency := env.trigger(ctx, primitive.NewObjectID())

	_, err := coordinator.Resolve(ctx, emergency.ID, primitive.NewObjectID(), "")
	assert.ErrorIs(t, err, models.ErrResolutionRequired)

	_, err = coordinator.Resolve(ctx, emergency.ID, primitive.NewObjectID(), "   ")
	assert.ErrorIs(t, err, models.ErrResolutionRequired)

	updated, err := coordinator.Resolve(ctx, emergency.ID, primitive.NewObjectID(), "rider confirmed safe")
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusResolved, updated.Status)
	require.NotNil(t, updated.Resolution)
	assert.Equal(t, "rider confirmed safe", updated.Resolution.Detail)
}

func TestDispatchHelpKeepsStatus(t *testing.T) {
	env := newTestEnv()
	coordinator := newTestCoordinator(env)
	ctx := context.Background()
	emergency := env.trigger(ctx, primitive.NewObjectID())

	updated, err := coordinator.DispatchHelp(ctx, emergency.ID, primitive.NewObjectID(), "police notified")
	require.NoError(t, err)

	assert.Equal(t, models.EmergencyStatusActive, updated.Status)
	assert.Equal(t, 1, countTimeline(updated, models.TimelineEventHelpDispatched))
	assert.True(t, env.notifier.hasKind(models.NotificationKindDispatched))
}

func TestEscalateNotifiesHighPriority(t *testing.T) {
	env := newTestEnv()
	coordinator := newTestCoordinator(env)
	ctx := context.Background()
	emergency := env.trigger(ctx, primitive.NewObjectID())

	updated, err := coordinator.Escalate(ctx, emergency.ID, primitive.NewObjectID(), "no response from rider")
	require.NoError(t, err)

	assert.Equal(t, models.EmergencyStatusActive, updated.Status)
	assert.Equal(t, 1, countTimeline(updated, models.TimelineEventEscalated))

	found := false
	for _, event := range env.notifier.events {
		if event.Kind == models.NotificationKindEscalated {
			found = true
			assert.Equal(t, models.NotificationPriorityHigh, event.Priority)
		}
	}
	assert.True(t, found)
}

func TestCancelRecordsActor(t *testing.T) {
	env := newTestEnv()
	coordinator := newTestCoordinator(env)
	ctx := context.Background()
	reporterID := primitive.NewObjectID()
	emergency := env.trigger(ctx, reporterID)

	updated, err := coordinator.Cancel(ctx, emergency.ID, reporterID.Hex(), "accidental trigger")
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusCancelled, updated.Status)

	last := updated.Timeline[len(updated.Timeline)-1]
	assert.Equal(t, models.TimelineEventStatusChange, last.Type)
	assert.Equal(t, reporterID.Hex(), last.Actor)
}

func TestOperatorOpsOnTerminalEmergency(t *testing.T) {
	env := newTestEnv()
	coordinator := newTestCoordinator(env)
	ctx := context.Background()
	emergency := env.trigger(ctx, primitive.NewObjectID())
	operatorID := primitive.NewObjectID()

	_, err := coordinator.Resolve(ctx, emergency.ID, operatorID, "done")
	require.NoError(t, err)

	_, err = coordinator.Acknowledge(ctx, emergency.ID, operatorID)
	assert.ErrorIs(t, err, models.ErrEmergencyAlreadyTerminal)

	_, err = coordinator.DispatchHelp(ctx, emergency.ID, operatorID, "")
	assert.ErrorIs(t, err, models.ErrEmergencyAlreadyTerminal)

	_, err = coordinator.Escalate(ctx, emergency.ID, operatorID, "")
	assert.ErrorIs(t, err, models.ErrEmergencyAlreadyTerminal)

	_, err = coordinator.AssignResponder(ctx, emergency.ID, operatorID, primitive.NewObjectID())
	assert.ErrorIs(t, err, models.ErrEmergencyAlreadyTerminal)

	_, err = coordinator.Cancel(ctx, emergency.ID, operatorID.Hex(), "")
	assert.ErrorIs(t, err, models.ErrEmergencyAlreadyTerminal)
}
