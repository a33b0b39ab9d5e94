package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"goride-sos/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestTriggerCreatesActiveEmergency(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	reporterID := primitive.NewObjectID()

	emergency, existing, err := env.sm.Trigger(ctx, reporterID, models.EmergencyTypeMedical, &models.LocationSample{
		Latitude:  48.8566,
		Longitude: 2.3522,
		Accuracy:  10,
		Timestamp: time.Now(),
	}, nil)

	require.NoError(t, err)
	assert.False(t, existing)
	assert.Equal(t, models.EmergencyStatusActive, emergency.Status)
	assert.Equal(t, reporterID, emergency.ReporterID)
	require.NotEmpty(t, emergency.Timeline)
	assert.Equal(t, models.TimelineEventCreated, emergency.Timeline[0].Type)
	assert.True(t, env.hub.HasTopic(emergency.ID))
	assert.True(t, env.notifier.hasKind(models.NotificationKindTriggered))
}

func TestTriggerIsIdempotentPerRide(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	reporterID := primitive.NewObjectID()
	ride := &models.RideContext{RideID: primitive.NewObjectID()}

	first, existing, err := env.sm.Trigger(ctx, reporterID, models.EmergencyTypeAccident, nil, ride)
	require.NoError(t, err)
	assert.False(t, existing)

	second, existing, err := env.sm.Trigger(ctx, reporterID, models.EmergencyTypeAccident, nil, ride)
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, first.ID, second.ID)

	// A different ride is a different incident.
	other, existing, err := env.sm.Trigger(ctx, reporterID, models.EmergencyTypeAccident, nil, &models.RideContext{RideID: primitive.NewObjectID()})
	require.NoError(t, err)
	assert.False(t, existing)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestTriggerFlagsLowAccuracySample(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	emergency, _, err := env.sm.Trigger(ctx, primitive.NewObjectID(), models.EmergencyTypeOther, &models.LocationSample{
		Latitude:  0,
		Longitude: 0,
		Accuracy:  350,
		Timestamp: time.Now(),
	}, nil)

	require.NoError(t, err)
	require.NotNil(t, emergency.LastLocation)
	assert.True(t, emergency.LastLocation.LowAccuracy)
}

func TestTransitionFollowsStatusGraph(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	emergency := env.trigger(ctx, primitive.NewObjectID())

	updated, err := env.sm.Transition(ctx, emergency.ID, models.EmergencyStatusResponding, "op-1", "on it")
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusResponding, updated.Status)
	assert.Equal(t, 1, countTimeline(updated, models.TimelineEventStatusChange))

	// RESPONDING -> RESPONDING is not an edge.
	_, err = env.sm.Transition(ctx, emergency.ID, models.EmergencyStatusResponding, "op-1", "again")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	updated, err = env.sm.Transition(ctx, emergency.ID, models.EmergencyStatusResolved, "op-1", "rider safe")
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusResolved, updated.Status)
	require.NotNil(t, updated.Resolution)
	assert.Equal(t, "rider safe", updated.Resolution.Detail)
	assert.Equal(t, "op-1", updated.Resolution.ResolvedBy)
}

func TestTerminalStatusIsAbsorbing(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	emergency := env.trigger(ctx, primitive.NewObjectID())

	_, err := env.sm.Transition(ctx, emergency.ID, models.EmergencyStatusCancelled, "rider", "false alarm")
	require.NoError(t, err)

	for _, to := range []models.EmergencyStatus{
		models.EmergencyStatusActive,
		models.EmergencyStatusResponding,
		models.EmergencyStatusResolved,
		models.EmergencyStatusCancelled,
	} {
		_, err := env.sm.Transition(ctx, emergency.ID, to, "op-1", "")
		assert.ErrorIs(t, err, models.ErrEmergencyAlreadyTerminal, "transition to %s", to)
	}

	_, err = env.sm.RecordEvent(ctx, emergency.ID, models.TimelineEventEscalated, "op-1", "")
	assert.ErrorIs(t, err, models.ErrEmergencyAlreadyTerminal)
}

func TestConcurrentAcknowledgeHasOneWinner(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	emergency := env.trigger(ctx, primitive.NewObjectID())

	const operators = 8
	var wg sync.WaitGroup
	results := make(chan error, operators)

	for i := 0; i < operators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.sm.Transition(ctx, emergency.ID, models.EmergencyStatusResponding, "op", "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, models.ErrInvalidTransition)
		}
	}
	assert.Equal(t, 1, winners)

	final, err := env.sm.Get(ctx, emergency.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countTimeline(final, models.TimelineEventStatusChange))
}

func TestTerminalTransitionTearsDownTopic(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	emergency := env.trigger(ctx, primitive.NewObjectID())

	_, err := env.sm.Transition(ctx, emergency.ID, models.EmergencyStatusResolved, "op-1", "done")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return !env.hub.HasTopic(emergency.ID)
	}, time.Second, 5*time.Millisecond)
}

func TestAssignResponderOnce(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	emergency := env.trigger(ctx, primitive.NewObjectID())
	responderID := primitive.NewObjectID()

	updated, err := env.sm.AssignResponder(ctx, emergency.ID, responderID, "op-1")
	require.NoError(t, err)
	assert.True(t, updated.HasResponder(responderID))

	// Assigning the same responder again is a no-op.
	updated, err = env.sm.AssignResponder(ctx, emergency.ID, responderID, "op-1")
	require.NoError(t, err)
	assert.Len(t, updated.Responders, 1)
	assert.Equal(t, 1, countTimeline(updated, models.TimelineEventResponderAssigned))

	updated, err = env.sm.UnassignResponder(ctx, emergency.ID, responderID, "op-1")
	require.NoError(t, err)
	assert.False(t, updated.HasResponder(responderID))
}

func TestTransitionUnknownEmergency(t *testing.T) {
	env := newTestEnv()

	_, err := env.sm.Transition(context.Background(), primitive.NewObjectID(), models.EmergencyStatusResponding, "op-1", "")
	assert.ErrorIs(t, err, models.ErrEmergencyNotFound)
}
