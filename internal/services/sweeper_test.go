package services

import (
	"context"
	"testing"
	"time"

	"goride-sos/internal/models"
	"goride-sos/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestSweepCancelsSilentEmergencies(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	emergency := env.trigger(ctx, primitive.NewObjectID())

	// Zero cutoff makes everything without recent activity stale.
	env.config.AutoCancelAfter = 0
	sweeper := NewSweeper(env.repo, env.sm, env.config, logger.NewNopLogger())
	sweeper.sweep(ctx)

	stored, err := env.repo.GetByID(ctx, emergency.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusCancelled, stored.Status)

	last := stored.Timeline[len(stored.Timeline)-1]
	assert.Equal(t, models.TimelineEventAutoCancelled, last.Type)
	assert.Equal(t, models.SystemActor, last.Actor)
	assert.Equal(t, 1, countTimeline(stored, models.TimelineEventStatusChange))
}

func TestSweepLeavesAcknowledgedEmergenciesAlone(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	emergency := env.trigger(ctx, primitive.NewObjectID())

	_, err := env.sm.Transition(ctx, emergency.ID, models.EmergencyStatusResponding, "op-1", "")
	require.NoError(t, err)

	// Even with everything past the cutoff, an emergency an operator has
	// acknowledged must survive the sweep.
	env.config.AutoCancelAfter = 0
	sweeper := NewSweeper(env.repo, env.sm, env.config, logger.NewNopLogger())
	sweeper.sweep(ctx)

	stored, err := env.repo.GetByID(ctx, emergency.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusResponding, stored.Status)
	assert.Equal(t, 0, countTimeline(stored, models.TimelineEventAutoCancelled))
}

func TestSweepSkipsRecentlyActiveEmergencies(t *testing.T) {
	env := newTestEnv()
	relay := newTestRelay(env)
	ctx := context.Background()

	quiet := env.trigger(ctx, primitive.NewObjectID())
	talking := env.trigger(ctx, primitive.NewObjectID())
	require.NoError(t, relay.ReportLocation(ctx, talking.ID, sampleAt(time.Now().Add(time.Second))))

	sweeper := NewSweeper(env.repo, env.sm, env.config, logger.NewNopLogger())
	sweeper.sweep(ctx)

	// The default cutoff is far in the past relative to both, so neither
	// gets swept.
	for _, id := range []primitive.ObjectID{quiet.ID, talking.ID} {
		stored, err := env.repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.EmergencyStatusActive, stored.Status)
	}
}
