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

func newTestRelay(env *testEnv) LocationRelay {
	return NewLocationRelay(env.repo, env.hub, env.locks, env.config, logger.NewNopLogger())
}

func sampleAt(ts time.Time) *models.LocationSample {
	return &models.LocationSample{
		Latitude:  52.5200,
		Longitude: 13.4050,
		Accuracy:  10,
		Timestamp: ts,
	}
}

func TestReportLocationUpdatesLastLocation(t *testing.T) {
	env := newTestEnv()
	relay := newTestRelay(env)
	ctx := context.Background()
	emergency := env.trigger(ctx, primitive.NewObjectID())

	ts := time.Now().Add(time.Second)
	require.NoError(t, relay.ReportLocation(ctx, emergency.ID, sampleAt(ts)))

	stored, err := env.repo.GetByID(ctx, emergency.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLocation)
	assert.True(t, stored.LastLocation.Timestamp.Equal(ts))
}

func TestStaleSampleIsDroppedSilently(t *testing.T) {
	env := newTestEnv()
	relay := newTestRelay(env)
	ctx := context.Background()
	emergency := env.trigger(ctx, primitive.NewObjectID())

	newer := time.Now().Add(10 * time.Second)
	older := newer.Add(-5 * time.Second)

	require.NoError(t, relay.ReportLocation(ctx, emergency.ID, sampleAt(newer)))
	// A retried request delivering an older fix must not move the position
	// backwards, and must not error either.
	require.NoError(t, relay.ReportLocation(ctx, emergency.ID, sampleAt(older)))

	stored, err := env.repo.GetByID(ctx, emergency.ID)
	require.NoError(t, err)
	assert.True(t, stored.LastLocation.Timestamp.Equal(newer))
}

func TestLowAccuracySampleIsFlaggedNotRejected(t *testing.T) {
	env := newTestEnv()
	relay := newTestRelay(env)
	ctx := context.Background()
	emergency := env.trigger(ctx, primitive.NewObjectID())

	sample := sampleAt(time.Now().Add(time.Second))
	sample.Accuracy = 500

	require.NoError(t, relay.ReportLocation(ctx, emergency.ID, sample))

	stored, err := env.repo.GetByID(ctx, emergency.ID)
	require.NoError(t, err)
	assert.True(t, stored.LastLocation.LowAccuracy)
}

func TestTimelineEntriesAreThrottled(t *testing.T) {
	env := newTestEnv()
	relay := newTestRelay(env)
	ctx := context.Background()
	emergency := env.trigger(ctx, primitive.NewObjectID())

	base := time.Now()
	for i := 1; i <= 5; i++ {
		require.NoError(t, relay.ReportLocation(ctx, emergency.ID, sampleAt(base.Add(time.Duration(i)*time.Second))))
	}

	stored, err := env.repo.GetByID(ctx, emergency.ID)
	require.NoError(t, err)
	// The throttle interval is an hour in tests, so only the first sample
	// lands on the timeline; all five still update last_location.
	assert.Equal(t, 1, countTimeline(stored, models.TimelineEventLocationUpdated))
	assert.True(t, stored.LastLocation.Timestamp.Equal(base.Add(5*time.Second)))
}

func TestReportLocationOnTerminalEmergency(t *testing.T) {
	env := newTestEnv()
	relay := newTestRelay(env)
	ctx := context.Background()
	emergency := env.trigger(ctx, primitive.NewObjectID())

	_, err := env.sm.Transition(ctx, emergency.ID, models.EmergencyStatusResolved, "op-1", "safe")
	require.NoError(t, err)

	err = relay.ReportLocation(ctx, emergency.ID, sampleAt(time.Now().Add(time.Minute)))
	assert.ErrorIs(t, err, models.ErrEmergencyNotTrackable)
}

func TestReportLocationUnknownEmergency(t *testing.T) {
	env := newTestEnv()
	relay := newTestRelay(env)

	err := relay.ReportLocation(context.Background(), primitive.NewObjectID(), sampleAt(time.Now()))
	assert.ErrorIs(t, err, models.ErrEmergencyNotFound)
}
