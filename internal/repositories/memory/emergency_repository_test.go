package memory

import (
	"context"
	"testing"
	"time"

	"goride-sos/internal/models"
	"goride-sos/internal/repositories/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newEmergency(reporterID primitive.ObjectID, status models.EmergencyStatus) *models.Emergency {
	return &models.Emergency{
		ReporterID: reporterID,
		Type:       models.EmergencyTypeAccident,
		Status:     status,
		Timeline: []models.TimelineEvent{{
			Type:      models.TimelineEventCreated,
			Actor:     reporterID.Hex(),
			Timestamp: time.Now(),
		}},
	}
}

func mustCreate(t *testing.T, repo interfaces.EmergencyRepository, emergency *models.Emergency) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), emergency))
}

func TestCreateRejectsSecondActiveEmergency(t *testing.T) {
	repo := NewEmergencyRepository()
	ctx := context.Background()
	reporterID := primitive.NewObjectID()

	mustCreate(t, repo, newEmergency(reporterID, models.EmergencyStatusActive))

	err := repo.Create(ctx, newEmergency(reporterID, models.EmergencyStatusActive))
	assert.ErrorIs(t, err, models.ErrDuplicateActiveEmergency)

	// A different reporter is unaffected.
	assert.NoError(t, repo.Create(ctx, newEmergency(primitive.NewObjectID(), models.EmergencyStatusActive)))
}

func TestCreateAllowedAfterTerminal(t *testing.T) {
	repo := NewEmergencyRepository()
	ctx := context.Background()
	reporterID := primitive.NewObjectID()

	first := newEmergency(reporterID, models.EmergencyStatusActive)
	mustCreate(t, repo, first)

	ok, err := repo.UpdateStatus(ctx, first.ID, []models.EmergencyStatus{models.EmergencyStatusActive},
		models.EmergencyStatusResolved, models.TimelineEvent{Type: models.TimelineEventStatusChange}, nil)
	require.NoError(t, err)
	require.True(t, ok)

	assert.NoError(t, repo.Create(ctx, newEmergency(reporterID, models.EmergencyStatusActive)))
}

func TestUpdateStatusIsConditional(t *testing.T) {
	repo := NewEmergencyRepository()
	ctx := context.Background()

	emergency := newEmergency(primitive.NewObjectID(), models.EmergencyStatusActive)
	mustCreate(t, repo, emergency)

	// Precondition mismatch: expecting RESPONDING while the document is
	// ACTIVE must be a clean no-op with no timeline append.
	ok, err := repo.UpdateStatus(ctx, emergency.ID, []models.EmergencyStatus{models.EmergencyStatusResponding},
		models.EmergencyStatusResolved, models.TimelineEvent{Type: models.TimelineEventStatusChange}, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.GetByID(ctx, emergency.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusActive, stored.Status)
	assert.Len(t, stored.Timeline, 1)

	resolution := &models.Resolution{Detail: "safe", ResolvedBy: "op-1", ResolvedAt: time.Now()}
	ok, err = repo.UpdateStatus(ctx, emergency.ID, []models.EmergencyStatus{models.EmergencyStatusActive},
		models.EmergencyStatusResolved, models.TimelineEvent{Type: models.TimelineEventStatusChange},
		map[string]interface{}{"resolution": resolution})
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err = repo.GetByID(ctx, emergency.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusResolved, stored.Status)
	assert.Len(t, stored.Timeline, 2)
	require.NotNil(t, stored.Resolution)
	assert.Equal(t, "safe", stored.Resolution.Detail)
}

func TestUpdateLocationEnforcesMonotonicity(t *testing.T) {
	repo := NewEmergencyRepository()
	ctx := context.Background()

	emergency := newEmergency(primitive.NewObjectID(), models.EmergencyStatusActive)
	mustCreate(t, repo, emergency)

	base := time.Now()
	ok, err := repo.UpdateLocation(ctx, emergency.ID, &models.LocationSample{Latitude: 1, Longitude: 1, Timestamp: base}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateLocation(ctx, emergency.ID, &models.LocationSample{Latitude: 2, Longitude: 2, Timestamp: base.Add(-time.Second)}, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.GetByID(ctx, emergency.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(1), stored.LastLocation.Latitude)
}

func TestUpdateLocationRejectsTerminal(t *testing.T) {
	repo := NewEmergencyRepository()
	ctx := context.Background()

	emergency := newEmergency(primitive.NewObjectID(), models.EmergencyStatusCancelled)
	mustCreate(t, repo, emergency)

	ok, err := repo.UpdateLocation(ctx, emergency.ID, &models.LocationSample{Timestamp: time.Now()}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetActiveByReporterScopedToRide(t *testing.T) {
	repo := NewEmergencyRepository()
	ctx := context.Background()
	reporterID := primitive.NewObjectID()
	rideID := primitive.NewObjectID()

	withRide := newEmergency(reporterID, models.EmergencyStatusActive)
	withRide.RideContext = &models.RideContext{RideID: rideID}
	mustCreate(t, repo, withRide)

	found, err := repo.GetActiveByReporter(ctx, reporterID, rideID)
	require.NoError(t, err)
	assert.Equal(t, withRide.ID, found.ID)

	_, err = repo.GetActiveByReporter(ctx, reporterID, primitive.NilObjectID)
	assert.ErrorIs(t, err, models.ErrEmergencyNotFound)
}

func TestResponderMutationsAreIdempotent(t *testing.T) {
	repo := NewEmergencyRepository()
	ctx := context.Background()

	emergency := newEmergency(primitive.NewObjectID(), models.EmergencyStatusActive)
	mustCreate(t, repo, emergency)
	responderID := primitive.NewObjectID()
	event := models.TimelineEvent{Type: models.TimelineEventResponderAssigned, Timestamp: time.Now()}

	ok, err := repo.AddResponder(ctx, emergency.ID, responderID, event)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.AddResponder(ctx, emergency.ID, responderID, event)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.RemoveResponder(ctx, emergency.ID, responderID, event)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.RemoveResponder(ctx, emergency.ID, responderID, event)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListStaleSkipsTerminalAndRecent(t *testing.T) {
	repo := NewEmergencyRepository()
	ctx := context.Background()

	active := newEmergency(primitive.NewObjectID(), models.EmergencyStatusActive)
	mustCreate(t, repo, active)

	resolved := newEmergency(primitive.NewObjectID(), models.EmergencyStatusResolved)
	mustCreate(t, repo, resolved)

	// Zero cutoff: anything already created counts as stale unless it has a
	// location fix newer than the cutoff.
	stale, err := repo.ListStale(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, active.ID, stale[0].ID)

	ok, err := repo.UpdateLocation(ctx, active.ID, &models.LocationSample{Timestamp: time.Now().Add(time.Minute)}, nil)
	require.NoError(t, err)
	require.True(t, ok)

	stale, err = repo.ListStale(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestListStaleExcludesAcknowledged(t *testing.T) {
	repo := NewEmergencyRepository()
	ctx := context.Background()

	responding := newEmergency(primitive.NewObjectID(), models.EmergencyStatusResponding)
	mustCreate(t, repo, responding)

	// An acknowledged emergency is never stale regardless of how long the
	// device has been silent; the operator owns it now.
	stale, err := repo.ListStale(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, stale)
}
