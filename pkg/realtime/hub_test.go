package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"goride-sos/internal/models"
	"goride-sos/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// storeStub is a minimal snapshot source backed by a map.
type storeStub struct {
	mu          sync.Mutex
	emergencies map[primitive.ObjectID]*models.Emergency
}

func newStoreStub() *storeStub {
	return &storeStub{emergencies: make(map[primitive.ObjectID]*models.Emergency)}
}

func (s *storeStub) add(status models.EmergencyStatus) primitive.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := primitive.NewObjectID()
	s.emergencies[id] = &models.Emergency{
		ID:         id,
		ReporterID: primitive.NewObjectID(),
		Type:       models.EmergencyTypeAccident,
		Status:     status,
	}
	return id
}

func (s *storeStub) snapshot(ctx context.Context, id primitive.ObjectID) (*models.Emergency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	emergency, ok := s.emergencies[id]
	if !ok {
		return nil, models.ErrEmergencyNotFound
	}
	clone := *emergency
	return &clone, nil
}

func newTestHub(store *storeStub, grace time.Duration) *Hub {
	return NewHub(store.snapshot, grace, 16, logger.NewNopLogger())
}

func receive(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.C:
		require.True(t, ok, "subscription channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestSubscribeDeliversSnapshotFirst(t *testing.T) {
	store := newStoreStub()
	hub := newTestHub(store, time.Minute)
	id := store.add(models.EmergencyStatusActive)
	hub.OpenTopic(id)

	sub, err := hub.Subscribe(context.Background(), id, primitive.NewObjectID())
	require.NoError(t, err)
	defer sub.Close()

	hub.PublishTimelineEvent(id, models.EmergencyStatusActive, models.TimelineEvent{
		Type:  models.TimelineEventEscalated,
		Actor: "op-1",
	})

	first := receive(t, sub)
	assert.Equal(t, MessageSnapshot, first.Type)
	require.NotNil(t, first.Snapshot)
	assert.Equal(t, id, first.Snapshot.ID)

	second := receive(t, sub)
	assert.Equal(t, MessageTimelineEvent, second.Type)
	require.NotNil(t, second.Event)
	assert.Equal(t, models.TimelineEventEscalated, second.Event.Type)
}

func TestSubscribeUnknownEmergency(t *testing.T) {
	hub := newTestHub(newStoreStub(), time.Minute)

	_, err := hub.Subscribe(context.Background(), primitive.NewObjectID(), primitive.NewObjectID())
	assert.ErrorIs(t, err, models.ErrEmergencyNotFound)
}

func TestSubscribeClosedEmergency(t *testing.T) {
	store := newStoreStub()
	hub := newTestHub(store, time.Minute)
	// Terminal in the store and no live topic: long gone.
	id := store.add(models.EmergencyStatusResolved)

	_, err := hub.Subscribe(context.Background(), id, primitive.NewObjectID())
	assert.ErrorIs(t, err, models.ErrEmergencyClosed)
}

func TestSubscribeRecreatesTopicForLiveEmergency(t *testing.T) {
	store := newStoreStub()
	hub := newTestHub(store, time.Minute)
	id := store.add(models.EmergencyStatusActive)

	// No OpenTopic call: the hub lost its state (restart) but the store
	// says the emergency is live.
	sub, err := hub.Subscribe(context.Background(), id, primitive.NewObjectID())
	require.NoError(t, err)
	defer sub.Close()

	assert.True(t, hub.HasTopic(id))
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	store := newStoreStub()
	hub := newTestHub(store, time.Minute)
	id := store.add(models.EmergencyStatusActive)
	hub.OpenTopic(id)

	subA, err := hub.Subscribe(context.Background(), id, primitive.NewObjectID())
	require.NoError(t, err)
	defer subA.Close()
	subB, err := hub.Subscribe(context.Background(), id, primitive.NewObjectID())
	require.NoError(t, err)
	defer subB.Close()

	sample := models.LocationSample{Latitude: 1, Longitude: 2, Timestamp: time.Now()}
	hub.PublishLocation(id, sample)

	for _, sub := range []*Subscription{subA, subB} {
		receive(t, sub) // snapshot
		msg := receive(t, sub)
		assert.Equal(t, MessageLocationUpdate, msg.Type)
		require.NotNil(t, msg.Location)
		assert.Equal(t, sample.Latitude, msg.Location.Latitude)
	}
}

func TestCloseTopicNotifiesAndTearsDown(t *testing.T) {
	store := newStoreStub()
	hub := newTestHub(store, 10*time.Millisecond)
	id := store.add(models.EmergencyStatusActive)
	hub.OpenTopic(id)

	sub, err := hub.Subscribe(context.Background(), id, primitive.NewObjectID())
	require.NoError(t, err)
	receive(t, sub) // snapshot

	hub.CloseTopic(id)

	msg := receive(t, sub)
	assert.Equal(t, MessageTopicClosed, msg.Type)

	// After the grace period the channel closes and the topic is gone.
	select {
	case _, ok := <-sub.C:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel never closed after teardown")
	}

	assert.Eventually(t, func() bool {
		return !hub.HasTopic(id)
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeDuringGraceWindow(t *testing.T) {
	store := newStoreStub()
	hub := newTestHub(store, 500*time.Millisecond)
	id := store.add(models.EmergencyStatusActive)
	hub.OpenTopic(id)

	hub.CloseTopic(id)

	// The topic lingers for the grace period so late joiners still catch
	// the final messages.
	sub, err := hub.Subscribe(context.Background(), id, primitive.NewObjectID())
	require.NoError(t, err)

	msg := receive(t, sub)
	assert.Equal(t, MessageSnapshot, msg.Type)
}

func TestLastSubscriberLeavingTerminalTopicTearsDown(t *testing.T) {
	store := newStoreStub()
	hub := newTestHub(store, time.Hour)
	id := store.add(models.EmergencyStatusActive)
	hub.OpenTopic(id)

	sub, err := hub.Subscribe(context.Background(), id, primitive.NewObjectID())
	require.NoError(t, err)

	hub.CloseTopic(id)
	sub.Close()

	assert.False(t, hub.HasTopic(id))
}

func TestCloseIsIdempotent(t *testing.T) {
	store := newStoreStub()
	hub := newTestHub(store, time.Minute)
	id := store.add(models.EmergencyStatusActive)
	hub.OpenTopic(id)

	sub, err := hub.Subscribe(context.Background(), id, primitive.NewObjectID())
	require.NoError(t, err)

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.SubscriberCount(id))
}
