package services

import (
	"context"
	"sync"
	"time"

	"goride-sos/internal/config"
	"goride-sos/internal/models"
	"goride-sos/internal/repositories/interfaces"
	"goride-sos/internal/repositories/memory"
	"goride-sos/pkg/logger"
	"goride-sos/pkg/realtime"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []*models.NotificationEvent
}

func (n *recordingNotifier) Notify(event *models.NotificationEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) kinds() []models.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()

	kinds := make([]models.NotificationKind, 0, len(n.events))
	for _, e := range n.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (n *recordingNotifier) hasKind(kind models.NotificationKind) bool {
	for _, k := range n.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func testSOSConfig() *config.SOSConfig {
	return &config.SOSConfig{
		LocationTimelineInterval: time.Hour,
		AccuracyThresholdMeters:  100,
		TopicGracePeriod:         10 * time.Millisecond,
		NotificationMaxAttempts:  3,
		NotificationBackoffBase:  time.Millisecond,
		NotificationDedupeWindow: time.Second,
		AutoCancelAfter:          30 * time.Minute,
		SweepInterval:            time.Minute,
		TriggerLockTTL:           time.Second,
	}
}

type testEnv struct {
	repo     interfaces.EmergencyRepository
	hub      *realtime.Hub
	notifier *recordingNotifier
	config   *config.SOSConfig
	locks    *LockTable
	sm       StateMachine
}

func newTestEnv() *testEnv {
	repo := memory.NewEmergencyRepository()
	hub := realtime.NewHub(repo.GetByID, 10*time.Millisecond, 8, logger.NewNopLogger())
	notifier := &recordingNotifier{}
	cfg := testSOSConfig()
	locks := NewLockTable()

	return &testEnv{
		repo:     repo,
		hub:      hub,
		notifier: notifier,
		config:   cfg,
		locks:    locks,
		sm:       NewStateMachine(repo, hub, notifier, nil, locks, cfg, logger.NewNopLogger()),
	}
}

func (e *testEnv) trigger(ctx context.Context, reporterID primitive.ObjectID) *models.Emergency {
	sample := &models.LocationSample{
		Latitude:  52.5200,
		Longitude: 13.4050,
		Accuracy:  15,
		Timestamp: time.Now(),
	}

	emergency, _, err := e.sm.Trigger(ctx, reporterID, models.EmergencyTypeAccident, sample, nil)
	if err != nil {
		panic(err)
	}
	return emergency
}

func countTimeline(emergency *models.Emergency, eventType models.TimelineEventType) int {
	count := 0
	for _, event := range emergency.Timeline {
		if event.Type == eventType {
			count++
		}
	}
	return count
}
