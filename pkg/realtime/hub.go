package realtime

import (
	"context"
	"sync"
	"time"

	"goride-sos/internal/models"
	"goride-sos/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SnapshotFunc fetches the current durable state of an emergency. The hub
// calls it on every subscribe so a reconnecting client always starts from a
// consistent snapshot and replays the timeline from there; live delivery is
// best-effort and at-most-once.
type SnapshotFunc func(ctx context.Context, id primitive.ObjectID) (*models.Emergency, error)

// Subscription is one attachment of a subscriber to an emergency topic. The
// first message on C is always the snapshot. Close is idempotent.
type Subscription struct {
	EmergencyID  primitive.ObjectID
	SubscriberID primitive.ObjectID
	C            <-chan Message

	ch   chan Message
	hub  *Hub
	once sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}

type topic struct {
	subscribers map[*Subscription]bool
	terminal    bool
}

// Hub multiplexes many concurrent emergencies, one logical topic per
// emergency id. Topics do not share mutable state; the only cross-topic
// synchronization is the registry lock.
type Hub struct {
	mu       sync.RWMutex
	topics   map[primitive.ObjectID]*topic
	snapshot SnapshotFunc
	grace    time.Duration
	buffer   int
	logger   *logger.Logger
}

func NewHub(snapshot SnapshotFunc, grace time.Duration, sendBuffer int, log *logger.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}

	return &Hub{
		topics:   make(map[primitive.ObjectID]*topic),
		snapshot: snapshot,
		grace:    grace,
		buffer:   sendBuffer,
		logger:   log,
	}
}

// OpenTopic registers a live topic for a freshly triggered emergency. A
// topic with no subscribers stays open while the emergency is non-terminal:
// a momentarily disconnected reporter must not lose it.
func (h *Hub) OpenTopic(id primitive.ObjectID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.topics[id]; !ok {
		h.topics[id] = &topic{subscribers: make(map[*Subscription]bool)}
	}
}

// Subscribe attaches a subscriber to an emergency topic and queues the
// current snapshot as the first delivered message. Unknown ids fail with
// ErrEmergencyNotFound; terminal emergencies whose topic is already torn
// down fail with ErrEmergencyClosed (they stay queryable via the store).
func (h *Hub) Subscribe(ctx context.Context, emergencyID, subscriberID primitive.ObjectID) (*Subscription, error) {
	snapshot, err := h.snapshot(ctx, emergencyID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[emergencyID]
	if !ok {
		if snapshot.IsTerminal() {
			return nil, models.ErrEmergencyClosed
		}
		// Live emergency with no topic yet (e.g. hub restarted): recreate.
		t = &topic{subscribers: make(map[*Subscription]bool)}
		h.topics[emergencyID] = t
	}

	sub := &Subscription{
		EmergencyID:  emergencyID,
		SubscriberID: subscriberID,
		ch:           make(chan Message, h.buffer),
		hub:          h,
	}
	sub.C = sub.ch

	// Publishers hold the read lock, so nothing can interleave between the
	// snapshot enqueue and the registration below.
	msg := newMessage(MessageSnapshot, emergencyID.Hex())
	msg.Status = snapshot.Status
	msg.Snapshot = snapshot
	sub.ch <- msg

	t.subscribers[sub] = true

	return sub, nil
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[sub.EmergencyID]
	if !ok {
		return
	}

	if t.subscribers[sub] {
		delete(t.subscribers, sub)
		close(sub.ch)
	}

	// The last subscriber leaving a terminal topic tears it down early.
	if t.terminal && len(t.subscribers) == 0 {
		delete(h.topics, sub.EmergencyID)
	}
}

// PublishTimelineEvent fans a state mutation out to every current
// subscriber of the emergency.
func (h *Hub) PublishTimelineEvent(emergencyID primitive.ObjectID, status models.EmergencyStatus, event models.TimelineEvent) {
	msg := newMessage(MessageTimelineEvent, emergencyID.Hex())
	msg.Status = status
	msg.Event = &event
	h.publish(emergencyID, msg)
}

// PublishLocation delivers a raw location sample for low-latency map
// updates. These bypass the timeline on purpose.
func (h *Hub) PublishLocation(emergencyID primitive.ObjectID, sample models.LocationSample) {
	msg := newMessage(MessageLocationUpdate, emergencyID.Hex())
	msg.Location = &sample
	h.publish(emergencyID, msg)
}

func (h *Hub) publish(emergencyID primitive.ObjectID, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	t, ok := h.topics[emergencyID]
	if !ok {
		return
	}

	for sub := range t.subscribers {
		select {
		case sub.ch <- msg:
		default:
			// Slow consumer: drop. Durable state is the recovery path.
			if h.logger != nil {
				h.logger.WithEmergencyID(emergencyID).
					WithUserID(sub.SubscriberID).
					Warn("Dropping realtime message for slow subscriber")
			}
		}
	}
}

// CloseTopic marks the topic terminal and tears it down after the grace
// period, letting in-flight deliveries land. Remaining subscribers get a
// topic_closed message before their channels close.
func (h *Hub) CloseTopic(emergencyID primitive.ObjectID) {
	h.mu.Lock()
	t, ok := h.topics[emergencyID]
	if !ok {
		h.mu.Unlock()
		return
	}
	t.terminal = true
	h.mu.Unlock()

	time.AfterFunc(h.grace, func() {
		h.teardown(emergencyID)
	})
}

func (h *Hub) teardown(emergencyID primitive.ObjectID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[emergencyID]
	if !ok {
		return
	}

	msg := newMessage(MessageTopicClosed, emergencyID.Hex())
	for sub := range t.subscribers {
		select {
		case sub.ch <- msg:
		default:
		}
		delete(t.subscribers, sub)
		close(sub.ch)
	}

	delete(h.topics, emergencyID)
}

// SubscriberCount reports the current attachment count for a topic.
func (h *Hub) SubscriberCount(emergencyID primitive.ObjectID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	t, ok := h.topics[emergencyID]
	if !ok {
		return 0
	}
	return len(t.subscribers)
}

// HasTopic reports whether a live topic exists for the emergency.
func (h *Hub) HasTopic(emergencyID primitive.ObjectID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.topics[emergencyID]
	return ok
}
