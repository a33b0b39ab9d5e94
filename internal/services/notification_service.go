package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goride-sos/internal/config"
	"goride-sos/internal/models"
	"goride-sos/internal/repositories/interfaces"
	"goride-sos/pkg/cache"
	"goride-sos/pkg/logger"
	"goride-sos/pkg/push"
	"goride-sos/pkg/sms"
)

// NotificationService fans state transitions out to operators, responders
// and emergency contacts. Delivery is at-least-once with bounded retries;
// exhaustion is recorded on the timeline but never fails the transition
// that caused the notification.
type NotificationService interface {
	Notifier

	Start()
	Stop()
}

type notificationService struct {
	queue    chan *models.NotificationEvent
	resolver AudienceResolver
	sms      sms.SMSProvider
	push     push.PushProvider
	repo     interfaces.EmergencyRepository
	cache    *cache.RedisCache
	config   *config.SOSConfig
	logger   *logger.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewNotificationService(
	resolver AudienceResolver,
	smsProvider sms.SMSProvider,
	pushProvider push.PushProvider,
	repo interfaces.EmergencyRepository,
	cacheService *cache.RedisCache,
	cfg *config.SOSConfig,
	log *logger.Logger,
) NotificationService {
	return &notificationService{
		queue:    make(chan *models.NotificationEvent, 1024),
		resolver: resolver,
		sms:      smsProvider,
		push:     pushProvider,
		repo:     repo,
		cache:    cacheService,
		config:   cfg,
		logger:   log,
	}
}

func (s *notificationService) Start() {
	s.wg.Add(1)
	go s.worker()
}

func (s *notificationService) Stop() {
	s.stopOnce.Do(func() {
		close(s.queue)
	})
	s.wg.Wait()
}

// Notify enqueues without blocking. A full queue drops the event; the
// timeline remains the durable record of what happened.
func (s *notificationService) Notify(event *models.NotificationEvent) {
	select {
	case s.queue <- event:
	default:
		s.logger.WithEmergencyID(event.EmergencyID).
			Warnf("Notification queue full, dropping %s", event.Kind)
	}
}

func (s *notificationService) worker() {
	defer s.wg.Done()

	for event := range s.queue {
		s.dispatch(event)
	}
}

func (s *notificationService) dispatch(event *models.NotificationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	emergency, err := s.repo.GetByID(ctx, event.EmergencyID)
	if err != nil {
		s.logger.WithError(err).WithEmergencyID(event.EmergencyID).
			Error("Cannot resolve notification audience, emergency lookup failed")
		return
	}

	targets := event.Targets
	if len(targets) == 0 {
		targets, err = s.resolver.Resolve(ctx, emergency, event.Kind)
		if err != nil {
			s.logger.WithError(err).WithEmergencyID(event.EmergencyID).
				Error("Audience resolution failed")
			s.recordFailure(ctx, event, err)
			return
		}
	}

	delivered := 0
	for _, target := range targets {
		if s.isDuplicate(ctx, event, target) {
			continue
		}

		if err := s.deliverWithRetry(ctx, emergency, event, target); err != nil {
			s.recordFailure(ctx, event, err)
			continue
		}
		delivered++
	}

	if delivered > 0 {
		s.recordFirstDelivery(ctx, event, delivered)
	}
}

// isDuplicate coalesces identical (emergency, kind, target) notifications
// inside the dedupe window, guarding against alert storms from rapid
// consecutive transitions.
func (s *notificationService) isDuplicate(ctx context.Context, event *models.NotificationEvent, target models.NotificationTarget) bool {
	if s.cache == nil {
		return false
	}

	key := fmt.Sprintf("sos:notif:%s:%s:%s", event.EmergencyID.Hex(), event.Kind, targetKey(target))
	acquired, err := s.cache.SetNX(ctx, key, 1, s.config.NotificationDedupeWindow)
	if err != nil {
		return false
	}

	return !acquired
}

func (s *notificationService) deliverWithRetry(ctx context.Context, emergency *models.Emergency, event *models.NotificationEvent, target models.NotificationTarget) error {
	var lastErr error

	for attempt := 1; attempt <= s.config.NotificationMaxAttempts; attempt++ {
		event.Attempt = attempt

		if lastErr = s.deliverOne(ctx, emergency, event, target); lastErr == nil {
			return nil
		}

		if attempt < s.config.NotificationMaxAttempts {
			backoff := s.config.NotificationBackoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("%w: %s to %s after %d attempts: %v",
		models.ErrNotificationDeliveryFailed, event.Kind, target.Channel,
		s.config.NotificationMaxAttempts, lastErr)
}

func (s *notificationService) deliverOne(ctx context.Context, emergency *models.Emergency, event *models.NotificationEvent, target models.NotificationTarget) error {
	switch target.Channel {
	case models.NotificationChannelSMS:
		if s.sms == nil {
			return fmt.Errorf("no SMS provider configured")
		}
		_, err := s.sms.SendSMS(ctx, &sms.SMSRequest{
			To:      target.Phone,
			Message: renderSMS(emergency, event),
			Type:    "alert",
		})
		return err

	case models.NotificationChannelPush, models.NotificationChannelBanner:
		if s.push == nil {
			return fmt.Errorf("no push provider configured")
		}
		title, body := renderPush(emergency, event)
		data := map[string]string{
			"emergency_id": emergency.ID.Hex(),
			"kind":         string(event.Kind),
		}
		if target.Channel == models.NotificationChannelBanner {
			data["display"] = "banner"
		}
		_, err := s.push.SendNotification(ctx, &push.NotificationRequest{
			Token:    target.DeviceToken,
			Title:    title,
			Body:     body,
			Data:     data,
			Priority: string(event.Priority),
			Sound:    "default",
		})
		return err

	default:
		return fmt.Errorf("unknown notification channel: %s", target.Channel)
	}
}

func (s *notificationService) recordFailure(ctx context.Context, event *models.NotificationEvent, cause error) {
	err := s.repo.AppendTimeline(ctx, event.EmergencyID, models.TimelineEvent{
		Type:      models.TimelineEventNotificationFailed,
		Actor:     models.SystemActor,
		Timestamp: time.Now(),
		Detail:    fmt.Sprintf("%s: %v", event.Kind, cause),
	})
	if err != nil {
		s.logger.WithError(err).WithEmergencyID(event.EmergencyID).
			Error("Failed to record notification failure on timeline")
	}

	s.logger.WithError(cause).WithEmergencyID(event.EmergencyID).
		Warnf("Notification delivery exhausted for %s", event.Kind)
}

// recordFirstDelivery writes one notification_sent entry per kind so the
// timeline shows that alerts went out without logging every recipient.
func (s *notificationService) recordFirstDelivery(ctx context.Context, event *models.NotificationEvent, count int) {
	if s.cache != nil {
		key := fmt.Sprintf("sos:notifsent:%s:%s", event.EmergencyID.Hex(), event.Kind)
		acquired, err := s.cache.SetNX(ctx, key, 1, 24*time.Hour)
		if err == nil && !acquired {
			return
		}
	}

	_ = s.repo.AppendTimeline(ctx, event.EmergencyID, models.TimelineEvent{
		Type:      models.TimelineEventNotificationSent,
		Actor:     models.SystemActor,
		Timestamp: time.Now(),
		Detail:    fmt.Sprintf("%s delivered to %d targets", event.Kind, count),
	})
}

func targetKey(target models.NotificationTarget) string {
	switch target.Channel {
	case models.NotificationChannelSMS:
		return "sms:" + target.Phone
	default:
		return string(target.Channel) + ":" + target.DeviceToken
	}
}

func renderSMS(emergency *models.Emergency, event *models.NotificationEvent) string {
	where := emergency.Address
	if where == "" && emergency.LastLocation != nil {
		where = fmt.Sprintf("%.5f,%.5f", emergency.LastLocation.Latitude, emergency.LastLocation.Longitude)
	}

	switch event.Kind {
	case models.NotificationKindTriggered:
		return fmt.Sprintf("GoRide SOS: an emergency (%s) was reported near %s.", emergency.Type, where)
	case models.NotificationKindResolved:
		return "GoRide SOS: the emergency has been resolved."
	case models.NotificationKindCancelled:
		return "GoRide SOS: the emergency alert was cancelled."
	case models.NotificationKindDispatched:
		return fmt.Sprintf("GoRide SOS: help has been dispatched to %s.", where)
	case models.NotificationKindEscalated:
		return fmt.Sprintf("GoRide SOS: the emergency near %s has been escalated.", where)
	default:
		return fmt.Sprintf("GoRide SOS: emergency update (%s).", event.Kind)
	}
}

func renderPush(emergency *models.Emergency, event *models.NotificationEvent) (string, string) {
	switch event.Kind {
	case models.NotificationKindTriggered:
		return "Emergency reported", fmt.Sprintf("New %s emergency requires attention", emergency.Type)
	case models.NotificationKindStatus:
		return "Emergency update", fmt.Sprintf("Status changed to %s", event.Payload["status"])
	case models.NotificationKindEscalated:
		return "Emergency escalated", "An emergency has been escalated"
	case models.NotificationKindDispatched:
		return "Help dispatched", "Emergency services have been notified"
	case models.NotificationKindResolved:
		return "Emergency resolved", "The emergency has been resolved"
	case models.NotificationKindCancelled:
		return "Emergency cancelled", "The emergency alert was cancelled"
	default:
		return "Emergency update", string(event.Kind)
	}
}
