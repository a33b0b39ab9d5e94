package services

import (
	"context"
	"encoding/json"
	"fmt"

	"goride-sos/internal/models"
	"goride-sos/pkg/cache"
	"goride-sos/pkg/logger"
)

// AudienceResolver turns an emergency into the set of parties that must be
// alerted: operators on duty, the reporter's emergency contacts and any
// assigned responders.
type AudienceResolver interface {
	Resolve(ctx context.Context, emergency *models.Emergency, kind models.NotificationKind) ([]models.NotificationTarget, error)
}

const (
	operatorTokensKey  = "sos:operators:push_tokens"
	contactsKeyPattern = "sos:contacts:%s"
)

// redisAudienceResolver reads the on-duty operator roster and per-reporter
// contact lists from redis, where the surrounding platform maintains them.
type redisAudienceResolver struct {
	cache  *cache.RedisCache
	logger *logger.Logger
}

func NewRedisAudienceResolver(cacheService *cache.RedisCache, log *logger.Logger) AudienceResolver {
	return &redisAudienceResolver{
		cache:  cacheService,
		logger: log,
	}
}

func (r *redisAudienceResolver) Resolve(ctx context.Context, emergency *models.Emergency, kind models.NotificationKind) ([]models.NotificationTarget, error) {
	var targets []models.NotificationTarget

	tokens, err := r.cache.SMembers(ctx, operatorTokensKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load operator roster: %w", err)
	}
	for _, token := range tokens {
		targets = append(targets, models.NotificationTarget{
			Channel:     models.NotificationChannelPush,
			DeviceToken: token,
		})
	}

	// Emergency contacts get SMS on trigger, escalation and terminal
	// transitions; intermediate operator churn would only alarm them.
	if contactWorthy(kind) {
		contacts, err := r.contacts(ctx, emergency)
		if err != nil {
			r.logger.WithError(err).WithEmergencyID(emergency.ID).
				Warn("Failed to load emergency contacts")
		} else {
			targets = append(targets, contacts...)
		}
	}

	return targets, nil
}

func (r *redisAudienceResolver) contacts(ctx context.Context, emergency *models.Emergency) ([]models.NotificationTarget, error) {
	key := fmt.Sprintf(contactsKeyPattern, emergency.ReporterID.Hex())

	members, err := r.cache.SMembers(ctx, key)
	if err != nil {
		return nil, err
	}

	var targets []models.NotificationTarget
	for _, member := range members {
		var contact models.EmergencyContact
		if err := json.Unmarshal([]byte(member), &contact); err != nil {
			continue
		}
		targets = append(targets, models.NotificationTarget{
			Channel: models.NotificationChannelSMS,
			Phone:   contact.Phone,
			Name:    contact.Name,
		})
	}

	return targets, nil
}

func contactWorthy(kind models.NotificationKind) bool {
	switch kind {
	case models.NotificationKindTriggered,
		models.NotificationKindEscalated,
		models.NotificationKindDispatched,
		models.NotificationKindResolved,
		models.NotificationKindCancelled:
		return true
	default:
		return false
	}
}
