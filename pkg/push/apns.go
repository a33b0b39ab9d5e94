package push

import (
	"context"
	"fmt"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

type APNSProvider struct {
	client *apns2.Client
	topic  string
}

type APNSConfig struct {
	KeyFile    string
	KeyID      string
	TeamID     string
	Topic      string
	Production bool
}

func NewAPNSProvider(config *APNSConfig) (*APNSProvider, error) {
	authKey, err := token.AuthKeyFromFile(config.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNS auth key: %w", err)
	}

	authToken := &token.Token{
		AuthKey: authKey,
		KeyID:   config.KeyID,
		TeamID:  config.TeamID,
	}

	client := apns2.NewTokenClient(authToken)
	if config.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &APNSProvider{
		client: client,
		topic:  config.Topic,
	}, nil
}

func (a *APNSProvider) SendNotification(ctx context.Context, request *NotificationRequest) (*NotificationResponse, error) {
	p := payload.NewPayload().
		AlertTitle(request.Title).
		AlertBody(request.Body)

	if request.Sound != "" {
		p.Sound(request.Sound)
	}
	if request.Badge > 0 {
		p.Badge(request.Badge)
	}
	for k, v := range request.Data {
		p.Custom(k, v)
	}

	notification := &apns2.Notification{
		DeviceToken: request.Token,
		Topic:       a.topic,
		Payload:     p,
	}
	if request.Priority == "high" {
		notification.Priority = apns2.PriorityHigh
	}

	resp, err := a.client.PushWithContext(ctx, notification)
	if err != nil {
		return &NotificationResponse{
			Success: false,
			Error:   err.Error(),
			Token:   request.Token,
		}, err
	}

	if !resp.Sent() {
		return &NotificationResponse{
			Success: false,
			Error:   resp.Reason,
			Token:   request.Token,
		}, fmt.Errorf("APNS rejected notification: %s", resp.Reason)
	}

	return &NotificationResponse{
		MessageID: resp.ApnsID,
		Success:   true,
		Token:     request.Token,
	}, nil
}

func (a *APNSProvider) SendBulkNotifications(ctx context.Context, requests []*NotificationRequest) ([]*NotificationResponse, error) {
	responses := make([]*NotificationResponse, len(requests))

	for i, req := range requests {
		resp, err := a.SendNotification(ctx, req)
		if err != nil {
			resp = &NotificationResponse{
				Success: false,
				Error:   err.Error(),
				Token:   req.Token,
			}
		}
		responses[i] = resp
	}

	return responses, nil
}
