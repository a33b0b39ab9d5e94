package sosclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"goride-sos/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Client is the device-side HTTP client for the emergency API. It speaks
// the same response envelope the server emits and maps the documented
// error codes back to sentinel errors.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

type TriggerRequest struct {
	Type        models.EmergencyType   `json:"type"`
	Location    *models.LocationSample `json:"location,omitempty"`
	RideContext *models.RideContext    `json:"ride_context,omitempty"`
}

type TriggerResult struct {
	Emergency *models.Emergency `json:"emergency"`
	Existing  bool              `json:"existing"`
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *envelopeError  `json:"error"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *Client) Trigger(ctx context.Context, request *TriggerRequest) (*TriggerResult, error) {
	var result TriggerResult
	if err := c.do(ctx, http.MethodPost, "/sos/trigger", request, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ReportLocation(ctx context.Context, id primitive.ObjectID, sample *models.LocationSample) error {
	return c.do(ctx, http.MethodPost, "/sos/"+id.Hex()+"/location", sample, nil)
}

func (c *Client) Get(ctx context.Context, id primitive.ObjectID) (*models.Emergency, error) {
	var emergency models.Emergency
	if err := c.do(ctx, http.MethodGet, "/sos/"+id.Hex(), nil, &emergency); err != nil {
		return nil, err
	}
	return &emergency, nil
}

func (c *Client) Cancel(ctx context.Context, id primitive.ObjectID, detail string) error {
	body := map[string]string{"detail": detail}
	return c.do(ctx, http.MethodPost, "/sos/"+id.Hex()+"/cancel", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, &env)
	}

	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding response data: %w", err)
		}
	}

	return nil
}

func apiError(statusCode int, env *envelope) error {
	code := ""
	message := env.Message
	if env.Error != nil {
		code = env.Error.Code
		message = env.Error.Message
	}

	switch code {
	case "EMERGENCY_NOT_TRACKABLE":
		return models.ErrEmergencyNotTrackable
	case "EMERGENCY_ALREADY_TERMINAL":
		return models.ErrEmergencyAlreadyTerminal
	case "NOT_FOUND":
		return models.ErrEmergencyNotFound
	case "INVALID_TRANSITION":
		return models.ErrInvalidTransition
	}

	return fmt.Errorf("sos api: %d %s: %s", statusCode, code, message)
}
