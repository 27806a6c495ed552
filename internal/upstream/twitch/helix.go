package twitch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nicklaw5/helix/v2"
)

const defaultHelixURL = helix.DefaultAPIBaseURL

// ErrUserNotFound means the configured channel login does not exist.
var ErrUserNotFound = errors.New("twitch user not found")

// Helix wraps the Helix API calls the relay needs. httpClient must attach the
// user token, normally via oauth2.NewClient.
type Helix struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
}

func NewHelix(baseURL, clientID string, httpClient *http.Client) *Helix {
	if baseURL == "" {
		baseURL = defaultHelixURL
	}
	return &Helix{baseURL: baseURL, clientID: clientID, httpClient: httpClient}
}

func (h *Helix) client(ctx context.Context) (*helix.Client, error) {
	return helix.NewClientWithContext(ctx, &helix.Options{
		ClientID:   h.clientID,
		APIBaseURL: h.baseURL,
		HTTPClient: h.httpClient,
	})
}

// GetUserID resolves a channel login to its user ID.
func (h *Helix) GetUserID(ctx context.Context, login string) (string, error) {
	c, err := h.client(ctx)
	if err != nil {
		return "", err
	}
	resp, err := c.GetUsers(&helix.UsersParams{Logins: []string{login}})
	if err != nil {
		return "", fmt.Errorf("get user %s: %w", login, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Status: resp.StatusCode, Message: resp.ErrorMessage}
	}
	if len(resp.Data.Users) == 0 {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, login)
	}
	return resp.Data.Users[0].ID, nil
}

type Transport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id"`
}

type SubscriptionRequest struct {
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport Transport         `json:"transport"`
}

type Subscription struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Type    string `json:"type"`
	Version string `json:"version"`
}

// CreateSubscription registers an EventSub subscription delivered over the
// given websocket session.
func (h *Helix) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*Subscription, error) {
	c, err := h.client(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.CreateEventSubSubscription(&helix.EventSubSubscription{
		Type:    req.Type,
		Version: req.Version,
		Condition: helix.EventSubCondition{
			BroadcasterUserID: req.Condition["broadcaster_user_id"],
		},
		Transport: helix.EventSubTransport{
			Method:    req.Transport.Method,
			SessionID: req.Transport.SessionID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", req.Type, err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("subscribe to %s: %w", req.Type, &APIError{Status: resp.StatusCode, Message: resp.ErrorMessage})
	}
	subs := resp.Data.EventSubSubscriptions
	if len(subs) == 0 {
		return nil, fmt.Errorf("subscribe to %s: empty response", req.Type)
	}
	return &Subscription{ID: subs[0].ID, Status: subs[0].Status, Type: subs[0].Type, Version: subs[0].Version}, nil
}

// APIError is a non-success Helix response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix: status %d: %s", e.Status, e.Message)
}
