package twitch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

var validTokens = map[string]bool{
	"good-token":      true,
	"refreshed-token": true,
	"fresh-token":     true,
}

// fakeTwitch serves the OAuth, Helix and EventSub endpoints the relay uses.
type fakeTwitch struct {
	t   *testing.T
	srv *httptest.Server

	mu            sync.Mutex
	subscriptions []SubscriptionRequest
	sessions      int
	conns         chan *websocket.Conn
}

func newFakeTwitch(t *testing.T) *fakeTwitch {
	t.Helper()
	f := &fakeTwitch{t: t, conns: make(chan *websocket.Conn, 4)}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/validate", f.validate)
	mux.HandleFunc("/oauth2/token", f.token)
	mux.HandleFunc("/helix/users", f.users)
	mux.HandleFunc("/helix/eventsub/subscriptions", f.subscribe)
	mux.HandleFunc("/ws", f.eventSub)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeTwitch) url(path string) string { return f.srv.URL + path }

func (f *fakeTwitch) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
}

func (f *fakeTwitch) config(tokenFile string) Config {
	return Config{
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		TargetChannel: "beanstreamer",
		TokenFile:     tokenFile,
		RedirectURL:   "http://127.0.0.1:0/callback",
		AuthURL:       f.url("/oauth2/authorize"),
		TokenURL:      f.url("/oauth2/token"),
		ValidateURL:   f.url("/oauth2/validate"),
		HelixURL:      f.url("/helix"),
		EventSubURL:   f.wsURL(),
	}
}

func (f *fakeTwitch) validate(w http.ResponseWriter, r *http.Request) {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "OAuth ")
	if !validTokens[tok] {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"client_id": "client-id", "expires_in": 3600})
}

func (f *fakeTwitch) token(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	if r.Form.Get("client_secret") != "client-secret" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var access string
	switch {
	case r.Form.Get("grant_type") == "refresh_token" && r.Form.Get("refresh_token") == "good-refresh":
		access = "refreshed-token"
	case r.Form.Get("grant_type") == "authorization_code" && r.Form.Get("code") == "the-code":
		access = "fresh-token"
	default:
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token":  access,
		"refresh_token": "new-refresh",
		"expires_in":    3600,
		"token_type":    "bearer",
	})
}

func (f *fakeTwitch) authorized(w http.ResponseWriter, r *http.Request) bool {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	w.Header().Set("Content-Type", "application/json")
	if !validTokens[tok] || r.Header.Get("Client-Id") != "client-id" {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"status": 401, "message": "Invalid OAuth token"})
		return false
	}
	return true
}

func (f *fakeTwitch) users(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	data := []map[string]string{}
	if r.URL.Query().Get("login") == "beanstreamer" {
		data = append(data, map[string]string{"id": "1234", "login": "beanstreamer", "display_name": "BeanStreamer"})
	}
	json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func (f *fakeTwitch) subscribe(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.subscriptions = append(f.subscriptions, req)
	f.mu.Unlock()

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"data": []Subscription{{ID: "sub-" + req.Type, Status: "enabled", Type: req.Type, Version: req.Version}},
	})
}

func (f *fakeTwitch) eventSub(w http.ResponseWriter, r *http.Request) {
	conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
	if err != nil {
		return
	}

	f.mu.Lock()
	f.sessions++
	id := fmt.Sprintf("session-%d", f.sessions)
	f.mu.Unlock()

	conn.WriteJSON(Message{
		Metadata: Metadata{MessageID: "welcome-" + id, MessageType: messageWelcome},
		Payload:  mustJSON(sessionPayload{Session: Session{ID: id, Status: "connected", KeepaliveTimeoutSeconds: 10}}),
	})
	f.conns <- conn
}

func (f *fakeTwitch) subscribed() []SubscriptionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SubscriptionRequest(nil), f.subscriptions...)
}

func notification(subType string, event any) Message {
	return Message{
		Metadata: Metadata{MessageID: "n-" + subType, MessageType: messageNotification, SubscriptionType: subType, SubscriptionVersion: "1"},
		Payload: mustJSON(map[string]any{
			"subscription": Subscription{ID: "sub-" + subType, Status: "enabled", Type: subType, Version: "1"},
			"event":        event,
		}),
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
