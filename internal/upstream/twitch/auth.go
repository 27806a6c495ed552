package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/browser"
	"golang.org/x/oauth2"

	"bean-relay/internal/infrastructure/logger"
	"bean-relay/internal/infrastructure/server"
)

const (
	defaultAuthURL     = "https://id.twitch.tv/oauth2/authorize"
	defaultTokenURL    = "https://id.twitch.tv/oauth2/token"
	defaultValidateURL = "https://id.twitch.tv/oauth2/validate"

	ScopeChannelReadRedemptions = "channel:read:redemptions"
	ScopeBitsRead               = "bits:read"

	interactiveAuthTimeout  = 5 * time.Minute
	callbackShutdownTimeout = 5 * time.Second
)

var ErrInvalidToken = errors.New("access token rejected")

// Authenticator produces a user token source for the configured app, reusing
// cached tokens when Twitch still accepts them.
type Authenticator struct {
	oauth       oauth2.Config
	store       *TokenStore
	validateURL string
	httpClient  *http.Client
	openBrowser func(url string) error
	logger      logger.Logger
}

type AuthOption func(*Authenticator)

// WithBrowser replaces the function used to open the authorization page.
func WithBrowser(open func(url string) error) AuthOption {
	return func(a *Authenticator) {
		a.openBrowser = open
	}
}

func WithEndpoints(authURL, tokenURL, validateURL string) AuthOption {
	return func(a *Authenticator) {
		a.oauth.Endpoint.AuthURL = authURL
		a.oauth.Endpoint.TokenURL = tokenURL
		a.validateURL = validateURL
	}
}

func WithHTTPClient(c *http.Client) AuthOption {
	return func(a *Authenticator) {
		a.httpClient = c
	}
}

func NewAuthenticator(clientID, clientSecret, redirectURL string, store *TokenStore, log logger.Logger, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		oauth: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{ScopeChannelReadRedemptions, ScopeBitsRead},
			Endpoint: oauth2.Endpoint{
				AuthURL:   defaultAuthURL,
				TokenURL:  defaultTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		store:       store,
		validateURL: defaultValidateURL,
		httpClient:  http.DefaultClient,
		openBrowser: browser.OpenURL,
		logger:      log.WithField("component", "twitch-auth"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// TokenSource returns a refreshing token source. Cached tokens are validated
// and refreshed if needed; when that fails the interactive browser flow runs.
// Every new token is written back to the store.
func (a *Authenticator) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	// Refreshes happen long after ctx is gone.
	octx := context.WithValue(context.Background(), oauth2.HTTPClient, a.httpClient)

	tok, err := a.cachedToken(ctx)
	if err != nil {
		a.logger.Warnf("Saved tokens failed (%v), re-authenticating...", err)
		tok, err = a.interactive(ctx)
		if err != nil {
			return nil, err
		}
		if err := a.store.Save(tok); err != nil {
			return nil, err
		}
		a.logger.Info("Authentication successful and tokens saved")
	} else {
		a.logger.Info("Using saved authentication tokens")
	}

	return &persistingTokenSource{
		src:   a.oauth.TokenSource(octx, tok),
		store: a.store,
		onErr: func(err error) { a.logger.Errorf("Failed to save refreshed tokens: %v", err) },
		last:  tok.AccessToken,
	}, nil
}

func (a *Authenticator) cachedToken(ctx context.Context) (*oauth2.Token, error) {
	tok, err := a.store.Load()
	if err != nil {
		return nil, err
	}

	expiresIn, err := a.Validate(ctx, tok.AccessToken)
	if err == nil {
		tok.Expiry = time.Now().Add(expiresIn)
		return tok, nil
	}
	if !errors.Is(err, ErrInvalidToken) {
		return nil, err
	}

	a.logger.Info("Saved access token expired, refreshing")
	octx := context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	refreshed, err := a.oauth.TokenSource(octx, &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	if err := a.store.Save(refreshed); err != nil {
		return nil, err
	}
	return refreshed, nil
}

// Validate checks accessToken against Twitch and returns its remaining
// lifetime.
func (a *Authenticator) Validate(ctx context.Context, accessToken string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.validateURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("validate token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return 0, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("validate token: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		ExpiresIn int `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("validate token: %w", err)
	}
	return time.Duration(body.ExpiresIn) * time.Second, nil
}

// interactive runs the authorization code flow with a one-shot callback server
// on the redirect URL.
func (a *Authenticator) interactive(ctx context.Context) (*oauth2.Token, error) {
	redirect, err := url.Parse(a.oauth.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URL %q: %w", a.oauth.RedirectURL, err)
	}
	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}

	state := uuid.NewString()
	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET(callbackPath, func(c *gin.Context) {
		code, denied := c.Query("code"), c.Query("error")
		if code == "" && denied == "" {
			// Not a redirect from Twitch; keep waiting for the real one.
			c.String(http.StatusNotFound, "Waiting for Twitch authorization.")
			return
		}

		var res result
		switch {
		case c.Query("state") != state:
			res.err = errors.New("auth callback state mismatch")
		case denied != "":
			res.err = fmt.Errorf("authorization denied: %s", c.Query("error_description"))
		default:
			res.code = code
		}
		if res.err != nil {
			c.String(http.StatusBadRequest, res.err.Error())
		} else {
			c.String(http.StatusOK, "Authentication complete, you can close this window.")
		}
		select {
		case results <- res:
		default:
		}
	})

	srv := server.NewHTTPServer(redirect.Host, router)
	if err := srv.Listen(); err != nil {
		return nil, fmt.Errorf("listen for auth callback: %w", err)
	}
	go func() {
		if err := srv.Start(ctx); err != nil {
			a.logger.Errorf("Auth callback server failed: %v", err)
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), callbackShutdownTimeout)
		defer cancel()
		if err := srv.Stop(sctx); err != nil {
			a.logger.Warnf("Failed to stop auth callback server: %v", err)
		}
	}()

	authURL := a.oauth.AuthCodeURL(state)
	a.logger.Infof("Opening browser for Twitch authentication: %s", authURL)
	if err := a.openBrowser(authURL); err != nil {
		a.logger.Warnf("Could not open a browser, visit the URL above manually: %v", err)
	}

	wctx, cancel := context.WithTimeout(ctx, interactiveAuthTimeout)
	defer cancel()

	var res result
	select {
	case res = <-results:
	case <-wctx.Done():
		return nil, fmt.Errorf("waiting for authorization: %w", wctx.Err())
	}
	if res.err != nil {
		return nil, res.err
	}

	octx := context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	tok, err := a.oauth.Exchange(octx, res.code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}
