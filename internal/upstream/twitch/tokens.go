package twitch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
)

// ErrNoTokens is returned by TokenStore.Load when nothing usable is cached.
var ErrNoTokens = errors.New("no cached tokens")

// TokenStore persists the user access and refresh tokens as
// {"token": ..., "refresh_token": ...}.
type TokenStore struct {
	path string
	mu   sync.Mutex
}

type tokenFile struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

func (s *TokenStore) Path() string { return s.path }

// Load returns the cached tokens. A missing, unreadable or incomplete file
// yields ErrNoTokens.
func (s *TokenStore) Load() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoTokens
		}
		return nil, fmt.Errorf("%w: %v", ErrNoTokens, err)
	}

	var f tokenFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTokens, err)
	}
	if f.Token == "" || f.RefreshToken == "" {
		return nil, ErrNoTokens
	}
	return &oauth2.Token{
		AccessToken:  f.Token,
		RefreshToken: f.RefreshToken,
		TokenType:    "Bearer",
	}, nil
}

func (s *TokenStore) Save(tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(tokenFile{Token: tok.AccessToken, RefreshToken: tok.RefreshToken})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// persistingTokenSource saves every token that differs from the last one it
// saw, so refreshed tokens survive restarts.
type persistingTokenSource struct {
	src   oauth2.TokenSource
	store *TokenStore
	onErr func(error)

	mu   sync.Mutex
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		if err := p.store.Save(tok); err != nil && p.onErr != nil {
			p.onErr(err)
		}
		p.last = tok.AccessToken
	}
	return tok, nil
}
