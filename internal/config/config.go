// Package config loads relay settings from an optional .env file, an optional
// INI-style config file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ct "github.com/launchdarkly/go-configtypes"
)

const (
	DefaultListenAddr   = "0.0.0.0"
	DefaultListenPort   = 8765
	DefaultOverlayPort  = 8080
	DefaultOverlayPage  = "index.html"
	DefaultSendTimeout  = 5 * time.Second
	DefaultTokenFile    = "tokens.json"
	DefaultRedirectURL  = "http://localhost:17563"
	DefaultRedisChannel = "bean-relay:events"
)

// ErrMissingUpstreamCredentials is returned by Validate when the relay is not in
// relay-only mode and one of the Twitch settings is empty.
var ErrMissingUpstreamCredentials = errors.New("missing Twitch configuration")

// Config is the full relay configuration. Each section maps to a [section] of the
// config file; the conf tags name the environment variables.
type Config struct {
	Relay  RelayConfig
	Twitch TwitchConfig
	Log    LogConfig
	Redis  RedisConfig
}

// RelayConfig covers the local side: connection endpoint and overlay page.
type RelayConfig struct {
	// RelayOnly is read from BDS_RELAY_ONLY with the same truthy rules as Debug.
	RelayOnly   bool
	ListenAddr  string         `conf:"LOCAL_WS_ADDR"`
	ListenPort  int            `conf:"LOCAL_WS_PORT"`
	OverlayPort int            `conf:"OVERLAY_PORT"`
	OverlayPage string         `conf:"OVERLAY_PAGE"`
	SendTimeout ct.OptDuration `conf:"SEND_TIMEOUT"`
}

type TwitchConfig struct {
	AppID         string `conf:"TWITCH_APP_ID"`
	AppSecret     string `conf:"TWITCH_APP_SECRET"`
	TargetChannel string `conf:"TWITCH_TARGET_CHANNEL"`
	TokenFile     string `conf:"TWITCH_TOKEN_FILE"`
	RedirectURL   string `conf:"TWITCH_REDIRECT_URL"`
}

type LogConfig struct {
	// Debug is read from BDS_DEBUG.
	Debug  bool
	Level  string `conf:"LOG_LEVEL"`
	Format string `conf:"LOG_FORMAT"`
	Output string `conf:"LOG_OUTPUT"`
	File   string `conf:"LOG_FILE"`
}

// RedisConfig enables the optional pub/sub event bridge when URL is set.
type RedisConfig struct {
	URL     string `conf:"REDIS_URL"`
	Channel string `conf:"REDIS_CHANNEL"`
}

// Default returns a Config populated with the built-in defaults.
func Default() Config {
	return Config{
		Relay: RelayConfig{
			ListenAddr:  DefaultListenAddr,
			ListenPort:  DefaultListenPort,
			OverlayPort: DefaultOverlayPort,
			OverlayPage: DefaultOverlayPage,
			SendTimeout: ct.NewOptDuration(DefaultSendTimeout),
		},
		Twitch: TwitchConfig{
			TokenFile:   DefaultTokenFile,
			RedirectURL: DefaultRedirectURL,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Redis: RedisConfig{
			Channel: DefaultRedisChannel,
		},
	}
}

// ListenAddress is the host:port the connection endpoint binds to.
func (c Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Relay.ListenAddr, c.Relay.ListenPort)
}

// OverlayAddress is the host:port of the static overlay endpoint.
func (c Config) OverlayAddress() string {
	return fmt.Sprintf("%s:%d", c.Relay.ListenAddr, c.Relay.OverlayPort)
}

func (c Config) SendTimeout() time.Duration {
	return c.Relay.SendTimeout.GetOrElse(DefaultSendTimeout)
}

// Validate checks ports and, outside relay-only mode, the Twitch credentials.
func Validate(c *Config) error {
	if err := validatePort("LOCAL_WS_PORT", c.Relay.ListenPort); err != nil {
		return err
	}
	if err := validatePort("OVERLAY_PORT", c.Relay.OverlayPort); err != nil {
		return err
	}
	if c.Relay.ListenPort != 0 && c.Relay.ListenPort == c.Relay.OverlayPort {
		return fmt.Errorf("LOCAL_WS_PORT and OVERLAY_PORT must differ (both %d)", c.Relay.ListenPort)
	}
	if c.Relay.SendTimeout.IsDefined() && c.Relay.SendTimeout.GetOrElse(0) <= 0 {
		return errors.New("SEND_TIMEOUT must be positive")
	}
	if c.Relay.RelayOnly {
		return nil
	}

	var missing []string
	if c.Twitch.AppID == "" {
		missing = append(missing, "TWITCH_APP_ID")
	}
	if c.Twitch.AppSecret == "" {
		missing = append(missing, "TWITCH_APP_SECRET")
	}
	if c.Twitch.TargetChannel == "" {
		missing = append(missing, "TWITCH_TARGET_CHANNEL")
	}
	if len(missing) > 0 {
		return fmt.Errorf(
			"%w: set %s (or run with BDS_RELAY_ONLY=1); values may be placed in a .env file or in the file named by BDS_ENV_FILE",
			ErrMissingUpstreamCredentials,
			strings.Join(missing, ", "),
		)
	}
	return nil
}

// Port 0 asks the OS for an ephemeral port.
func validatePort(name string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s must be between 0 and 65535, got %d", name, port)
	}
	return nil
}

// Summary lists which settings are present without exposing secret values.
func (c Config) Summary() map[string]any {
	return map[string]any{
		"relay_only":         c.Relay.RelayOnly,
		"listen_address":     c.ListenAddress(),
		"overlay_address":    c.OverlayAddress(),
		"overlay_page":       c.Relay.OverlayPage,
		"twitch_app_id_set":  c.Twitch.AppID != "",
		"twitch_secret_set":  c.Twitch.AppSecret != "",
		"twitch_channel_set": c.Twitch.TargetChannel != "",
		"redis_bridge":       c.Redis.URL != "",
	}
}
