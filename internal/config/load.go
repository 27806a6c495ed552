package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	ct "github.com/launchdarkly/go-configtypes"
	"github.com/subosito/gotenv"
	"gopkg.in/gcfg.v1"
)

const (
	EnvFileVar    = "BDS_ENV_FILE"
	ConfigFileVar = "BDS_CONFIG_FILE"
	defaultEnv    = ".env"
)

// Load builds the configuration: defaults, then the .env file (which never
// overrides variables that are already set), then the optional config file,
// then environment variables. The result is validated.
func Load() (*Config, error) {
	if err := LoadEnvFile(os.Getenv(EnvFileVar)); err != nil {
		return nil, err
	}

	c := Default()
	if path := os.Getenv(ConfigFileVar); path != "" {
		if err := LoadConfigFile(&c, path); err != nil {
			return nil, err
		}
	}
	if err := LoadConfigFromEnvironment(&c); err != nil {
		return nil, err
	}
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadEnvFile loads path (or ./.env when path is empty) into the environment.
// A missing default file is not an error; a missing explicit file is.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = defaultEnv
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("failed to read env file %q: %w", path, err)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to parse env file %q: %w", path, err)
	}
	return nil
}

// LoadConfigFile reads an INI-style file into c. c should already hold defaults.
func LoadConfigFile(c *Config, path string) error {
	if err := gcfg.ReadFileInto(c, path); err != nil {
		return fmt.Errorf("failed to read configuration file %q: %w", path, filterGcfgError(err))
	}
	return nil
}

func filterGcfgError(err error) error {
	const phrase = "can't store data at"
	if err != nil && strings.Contains(err.Error(), phrase) {
		return errors.New(strings.Replace(err.Error(), phrase, "unsupported or misspelled", 1))
	}
	return err
}

// LoadConfigFromEnvironment overlays environment variables onto c.
func LoadConfigFromEnvironment(c *Config) error {
	reader := ct.NewVarReaderFromEnvironment()

	reader.ReadStruct(&c.Relay, false)
	reader.ReadStruct(&c.Twitch, false)
	reader.ReadStruct(&c.Log, false)
	reader.ReadStruct(&c.Redis, false)

	if !reader.Result().OK() {
		return reader.Result().GetError()
	}

	if v, ok := os.LookupEnv("BDS_RELAY_ONLY"); ok {
		c.Relay.RelayOnly = truthy(v)
	}
	if v, ok := os.LookupEnv("BDS_DEBUG"); ok {
		c.Log.Debug = truthy(v)
	}
	return nil
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
