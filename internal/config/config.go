package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "NEAUT"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "neaut.db"
	defaultLogLevel     = "info"
	defaultBaseDelay    = time.Second
	defaultMaxAttempts  = 5
	defaultUserName     = "Anonymous"
)

// RelayConfig captures runtime configuration for the relay server.
type RelayConfig struct {
	HTTPAddress string
	LogLevel    string
}

// AgentConfig captures runtime configuration for the sync agent. An empty
// RelayURL disables network sync; the agent then serves the local store only.
type AgentConfig struct {
	RelayURL     string
	DatabasePath string
	LogLevel     string
	UserID       string
	UserName     string
	BaseDelay    time.Duration
	MaxAttempts  int
}

// SyncEnabled reports whether a relay endpoint is configured.
func (c AgentConfig) SyncEnabled() bool {
	return strings.TrimSpace(c.RelayURL) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("relay.url", "")
	configViper.SetDefault("sync.base_delay", defaultBaseDelay)
	configViper.SetDefault("sync.max_attempts", defaultMaxAttempts)
	configViper.SetDefault("user.id", "")
	configViper.SetDefault("user.name", defaultUserName)
}

// LoadRelay parses relay server configuration from viper.
func LoadRelay(configViper *viper.Viper) (RelayConfig, error) {
	cfg := RelayConfig{
		HTTPAddress: configViper.GetString("http.address"),
		LogLevel:    configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return RelayConfig{}, err
	}

	return cfg, nil
}

// LoadAgent parses sync agent configuration from viper.
func LoadAgent(configViper *viper.Viper) (AgentConfig, error) {
	cfg := AgentConfig{
		RelayURL:     configViper.GetString("relay.url"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),
		UserID:       configViper.GetString("user.id"),
		UserName:     configViper.GetString("user.name"),
		BaseDelay:    configViper.GetDuration("sync.base_delay"),
		MaxAttempts:  configViper.GetInt("sync.max_attempts"),
	}

	if err := cfg.validate(); err != nil {
		return AgentConfig{}, err
	}

	return cfg, nil
}

func (c RelayConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	return nil
}

func (c AgentConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.SyncEnabled() && strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("user.id is required when relay.url is set")
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("sync.base_delay must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("sync.max_attempts must be positive")
	}
	return nil
}
