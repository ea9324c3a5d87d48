// ABOUTME: Configuration loading for the exo-matrix adapter
// ABOUTME: Loads TOML config from an XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Matrix  MatrixConfig  `toml:"matrix"`
	Broker  BrokerConfig  `toml:"broker"`
	Bridge  BridgeConfig  `toml:"bridge"`
	Logging LoggingConfig `toml:"logging"`
}

type MatrixConfig struct {
	Homeserver  string `toml:"homeserver"`
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token"`
	// DeviceID is required for end-to-end encryption.
	DeviceID    string `toml:"device_id"`
	RecoveryKey string `toml:"recovery_key"`
	Encryption  bool   `toml:"encryption"`
}

type BrokerConfig struct {
	Addr         string `toml:"addr"`
	SenderPrefix string `toml:"sender_prefix"`

	Timeout    time.Duration `toml:"-"`
	TimeoutRaw string        `toml:"timeout"`
}

type BridgeConfig struct {
	AllowedRooms []string `toml:"allowed_rooms"`
	// Messages starting with IgnorePrefix are not forwarded.
	IgnorePrefix    string `toml:"ignore_prefix"`
	TypingIndicator bool   `toml:"typing_indicator"`
	// UpdatesRoom receives "ERROR: ..." posts when the broker is unreachable.
	UpdatesRoom string `toml:"updates_room"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

func defaultConfig() Config {
	return Config{
		Broker: BrokerConfig{
			Addr:         "127.0.0.1:25077",
			SenderPrefix: "MATRIX-",
			Timeout:      2 * time.Minute,
		},
		Bridge: BridgeConfig{
			IgnorePrefix:    "!!",
			TypingIndicator: true,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads config from the given path, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes TOML content on top of the defaults and validates it.
func Parse(data string) (*Config, error) {
	cfg := defaultConfig()
	if _, err := toml.Decode(expandEnvVars(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Broker.TimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Broker.TimeoutRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing broker.timeout %q: %w", cfg.Broker.TimeoutRaw, err)
		}
		cfg.Broker.Timeout = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	u, err := url.Parse(c.Matrix.Homeserver)
	if err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("matrix.homeserver must use http or https scheme")
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}
	if c.Matrix.Encryption && c.Matrix.DeviceID == "" {
		return fmt.Errorf("matrix.device_id is required when encryption is enabled")
	}
	if c.Broker.Addr == "" {
		return fmt.Errorf("broker.addr is required")
	}
	if c.Broker.Timeout <= 0 {
		return fmt.Errorf("broker.timeout must be positive")
	}
	return nil
}
