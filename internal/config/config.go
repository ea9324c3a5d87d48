// ABOUTME: Configuration loading and parsing for the exo broker
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete exo broker configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale"`
	Persona    PersonaConfig    `yaml:"persona"`
	Access     AccessConfig     `yaml:"access"`
	Firewall   FirewallConfig   `yaml:"firewall"`
	Generation GenerationConfig `yaml:"generation"`
	ChatLog    ChatLogConfig    `yaml:"chatlog"`
	Notify     NotifyConfig     `yaml:"notify"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	// Addr is the TCP address adapters send `<sender>://<message>` frames to
	Addr           string `yaml:"addr"`
	HTTPAddr       string `yaml:"http_addr"`
	HealthGRPCAddr string `yaml:"health_grpc_addr"`
	MaxFrameBytes  int    `yaml:"max_frame_bytes"`

	ReadTimeout    time.Duration `yaml:"-"`
	ReadTimeoutRaw string        `yaml:"read_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration for the frame listener
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Port      int    `yaml:"port"`
}

// PersonaConfig describes who speaks in the transcript
type PersonaConfig struct {
	// Player is the name inbound messages are attributed to in the history
	Player string `yaml:"player"`
	// Roster lists every recognised speaker name, the player included
	Roster []string `yaml:"roster"`
	// RosterFile is a newline separated list of names merged into Roster
	RosterFile string `yaml:"roster_file"`
}

// AccessConfig holds the static allow-lists
type AccessConfig struct {
	Operators []string `yaml:"operators"`
	Sudoers   []string `yaml:"sudoers"`
}

// FirewallConfig holds the content filter tables
type FirewallConfig struct {
	// Intercepts maps an exact (case-insensitive) message to a canned reply
	Intercepts map[string]string `yaml:"intercepts"`
	// Banned lists rules of the form "first" or "first//second"
	Banned []string `yaml:"banned"`
	// Rejections is the pool blocked messages are answered from
	Rejections []string `yaml:"rejections"`
}

// GenerationConfig is forwarded to the generator backend
type GenerationConfig struct {
	Backend  string `yaml:"backend"` // ollama, gemini, echo
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Device   string `yaml:"device"`

	Temperature       float64 `yaml:"temperature"`
	TopK              int     `yaml:"top_k"`
	TopP              float64 `yaml:"top_p"`
	RepetitionPenalty float64 `yaml:"repetition_penalty"`
	MaxNewTokens      int     `yaml:"max_new_tokens"`
	BeamWidth         int     `yaml:"beam_width"`
	Seed              int     `yaml:"seed"`

	StopToken   string `yaml:"stop_token"`
	PaddingText string `yaml:"padding_text"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// ChatLogConfig holds chat log sink configuration
type ChatLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// NotifyConfig holds the operator notification channel configuration
type NotifyConfig struct {
	Matrix MatrixNotifyConfig `yaml:"matrix"`

	Window    time.Duration `yaml:"-"`
	WindowRaw string        `yaml:"window"`
}

// MatrixNotifyConfig configures fault notifications posted to a Matrix room
type MatrixNotifyConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	RoomID      string `yaml:"room_id"`
}

// RateLimitConfig bounds how often one sender may start a turn
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	PerSec  float64 `yaml:"per_second"`
	Burst   int     `yaml:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every optional field populated.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          "127.0.0.1:25077",
			HTTPAddr:      "127.0.0.1:25078",
			MaxFrameBytes: 16384,
			ReadTimeout:   30 * time.Second,
		},
		Tailscale: TailscaleConfig{
			Port: 25077,
		},
		Firewall: FirewallConfig{
			Intercepts: map[string]string{},
		},
		Generation: GenerationConfig{
			Backend:           "ollama",
			Endpoint:          "http://127.0.0.1:11434",
			Device:            "cpu",
			Temperature:       1.0,
			TopP:              0.9,
			RepetitionPenalty: 1.0,
			MaxNewTokens:      20,
			BeamWidth:         3,
			Seed:              42,
			Timeout:           60 * time.Second,
		},
		Notify: NotifyConfig{
			Window: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			PerSec: 1,
			Burst:  3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if cfg.Persona.RosterFile != "" {
		names, err := readRosterFile(cfg.Persona.RosterFile)
		if err != nil {
			return nil, fmt.Errorf("reading roster file: %w", err)
		}
		cfg.Persona.Roster = mergeNames(cfg.Persona.Roster, names)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML content on top of Default() without validating it.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if c.Server.MaxFrameBytes <= 0 {
		return fmt.Errorf("server.max_frame_bytes must be positive")
	}

	if c.Persona.Player == "" {
		return fmt.Errorf("persona.player is required")
	}
	if len(c.Persona.Roster) == 0 {
		return fmt.Errorf("persona.roster (or persona.roster_file) must name at least one speaker")
	}

	for _, rule := range c.Firewall.Banned {
		if strings.TrimSpace(rule) == "" {
			return fmt.Errorf("firewall.banned contains an empty rule")
		}
	}
	if len(c.Firewall.Banned) > 0 && len(c.Firewall.Rejections) == 0 {
		return fmt.Errorf("firewall.rejections is required when banned rules are configured")
	}

	switch c.Generation.Backend {
	case "ollama", "gemini", "echo":
	default:
		return fmt.Errorf("generation.backend %q is not supported (ollama, gemini, echo)", c.Generation.Backend)
	}
	if c.Generation.Backend == "gemini" && c.Generation.APIKey == "" {
		return fmt.Errorf("generation.api_key is required for the gemini backend")
	}
	if c.Generation.BeamWidth < 1 {
		return fmt.Errorf("generation.beam_width must be at least 1")
	}
	if c.Generation.Timeout <= 0 {
		return fmt.Errorf("generation.timeout must be positive")
	}

	if c.ChatLog.Enabled && c.ChatLog.Path == "" {
		return fmt.Errorf("chatlog.path is required when chatlog is enabled")
	}

	if m := c.Notify.Matrix; m.Enabled {
		if m.Homeserver == "" || m.AccessToken == "" || m.RoomID == "" {
			return fmt.Errorf("notify.matrix requires homeserver, access_token and room_id")
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.PerSec <= 0 || c.RateLimit.Burst < 1) {
		return fmt.Errorf("ratelimit.per_second and ratelimit.burst must be positive")
	}

	return nil
}

// IsOperator reports whether id is in the operators allow-list.
func (c *Config) IsOperator(id string) bool {
	return contains(c.Access.Operators, id)
}

// IsSudoer reports whether id is in the sudoers allow-list.
func (c *Config) IsSudoer(id string) bool {
	return contains(c.Access.Sudoers, id)
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.ReadTimeoutRaw != "" {
		cfg.Server.ReadTimeout, err = time.ParseDuration(cfg.Server.ReadTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing read_timeout %q: %w", cfg.Server.ReadTimeoutRaw, err)
		}
	}

	if cfg.Generation.TimeoutRaw != "" {
		cfg.Generation.Timeout, err = time.ParseDuration(cfg.Generation.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing generation timeout %q: %w", cfg.Generation.TimeoutRaw, err)
		}
	}

	if cfg.Notify.WindowRaw != "" {
		cfg.Notify.Window, err = time.ParseDuration(cfg.Notify.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing notify window %q: %w", cfg.Notify.WindowRaw, err)
		}
	}

	return nil
}

// readRosterFile loads one speaker name per line, skipping blank lines.
func readRosterFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			names = append(names, name)
		}
	}
	return names, scanner.Err()
}

// mergeNames appends the names from extra that are not already in base.
func mergeNames(base, extra []string) []string {
	out := append([]string(nil), base...)
	for _, name := range extra {
		if !contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}
