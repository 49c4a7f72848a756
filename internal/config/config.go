// Package config provides configuration parsing and validation for lanlobby.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration for both the directory
// daemon and the peer client. Each binary reads the sections it needs.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Directory  DirectoryConfig  `yaml:"directory"`
	Health     HealthConfig     `yaml:"health"`
	Client     ClientConfig     `yaml:"client"`
	Rendezvous RendezvousConfig `yaml:"rendezvous"`
	Session    SessionConfig    `yaml:"session"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DirectoryConfig contains directory daemon settings.
type DirectoryConfig struct {
	Address            string        `yaml:"address"`             // TCP listen address
	DataDir            string        `yaml:"data_dir"`            // directory for the account snapshot
	ReapInterval       time.Duration `yaml:"reap_interval"`       // presence sweep period
	StalenessThreshold time.Duration `yaml:"staleness_threshold"` // max heartbeat silence before demotion
}

// HealthConfig contains health/metrics HTTP server settings.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ClientConfig contains directory client settings for the peer binary.
type ClientConfig struct {
	LobbyAddress      string        `yaml:"lobby_address"`      // directory host:port
	DialTimeout       time.Duration `yaml:"dial_timeout"`       // directory connection dial timeout
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // presence heartbeat period
	HeartbeatXP       int64         `yaml:"heartbeat_xp"`       // experience delta per heartbeat
}

// RendezvousConfig contains peer discovery settings.
type RendezvousConfig struct {
	Hosts              []string      `yaml:"hosts"`    // candidate hosts to scan
	PortMin            int           `yaml:"port_min"` // inclusive UDP port range
	PortMax            int           `yaml:"port_max"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout"`        // per-candidate PROBE_ACK wait
	InviteTimeout      time.Duration `yaml:"invite_timeout"`       // INVITE_RESPONSE wait
	ConnectInfoTimeout time.Duration `yaml:"connect_info_timeout"` // responder CONNECT_INFO wait
	ProbeRate          float64       `yaml:"probe_rate"`           // probes per second, 0 = unlimited
	Backoff            BackoffConfig `yaml:"backoff"`
}

// BackoffConfig bounds retries of empty or rejected discovery rounds.
type BackoffConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       float64       `yaml:"jitter"`
	MaxRounds    int           `yaml:"max_rounds"` // 0 = unlimited
}

// SessionConfig contains direct session transport settings.
type SessionConfig struct {
	Transport        string        `yaml:"transport"`         // tcp, ws
	AdvertiseAddress string        `yaml:"advertise_address"` // address handed to the peer in CONNECT_INFO
	PortMin          int           `yaml:"port_min"`          // inclusive listener port range
	PortMax          int           `yaml:"port_max"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	LivenessInterval time.Duration `yaml:"liveness_interval"` // opponent is_online poll period
}

// Default returns a Config with default values. The timing defaults
// keep the staleness threshold above the heartbeat period so a single
// lost heartbeat does not demote presence.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Directory: DirectoryConfig{
			Address:            ":12000",
			DataDir:            "./data",
			ReapInterval:       5 * time.Second,
			StalenessThreshold: 10 * time.Second,
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Client: ClientConfig{
			LobbyAddress:      "127.0.0.1:12000",
			DialTimeout:       5 * time.Second,
			HeartbeatInterval: 5 * time.Second,
			HeartbeatXP:       1,
		},
		Rendezvous: RendezvousConfig{
			Hosts:              []string{"127.0.0.1"},
			PortMin:            17000,
			PortMax:            17010,
			ProbeTimeout:       500 * time.Millisecond,
			InviteTimeout:      10 * time.Second,
			ConnectInfoTimeout: 10 * time.Second,
			ProbeRate:          50,
			Backoff: BackoffConfig{
				InitialDelay: 1 * time.Second,
				MaxDelay:     30 * time.Second,
				Multiplier:   2.0,
				Jitter:       0.2,
				MaxRounds:    0,
			},
		},
		Session: SessionConfig{
			Transport:        "tcp",
			AdvertiseAddress: "127.0.0.1",
			PortMin:          20000,
			PortMax:          20050,
			DialTimeout:      10 * time.Second,
			LivenessInterval: 5 * time.Second,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// Handle default values: ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // Keep original if not found
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.Logging.Level) {
		errs = append(errs, fmt.Sprintf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}
	if !isValidLogFormat(c.Logging.Format) {
		errs = append(errs, fmt.Sprintf("invalid logging.format: %s (must be text or json)", c.Logging.Format))
	}

	if c.Directory.Address == "" {
		errs = append(errs, "directory.address is required")
	}
	if c.Directory.DataDir == "" {
		errs = append(errs, "directory.data_dir is required")
	}
	if c.Directory.ReapInterval <= 0 {
		errs = append(errs, "directory.reap_interval must be positive")
	}
	if c.Directory.StalenessThreshold <= 0 {
		errs = append(errs, "directory.staleness_threshold must be positive")
	}

	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when enabled")
	}

	if c.Client.LobbyAddress == "" {
		errs = append(errs, "client.lobby_address is required")
	} else if _, _, err := net.SplitHostPort(c.Client.LobbyAddress); err != nil {
		errs = append(errs, fmt.Sprintf("client.lobby_address: invalid host:port: %s", c.Client.LobbyAddress))
	}
	if c.Client.HeartbeatInterval <= 0 {
		errs = append(errs, "client.heartbeat_interval must be positive")
	}
	if c.Directory.StalenessThreshold <= c.Client.HeartbeatInterval {
		errs = append(errs, "directory.staleness_threshold must exceed client.heartbeat_interval to tolerate a missed beat")
	}

	if len(c.Rendezvous.Hosts) == 0 {
		errs = append(errs, "rendezvous.hosts must list at least one host")
	}
	if err := validatePortRange(c.Rendezvous.PortMin, c.Rendezvous.PortMax); err != nil {
		errs = append(errs, fmt.Sprintf("rendezvous: %v", err))
	}
	if c.Rendezvous.ProbeTimeout <= 0 {
		errs = append(errs, "rendezvous.probe_timeout must be positive")
	}
	if c.Rendezvous.InviteTimeout <= 0 {
		errs = append(errs, "rendezvous.invite_timeout must be positive")
	}
	if c.Rendezvous.Backoff.Multiplier < 1 {
		errs = append(errs, "rendezvous.backoff.multiplier must be >= 1")
	}

	if !isValidTransport(c.Session.Transport) {
		errs = append(errs, fmt.Sprintf("invalid session.transport: %s (must be tcp or ws)", c.Session.Transport))
	}
	if c.Session.AdvertiseAddress == "" {
		errs = append(errs, "session.advertise_address is required")
	}
	if err := validatePortRange(c.Session.PortMin, c.Session.PortMax); err != nil {
		errs = append(errs, fmt.Sprintf("session: %v", err))
	}
	if c.Session.LivenessInterval <= 0 {
		errs = append(errs, "session.liveness_interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

func isValidTransport(transport string) bool {
	switch transport {
	case "tcp", "ws":
		return true
	default:
		return false
	}
}

func validatePortRange(min, max int) error {
	if min < 1 || min > 65535 {
		return fmt.Errorf("port_min out of range: %d", min)
	}
	if max < 1 || max > 65535 {
		return fmt.Errorf("port_max out of range: %d", max)
	}
	if max < min {
		return fmt.Errorf("port_max (%d) must be >= port_min (%d)", max, min)
	}
	return nil
}

// String returns a YAML rendering of the config for debugging.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
