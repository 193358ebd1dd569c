// Package config handles agentd configuration loading. Settings come from a
// YAML file (with ${VAR} expansion) overlaid by AGENTD_* environment
// variables, so containers can run without a file at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order. An explicit path
// (from -config flag) is checked first. Then: ./agentd.yaml,
// ~/.config/agentd/config.yaml, /etc/agentd/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"agentd.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agentd", "config.yaml"))
	}

	paths = append(paths, "/etc/agentd/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise it searches DefaultSearchPaths and returns the first that
// exists; an empty path with a nil error means "run on defaults".
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// Config holds all agentd configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Store     StoreConfig     `yaml:"store"`
	Provider  ProviderConfig  `yaml:"provider"`
	Loop      LoopConfig      `yaml:"loop"`
	Session   SessionConfig   `yaml:"session"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Log       LogConfig       `yaml:"log"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // bind address, "" = all interfaces
	Port    int    `yaml:"port"`
}

// Addr renders the listen address for net/http.
func (c ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// StoreConfig selects the memory store backend.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver"`
	// DSN is the sqlite file path; ignored for the memory driver.
	DSN string `yaml:"dsn"`
}

// ProviderConfig selects and parameterizes the decision engine provider.
type ProviderConfig struct {
	// Name is "openai", "anthropic", or "mock".
	Name string `yaml:"name"`
	// Model overrides the provider's default model id.
	Model string `yaml:"model"`
	// APIKey overrides environment credentials when set.
	APIKey string `yaml:"api_key"`
	// Instructions is the standing system prompt.
	Instructions string `yaml:"instructions"`
}

// LoopConfig bounds the orchestration loop.
type LoopConfig struct {
	// MaxIterations caps decide/execute round trips per user turn.
	MaxIterations int `yaml:"max_iterations"`
	// TurnTimeoutSec bounds one whole user turn, in seconds.
	TurnTimeoutSec int `yaml:"turn_timeout_sec"`
	// MaxParallelTools bounds concurrent tool execution per phase.
	MaxParallelTools int `yaml:"max_parallel_tools"`
}

// TurnTimeout returns the per-turn deadline.
func (c LoopConfig) TurnTimeout() time.Duration {
	return time.Duration(c.TurnTimeoutSec) * time.Second
}

// SessionConfig controls session retirement and summarization.
type SessionConfig struct {
	// TTLSec retires ACTIVE sessions idle longer than this many seconds.
	// Zero disables the sweeper.
	TTLSec int `yaml:"ttl_sec"`
	// SweepIntervalSec is how often idle sessions are checked.
	SweepIntervalSec int `yaml:"sweep_interval_sec"`
	// SummarizeAfter enables summarization of finished conversations with
	// at least this many turns. Zero disables it.
	SummarizeAfter int `yaml:"summarize_after"`
}

// TTL returns the idle session lifetime.
func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

// SweepInterval returns the sweeper cadence.
func (c SessionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// WorkspaceConfig defines the root directory for the file tools. When empty
// the file tools are not registered.
type WorkspaceConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Store:  StoreConfig{Driver: "memory"},
		Provider: ProviderConfig{
			Name: "openai",
		},
		Loop: LoopConfig{
			MaxIterations:    8,
			TurnTimeoutSec:   120,
			MaxParallelTools: 4,
		},
		Session: SessionConfig{
			TTLSec:           1800,
			SweepIntervalSec: 60,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a YAML file (when path is non-empty) and
// applies AGENTD_* environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays AGENTD_* variables. Malformed numeric or duration values
// are ignored in favor of the existing setting.
func (c *Config) applyEnv() {
	setString(&c.Listen.Address, "AGENTD_LISTEN_ADDRESS")
	setInt(&c.Listen.Port, "AGENTD_LISTEN_PORT")
	setString(&c.Store.Driver, "AGENTD_STORE_DRIVER")
	setString(&c.Store.DSN, "AGENTD_STORE_DSN")
	setString(&c.Provider.Name, "AGENTD_PROVIDER")
	setString(&c.Provider.Model, "AGENTD_MODEL")
	setString(&c.Provider.APIKey, "AGENTD_API_KEY")
	setString(&c.Provider.Instructions, "AGENTD_INSTRUCTIONS")
	setInt(&c.Loop.MaxIterations, "AGENTD_MAX_ITERATIONS")
	setInt(&c.Loop.TurnTimeoutSec, "AGENTD_TURN_TIMEOUT_SEC")
	setInt(&c.Loop.MaxParallelTools, "AGENTD_MAX_PARALLEL_TOOLS")
	setInt(&c.Session.TTLSec, "AGENTD_SESSION_TTL_SEC")
	setInt(&c.Session.SweepIntervalSec, "AGENTD_SWEEP_INTERVAL_SEC")
	setInt(&c.Session.SummarizeAfter, "AGENTD_SUMMARIZE_AFTER")
	setString(&c.Workspace.Path, "AGENTD_WORKSPACE")
	setString(&c.Log.Level, "AGENTD_LOG_LEVEL")
	setString(&c.Log.Format, "AGENTD_LOG_FORMAT")
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("store: sqlite driver requires a dsn")
		}
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}

	switch c.Provider.Name {
	case "openai", "anthropic", "mock":
	default:
		return fmt.Errorf("provider: unknown provider %q", c.Provider.Name)
	}

	if c.Loop.MaxIterations < 1 {
		return fmt.Errorf("loop: max_iterations must be at least 1")
	}
	if c.Loop.MaxParallelTools < 1 {
		return fmt.Errorf("loop: max_parallel_tools must be at least 1")
	}
	if c.Loop.TurnTimeoutSec <= 0 {
		return fmt.Errorf("loop: turn_timeout_sec must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

