// Package config handles vibe-reachout configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// SocketName is the filename used for the broker's Unix socket when no
// explicit socket_path is configured.
const SocketName = "vibe-reachout.sock"

// defaultTimeoutSeconds is how long the broker waits for a human
// decision before answering Timeout.
const defaultTimeoutSeconds = 300

// Config holds all vibe-reachout configuration. It is read-only after
// Load and shared by reference between the hook and broker code paths.
type Config struct {
	TelegramBotToken string
	AllowedChatIDs   map[int64]struct{}
	TimeoutSeconds   int
	SocketPath       string // empty means derive via DefaultSocketPath
}

// rawConfig is the TOML shape of the config file. Load converts the
// chat ID list into a set.
type rawConfig struct {
	TelegramBotToken string  `toml:"telegram_bot_token"`
	AllowedChatIDs   []int64 `toml:"allowed_chat_ids"`
	TimeoutSeconds   *int    `toml:"timeout_seconds"`
	SocketPath       string  `toml:"socket_path"`
}

// DefaultPath returns the config file location:
// ~/.config/vibe-reachout/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "vibe-reachout", "config.toml"), nil
}

// Load reads and validates the config file at its default location.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadPath(path)
}

// LoadPath reads and validates the config file at the given path.
func LoadPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config at %s: %w", path, err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid TOML in %s: %w", path, err)
	}

	cfg := &Config{
		TelegramBotToken: raw.TelegramBotToken,
		AllowedChatIDs:   make(map[int64]struct{}, len(raw.AllowedChatIDs)),
		TimeoutSeconds:   defaultTimeoutSeconds,
		SocketPath:       raw.SocketPath,
	}
	for _, id := range raw.AllowedChatIDs {
		cfg.AllowedChatIDs[id] = struct{}{}
	}
	if raw.TimeoutSeconds != nil {
		cfg.TimeoutSeconds = *raw.TimeoutSeconds
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("telegram_bot_token must not be empty")
	}
	if len(c.AllowedChatIDs) == 0 {
		return fmt.Errorf("allowed_chat_ids must have at least one entry")
	}
	if c.TimeoutSeconds < 1 || c.TimeoutSeconds > 3600 {
		return fmt.Errorf("timeout_seconds must be between 1 and 3600, got %d", c.TimeoutSeconds)
	}
	if c.SocketPath != "" {
		parent := filepath.Dir(c.SocketPath)
		if _, err := os.Stat(parent); err != nil {
			return fmt.Errorf("socket_path parent directory does not exist: %s", parent)
		}
	}
	return nil
}

// Allowed reports whether the chat ID is in the allow list.
func (c *Config) Allowed(chatID int64) bool {
	_, ok := c.AllowedChatIDs[chatID]
	return ok
}

// EffectiveSocketPath returns the configured socket path, or the
// derived default when none is set.
func (c *Config) EffectiveSocketPath() string {
	if c.SocketPath != "" {
		return c.SocketPath
	}
	return DefaultSocketPath()
}

// DefaultSocketPath derives the broker socket location:
// $XDG_RUNTIME_DIR/vibe-reachout.sock when the variable is set
// (Linux), otherwise /tmp/vibe-reachout-{uid}.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, SocketName)
	}
	return fmt.Sprintf("/tmp/vibe-reachout-%d.sock", os.Getuid())
}
