// Package install registers the vibe-reachout hook in the assistant's
// settings file. Re-running install updates the existing entry in
// place rather than duplicating it.
package install

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// hookCommand is the command name registered in the settings file. It
// must match the installed binary name.
const hookCommand = "vibe-reachout"

// hookTimeoutSeconds is the assistant-side timeout for the hook
// process, comfortably above the broker's maximum decision window.
const hookTimeoutSeconds = 600

// SettingsPath returns the assistant settings location:
// ~/.claude/settings.json.
func SettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "settings.json"), nil
}

// Run installs the hook at the default settings path.
func Run(stdout io.Writer) error {
	path, err := SettingsPath()
	if err != nil {
		return err
	}
	if err := InstallAt(path); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Hook installed at %s\n", path)
	return nil
}

// InstallAt adds or updates the PermissionRequest hook entry in the
// settings file at path. Missing files and parent directories are
// created. The operation is idempotent: running it twice produces the
// same file as running it once.
func InstallAt(path string) error {
	settings, err := readSettings(path)
	if err != nil {
		return err
	}

	hooks, ok := settings["hooks"].(map[string]any)
	if !ok {
		hooks = make(map[string]any)
		settings["hooks"] = hooks
	}

	matcherEntry := map[string]any{
		"hooks": []any{
			map[string]any{
				"type":    "command",
				"command": hookCommand,
				"timeout": float64(hookTimeoutSeconds),
			},
		},
	}

	entries, _ := hooks["PermissionRequest"].([]any)
	replaced := false
	for i, entry := range entries {
		if entryRunsCommand(entry, hookCommand) {
			entries[i] = matcherEntry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, matcherEntry)
	}
	hooks["PermissionRequest"] = entries

	return writeSettings(path, settings)
}

// entryRunsCommand reports whether a matcher entry contains a hook
// invoking the given command.
func entryRunsCommand(entry any, command string) bool {
	m, ok := entry.(map[string]any)
	if !ok {
		return false
	}
	inner, ok := m["hooks"].([]any)
	if !ok {
		return false
	}
	for _, h := range inner {
		hm, ok := h.(map[string]any)
		if !ok {
			continue
		}
		if cmd, ok := hm["command"].(string); ok && cmd == command {
			return true
		}
	}
	return false
}

// readSettings loads the settings JSON, returning an empty object when
// the file does not exist yet.
func readSettings(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]any), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if settings == nil {
		settings = make(map[string]any)
	}
	return settings, nil
}

// writeSettings pretty-prints the settings back, creating parent
// directories as needed.
func writeSettings(path string, settings map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
