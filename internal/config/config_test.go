package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeConfig drops a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadPath_Valid(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
telegram_bot_token = "123456:ABC-DEF"
allowed_chat_ids = [111, 222]
timeout_seconds = 60
`)

	cfg, err := LoadPath(path)
	if err != nil {
		t.Fatalf("LoadPath: %v", err)
	}
	if cfg.TelegramBotToken != "123456:ABC-DEF" {
		t.Errorf("token = %q", cfg.TelegramBotToken)
	}
	if len(cfg.AllowedChatIDs) != 2 {
		t.Errorf("chat IDs = %d, want 2", len(cfg.AllowedChatIDs))
	}
	if !cfg.Allowed(111) || !cfg.Allowed(222) {
		t.Error("expected 111 and 222 to be allowed")
	}
	if cfg.Allowed(333) {
		t.Error("333 should not be allowed")
	}
	if cfg.TimeoutSeconds != 60 {
		t.Errorf("timeout = %d, want 60", cfg.TimeoutSeconds)
	}
}

func TestLoadPath_DefaultTimeout(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
telegram_bot_token = "tok"
allowed_chat_ids = [1]
`)

	cfg, err := LoadPath(path)
	if err != nil {
		t.Fatalf("LoadPath: %v", err)
	}
	if cfg.TimeoutSeconds != 300 {
		t.Errorf("timeout = %d, want default 300", cfg.TimeoutSeconds)
	}
}

func TestLoadPath_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := LoadPath(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadPath_InvalidTOML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `telegram_bot_token = [not toml`)
	_, err := LoadPath(path)
	if err == nil {
		t.Fatal("expected error for invalid TOML")
	}
}

func TestLoadPath_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "empty token",
			content: "telegram_bot_token = \"\"\nallowed_chat_ids = [1]\n",
			wantErr: "telegram_bot_token",
		},
		{
			name:    "no chat ids",
			content: "telegram_bot_token = \"tok\"\nallowed_chat_ids = []\n",
			wantErr: "allowed_chat_ids",
		},
		{
			name:    "timeout too small",
			content: "telegram_bot_token = \"tok\"\nallowed_chat_ids = [1]\ntimeout_seconds = 0\n",
			wantErr: "timeout_seconds",
		},
		{
			name:    "timeout too large",
			content: "telegram_bot_token = \"tok\"\nallowed_chat_ids = [1]\ntimeout_seconds = 9999\n",
			wantErr: "timeout_seconds",
		},
		{
			name:    "socket parent missing",
			content: "telegram_bot_token = \"tok\"\nallowed_chat_ids = [1]\nsocket_path = \"/nonexistent-dir-xyz/s.sock\"\n",
			wantErr: "socket_path",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadPath(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestEffectiveSocketPath_Explicit(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := &Config{SocketPath: filepath.Join(dir, "custom.sock")}
	if got := cfg.EffectiveSocketPath(); got != filepath.Join(dir, "custom.sock") {
		t.Errorf("EffectiveSocketPath = %q", got)
	}
}

func TestDefaultSocketPath_XDGRuntimeDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	want := filepath.Join(dir, SocketName)
	if got := DefaultSocketPath(); got != want {
		t.Errorf("DefaultSocketPath = %q, want %q", got, want)
	}
}

func TestDefaultSocketPath_Fallback(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")

	got := DefaultSocketPath()
	if !strings.HasPrefix(got, "/tmp/vibe-reachout-") || !strings.HasSuffix(got, ".sock") {
		t.Errorf("DefaultSocketPath = %q, want /tmp/vibe-reachout-{uid}.sock", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"  error  ", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseLogLevel(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLogLevel(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
