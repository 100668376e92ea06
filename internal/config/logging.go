package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LogLevelEnv is the environment variable that overrides the default
// log level for both hook and bot modes.
const LogLevelEnv = "VIBE_REACHOUT_LOG"

// ParseLogLevel converts a case-insensitive string to an [slog.Level].
//
// Accepted values: "debug", "info", "warn"/"warning", "error". The
// empty string maps to [slog.LevelInfo]. Leading and trailing
// whitespace is trimmed before matching.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", s)
	}
}
