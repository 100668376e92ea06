package telegram

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/nugget/vibe-reachout/internal/protocol"
)

const (
	// maxFieldChars caps a single excerpt (command, JSON input) inside
	// the message.
	maxFieldChars = 500

	// maxTotalChars caps the whole message body, under Telegram's own
	// limit with headroom for the status annotation appended later.
	maxTotalChars = 4000

	// truncationSuffix marks a cut excerpt.
	truncationSuffix = "... (truncated)"
)

// FormatPermissionMessage renders the permission request as a Telegram
// HTML message: project header, optional assistant context,
// tool-specific details, working directory, and a short session tag.
// It satisfies [broker.Formatter].
func FormatPermissionMessage(req *protocol.PermissionRequest) string {
	projectName := filepath.Base(req.CWD)
	if projectName == "." || projectName == string(filepath.Separator) || req.CWD == "" {
		projectName = "unknown"
	}

	sessionShort := req.SessionID
	if len(sessionShort) > 8 {
		sessionShort = sessionShort[:8]
	}

	var contextSection string
	if req.AssistantContext != "" {
		contextSection = "\n\n\U0001f4ac " + escapeHTML(req.AssistantContext)
	}

	message := fmt.Sprintf(
		"<b>\U0001f4cb %s</b>%s\n\n<b>\U0001f527 %s</b>\n%s\n\n\U0001f4c1 %s\n\U0001f194 Session: <code>%s</code>",
		escapeHTML(projectName),
		contextSection,
		escapeHTML(req.ToolName),
		formatToolDetails(req.ToolName, req.ToolInput),
		escapeHTML(req.CWD),
		escapeHTML(sessionShort),
	)

	return truncate(message, maxTotalChars)
}

// formatToolDetails renders the tool input. Bash shows the command,
// Write shows the target and content size, Edit shows a small diff;
// anything else gets a JSON excerpt.
func formatToolDetails(toolName string, toolInput json.RawMessage) string {
	var input map[string]json.RawMessage
	if err := json.Unmarshal(toolInput, &input); err != nil {
		input = nil
	}

	switch toolName {
	case "Bash":
		command := stringField(input, "command", "<no command>")
		return fmt.Sprintf("<pre>%s</pre>", escapeHTML(truncate(command, maxFieldChars)))

	case "Write":
		filePath := stringField(input, "file_path", "<unknown file>")
		size := formatSize(len(stringField(input, "content", "")))
		return fmt.Sprintf("\U0001f4c4 <code>%s</code> (%s)", escapeHTML(filePath), escapeHTML(size))

	case "Edit":
		filePath := stringField(input, "file_path", "<unknown file>")
		oldStr := truncate(stringField(input, "old_string", ""), maxFieldChars/2)
		newStr := truncate(stringField(input, "new_string", ""), maxFieldChars/2)
		return fmt.Sprintf("\U0001f4c4 <code>%s</code>\n<pre>- %s\n+ %s</pre>",
			escapeHTML(filePath), escapeHTML(oldStr), escapeHTML(newStr))

	default:
		var pretty []byte
		var value any
		if err := json.Unmarshal(toolInput, &value); err == nil {
			pretty, _ = json.MarshalIndent(value, "", "  ")
		}
		return fmt.Sprintf("<pre>%s</pre>", escapeHTML(truncate(string(pretty), maxFieldChars)))
	}
}

// stringField extracts a string member from a decoded JSON object,
// returning fallback when absent or not a string.
func stringField(input map[string]json.RawMessage, key, fallback string) string {
	raw, ok := input[key]
	if !ok {
		return fallback
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return fallback
	}
	return s
}

// escapeHTML escapes the characters Telegram's HTML parse mode treats
// specially.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// truncate cuts s to at most max bytes on a rune boundary, appending
// the truncation suffix when anything was removed.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationSuffix
}

// formatSize renders a byte count for humans.
func formatSize(bytes int) string {
	switch {
	case bytes < 1024:
		return fmt.Sprintf("%d B", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	}
}
