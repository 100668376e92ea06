package hook

import (
	"encoding/json"
	"os"
	"strings"
	"unicode/utf8"
)

// maxContextChars caps the assistant-context excerpt embedded in the
// chat notification.
const maxContextChars = 500

// transcriptEntry is one JSONL line of the assistant's transcript.
// Only the fields needed to locate assistant text are modeled.
type transcriptEntry struct {
	Type    string `json:"type"`
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

// contentBlock is one entry of an assistant message's content array.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ExtractAssistantContext reads the transcript JSONL file and returns
// the text of the last assistant message, truncated for display. A
// missing or unreadable transcript yields the empty string; the
// context is a nicety, not a requirement.
func ExtractAssistantContext(transcriptPath string) string {
	data, err := os.ReadFile(transcriptPath)
	if err != nil {
		return ""
	}

	lines := strings.Split(string(data), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		var entry transcriptEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.Type != "assistant" {
			continue
		}

		var texts []string
		for _, block := range entry.Message.Content {
			if block.Type != "text" {
				continue
			}
			trimmed := strings.TrimSpace(block.Text)
			if trimmed != "" {
				texts = append(texts, trimmed)
			}
		}
		if len(texts) > 0 {
			return truncateContext(strings.Join(texts, "\n"))
		}
	}

	return ""
}

// truncateContext cuts the excerpt to maxContextChars bytes on a rune
// boundary with a short ellipsis. The chat formatter applies its own
// longer truncation to other fields; this one stays compact because it
// renders inline.
func truncateContext(s string) string {
	if len(s) <= maxContextChars {
		return s
	}
	cut := maxContextChars
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
