// Package broker implements the decision broker: a Unix-socket request
// multiplexer that correlates in-flight hook requests with asynchronous
// human decisions arriving from a chat service. The chat service itself
// is abstracted behind [ChatAdapter]; the Telegram implementation lives
// in internal/telegram.
package broker

import (
	"context"

	"github.com/google/uuid"

	"github.com/nugget/vibe-reachout/internal/protocol"
)

// ChatAdapter is the surface the broker core needs from the chat
// service. Send and PromptForText return the placed message's ID for
// later editing or deletion. Edit, Delete, and AckCallback are
// best-effort from the broker's perspective; callers log failures and
// move on.
type ChatAdapter interface {
	// Send posts a permission notification with inline buttons to one
	// chat and returns the message ID.
	Send(ctx context.Context, chatID int64, body string, buttons []Button) (int64, error)

	// Edit replaces the body of a previously sent message.
	Edit(ctx context.Context, chatID, messageID int64, body string) error

	// Delete removes a previously sent message.
	Delete(ctx context.Context, chatID, messageID int64) error

	// PromptForText sends a message that focuses the chat's reply
	// composer (ForceReply) and returns the prompt's message ID.
	PromptForText(ctx context.Context, chatID int64, body string) (int64, error)

	// AckCallback dismisses a pressed inline button, optionally
	// showing text as a toast or alert.
	AckCallback(ctx context.Context, queryID, text string, alert bool) error
}

// Button is one inline keyboard entry. Data is the callback payload
// returned when the button is pressed.
type Button struct {
	Label string
	Data  string
}

// Buttons builds the action keyboard for a permission request. The
// Always Allow button is only offered when the request carries at
// least one permission suggestion to record.
func Buttons(id uuid.UUID, hasSuggestions bool) []Button {
	buttons := []Button{
		{Label: "✅ Allow", Data: protocol.EncodeCallback(id, protocol.ActionAllow)},
		{Label: "❌ Deny", Data: protocol.EncodeCallback(id, protocol.ActionDeny)},
		{Label: "\U0001f4ac Reply", Data: protocol.EncodeCallback(id, protocol.ActionReply)},
	}
	if hasSuggestions {
		buttons = append(buttons, Button{
			Label: "\U0001f512 Always Allow",
			Data:  protocol.EncodeCallback(id, protocol.ActionAlways),
		})
	}
	return buttons
}

// Formatter renders a permission request into the chat message body.
// Message formatting (HTML escaping, truncation) is the chat layer's
// concern; the broker only stores the result for status edits.
type Formatter func(req *protocol.PermissionRequest) string

// Event is one inbound chat event. Exactly one field is non-nil,
// following the envelope convention for tagged unions.
type Event struct {
	Callback *CallbackEvent
	Text     *TextEvent
}

// CallbackEvent is an inline button press.
type CallbackEvent struct {
	QueryID string
	ChatID  int64
	Data    string
}

// TextEvent is a plain text message in a chat.
type TextEvent struct {
	ChatID int64
	Text   string
}
