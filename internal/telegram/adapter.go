package telegram

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/vibe-reachout/internal/broker"
)

// pollRetryDelay is the pause after a failed getUpdates call before
// polling again.
const pollRetryDelay = 2 * time.Second

// Adapter exposes the Bot API client as the broker's chat service and
// converts incoming updates into broker events.
type Adapter struct {
	client *Client
	logger *slog.Logger
	events chan broker.Event
}

// Compile-time check that Adapter satisfies the broker contract.
var _ broker.ChatAdapter = (*Adapter)(nil)

// NewAdapter wraps a Bot API client.
func NewAdapter(client *Client, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client: client,
		logger: logger,
		events: make(chan broker.Event, 64),
	}
}

// Events returns the inbound event channel. It is closed when Poll
// returns.
func (a *Adapter) Events() <-chan broker.Event {
	return a.events
}

// Send posts a permission notification with an inline keyboard.
func (a *Adapter) Send(ctx context.Context, chatID int64, body string, buttons []broker.Button) (int64, error) {
	var markup any
	if len(buttons) > 0 {
		row := make([]InlineKeyboardButton, 0, len(buttons))
		for _, b := range buttons {
			row = append(row, InlineKeyboardButton{Text: b.Label, CallbackData: b.Data})
		}
		markup = InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{row}}
	}
	return a.client.SendMessage(ctx, chatID, body, "HTML", markup)
}

// Edit replaces a message body, keeping HTML formatting.
func (a *Adapter) Edit(ctx context.Context, chatID, messageID int64, body string) error {
	return a.client.EditMessageText(ctx, chatID, messageID, body, "HTML")
}

// Delete removes a message.
func (a *Adapter) Delete(ctx context.Context, chatID, messageID int64) error {
	return a.client.DeleteMessage(ctx, chatID, messageID)
}

// PromptForText sends a plain-text message with ForceReply markup so
// the client focuses the reply composer.
func (a *Adapter) PromptForText(ctx context.Context, chatID int64, body string) (int64, error) {
	return a.client.SendMessage(ctx, chatID, body, "", ForceReply{ForceReply: true})
}

// AckCallback dismisses a pressed button.
func (a *Adapter) AckCallback(ctx context.Context, queryID, text string, alert bool) error {
	return a.client.AnswerCallbackQuery(ctx, queryID, text, alert)
}

// Poll long-polls getUpdates until ctx is cancelled, pushing converted
// events to the channel returned by Events. The channel is closed on
// return so the router unblocks.
func (a *Adapter) Poll(ctx context.Context) {
	defer close(a.events)
	a.logger.Info("telegram poller started")

	var offset int64
	for {
		if ctx.Err() != nil {
			a.logger.Info("telegram poller shutting down")
			return
		}

		updates, err := a.client.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				a.logger.Info("telegram poller shutting down")
				return
			}
			a.logger.Warn("getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollRetryDelay):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			ev, ok := a.convert(u)
			if !ok {
				continue
			}
			select {
			case a.events <- ev:
			default:
				a.logger.Warn("chat event channel full, dropping event",
					"update_id", u.UpdateID,
				)
			}
		}
	}
}

// convert maps an update to a broker event. Updates the broker does
// not consume are skipped.
func (a *Adapter) convert(u Update) (broker.Event, bool) {
	switch {
	case u.CallbackQuery != nil:
		if u.CallbackQuery.Message == nil {
			// Telegram omits the message for buttons on very old
			// messages; without it there is no chat to authorize.
			a.logger.Warn("callback query with no associated message",
				"query_id", u.CallbackQuery.ID,
			)
			return broker.Event{}, false
		}
		return broker.Event{Callback: &broker.CallbackEvent{
			QueryID: u.CallbackQuery.ID,
			ChatID:  u.CallbackQuery.Message.Chat.ID,
			Data:    u.CallbackQuery.Data,
		}}, true
	case u.Message != nil:
		return broker.Event{Text: &broker.TextEvent{
			ChatID: u.Message.Chat.ID,
			Text:   u.Message.Text,
		}}, true
	default:
		return broker.Event{}, false
	}
}
