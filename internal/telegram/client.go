package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/vibe-reachout/internal/httpkit"
)

// DefaultAPIBase is the production Bot API endpoint. Tests point the
// client at a local httptest server instead.
const DefaultAPIBase = "https://api.telegram.org"

// pollTimeoutSeconds is the server-side hold time for getUpdates long
// polling.
const pollTimeoutSeconds = 30

// APIError is a non-ok response from the Bot API.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// Client is a Telegram Bot API client. Methods are safe for concurrent
// use; the underlying http.Client pools connections.
type Client struct {
	baseURL string
	token   string
	logger  *slog.Logger

	// httpClient serves normal calls with an overall timeout;
	// pollClient serves getUpdates, which intentionally blocks
	// server-side and must not be cut short by a client timeout.
	httpClient *http.Client
	pollClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (for tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// NewClient creates a Bot API client for the given bot token.
func NewClient(token string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL: DefaultAPIBase,
		token:   token,
		logger:  logger,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		pollClient: httpkit.NewClient(
			// Overall timeout disabled; the long poll holds the
			// request open for up to pollTimeoutSeconds.
			httpkit.WithTimeout(0),
			httpkit.WithLogger(logger),
		),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SendMessage posts a message and returns its message ID. replyMarkup
// may be an [InlineKeyboardMarkup], a [ForceReply], or nil.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text, parseMode string, replyMarkup any) (int64, error) {
	var msg Message
	err := c.call(ctx, c.httpClient, "sendMessage", sendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   parseMode,
		ReplyMarkup: replyMarkup,
	}, &msg)
	if err != nil {
		return 0, fmt.Errorf("sendMessage: %w", err)
	}
	return msg.MessageID, nil
}

// EditMessageText replaces the text of a previously sent message.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text, parseMode string) error {
	err := c.call(ctx, c.httpClient, "editMessageText", editMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
		ParseMode: parseMode,
	}, nil)
	if err != nil {
		return fmt.Errorf("editMessageText: %w", err)
	}
	return nil
}

// DeleteMessage removes a previously sent message.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	err := c.call(ctx, c.httpClient, "deleteMessage", deleteMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	}, nil)
	if err != nil {
		return fmt.Errorf("deleteMessage: %w", err)
	}
	return nil
}

// AnswerCallbackQuery dismisses a pressed inline button. text, if
// non-empty, is shown as a toast, or as a modal alert when showAlert
// is set.
func (c *Client) AnswerCallbackQuery(ctx context.Context, queryID, text string, showAlert bool) error {
	err := c.call(ctx, c.httpClient, "answerCallbackQuery", answerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
		ShowAlert:       showAlert,
	}, nil)
	if err != nil {
		return fmt.Errorf("answerCallbackQuery: %w", err)
	}
	return nil
}

// GetUpdates long-polls for new updates past offset. It returns an
// empty slice when the server-side hold expires with nothing to
// deliver.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, c.pollClient, "getUpdates", getUpdatesParams{
		Offset:         offset,
		Timeout:        pollTimeoutSeconds,
		AllowedUpdates: []string{"message", "callback_query"},
	}, &updates)
	if err != nil {
		return nil, fmt.Errorf("getUpdates: %w", err)
	}
	return updates, nil
}

// call POSTs a JSON request to one Bot API method and decodes the
// result envelope. The token is part of the URL path and deliberately
// kept out of log output and error strings.
func (c *Client) call(ctx context.Context, httpClient *http.Client, method string, params, result any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", method, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !envelope.OK {
		return &APIError{Code: envelope.ErrorCode, Description: envelope.Description}
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}
