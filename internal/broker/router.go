package broker

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nugget/vibe-reachout/internal/config"
	"github.com/nugget/vibe-reachout/internal/protocol"
)

// Status annotations appended to sent messages when a request reaches
// a terminal state.
const (
	StatusApproved      = "✅ Approved"
	StatusDenied        = "❌ Denied"
	StatusAlwaysAllowed = "\U0001f512 Always Allowed"
	StatusReplied       = "\U0001f4ac Replied"
	StatusTimedOut      = "⏱️ Timed out"
)

// User-visible dialog texts.
const (
	textUnauthorized   = "Unauthorized"
	textAlreadyHandled = "This request has already been handled."
	textReplyPrompt    = "Type your reply:"
	textEmptyReply     = "Reply cannot be empty. Type your reply:"
)

// denyMessage is the reason attached to a button-press denial.
const denyMessage = "Denied by user via Telegram"

// replyPrompt tracks a chat that has been asked for free text. The next
// text message in that chat resolves the recorded request.
type replyPrompt struct {
	requestID       uuid.UUID
	promptMessageID int64
}

// Router consumes chat events and resolves or transitions pending
// records. It is the only writer of the reply-prompt state.
type Router struct {
	cfg     *config.Config
	chat    ChatAdapter
	pending *PendingTable
	logger  *slog.Logger

	mu      sync.Mutex
	prompts map[int64]replyPrompt // chat ID → outstanding prompt
}

// NewRouter creates a decision router over the shared pending table.
func NewRouter(cfg *config.Config, chat ChatAdapter, pending *PendingTable, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:     cfg,
		chat:    chat,
		pending: pending,
		logger:  logger,
		prompts: make(map[int64]replyPrompt),
	}
}

// Run consumes events until ctx is cancelled or the channel closes.
func (r *Router) Run(ctx context.Context, events <-chan Event) {
	r.logger.Info("decision router started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("decision router shutting down")
			return
		case ev, ok := <-events:
			if !ok {
				r.logger.Info("chat event channel closed, router stopping")
				return
			}
			switch {
			case ev.Callback != nil:
				r.handleCallback(ctx, ev.Callback)
			case ev.Text != nil:
				r.handleText(ctx, ev.Text)
			}
		}
	}
}

// handleCallback processes an inline button press.
func (r *Router) handleCallback(ctx context.Context, ev *CallbackEvent) {
	if !r.cfg.Allowed(ev.ChatID) {
		r.logger.Warn("unauthorized callback attempt", "chat_id", ev.ChatID)
		r.ack(ctx, ev.QueryID, textUnauthorized, true)
		return
	}

	requestID, action, ok := protocol.ParseCallback(ev.Data)
	if !ok {
		r.logger.Warn("failed to parse callback data", "data", ev.Data)
		return
	}

	if action == protocol.ActionReply {
		r.ack(ctx, ev.QueryID, "", false)
		r.startReplyDialog(ctx, ev.ChatID, requestID)
		return
	}

	pending, ok := r.pending.Take(requestID)
	if !ok {
		// Raced against another click, the timeout, or the drain.
		r.ack(ctx, ev.QueryID, textAlreadyHandled, true)
		return
	}

	r.ack(ctx, ev.QueryID, "", false)

	resp, status := buildCallbackResponse(action, requestID, pending)
	r.editStatus(ctx, pending, status)

	if !pending.Resolve(resp) {
		// Handler already resolved locally; take-once means at most
		// one response reached the hook, so this is only diagnostic.
		r.logger.Debug("decision delivery on resolved request", "request_id", requestID)
	}
}

// buildCallbackResponse maps a resolving button action to the decision
// response and the status annotation for the chat messages.
func buildCallbackResponse(action protocol.Action, requestID uuid.UUID, pending *PendingRequest) (protocol.DecisionResponse, string) {
	switch action {
	case protocol.ActionAllow:
		return protocol.AllowResponse(requestID), StatusApproved
	case protocol.ActionDeny:
		return protocol.DenyResponse(requestID, denyMessage), StatusDenied
	case protocol.ActionAlways:
		if len(pending.PermissionSuggestions) > 0 {
			return protocol.AlwaysAllowResponse(requestID, pending.PermissionSuggestions[0]), StatusAlwaysAllowed
		}
		return protocol.AlwaysAllowResponse(requestID, nil), StatusAlwaysAllowed
	default:
		panic("reply action must be handled before buildCallbackResponse")
	}
}

// startReplyDialog sends a ForceReply prompt and records the prompt
// state. The pending record stays registered; only a later non-empty
// text message (or the timeout) resolves it.
func (r *Router) startReplyDialog(ctx context.Context, chatID int64, requestID uuid.UUID) {
	if !r.pending.Contains(requestID) {
		if _, err := r.chat.Send(ctx, chatID, textAlreadyHandled, nil); err != nil {
			r.logger.Warn("failed to send notice", "chat_id", chatID, "error", err)
		}
		return
	}

	promptID, err := r.chat.PromptForText(ctx, chatID, textReplyPrompt)
	if err != nil {
		r.logger.Warn("failed to send reply prompt", "chat_id", chatID, "error", err)
		return
	}

	r.mu.Lock()
	r.prompts[chatID] = replyPrompt{requestID: requestID, promptMessageID: promptID}
	r.mu.Unlock()
}

// handleText processes a plain text message: relevant only when the
// chat has an outstanding reply prompt.
func (r *Router) handleText(ctx context.Context, ev *TextEvent) {
	if !r.cfg.Allowed(ev.ChatID) {
		r.logger.Warn("unauthorized message attempt", "chat_id", ev.ChatID)
		return
	}

	r.mu.Lock()
	prompt, ok := r.prompts[ev.ChatID]
	if ok {
		delete(r.prompts, ev.ChatID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		promptID, err := r.chat.PromptForText(ctx, ev.ChatID, textEmptyReply)
		if err != nil {
			r.logger.Warn("failed to re-prompt", "chat_id", ev.ChatID, "error", err)
			return
		}
		r.mu.Lock()
		r.prompts[ev.ChatID] = replyPrompt{requestID: prompt.requestID, promptMessageID: promptID}
		r.mu.Unlock()
		return
	}

	pending, ok := r.pending.Take(prompt.requestID)
	if !ok {
		if _, err := r.chat.Send(ctx, ev.ChatID, textAlreadyHandled, nil); err != nil {
			r.logger.Warn("failed to send notice", "chat_id", ev.ChatID, "error", err)
		}
		return
	}

	r.editStatus(ctx, pending, StatusReplied)

	// The prompt served its purpose; clean it up best-effort.
	if err := r.chat.Delete(ctx, ev.ChatID, prompt.promptMessageID); err != nil {
		r.logger.Debug("failed to delete prompt message", "chat_id", ev.ChatID, "error", err)
	}

	if !pending.Resolve(protocol.ReplyResponse(prompt.requestID, text)) {
		r.logger.Debug("decision delivery on resolved request", "request_id", prompt.requestID)
	}
}

// editStatus appends a status annotation to every sent message.
func (r *Router) editStatus(ctx context.Context, p *PendingRequest, status string) {
	body := p.OriginalText + "\n\n" + status
	for _, m := range p.SentMessages {
		if err := r.chat.Edit(ctx, m.ChatID, m.MessageID, body); err != nil {
			r.logger.Warn("failed to edit message",
				"chat_id", m.ChatID,
				"message_id", m.MessageID,
				"error", err,
			)
		}
	}
}

// ack dismisses a callback query, logging failures at debug level.
func (r *Router) ack(ctx context.Context, queryID, text string, alert bool) {
	if err := r.chat.AckCallback(ctx, queryID, text, alert); err != nil {
		r.logger.Debug("failed to answer callback query", "query_id", queryID, "error", err)
	}
}
