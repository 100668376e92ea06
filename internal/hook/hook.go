package hook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/vibe-reachout/internal/config"
	"github.com/nugget/vibe-reachout/internal/protocol"
)

// graceWindow is added to the broker's own timeout so that the hook
// never gives up first: a broker-issued Timeout response then reaches
// the assistant as a structured decision instead of a transport error.
const graceWindow = 30 * time.Second

// ErrBrokerTimeout is returned when the broker answered Timeout. The
// hook emits nothing on stdout in that case and exits non-zero so the
// assistant falls back to its terminal prompt.
var ErrBrokerTimeout = errors.New("request timed out — falling back to terminal")

// Run executes the full hook flow: parse stdin, gather transcript
// context, round-trip through the broker, and write the mapped
// decision to stdout.
func Run(cfg *config.Config, stdin io.Reader, stdout io.Writer, logger *slog.Logger) error {
	input, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if strings.TrimSpace(string(input)) == "" {
		return errors.New("empty stdin — no hook input received")
	}

	var hookInput protocol.HookInput
	if err := json.Unmarshal(input, &hookInput); err != nil {
		return fmt.Errorf("parse hook input: %w", err)
	}

	req := &protocol.PermissionRequest{
		RequestID:             uuid.New(),
		ToolName:              hookInput.ToolName,
		ToolInput:             hookInput.ToolInput,
		CWD:                   hookInput.CWD,
		SessionID:             hookInput.SessionID,
		PermissionSuggestions: hookInput.PermissionSuggestions,
		AssistantContext:      ExtractAssistantContext(hookInput.TranscriptPath),
	}
	if req.PermissionSuggestions == nil {
		req.PermissionSuggestions = []json.RawMessage{}
	}

	logger.Debug("forwarding permission request",
		"request_id", req.RequestID,
		"tool", req.ToolName,
	)

	timeout := time.Duration(cfg.TimeoutSeconds)*time.Second + graceWindow
	resp, err := SendRequest(cfg.EffectiveSocketPath(), req, timeout)
	if err != nil {
		return err
	}

	output, ok := MapDecision(resp)
	if !ok {
		return ErrBrokerTimeout
	}

	out, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("encode hook output: %w", err)
	}
	if _, err := fmt.Fprintf(stdout, "%s\n", out); err != nil {
		return fmt.Errorf("write hook output: %w", err)
	}
	return nil
}

// MapDecision converts a broker decision into the assistant-facing
// output. ok is false for Timeout, which produces no output at all.
func MapDecision(resp *protocol.DecisionResponse) (protocol.HookOutput, bool) {
	switch resp.Decision {
	case protocol.DecisionAllow:
		return protocol.HookAllow(), true

	case protocol.DecisionDeny:
		message := resp.Message
		if message == "" {
			message = "Denied via Telegram"
		}
		return protocol.HookDeny(message), true

	case protocol.DecisionAlwaysAllow:
		var permissions []json.RawMessage
		if len(resp.AlwaysAllowSuggestion) > 0 {
			permissions = []json.RawMessage{resp.AlwaysAllowSuggestion}
		}
		return protocol.HookAllowAlways(permissions), true

	case protocol.DecisionReply:
		userMessage := resp.UserMessage
		if userMessage == "" {
			userMessage = "(no message)"
		}
		return protocol.HookDeny("The user wants you to modify your approach: " + userMessage), true

	default:
		// Timeout, or any unknown decision from a newer broker.
		return protocol.HookOutput{}, false
	}
}
