// Package protocol defines the wire types shared by the hook client
// and the broker daemon: the NDJSON request/response exchanged over the
// Unix socket, the callback payload embedded in Telegram inline
// buttons, and the JSON envelopes the assistant speaks on the hook's
// stdin and stdout.
package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// HookEventName is the assistant hook event this program serves.
const HookEventName = "PermissionRequest"

// PermissionRequest is the hook-to-broker message: one permission
// request awaiting a human decision. tool_input and
// permission_suggestions are opaque to the broker and passed through
// untouched.
type PermissionRequest struct {
	RequestID             uuid.UUID         `json:"request_id"`
	ToolName              string            `json:"tool_name"`
	ToolInput             json.RawMessage   `json:"tool_input"`
	CWD                   string            `json:"cwd"`
	SessionID             string            `json:"session_id"`
	PermissionSuggestions []json.RawMessage `json:"permission_suggestions"`
	AssistantContext      string            `json:"assistant_context,omitempty"`
}

// Decision is the outcome variant carried in a DecisionResponse.
type Decision string

// Decision variants. The string values are the wire representation.
const (
	DecisionAllow       Decision = "Allow"
	DecisionDeny        Decision = "Deny"
	DecisionAlwaysAllow Decision = "AlwaysAllow"
	DecisionReply       Decision = "Reply"
	DecisionTimeout     Decision = "Timeout"
)

// DecisionResponse is the broker-to-hook message resolving a
// PermissionRequest.
type DecisionResponse struct {
	RequestID             uuid.UUID       `json:"request_id"`
	Decision              Decision        `json:"decision"`
	Message               string          `json:"message,omitempty"`
	UserMessage           string          `json:"user_message,omitempty"`
	AlwaysAllowSuggestion json.RawMessage `json:"always_allow_suggestion,omitempty"`
}

// AllowResponse builds an Allow decision for the given request.
func AllowResponse(id uuid.UUID) DecisionResponse {
	return DecisionResponse{RequestID: id, Decision: DecisionAllow}
}

// DenyResponse builds a Deny decision with a human-visible reason.
func DenyResponse(id uuid.UUID, message string) DecisionResponse {
	return DecisionResponse{RequestID: id, Decision: DecisionDeny, Message: message}
}

// AlwaysAllowResponse builds an AlwaysAllow decision. suggestion may be
// nil when the request carried no permission suggestions.
func AlwaysAllowResponse(id uuid.UUID, suggestion json.RawMessage) DecisionResponse {
	return DecisionResponse{RequestID: id, Decision: DecisionAlwaysAllow, AlwaysAllowSuggestion: suggestion}
}

// ReplyResponse builds a Reply decision carrying the user's free-text
// guidance.
func ReplyResponse(id uuid.UUID, userMessage string) DecisionResponse {
	return DecisionResponse{RequestID: id, Decision: DecisionReply, UserMessage: userMessage}
}

// TimeoutResponse builds the terminal Timeout decision.
func TimeoutResponse(id uuid.UUID) DecisionResponse {
	return DecisionResponse{RequestID: id, Decision: DecisionTimeout}
}

// HookInput is the assistant's JSON sent to the hook on stdin.
type HookInput struct {
	SessionID             string            `json:"session_id"`
	TranscriptPath        string            `json:"transcript_path"`
	CWD                   string            `json:"cwd"`
	PermissionMode        string            `json:"permission_mode"`
	HookEventName         string            `json:"hook_event_name"`
	ToolName              string            `json:"tool_name"`
	ToolInput             json.RawMessage   `json:"tool_input"`
	PermissionSuggestions []json.RawMessage `json:"permission_suggestions"`
}

// HookOutput is the JSON written to stdout for the assistant.
type HookOutput struct {
	HookSpecificOutput HookSpecificOutput `json:"hookSpecificOutput"`
}

// HookSpecificOutput wraps the decision under the event name the
// assistant expects.
type HookSpecificOutput struct {
	HookEventName string       `json:"hookEventName"`
	Decision      HookDecision `json:"decision"`
}

// HookDecision is the assistant-facing decision shape.
// UpdatedPermissions is a pointer because encoding/json's omitempty
// drops empty non-pointer slices; an always-allow with no suggestion
// must still serialize "updatedPermissions":[] to stay distinguishable
// from a plain allow.
type HookDecision struct {
	Behavior           string             `json:"behavior"`
	Message            string             `json:"message,omitempty"`
	UpdatedPermissions *[]json.RawMessage `json:"updatedPermissions,omitempty"`
}

// HookAllow builds the plain allow output.
func HookAllow() HookOutput {
	return HookOutput{HookSpecificOutput: HookSpecificOutput{
		HookEventName: HookEventName,
		Decision:      HookDecision{Behavior: "allow"},
	}}
}

// HookDeny builds a deny output with the given message.
func HookDeny(message string) HookOutput {
	return HookOutput{HookSpecificOutput: HookSpecificOutput{
		HookEventName: HookEventName,
		Decision:      HookDecision{Behavior: "deny", Message: message},
	}}
}

// HookAllowAlways builds an allow output carrying updated permissions.
// The list is always serialized, even when empty, so the assistant can
// distinguish "always allow with nothing to record" from a plain allow.
func HookAllowAlways(permissions []json.RawMessage) HookOutput {
	if permissions == nil {
		permissions = []json.RawMessage{}
	}
	return HookOutput{HookSpecificOutput: HookSpecificOutput{
		HookEventName: HookEventName,
		Decision:      HookDecision{Behavior: "allow", UpdatedPermissions: &permissions},
	}}
}
