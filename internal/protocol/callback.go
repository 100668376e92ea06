package protocol

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Action is the button a user pressed on a permission message.
type Action string

// Button actions. The string values are embedded in callback payloads.
const (
	ActionAllow  Action = "allow"
	ActionDeny   Action = "deny"
	ActionReply  Action = "reply"
	ActionAlways Action = "always"
)

// maxCallbackBytes is the chat platform's limit on callback payload
// size. Our payloads top out at 43 bytes (36-char UUID + ':' +
// "always"); the margin is asserted in EncodeCallback.
const maxCallbackBytes = 64

// EncodeCallback renders the "{request_id}:{action}" payload for an
// inline button. Panics if the payload would exceed the platform's
// 64-byte callback limit; with a canonical UUID and a known action
// that cannot happen.
func EncodeCallback(id uuid.UUID, action Action) string {
	payload := fmt.Sprintf("%s:%s", id, action)
	if len(payload) > maxCallbackBytes {
		panic(fmt.Sprintf("callback payload %q exceeds %d bytes", payload, maxCallbackBytes))
	}
	return payload
}

// ParseCallback parses a "{uuid}:{action}" payload. ok is false for
// anything that is not a canonical UUID followed by a known action.
func ParseCallback(data string) (id uuid.UUID, action Action, ok bool) {
	idStr, actionStr, found := strings.Cut(data, ":")
	if !found {
		return uuid.Nil, "", false
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, "", false
	}
	switch Action(actionStr) {
	case ActionAllow, ActionDeny, ActionReply, ActionAlways:
		return id, Action(actionStr), true
	default:
		return uuid.Nil, "", false
	}
}
