package broker

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/vibe-reachout/internal/protocol"
)

// SentMessage identifies one chat message sent for a pending request.
type SentMessage struct {
	ChatID    int64
	MessageID int64
}

// PendingRequest is the in-memory state for a request awaiting a human
// decision. The reply channel has capacity 1 and is written at most
// once; take-once on the table guarantees a single writer.
type PendingRequest struct {
	RequestID             uuid.UUID
	Reply                 chan protocol.DecisionResponse
	SentMessages          []SentMessage
	OriginalText          string
	PermissionSuggestions []json.RawMessage
	CreatedAt             time.Time
}

// NewPendingRequest allocates a pending record with its reply channel.
func NewPendingRequest(req *protocol.PermissionRequest, sent []SentMessage, originalText string) *PendingRequest {
	return &PendingRequest{
		RequestID:             req.RequestID,
		Reply:                 make(chan protocol.DecisionResponse, 1),
		SentMessages:          sent,
		OriginalText:          originalText,
		PermissionSuggestions: req.PermissionSuggestions,
		CreatedAt:             time.Now(),
	}
}

// Resolve delivers the decision on the reply channel. It returns false
// when nothing could be delivered, which only happens if the record
// was resolved twice — a bug the take-once discipline exists to
// prevent.
func (p *PendingRequest) Resolve(resp protocol.DecisionResponse) bool {
	select {
	case p.Reply <- resp:
		return true
	default:
		return false
	}
}

// PendingTable maps request IDs to pending records. Take removes and
// returns a record atomically, so concurrent resolvers (callback,
// reply text, timeout, shutdown drain) race for a single winner.
type PendingTable struct {
	mu sync.Mutex
	m  map[uuid.UUID]*PendingRequest
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{m: make(map[uuid.UUID]*PendingRequest)}
}

// Insert registers a record. Request IDs are generated by the hook and
// unique; a duplicate insert indicates a correlation bug, so it panics
// rather than silently replacing a live record.
func (t *PendingTable) Insert(p *PendingRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.m[p.RequestID]; exists {
		panic(fmt.Sprintf("pending table: duplicate request_id %s", p.RequestID))
	}
	t.m[p.RequestID] = p
}

// Take atomically removes and returns the record, if present. The
// caller that gets ok=true owns the record and the right to resolve it.
func (t *PendingTable) Take(id uuid.UUID) (*PendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.m[id]
	if ok {
		delete(t.m, id)
	}
	return p, ok
}

// Contains reports whether a record is still registered, without
// claiming it. The router uses this to decide whether a reply prompt
// is still worth sending.
func (t *PendingTable) Contains(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.m[id]
	return ok
}

// Drain removes and returns all records. Used by the shutdown path to
// resolve everything still in flight.
func (t *PendingTable) Drain() []*PendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	drained := make([]*PendingRequest, 0, len(t.m))
	for id, p := range t.m {
		drained = append(drained, p)
		delete(t.m, id)
	}
	return drained
}

// Len returns the number of registered records.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}
