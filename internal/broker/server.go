package broker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/nugget/vibe-reachout/internal/config"
	"github.com/nugget/vibe-reachout/internal/protocol"
)

// maxConnections caps concurrent in-flight hook connections. Arrivals
// beyond the cap are accepted and immediately dropped; the hook
// surfaces that to the assistant as a transport error.
const maxConnections = 50

// acceptRetryDelay paces the accept loop after a transient failure
// (e.g. EMFILE) so it does not spin at full speed until the condition
// clears.
const acceptRetryDelay = time.Second

// Server accepts hook connections on the Unix socket and runs one
// handler per connection until a decision resolves it.
type Server struct {
	cfg     *config.Config
	chat    ChatAdapter
	format  Formatter
	pending  *PendingTable
	logger   *slog.Logger
	sem      chan struct{}
	handlers sync.WaitGroup
}

// NewServer creates a socket server. The pending table is shared with
// the decision router and the shutdown drain.
func NewServer(cfg *config.Config, chat ChatAdapter, format Formatter, pending *PendingTable, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		chat:    chat,
		format:  format,
		pending: pending,
		logger:  logger,
		sem:     make(chan struct{}, maxConnections),
	}
}

// Run binds the socket and accepts connections until ctx is cancelled.
// The socket file is removed on the way out. The caller is responsible
// for running [EnsureSocketFree] first.
func (s *Server) Run(ctx context.Context, socketPath string) error {
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("bind socket %s: %w", socketPath, err)
	}
	s.logger.Info("socket server listening", "path", socketPath)

	s.serve(ctx, listener)

	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove socket file", "path", socketPath, "error", err)
	}
	return nil
}

// serve accepts connections until ctx is cancelled. Handlers it spawns
// are tracked; use [Server.Wait] after the shutdown drain to let them
// flush their final responses.
func (s *Server) serve(ctx context.Context, listener net.Listener) {
	// Cancellation unblocks Accept by closing the listener.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("socket server shutting down")
				return
			}
			s.logger.Error("accept failed", "error", err)
			select {
			case <-ctx.Done():
				s.logger.Info("socket server shutting down")
				return
			case <-time.After(acceptRetryDelay):
			}
			continue
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.logger.Warn("max concurrent connections reached, dropping connection")
			conn.Close()
			continue
		}

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			defer func() { <-s.sem }()
			defer conn.Close()
			if err := s.handleConn(ctx, conn); err != nil {
				s.logger.Error("connection handler error", "error", err)
			}
		}()
	}
}

// Wait blocks until every spawned connection handler has finished
// writing its response. Call after [Server.DrainPending] so handlers
// resolved by the drain get to deliver their Timeout line before the
// process exits.
func (s *Server) Wait() {
	s.handlers.Wait()
}

// handleConn runs the per-request state machine: read, notify chats,
// register pending, await resolution, write the response.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) error {
	var req protocol.PermissionRequest
	if err := protocol.ReadMessage(bufio.NewReader(conn), &req); err != nil {
		// Empty or malformed requests terminate the connection
		// without a response; not worth more than a warning.
		s.logger.Warn("unreadable request", "error", err)
		return nil
	}

	s.logger.Info("received permission request",
		"request_id", req.RequestID,
		"tool", req.ToolName,
	)

	body := s.format(&req)
	sent := s.notifyChats(ctx, &req, body)
	if len(sent) == 0 {
		// No pending record registered; the hook will time out.
		return errors.New("failed to send permission message to any chat")
	}

	pending := NewPendingRequest(&req, sent, body)
	s.pending.Insert(pending)

	timer := time.NewTimer(time.Duration(s.cfg.TimeoutSeconds) * time.Second)
	defer timer.Stop()

	var resp protocol.DecisionResponse
	select {
	case resp = <-pending.Reply:
		// Resolved by the router (or the shutdown drain); the taker
		// already handled status edits.

	case <-timer.C:
		s.logger.Warn("request timed out", "request_id", req.RequestID)
		if taken, ok := s.pending.Take(req.RequestID); ok {
			s.editStatus(ctx, taken, StatusTimedOut)
		}
		resp = protocol.TimeoutResponse(req.RequestID)

	case <-ctx.Done():
		// Global shutdown: no chat edits, just a terminal response.
		s.pending.Take(req.RequestID)
		resp = protocol.TimeoutResponse(req.RequestID)
	}

	if err := protocol.WriteMessage(conn, resp); err != nil {
		// The hook may have disconnected early; the decision is
		// discarded and the chat side keeps its record of the outcome.
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// notifyChats sends the notification to every allowed chat, collecting
// the per-chat message IDs. Per-chat failures are logged; only a total
// failure is fatal to the handler.
func (s *Server) notifyChats(ctx context.Context, req *protocol.PermissionRequest, body string) []SentMessage {
	buttons := Buttons(req.RequestID, len(req.PermissionSuggestions) > 0)

	chatIDs := make([]int64, 0, len(s.cfg.AllowedChatIDs))
	for id := range s.cfg.AllowedChatIDs {
		chatIDs = append(chatIDs, id)
	}
	sort.Slice(chatIDs, func(i, j int) bool { return chatIDs[i] < chatIDs[j] })

	var sent []SentMessage
	for _, chatID := range chatIDs {
		messageID, err := s.chat.Send(ctx, chatID, body, buttons)
		if err != nil {
			s.logger.Warn("failed to send message", "chat_id", chatID, "error", err)
			continue
		}
		sent = append(sent, SentMessage{ChatID: chatID, MessageID: messageID})
	}
	return sent
}

// editStatus appends a status line to every sent message. Best-effort.
func (s *Server) editStatus(ctx context.Context, p *PendingRequest, status string) {
	body := p.OriginalText + "\n\n" + status
	for _, m := range p.SentMessages {
		if err := s.chat.Edit(ctx, m.ChatID, m.MessageID, body); err != nil {
			s.logger.Warn("failed to edit message",
				"chat_id", m.ChatID,
				"message_id", m.MessageID,
				"error", err,
			)
		}
	}
}

// DrainPending resolves every remaining record with a Timeout decision,
// freeing any handler still parked on its reply channel. Chat messages
// are not edited here: the poller has already stopped and chat
// round-trips may themselves be cancelled.
func (s *Server) DrainPending() {
	for _, p := range s.pending.Drain() {
		s.logger.Info("resolving pending request as timeout on shutdown",
			"request_id", p.RequestID,
		)
		p.Resolve(protocol.TimeoutResponse(p.RequestID))
	}
}
