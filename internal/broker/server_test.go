package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/vibe-reachout/internal/config"
	"github.com/nugget/vibe-reachout/internal/protocol"
)

// testFormatter is a trivial stand-in for the chat-layer formatter.
func testFormatter(req *protocol.PermissionRequest) string {
	return "request: " + req.ToolName
}

// startServer runs a broker server on a temp socket, shut down with the
// test.
func startServer(t *testing.T, cfg *config.Config, chat ChatAdapter) (*PendingTable, string) {
	t.Helper()

	table := NewPendingTable()
	s := NewServer(cfg, chat, testFormatter, table, discardLogger())

	socketPath := filepath.Join(t.TempDir(), "b.sock")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Run(ctx, socketPath); err != nil {
			t.Errorf("server run: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})

	// Wait until the socket accepts connections.
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			conn.Close()
			return table, socketPath
		}
		if time.Now().After(deadline) {
			t.Fatalf("socket never came up: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// sendRequest writes one request on a fresh connection and returns the
// connection for reading the response.
func sendRequest(t *testing.T, socketPath string, req *protocol.PermissionRequest) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := protocol.WriteMessage(conn, req); err != nil {
		t.Fatalf("write request: %v", err)
	}
	if err := conn.(*net.UnixConn).CloseWrite(); err != nil {
		t.Fatalf("close write: %v", err)
	}
	return conn
}

// readResponse reads the single decision line with a guard deadline.
func readResponse(t *testing.T, conn net.Conn) protocol.DecisionResponse {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp protocol.DecisionResponse
	if err := protocol.ReadMessage(bufio.NewReader(conn), &resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp
}

// awaitRegistered polls until the request shows up in the pending table.
func awaitRegistered(t *testing.T, table *PendingTable, id uuid.UUID) *PendingRequest {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p, ok := table.Take(id); ok {
			return p
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("request never registered")
	return nil
}

func TestServer_AllowRoundtrip(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{}
	table, socketPath := startServer(t, testConfig(), chat)

	req := &protocol.PermissionRequest{RequestID: uuid.New(), ToolName: "Bash"}
	conn := sendRequest(t, socketPath, req)

	// Stand in for the router: claim the record and resolve it.
	p := awaitRegistered(t, table, req.RequestID)
	p.Resolve(protocol.AllowResponse(req.RequestID))

	resp := readResponse(t, conn)
	if resp.RequestID != req.RequestID {
		t.Errorf("response for %s, want %s", resp.RequestID, req.RequestID)
	}
	if resp.Decision != protocol.DecisionAllow {
		t.Errorf("decision = %s, want Allow", resp.Decision)
	}

	chat.mu.Lock()
	sent := make([]fakeMessage, len(chat.sent))
	copy(sent, chat.sent)
	chat.mu.Unlock()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].ChatID != 100 {
		t.Errorf("sent to chat %d, want 100", sent[0].ChatID)
	}
	if len(sent[0].Buttons) != 3 {
		t.Errorf("keyboard has %d buttons, want 3 without suggestions", len(sent[0].Buttons))
	}
}

func TestServer_AlwaysAllowButtonWithSuggestions(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{}
	table, socketPath := startServer(t, testConfig(), chat)

	req := &protocol.PermissionRequest{
		RequestID:             uuid.New(),
		ToolName:              "Bash",
		PermissionSuggestions: []json.RawMessage{json.RawMessage(`{"rule":"x"}`)},
	}
	conn := sendRequest(t, socketPath, req)

	p := awaitRegistered(t, table, req.RequestID)
	p.Resolve(protocol.AllowResponse(req.RequestID))
	readResponse(t, conn)

	chat.mu.Lock()
	buttons := chat.sent[0].Buttons
	chat.mu.Unlock()
	if len(buttons) != 4 {
		t.Fatalf("keyboard has %d buttons, want 4 with suggestions", len(buttons))
	}
	id, action, ok := protocol.ParseCallback(buttons[3].Data)
	if !ok || id != req.RequestID || action != protocol.ActionAlways {
		t.Errorf("fourth button payload %q, want always action", buttons[3].Data)
	}
}

func TestServer_Timeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TimeoutSeconds = 1
	chat := &fakeChat{}
	_, socketPath := startServer(t, cfg, chat)

	req := &protocol.PermissionRequest{RequestID: uuid.New(), ToolName: "Bash"}
	conn := sendRequest(t, socketPath, req)

	resp := readResponse(t, conn)
	if resp.Decision != protocol.DecisionTimeout {
		t.Errorf("decision = %s, want Timeout", resp.Decision)
	}
	if edit := chat.lastEdit(t); edit.Body != "request: Bash\n\n"+StatusTimedOut {
		t.Errorf("edit body = %q, want timed-out annotation", edit.Body)
	}
}

func TestServer_SendFailureClosesWithoutResponse(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{sendErr: errSendFailed}
	table, socketPath := startServer(t, testConfig(), chat)

	req := &protocol.PermissionRequest{RequestID: uuid.New(), ToolName: "Bash"}
	conn := sendRequest(t, socketPath, req)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp protocol.DecisionResponse
	err := protocol.ReadMessage(bufio.NewReader(conn), &resp)
	if !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want EOF (no response when no chat reached)", err)
	}
	if table.Contains(req.RequestID) {
		t.Error("unsendable request must not be registered")
	}
}

func TestServer_MalformedRequestClosed(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{}
	_, socketPath := startServer(t, testConfig(), chat)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("{broken\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.(*net.UnixConn).CloseWrite()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("read = %v, want EOF", err)
	}
}

func TestServer_DrainPending(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{}
	table := NewPendingTable()
	s := NewServer(testConfig(), chat, testFormatter, table, discardLogger())

	p := insertPending(t, table, nil)
	s.DrainPending()

	resp := awaitDecision(t, p)
	if resp.Decision != protocol.DecisionTimeout {
		t.Errorf("decision = %s, want Timeout", resp.Decision)
	}
	if table.Len() != 0 {
		t.Errorf("table has %d records after drain", table.Len())
	}

	chat.mu.Lock()
	edits := len(chat.edits)
	chat.mu.Unlock()
	if edits != 0 {
		t.Errorf("drain edited %d messages, want 0", edits)
	}
}

func TestServer_ShutdownFlushesHandlerResponses(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{}
	table := NewPendingTable()
	s := NewServer(testConfig(), chat, testFormatter, table, discardLogger())

	socketPath := filepath.Join(t.TempDir(), "b.sock")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, socketPath)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("socket never came up: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	req := &protocol.PermissionRequest{RequestID: uuid.New(), ToolName: "Bash"}
	conn := sendRequest(t, socketPath, req)

	// Wait until the handler has registered the request, without
	// claiming the record ourselves.
	deadline = time.Now().Add(2 * time.Second)
	for !table.Contains(req.RequestID) {
		if time.Now().After(deadline) {
			t.Fatal("request never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	s.DrainPending()
	s.Wait()

	// Once Wait returns, the terminal Timeout line must already be on
	// the wire: the hook gets a structured answer, not EOF.
	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	var resp protocol.DecisionResponse
	if err := protocol.ReadMessage(bufio.NewReader(conn), &resp); err != nil {
		t.Fatalf("read response after shutdown: %v", err)
	}
	if resp.Decision != protocol.DecisionTimeout {
		t.Errorf("decision = %s, want Timeout", resp.Decision)
	}
	if resp.RequestID != req.RequestID {
		t.Errorf("response for %s, want %s", resp.RequestID, req.RequestID)
	}
}

// fakeListener fails every Accept with a transient error, standing in
// for resource exhaustion like EMFILE.
type fakeListener struct {
	mu    sync.Mutex
	calls int
}

func (l *fakeListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return nil, errors.New("accept: too many open files")
}

func (l *fakeListener) Close() error { return nil }

func (l *fakeListener) Addr() net.Addr { return &net.UnixAddr{Name: "fake", Net: "unix"} }

func TestServer_AcceptErrorBacksOff(t *testing.T) {
	t.Parallel()

	s := NewServer(testConfig(), &fakeChat{}, testFormatter, NewPendingTable(), discardLogger())
	listener := &fakeListener{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.serve(ctx, listener)
	}()

	// Give the loop time to hit the failing Accept and park in its
	// retry delay, then cancel mid-delay.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not stop during accept backoff")
	}

	listener.mu.Lock()
	calls := listener.calls
	listener.mu.Unlock()
	if calls > 2 {
		t.Errorf("accept called %d times in 100ms, want a delay between failures", calls)
	}
}

func TestServer_SocketRemovedOnShutdown(t *testing.T) {
	t.Parallel()

	table := NewPendingTable()
	s := NewServer(testConfig(), &fakeChat{}, testFormatter, table, discardLogger())

	socketPath := filepath.Join(t.TempDir(), "b.sock")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, socketPath)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("socket never came up: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}

	if _, err := net.Dial("unix", socketPath); err == nil {
		t.Error("socket still accepting after shutdown")
	}
}
