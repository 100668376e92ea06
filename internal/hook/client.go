// Package hook implements the one-shot hook process: it reads the
// assistant's permission request from stdin, forwards it to the broker
// over the Unix socket, and emits the human's decision on stdout.
package hook

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/nugget/vibe-reachout/internal/protocol"
)

// Transport error kinds. The caller only exits 1 either way, but the
// distinct kinds keep the stderr diagnostics actionable.
var (
	// ErrSocketNotFound means the broker is not running (no socket file).
	ErrSocketNotFound = errors.New("bot not running (socket not found)")

	// ErrConnectionRefused means a socket file exists but nothing listens.
	ErrConnectionRefused = errors.New("connection refused (socket exists but bot not responding)")

	// ErrInvalidResponse means the broker replied with something other
	// than one decision line.
	ErrInvalidResponse = errors.New("invalid response from bot")

	// ErrDeadlineExceeded means no reply arrived within the hook's
	// grace window.
	ErrDeadlineExceeded = errors.New("request timed out")

	// ErrConnectionFailed covers other transport I/O failures.
	ErrConnectionFailed = errors.New("connection failed")
)

// SendRequest connects to the broker socket, writes the request as one
// NDJSON line, half-closes the write side, and waits up to timeout for
// the decision line.
func SendRequest(socketPath string, req *protocol.PermissionRequest, timeout time.Duration) (*protocol.DecisionResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist), errors.Is(err, syscall.ENOENT):
			return nil, fmt.Errorf("%w at %s", ErrSocketNotFound, socketPath)
		case errors.Is(err, syscall.ECONNREFUSED):
			return nil, ErrConnectionRefused
		default:
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
	}
	defer conn.Close()

	if err := protocol.WriteMessage(conn, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// Half-close so the broker sees EOF after the request line. The
	// read side stays open for the response.
	if uc, ok := conn.(*net.UnixConn); ok {
		if err := uc.CloseWrite(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	var resp protocol.DecisionResponse
	if err := protocol.ReadMessage(bufio.NewReader(conn), &resp); err != nil {
		if os.IsTimeout(err) {
			return nil, fmt.Errorf("%w after %s", ErrDeadlineExceeded, timeout)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w after %s", ErrDeadlineExceeded, timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	return &resp, nil
}
