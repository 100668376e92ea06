package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"syscall"
	"time"
)

// ErrAlreadyRunning indicates another broker holds the socket.
var ErrAlreadyRunning = errors.New("broker already running")

// probeTimeout bounds the synchronous liveness probe. It runs once at
// startup, so blocking briefly is acceptable.
const probeTimeout = 2 * time.Second

// EnsureSocketFree checks the rendezvous point before binding. Three
// outcomes:
//
//   - nothing at the path: proceed
//   - a peer accepts a connection: ErrAlreadyRunning
//   - connect refused, or any other failure (including a non-socket
//     file squatting on the path): the file is stale; unlink it
func EnsureSocketFree(path string, logger *slog.Logger) error {
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat socket %s: %w", path, err)
	}

	conn, err := net.DialTimeout("unix", path, probeTimeout)
	if err == nil {
		conn.Close()
		return fmt.Errorf("%w (socket is active at %s)", ErrAlreadyRunning, path)
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		logger.Info("removing stale socket", "path", path)
	} else {
		logger.Warn("unknown socket state, attempting cleanup", "path", path, "error", err)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	return nil
}
