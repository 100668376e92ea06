package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// MaxLineBytes bounds a single NDJSON line on the socket. Anything
// larger is treated as malformed rather than buffered without limit.
const MaxLineBytes = 64 * 1024

// ReadMessage reads one NDJSON message from r and unmarshals it into v.
// Blank lines before the first object are skipped. Lines longer than
// MaxLineBytes are rejected.
func ReadMessage(r *bufio.Reader, v any) error {
	for {
		line, err := readBoundedLine(r)
		if err != nil {
			return err
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if err := json.Unmarshal([]byte(trimmed), v); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		return nil
	}
}

// WriteMessage marshals v and writes it as a single LF-terminated line.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// readBoundedLine reads up to and including one LF, enforcing
// MaxLineBytes. A final line without a trailing LF (peer half-closed
// after writing) is returned as-is.
func readBoundedLine(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		chunk, err := r.ReadSlice('\n')
		b.Write(chunk)
		if b.Len() > MaxLineBytes {
			return "", fmt.Errorf("line exceeds %d bytes", MaxLineBytes)
		}
		switch err {
		case nil:
			return b.String(), nil
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			if b.Len() == 0 {
				return "", io.EOF
			}
			return b.String(), nil
		default:
			return "", err
		}
	}
}
