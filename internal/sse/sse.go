// Package sse frames analysis events for a server-push event stream and
// reads such streams back.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/straja-ai/postscore/internal/analysis"
)

const dataPrefix = "data: "

// ErrClosed is returned by Writer.Send after a terminal event was written.
var ErrClosed = errors.New("sse: stream already terminated")

// Frame encodes ev as one self-delimited message: the data prefix, the JSON
// event on a single line, then a blank line.
func Frame(ev analysis.Event) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(dataPrefix)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encode appends the first '\n'.
	if err := enc.Encode(ev); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// SetHeaders prepares h for a long-lived event stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Del("Content-Length")
}

// Writer sends framed events and flushes after each one. It refuses to send
// anything once a terminal event went out.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	done    bool
	sent    int
}

// NewWriter sets the stream headers and writes the 200 status line.
func NewWriter(w http.ResponseWriter) *Writer {
	SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}
	return &Writer{w: w, flusher: flusher}
}

// Send writes ev. It is safe to call from one goroutine at a time per stream;
// the mutex only guards against misuse.
func (sw *Writer) Send(ev analysis.Event) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.done {
		return ErrClosed
	}
	frame, err := Frame(ev)
	if err != nil {
		return err
	}
	if _, err := sw.w.Write(frame); err != nil {
		return err
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	sw.sent++
	if ev.Terminal() {
		sw.done = true
	}
	return nil
}

// Done reports whether a terminal event has been sent.
func (sw *Writer) Done() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.done
}

// Sent returns the number of events written so far.
func (sw *Writer) Sent() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.sent
}
