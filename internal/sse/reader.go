package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/straja-ai/postscore/internal/analysis"
)

// MaxEventSize bounds a single event's data payload.
const MaxEventSize = 1 << 20

// Reader splits an event stream into messages. It accepts any chunking of
// the underlying bytes, LF or CRLF line endings, multi-line data fields and
// comment lines.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Message is one parsed event-stream message.
type Message struct {
	Event string
	Data  []byte
}

// Next returns the next message that carries data. It returns io.EOF when
// the stream ends cleanly.
func (s *Reader) Next() (Message, error) {
	var (
		msg       Message
		dataLines [][]byte
		size      int
	)

	for {
		line, err := s.r.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return Message{}, err
		}
		eof := err == io.EOF

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(dataLines) > 0 {
				msg.Data = bytes.Join(dataLines, []byte("\n"))
				return msg, nil
			}
			if eof {
				return Message{}, io.EOF
			}
			msg.Event = ""
			continue
		}

		switch {
		case line[0] == ':':
			// comment
		case bytes.HasPrefix(line, []byte("event:")):
			msg.Event = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := line[len("data:"):]
			if len(data) > 0 && data[0] == ' ' {
				data = data[1:]
			}
			size += len(data)
			if size > MaxEventSize {
				return Message{}, fmt.Errorf("sse: event exceeds %d bytes", MaxEventSize)
			}
			dataLines = append(dataLines, append([]byte(nil), data...))
		}

		if eof {
			if len(dataLines) > 0 {
				msg.Data = bytes.Join(dataLines, []byte("\n"))
				return msg, nil
			}
			return Message{}, io.EOF
		}
	}
}

// EventReader decodes analysis events from a stream produced by Writer.
type EventReader struct {
	r *Reader
}

// NewEventReader wraps r.
func NewEventReader(r io.Reader) *EventReader {
	return &EventReader{r: NewReader(r)}
}

// Next returns the next analysis event, or io.EOF.
func (er *EventReader) Next() (analysis.Event, error) {
	msg, err := er.r.Next()
	if err != nil {
		return analysis.Event{}, err
	}
	var ev analysis.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return analysis.Event{}, fmt.Errorf("sse: decode event: %w", err)
	}
	return ev, nil
}
