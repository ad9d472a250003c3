package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// JSONLSink writes one JSON object per line to w.
type JSONLSink struct {
	name   string
	mu     sync.Mutex
	writer *bufio.Writer
	closer io.Closer
}

// NewStdoutSink writes events to standard output.
func NewStdoutSink() *JSONLSink {
	return NewWriterSink("stdout", os.Stdout)
}

// NewWriterSink writes events to w. w is not closed by Close.
func NewWriterSink(name string, w io.Writer) *JSONLSink {
	return &JSONLSink{name: name, writer: bufio.NewWriter(w)}
}

// NewFileSink appends events to a JSONL file, creating parent directories.
func NewFileSink(path string) (*JSONLSink, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return &JSONLSink{
		name:   "file_jsonl:" + path,
		writer: bufio.NewWriter(f),
		closer: f,
	}, nil
}

func (s *JSONLSink) Name() string { return s.name }

func (s *JSONLSink) Deliver(_ context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func (s *JSONLSink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	flushErr := s.writer.Flush()
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			return err
		}
		s.closer = nil
	}
	return flushErr
}
