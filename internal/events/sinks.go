package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/straja-ai/postscore/internal/config"
)

// NewSinks builds the sinks named in the events config. On error, sinks
// already opened are closed.
func NewSinks(cfgs []config.EventSinkConfig) ([]Sink, error) {
	var sinks []Sink
	for i, c := range cfgs {
		var (
			s   Sink
			err error
		)
		switch strings.ToLower(strings.TrimSpace(c.Type)) {
		case "stdout":
			s = NewStdoutSink()
		case "file_jsonl":
			s, err = NewFileSink(c.Path)
		case "webhook":
			s, err = NewWebhookSink(c.URL, c.Headers, time.Duration(c.TimeoutMS)*time.Millisecond)
		default:
			err = fmt.Errorf("unknown type %q", c.Type)
		}
		if err != nil {
			for _, open := range sinks {
				_ = open.Close(context.Background())
			}
			return nil, fmt.Errorf("events sink %d: %w", i, err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}
