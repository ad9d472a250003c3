package provider

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/straja-ai/postscore/internal/analysis"
)

// Fake is a scripted Provider for tests.
type Fake struct {
	// Chunks is what GenerateStream yields; Generate returns their
	// concatenation.
	Chunks []string
	// Error fails both calls before any output.
	Error error
	// StreamError is returned by Recv after all Chunks were delivered.
	StreamError error
	// Gate, when set, is consulted before each chunk is delivered; Recv
	// blocks until it receives or ctx is done.
	Gate chan struct{}

	mu      sync.Mutex
	prompts []string
	calls   atomic.Int32
	streams []*FakeStream
}

// NewFake returns a Fake that streams chunks.
func NewFake(chunks ...string) *Fake {
	return &Fake{Chunks: chunks}
}

func (f *Fake) Generate(ctx context.Context, prompt string) (string, error) {
	f.record(prompt)
	if f.Error != nil {
		return "", f.Error
	}
	return strings.Join(f.Chunks, ""), nil
}

func (f *Fake) GenerateStream(ctx context.Context, prompt string) (Stream, error) {
	f.record(prompt)
	if f.Error != nil {
		return nil, f.Error
	}
	s := &FakeStream{ctx: ctx, chunks: append([]string(nil), f.Chunks...), tailErr: f.StreamError, gate: f.Gate}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

func (f *Fake) record(prompt string) {
	f.calls.Add(1)
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
}

// Calls returns how many times the upstream was contacted.
func (f *Fake) Calls() int {
	return int(f.calls.Load())
}

// Prompts returns the prompts received so far.
func (f *Fake) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// Streams returns every stream handed out.
func (f *Fake) Streams() []*FakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeStream(nil), f.streams...)
}

// FakeStream is the Stream returned by Fake.
type FakeStream struct {
	ctx     context.Context
	chunks  []string
	tailErr error
	gate    chan struct{}

	mu        sync.Mutex
	delivered int
	closed    bool
}

func (s *FakeStream) Recv() (string, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", io.ErrClosedPipe
	}
	if s.delivered < len(s.chunks) {
		c := s.chunks[s.delivered]
		s.delivered++
		return c, nil
	}
	if s.tailErr != nil {
		return "", s.tailErr
	}
	return "", io.EOF
}

func (s *FakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *FakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Delivered returns how many chunks were handed to the caller.
func (s *FakeStream) Delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}

// StaticResolver resolves to one provider, mimicking Factory's credential
// rules without any network client.
type StaticResolver struct {
	Provider   Provider
	HasDefault bool

	lastCustom atomic.Value
}

func (r *StaticResolver) Resolve(customKey string) (Provider, error) {
	r.lastCustom.Store(customKey)
	if customKey != "" {
		if err := ValidateKey(customKey); err != nil {
			return nil, analysis.NewError(analysis.ErrCustomAPIKeyInvalid, err)
		}
		return r.Provider, nil
	}
	if !r.HasDefault {
		return nil, analysis.NewError(analysis.ErrAPIKeyNotConfigured, ErrNoCredential)
	}
	return r.Provider, nil
}

// LastCustomKey returns the key passed to the most recent Resolve call.
func (r *StaticResolver) LastCustomKey() string {
	v, _ := r.lastCustom.Load().(string)
	return v
}
