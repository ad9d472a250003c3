package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode"

	"github.com/straja-ai/postscore/internal/analysis"
)

// Provider is the interface for the upstream generative model.
type Provider interface {
	// Generate returns the full response text for prompt.
	Generate(ctx context.Context, prompt string) (string, error)
	// GenerateStream starts an incremental call. The caller must Close the
	// returned stream.
	GenerateStream(ctx context.Context, prompt string) (Stream, error)
}

// Stream yields response fragments in arrival order. Concatenating every
// fragment gives the full response text. Recv returns io.EOF once the
// upstream signals completion. A Stream cannot be restarted.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Resolver picks the provider for one request.
type Resolver interface {
	Resolve(customKey string) (Provider, error)
}

var (
	ErrNoCredential = errors.New("no api key configured and none supplied")
	ErrMalformedKey = errors.New("api key is malformed")
)

const (
	minKeyLen = 8
	maxKeyLen = 256
)

// Options configures the Gemini client.
type Options struct {
	BaseURL          string
	Model            string
	Temperature      float64
	Timeout          time.Duration
	MaxResponseBytes int64
}

// Credentials holds the process-wide default key. It is built once at
// startup and never changes; the zero value means no default is available.
type Credentials struct {
	defaultKey string
}

// NewCredentials wraps the configured default key, which may be empty.
func NewCredentials(defaultKey string) Credentials {
	return Credentials{defaultKey: defaultKey}
}

// HasDefault reports whether a default key is configured.
func (c Credentials) HasDefault() bool {
	return c.defaultKey != ""
}

// Factory resolves the provider for each request. The default-key provider
// is constructed once and shared read-only across requests.
type Factory struct {
	opts     Options
	client   *http.Client
	fallback Provider
}

// NewFactory builds a Factory. When creds has no default key, only
// requests carrying their own key can be served.
func NewFactory(opts Options, creds Credentials) (*Factory, error) {
	opts = withDefaults(opts)
	f := &Factory{
		opts: opts,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
	}
	if creds.HasDefault() {
		if err := ValidateKey(creds.defaultKey); err != nil {
			return nil, fmt.Errorf("default api key: %w", err)
		}
		f.fallback = newGemini(opts, creds.defaultKey, f.client)
	}
	return f, nil
}

// HasDefault reports whether requests without their own key can be served.
func (f *Factory) HasDefault() bool {
	return f != nil && f.fallback != nil
}

// Resolve prefers a non-empty customKey over the default. Failures carry
// CUSTOM_API_KEY_INVALID or API_KEY_NOT_CONFIGURED.
func (f *Factory) Resolve(customKey string) (Provider, error) {
	if customKey != "" {
		if err := ValidateKey(customKey); err != nil {
			return nil, analysis.NewError(analysis.ErrCustomAPIKeyInvalid, err)
		}
		return newGemini(f.opts, customKey, f.client), nil
	}
	if f.fallback == nil {
		return nil, analysis.NewError(analysis.ErrAPIKeyNotConfigured, ErrNoCredential)
	}
	return f.fallback, nil
}

// ValidateKey performs the structural checks a key must pass before it is
// sent upstream: sane length, printable ASCII, no whitespace.
func ValidateKey(key string) error {
	if len(key) < minKeyLen || len(key) > maxKeyLen {
		return fmt.Errorf("%w: length %d outside [%d,%d]", ErrMalformedKey, len(key), minKeyLen, maxKeyLen)
	}
	for _, r := range key {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: contains invalid character", ErrMalformedKey)
		}
	}
	return nil
}

func withDefaults(opts Options) Options {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = 4 * 1024 * 1024
	}
	return opts
}
