package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/straja-ai/postscore/internal/sse"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-2.5-flash"
)

// geminiProvider implements Provider for the Gemini generateContent REST API.
type geminiProvider struct {
	baseURL          string
	model            string
	apiKey           string
	temperature      float64
	client           *http.Client
	maxResponseBytes int64
}

func newGemini(opts Options, apiKey string, client *http.Client) *geminiProvider {
	return &geminiProvider{
		baseURL:          strings.TrimRight(opts.BaseURL, "/"),
		model:            opts.Model,
		apiKey:           apiKey,
		temperature:      opts.Temperature,
		client:           client,
		maxResponseBytes: opts.MaxResponseBytes,
	}
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	ResponseMimeType string  `json:"responseMimeType"`
	Temperature      float64 `json:"temperature"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *geminiErrorBody `json:"error"`
}

type geminiErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
	Details []struct {
		Reason string `json:"reason"`
	} `json:"details"`
}

type geminiErrorResponse struct {
	Error geminiErrorBody `json:"error"`
}

// text concatenates the parts of the first candidate.
func (r *geminiResponse) text() (string, error) {
	if r.Error != nil {
		return "", r.Error.apiError(r.Error.Code)
	}
	if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini blocked prompt: %s", r.PromptFeedback.BlockReason)
	}
	if len(r.Candidates) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

func (e *geminiErrorBody) apiError(status int) *APIError {
	ae := &APIError{
		StatusCode: status,
		Status:     e.Status,
		Message:    e.Message,
	}
	for _, d := range e.Details {
		if d.Reason != "" {
			ae.Reason = d.Reason
			break
		}
	}
	return ae
}

func (p *geminiProvider) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := p.do(ctx, "generateContent", prompt, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body, p.maxResponseBytes)
	if err != nil {
		return "", fmt.Errorf("read gemini response: %w", err)
	}

	var gr geminiResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	text, err := gr.text()
	if err != nil {
		return "", err
	}
	if len(gr.Candidates) == 0 {
		return "", errors.New("gemini response had no candidates")
	}
	return text, nil
}

func (p *geminiProvider) GenerateStream(ctx context.Context, prompt string) (Stream, error) {
	resp, err := p.do(ctx, "streamGenerateContent", prompt, true)
	if err != nil {
		return nil, err
	}
	return &geminiStream{
		body:  resp.Body,
		r:     sse.NewReader(resp.Body),
		limit: p.maxResponseBytes,
	}, nil
}

func (p *geminiProvider) do(ctx context.Context, method, prompt string, stream bool) (*http.Response, error) {
	payload := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: geminiGenerationConfig{
			ResponseMimeType: "application/json",
			Temperature:      p.temperature,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:%s", p.baseURL, p.model, method)
	if stream {
		url += "?alt=sse"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.apiKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call gemini: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeErrorResponse(resp, p.maxResponseBytes)
	}
	return resp, nil
}

func decodeErrorResponse(resp *http.Response, limit int64) error {
	raw, err := readLimited(resp.Body, limit)
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read error body: %v", err)}
	}
	var body geminiErrorResponse
	if err := json.Unmarshal(raw, &body); err != nil || body.Error.Message == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	return body.Error.apiError(resp.StatusCode)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("response exceeded limit (%d bytes)", limit)
	}
	return b, nil
}

// geminiStream reads streamGenerateContent server-sent events.
type geminiStream struct {
	body  io.ReadCloser
	r     *sse.Reader
	limit int64
	read  int64
	done  bool
}

func (s *geminiStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		msg, err := s.r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				return "", io.EOF
			}
			return "", fmt.Errorf("read gemini stream: %w", err)
		}
		if bytes.Equal(msg.Data, []byte("[DONE]")) {
			s.done = true
			return "", io.EOF
		}

		s.read += int64(len(msg.Data))
		if s.read > s.limit {
			return "", fmt.Errorf("gemini stream exceeded limit (%d bytes)", s.limit)
		}

		var gr geminiResponse
		if err := json.Unmarshal(msg.Data, &gr); err != nil {
			return "", fmt.Errorf("decode gemini stream chunk: %w", err)
		}
		text, err := gr.text()
		if err != nil {
			return "", err
		}
		if text == "" {
			// finish/usage-only chunk
			continue
		}
		return text, nil
	}
}

func (s *geminiStream) Close() error {
	s.done = true
	return s.body.Close()
}
