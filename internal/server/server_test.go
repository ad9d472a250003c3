package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/straja-ai/postscore/internal/analysis"
	"github.com/straja-ai/postscore/internal/config"
	"github.com/straja-ai/postscore/internal/events"
	"github.com/straja-ai/postscore/internal/mockprovider"
	"github.com/straja-ai/postscore/internal/pipeline"
	"github.com/straja-ai/postscore/internal/provider"
	"github.com/straja-ai/postscore/internal/sse"
)

const validCustomKey = "AIzaSyCustomKeyForTests0000000000"

type reportRecorder struct {
	mu      sync.Mutex
	reports []pipeline.Report
	ids     []string
}

func (r *reportRecorder) Observe(ctx context.Context, rep pipeline.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	r.ids = append(r.ids, events.RequestID(ctx))
}

func (r *reportRecorder) all() []pipeline.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pipeline.Report(nil), r.reports...)
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Addr:                ":0",
			MaxRequestBodyBytes: 16 << 10,
			ShutdownTimeout:     time.Second,
		},
		Model: config.ModelConfig{
			Name: "gemini-test",
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, fake *provider.Fake, hasDefault bool) (*Server, *reportRecorder) {
	t.Helper()
	rec := &reportRecorder{}
	srv := New(cfg, Options{
		Resolver: &provider.StaticResolver{Provider: fake, HasDefault: hasDefault},
		Observer: rec,
	})
	return srv, rec
}

func sampleFake() *provider.Fake {
	return provider.NewFake(mockprovider.Split(mockprovider.SampleJSON(), 4)...)
}

func postJSON(path string, body any) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(b)))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) analyzeResponse {
	t.Helper()
	var resp analyzeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return resp
}

func readEvents(t *testing.T, body io.Reader) []analysis.Event {
	t.Helper()
	er := sse.NewEventReader(body)
	var out []analysis.Event
	for {
		ev, err := er.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		out = append(out, ev)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, newTestConfig(t), sampleFake(), true)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if strings.TrimSpace(rr.Body.String()) != "ok" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestAnalyzeSuccess(t *testing.T) {
	fake := sampleFake()
	srv, rec := newTestServer(t, newTestConfig(t), fake, true)

	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, postJSON("/api/analyze", map[string]string{"text": "今日は新しいカフェに行った", "locale": "ja-JP"}))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if !resp.Success || resp.Data == nil {
		t.Fatalf("expected success with data, got %+v", resp)
	}
	if resp.Data.TotalScore != mockprovider.SampleResult().TotalScore {
		t.Fatalf("total score = %v, want %v", resp.Data.TotalScore, mockprovider.SampleResult().TotalScore)
	}

	reports := rec.all()
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	if reports[0].Outcome != pipeline.OutcomeComplete || reports[0].Mode != pipeline.ModeOnce {
		t.Fatalf("unexpected report %+v", reports[0])
	}
	if reports[0].Locale != analysis.LocaleJA {
		t.Fatalf("locale = %q, want ja", reports[0].Locale)
	}
}

func TestAnalyzeTextTooLong(t *testing.T) {
	fake := sampleFake()
	srv, rec := newTestServer(t, newTestConfig(t), fake, true)

	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, postJSON("/api/analyze", map[string]string{"text": strings.Repeat("👍🏽", 281)}))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if resp := decodeResponse(t, rr); resp.Success || resp.Error != analysis.ErrTextTooLong {
		t.Fatalf("unexpected response %+v", resp)
	}
	if fake.Calls() != 0 {
		t.Fatalf("model must not be called, got %d calls", fake.Calls())
	}
	reports := rec.all()
	if len(reports) != 1 || reports[0].Outcome != pipeline.OutcomeRejected || reports[0].Graphemes != 281 {
		t.Fatalf("unexpected reports %+v", reports)
	}
}

func TestAnalyzeAcceptsExactlyMaxLength(t *testing.T) {
	fake := sampleFake()
	srv, _ := newTestServer(t, newTestConfig(t), fake, true)

	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, postJSON("/api/analyze", map[string]string{"text": strings.Repeat("👨‍👩‍👧", 280)}))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAnalyzeValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   analysis.ErrorCode
	}{
		{name: "invalid json", body: `{"text":`, status: http.StatusBadRequest, code: analysis.ErrInvalidRequest},
		{name: "trailing data", body: `{"text":"hi"} {}`, status: http.StatusBadRequest, code: analysis.ErrInvalidRequest},
		{name: "oversize body", body: `{"text":"` + strings.Repeat("a", 20000) + `"}`, status: http.StatusBadRequest, code: analysis.ErrInvalidRequest},
		{name: "missing text", body: `{"locale":"en"}`, status: http.StatusBadRequest, code: analysis.ErrTextRequired},
		{name: "blank text", body: `{"text":"  \n\t "}`, status: http.StatusBadRequest, code: analysis.ErrTextRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := sampleFake()
			srv, _ := newTestServer(t, newTestConfig(t), fake, true)

			req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			srv.mux.ServeHTTP(rr, req)

			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
			if resp := decodeResponse(t, rr); resp.Error != tt.code {
				t.Fatalf("error = %q, want %q", resp.Error, tt.code)
			}
			if fake.Calls() != 0 {
				t.Fatalf("model must not be called")
			}
		})
	}
}

func TestAnalyzeUpstreamFailure(t *testing.T) {
	fake := &provider.Fake{Error: &provider.APIError{StatusCode: 429, Status: "RESOURCE_EXHAUSTED"}}
	srv, _ := newTestServer(t, newTestConfig(t), fake, true)

	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, postJSON("/api/analyze", map[string]string{"text": "hello"}))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if resp := decodeResponse(t, rr); resp.Error != analysis.ErrRateLimitExceeded {
		t.Fatalf("error = %q, want RATE_LIMIT_EXCEEDED", resp.Error)
	}
}

func TestCustomKeyRequiresHTTPSInProduction(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Server.Production = true
	fake := sampleFake()
	srv, _ := newTestServer(t, cfg, fake, true)

	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, postJSON("/api/analyze", map[string]string{"text": "hello", "customApiKey": validCustomKey}))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if resp := decodeResponse(t, rr); resp.Error != analysis.ErrCustomAPIKeyRequiresHTTPS {
		t.Fatalf("error = %q", resp.Error)
	}

	// the HTTPS check runs before text validation
	rr = httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, postJSON("/api/analyze/stream", map[string]string{"text": "", "credential": validCustomKey}))
	if rr.Code != http.StatusOK {
		t.Fatalf("stream must answer 200, got %d", rr.Code)
	}
	evs := readEvents(t, rr.Body)
	if len(evs) != 1 || evs[0].Phase != analysis.PhaseError || evs[0].Error != analysis.ErrCustomAPIKeyRequiresHTTPS {
		t.Fatalf("unexpected events %+v", evs)
	}

	if fake.Calls() != 0 {
		t.Fatalf("model must not be called")
	}
}

func TestCustomKeyAllowedOverSecureTransport(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Server.Production = true
	cfg.Server.TrustForwardedProto = true
	fake := sampleFake()
	srv, _ := newTestServer(t, cfg, fake, false)

	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{name: "tls", setup: func(r *http.Request) { r.TLS = &tls.ConnectionState{} }},
		{name: "forwarded proto", setup: func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "https, http") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := postJSON("/api/analyze", map[string]string{"text": "hello", "customApiKey": validCustomKey})
			tt.setup(req)
			rr := httptest.NewRecorder()
			srv.mux.ServeHTTP(rr, req)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestForwardedProtoIgnoredWhenUntrusted(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Server.Production = true
	srv, _ := newTestServer(t, cfg, sampleFake(), true)

	req := postJSON("/api/analyze", map[string]string{"text": "hello", "customApiKey": validCustomKey})
	req.Header.Set("X-Forwarded-Proto", "https")
	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestStreamSuccess(t *testing.T) {
	srv, rec := newTestServer(t, newTestConfig(t), sampleFake(), true)

	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, postJSON("/api/analyze/stream", map[string]string{"text": "hello world", "locale": "en"}))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if rr.Header().Get("Cache-Control") != "no-cache" {
		t.Fatalf("expected no-cache, got %q", rr.Header().Get("Cache-Control"))
	}

	evs := readEvents(t, rr.Body)
	wantPhases := []analysis.Phase{
		analysis.PhaseStart, analysis.PhaseParsing, analysis.PhaseCalculating,
		analysis.PhaseCalculating, analysis.PhaseCalculating, analysis.PhaseCalculating, analysis.PhaseGenerating,
		analysis.PhaseGenerating, analysis.PhaseComplete,
	}
	if len(evs) != len(wantPhases) {
		t.Fatalf("expected %d events, got %d: %+v", len(wantPhases), len(evs), evs)
	}
	for i, ev := range evs {
		if ev.Phase != wantPhases[i] {
			t.Fatalf("event %d phase = %q, want %q", i, ev.Phase, wantPhases[i])
		}
	}
	last := evs[len(evs)-1]
	if last.Progress != 100 || last.Data == nil || last.Data.Grade != mockprovider.SampleResult().Grade {
		t.Fatalf("unexpected final event %+v", last)
	}

	reports := rec.all()
	if len(reports) != 1 || reports[0].Mode != pipeline.ModeStream || reports[0].Chunks != 4 {
		t.Fatalf("unexpected reports %+v", reports)
	}
}

func TestStreamWithoutCredentials(t *testing.T) {
	fake := sampleFake()
	srv, _ := newTestServer(t, newTestConfig(t), fake, false)

	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, postJSON("/api/analyze/stream", map[string]string{"text": "hello"}))

	evs := readEvents(t, rr.Body)
	if len(evs) != 2 {
		t.Fatalf("expected start and error, got %+v", evs)
	}
	if evs[1].Phase != analysis.PhaseError || evs[1].Error != analysis.ErrAPIKeyNotConfigured || evs[1].Progress != 0 {
		t.Fatalf("unexpected terminal event %+v", evs[1])
	}
	if fake.Calls() != 0 {
		t.Fatalf("model must not be called")
	}
}

func TestStreamTextTooLong(t *testing.T) {
	fake := sampleFake()
	srv, rec := newTestServer(t, newTestConfig(t), fake, true)

	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, postJSON("/api/analyze/stream", map[string]string{"text": strings.Repeat("a", 281)}))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	evs := readEvents(t, rr.Body)
	if len(evs) != 1 || evs[0].Error != analysis.ErrTextTooLong {
		t.Fatalf("unexpected events %+v", evs)
	}
	if reports := rec.all(); len(reports) != 1 || reports[0].Outcome != pipeline.OutcomeRejected {
		t.Fatalf("unexpected reports %+v", reports)
	}
}

func TestRequestIDHeaderAndContext(t *testing.T) {
	srv, rec := newTestServer(t, newTestConfig(t), sampleFake(), true)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, postJSON("/api/analyze", map[string]string{"text": "hello"}))

	id := rr.Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("request id %q is not a uuid: %v", id, err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.ids) != 1 || rec.ids[0] != id {
		t.Fatalf("observer saw request ids %v, want %s", rec.ids, id)
	}
}

func TestStreamAgainstMockUpstream(t *testing.T) {
	upstream := httptest.NewServer(mockprovider.Handler(mockprovider.Options{Chunks: 5}))
	defer upstream.Close()

	factory, err := provider.NewFactory(provider.Options{
		BaseURL: upstream.URL + "/v1beta",
		Model:   "gemini-test",
		Timeout: 5 * time.Second,
	}, provider.NewCredentials("AIzaSyDefaultKeyForTests000000000"))
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	srv := New(newTestConfig(t), Options{Resolver: factory})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	tests := []struct {
		name      string
		key       string
		wantPhase analysis.Phase
		wantCode  analysis.ErrorCode
	}{
		{name: "default key", wantPhase: analysis.PhaseComplete},
		{name: "invalid custom key", key: mockprovider.InvalidKey, wantPhase: analysis.PhaseError, wantCode: analysis.ErrCustomAPIKeyInvalid},
		{name: "quota", key: mockprovider.QuotaKey, wantPhase: analysis.PhaseError, wantCode: analysis.ErrRateLimitExceeded},
		{name: "garbage output", key: mockprovider.GarbageKey, wantPhase: analysis.PhaseError, wantCode: analysis.ErrAnalysisFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(map[string]string{"text": "hello", "customApiKey": tt.key})
			resp, err := http.Post(ts.URL+"/api/analyze/stream", "application/json", strings.NewReader(string(body)))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			defer resp.Body.Close()

			evs := readEvents(t, resp.Body)
			if len(evs) == 0 {
				t.Fatalf("no events")
			}
			last := evs[len(evs)-1]
			if last.Phase != tt.wantPhase || last.Error != tt.wantCode {
				t.Fatalf("last event %+v, want phase %q code %q", last, tt.wantPhase, tt.wantCode)
			}
		})
	}
}

func TestStartAndShutdown(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Server.Addr = "127.0.0.1:0"
	srv, _ := newTestServer(t, cfg, sampleFake(), true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}
