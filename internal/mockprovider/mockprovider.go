package mockprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/straja-ai/postscore/internal/analysis"
)

const (
	defaultPort    = 18081
	defaultDelayMS = 50
	defaultChunks  = 8

	// Keys that make the mock answer like Gemini does for bad credentials
	// or exhausted quota.
	InvalidKey = "mock-invalid-key"
	QuotaKey   = "mock-quota-key"
	// GarbageKey makes the mock return text that is not the result JSON.
	GarbageKey = "mock-garbage-key"
)

// Options tunes the mock upstream.
type Options struct {
	Delay  time.Duration
	Chunks int
}

// StartMockProvider launches a lightweight Gemini-compatible mock server.
// If addr is empty, it listens on 127.0.0.1:MOCK_PROVIDER_PORT (default 18081).
// It returns a shutdown function and the API base URL
// (e.g., http://127.0.0.1:18081/v1beta).
func StartMockProvider(addr string) (func(context.Context) error, string, error) {
	if strings.TrimSpace(addr) == "" {
		port := strings.TrimSpace(os.Getenv("MOCK_PROVIDER_PORT"))
		if port == "" {
			port = fmt.Sprintf("%d", defaultPort)
		}
		addr = "127.0.0.1:" + port
	}

	opts := Options{
		Delay:  defaultDelayMS * time.Millisecond,
		Chunks: defaultChunks,
	}
	if val := strings.TrimSpace(os.Getenv("MOCK_DELAY_MS")); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed >= 0 {
			opts.Delay = time.Duration(parsed) * time.Millisecond
		}
	}
	if val := strings.TrimSpace(os.Getenv("MOCK_CHUNKS")); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			opts.Chunks = parsed
		}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           Handler(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("mock provider server error: %v", err)
		}
	}()

	shutdown := func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}

	baseURL := "http://" + ln.Addr().String() + "/v1beta"
	log.Printf("mock provider listening on %s (delay=%s chunks=%d)", baseURL, opts.Delay, opts.Chunks)
	return shutdown, baseURL, nil
}

// Handler serves generateContent and streamGenerateContent for any model.
func Handler(opts Options) http.Handler {
	if opts.Chunks <= 0 {
		opts.Chunks = defaultChunks
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("mock upstream request method=%s path=%s", r.Method, r.URL.Path)

		if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/v1beta/models/") {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "", "Not found")
			return
		}

		_, method, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/v1beta/models/"), ":")
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "", "Not found")
			return
		}

		switch r.Header.Get("x-goog-api-key") {
		case "":
			writeError(w, http.StatusForbidden, "PERMISSION_DENIED", "", "Method doesn't allow unregistered callers. Please use API Key or other form of API consumer identity to call this API.")
			return
		case InvalidKey:
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "API_KEY_INVALID", "API key not valid. Please pass a valid API key.")
			return
		case QuotaKey:
			writeError(w, http.StatusTooManyRequests, "RESOURCE_EXHAUSTED", "", "You exceeded your current quota, please check your plan and billing details.")
			return
		}

		var req struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Contents) == 0 {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "", "Invalid JSON payload received.")
			return
		}

		text := SampleJSON()
		if r.Header.Get("x-goog-api-key") == GarbageKey {
			text = "I'm sorry, I cannot produce JSON today."
		}

		switch method {
		case "generateContent":
			sleep(r.Context(), opts.Delay)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(candidateResponse(text, "STOP"))
		case "streamGenerateContent":
			writeStream(w, r, text, opts)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "", "Unknown method "+method)
		}
	})
}

func writeStream(w http.ResponseWriter, r *http.Request, text string, opts Options) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	for i, part := range Split(text, opts.Chunks) {
		if !sleep(r.Context(), opts.Delay) {
			return
		}
		finish := ""
		if i == opts.Chunks-1 {
			finish = "STOP"
		}
		b, _ := json.Marshal(candidateResponse(part, finish))
		if _, err := fmt.Fprintf(w, "data: %s\r\n\r\n", b); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func candidateResponse(text, finish string) map[string]any {
	candidate := map[string]any{
		"content": map[string]any{
			"role":  "model",
			"parts": []map[string]string{{"text": text}},
		},
		"index": 0,
	}
	if finish != "" {
		candidate["finishReason"] = finish
	}
	return map[string]any{
		"candidates":   []map[string]any{candidate},
		"modelVersion": "mock-gemini",
	}
}

func writeError(w http.ResponseWriter, code int, status, reason, message string) {
	body := map[string]any{
		"code":    code,
		"message": message,
		"status":  status,
	}
	if reason != "" {
		body["details"] = []map[string]any{{
			"@type":  "type.googleapis.com/google.rpc.ErrorInfo",
			"reason": reason,
		}}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": body})
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Split cuts s into n pieces of roughly equal byte length without breaking
// UTF-8 sequences.
func Split(s string, n int) []string {
	if n <= 1 || len(s) <= n {
		return []string{s}
	}
	size := len(s) / n
	out := make([]string, 0, n)
	for i := 0; i < n-1; i++ {
		cut := size
		for cut < len(s) && !isRuneStart(s[cut]) {
			cut++
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	return append(out, s)
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// SampleResult is the canned analysis every successful mock call returns.
func SampleResult() *analysis.Result {
	res := &analysis.Result{}
	items := res.Breakdown.Items()
	for _, tier := range analysis.Tiers {
		for _, f := range tier.Facets {
			*items[f.Key] = analysis.ScoreItem{
				Score:  float64(f.Max * 7 / 10),
				Max:    float64(f.Max),
				Reason: "mock reason for " + f.Key,
			}
		}
	}
	for _, p := range res.Penalties.Items() {
		*p = analysis.PenaltyItem{Score: 0, Reason: "no risk detected"}
	}
	res.Penalties.NotInterested = analysis.PenaltyItem{Score: -2, Reason: "slightly generic hook"}
	res.TotalScore = res.Breakdown.Sum() + res.Penalties.NotInterested.Score
	res.Grade = analysis.GradeFor(res.TotalScore)
	for i := 1; i <= analysis.ImprovementCount; i++ {
		res.Improvements = append(res.Improvements, analysis.Improvement{
			Priority:     i,
			Suggestion:   fmt.Sprintf("mock suggestion %d", i),
			ExpectedGain: float64(6 - i),
		})
	}
	for i := 1; i <= analysis.ImprovedVersionCount; i++ {
		res.ImprovedVersions = append(res.ImprovedVersions, analysis.ImprovedVersion{
			Title:        fmt.Sprintf("Variant %d", i),
			Text:         fmt.Sprintf("改善案 %d: ask your readers a question ✨", i),
			Improvements: []string{"adds a question", "tightens the hook"},
		})
	}
	return res
}

// SampleJSON is SampleResult encoded the way the model would answer.
func SampleJSON() string {
	b, err := analysis.Encode(SampleResult())
	if err != nil {
		panic(err)
	}
	return string(b)
}
