package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/straja-ai/postscore/internal/analysis"
	"github.com/straja-ai/postscore/internal/mockprovider"
	"github.com/straja-ai/postscore/internal/pipeline"
	"github.com/straja-ai/postscore/internal/provider"
	"github.com/straja-ai/postscore/internal/telemetry"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure streaming latency against the configured model",
	Long: `Run the streaming analysis n times in sequence and report total and
time-to-first-chunk latency. With --mock the fake Gemini server is started
in-process and used instead of the configured upstream.`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().IntP("n", "n", 20, "number of iterations")
	benchCmd.Flags().String("text", "今日は新しいカフェでゆっくり読書しました。おすすめの本があれば教えてください！", "post text to analyze")
	benchCmd.Flags().Bool("mock", false, "benchmark against the in-process mock upstream")
}

type benchSample struct {
	total      time.Duration
	firstChunk time.Duration
	chunks     int
	outcome    pipeline.Outcome
}

type benchObserver struct {
	mu      sync.Mutex
	samples []benchSample
}

func (o *benchObserver) Observe(_ context.Context, rep pipeline.Report) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.samples = append(o.samples, benchSample{
		total:      rep.Duration,
		firstChunk: rep.FirstChunk,
		chunks:     rep.Chunks,
		outcome:    rep.Outcome,
	})
}

func runBench(cmd *cobra.Command, args []string) error {
	n, _ := cmd.Flags().GetInt("n")
	text, _ := cmd.Flags().GetString("text")
	useMock, _ := cmd.Flags().GetBool("mock")
	if n <= 0 {
		n = 1
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	opts := provider.Options{
		BaseURL:          cfg.Model.BaseURL,
		Model:            cfg.Model.Name,
		Temperature:      cfg.ModelTemperature(),
		Timeout:          cfg.Model.Timeout,
		MaxResponseBytes: cfg.Model.MaxResponseBytes,
	}
	key := cfg.DefaultAPIKey()
	if useMock {
		shutdown, baseURL, err := mockprovider.StartMockProvider("127.0.0.1:0")
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
		opts.BaseURL = baseURL
		key = "mock-bench-key"
	}
	factory, err := provider.NewFactory(opts, provider.NewCredentials(key))
	if err != nil {
		return err
	}

	obs := &benchObserver{}
	p := pipeline.New(factory, telemetry.Noop(), obs)
	req := analysis.Request{Text: text, Locale: analysis.DefaultLocale}

	// warmup
	if err := p.Run(ctx, req, discardEvents); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	obs.samples = nil

	for i := 0; i < n; i++ {
		if err := p.Run(ctx, req, discardEvents); err != nil {
			return fmt.Errorf("iteration %d: %w", i, err)
		}
	}

	printBench(cmd.OutOrStdout(), obs.samples, opts)
	return nil
}

func discardEvents(analysis.Event) error { return nil }

func printBench(w io.Writer, samples []benchSample, opts provider.Options) {
	if len(samples) == 0 {
		fmt.Fprintln(w, "bench: no samples")
		return
	}
	totals := make([]time.Duration, 0, len(samples))
	firsts := make([]time.Duration, 0, len(samples))
	failures := 0
	chunks := 0
	for _, s := range samples {
		totals = append(totals, s.total)
		firsts = append(firsts, s.firstChunk)
		chunks += s.chunks
		if s.outcome != pipeline.OutcomeComplete {
			failures++
		}
	}

	fmt.Fprintf(w, "bench: n=%d failures=%d avg_chunks=%.1f model=%s base_url=%s\n",
		len(samples), failures, float64(chunks)/float64(len(samples)), opts.Model, opts.BaseURL)
	fmt.Fprintf(w, "  total        avg_ms=%.2f p50_ms=%.2f p95_ms=%.2f\n", avgMillis(totals), percentileMillis(totals, 0.50), percentileMillis(totals, 0.95))
	fmt.Fprintf(w, "  first_chunk  avg_ms=%.2f p50_ms=%.2f p95_ms=%.2f\n", avgMillis(firsts), percentileMillis(firsts, 0.50), percentileMillis(firsts, 0.95))
}

func avgMillis(ds []time.Duration) float64 {
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return float64(total.Microseconds()) / 1000.0 / float64(len(ds))
}

// percentileMillis uses nearest-rank on a sorted copy of ds.
func percentileMillis(ds []time.Duration, q float64) float64 {
	sorted := append([]time.Duration(nil), ds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return float64(sorted[idx].Microseconds()) / 1000.0
}
