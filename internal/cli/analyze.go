package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/straja-ai/postscore/internal/analysis"
	"github.com/straja-ai/postscore/internal/pipeline"
	"github.com/straja-ai/postscore/internal/sse"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [text | -]",
	Short: "Analyze a post and print the result",
	Long: `Analyze a post through a running postscore server, or in-process with
--local. Progress is written to stderr, the result to stdout.

Examples:
  postscore analyze "shipping our new release today"
  echo "今日のランチ" | postscore analyze - --locale ja
  postscore analyze --local --json "hello world"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringP("server", "s", "http://localhost:8080", "postscore server URL")
	analyzeCmd.Flags().Bool("local", false, "run the analysis in-process instead of calling a server")
	analyzeCmd.Flags().StringP("locale", "l", "", "output language (ja or en)")
	analyzeCmd.Flags().String("key", "", "use this Gemini API key instead of the server default")
	analyzeCmd.Flags().Bool("json", false, "print the result as JSON")
	analyzeCmd.Flags().BoolP("quiet", "q", false, "do not print progress")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	text, err := readText(cmd, args)
	if err != nil {
		return err
	}
	locale, _ := cmd.Flags().GetString("locale")
	key, _ := cmd.Flags().GetString("key")
	local, _ := cmd.Flags().GetBool("local")
	asJSON, _ := cmd.Flags().GetBool("json")
	quiet, _ := cmd.Flags().GetBool("quiet")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	progress := cmd.ErrOrStderr()
	if quiet {
		progress = io.Discard
	}
	var final analysis.Event
	onEvent := func(ev analysis.Event) error {
		printProgress(progress, ev)
		if ev.Terminal() {
			final = ev
		}
		return nil
	}

	if local {
		err = analyzeLocal(ctx, cmd, analysis.Request{
			Text:       text,
			Locale:     analysis.NormalizeLocale(locale),
			Credential: strings.TrimSpace(key),
		}, onEvent)
	} else {
		serverURL, _ := cmd.Flags().GetString("server")
		err = analyzeRemote(ctx, http.DefaultClient, serverURL, remoteRequest{
			Text:         text,
			Locale:       locale,
			CustomAPIKey: strings.TrimSpace(key),
		}, onEvent)
	}
	if err != nil {
		return err
	}

	switch {
	case final.Phase == analysis.PhaseError:
		return fmt.Errorf("analysis failed: %s", final.Error)
	case final.Data == nil:
		return errors.New("stream ended without a result")
	}
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(final.Data)
	}
	renderResult(cmd.OutOrStdout(), final.Data)
	return nil
}

func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return strings.TrimRight(string(b), "\r\n"), nil
	}
	return args[0], nil
}

func analyzeLocal(ctx context.Context, cmd *cobra.Command, req analysis.Request, onEvent pipeline.EmitFunc) error {
	if code := req.Validate(); code != "" {
		return onEvent(analysis.ErrorEvent(code))
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rt, err := newServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	p := pipeline.New(rt.factory, rt.telemetry, rt.observer)
	return p.Run(ctx, req, onEvent)
}

type remoteRequest struct {
	Text         string `json:"text"`
	Locale       string `json:"locale,omitempty"`
	CustomAPIKey string `json:"customApiKey,omitempty"`
}

// analyzeRemote posts to a server's stream endpoint and hands every event
// to onEvent until the terminal one.
func analyzeRemote(ctx context.Context, client *http.Client, serverURL string, body remoteRequest, onEvent pipeline.EmitFunc) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	endpoint := strings.TrimRight(serverURL, "/") + "/api/analyze/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server answered %s", resp.Status)
	}

	er := sse.NewEventReader(resp.Body)
	for {
		ev, err := er.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}
		if err := onEvent(ev); err != nil {
			return err
		}
		if ev.Terminal() {
			return nil
		}
	}
}

func printProgress(w io.Writer, ev analysis.Event) {
	if ev.Phase == analysis.PhaseError {
		fmt.Fprintf(w, "[  --] error: %s\n", ev.Error)
		return
	}
	fmt.Fprintf(w, "[%3d%%] %s\n", ev.Progress, ev.Phase)
}

func renderResult(w io.Writer, res *analysis.Result) {
	fmt.Fprintf(w, "Score: %g/100  Grade: %s\n\n", res.TotalScore, res.Grade)

	items := res.Breakdown.Items()
	for _, tier := range analysis.Tiers {
		fmt.Fprintf(w, "%s\n", tier.Name)
		for _, f := range tier.Facets {
			it := items[f.Key]
			fmt.Fprintf(w, "  %-24s %4g/%-3g %s\n", f.Key, it.Score, it.Max, it.Reason)
		}
	}

	penalties := res.Penalties.Items()
	keys := make([]string, 0, len(penalties))
	for k, p := range penalties {
		if p.Score != 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		fmt.Fprintln(w, "Penalties")
		for _, k := range keys {
			fmt.Fprintf(w, "  %-24s %4g  %s\n", k, penalties[k].Score, penalties[k].Reason)
		}
	}

	if len(res.Improvements) > 0 {
		fmt.Fprintln(w, "\nImprovements")
		for _, im := range res.Improvements {
			fmt.Fprintf(w, "  %d. %s (+%g)\n", im.Priority, im.Suggestion, im.ExpectedGain)
		}
	}
	for _, v := range res.ImprovedVersions {
		fmt.Fprintf(w, "\n%s\n  %s\n", v.Title, v.Text)
	}
}
