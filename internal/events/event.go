package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/straja-ai/postscore/internal/pipeline"
	"github.com/straja-ai/postscore/internal/redact"
)

const (
	LevelMetadata = "metadata"
	LevelRedacted = "redacted"

	previewGraphemes = 80
)

// Event is the metadata record written after every analysis. It never
// carries the credential, and carries post text only as a redacted preview.
type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id"`
	Mode         string    `json:"mode"`
	Locale       string    `json:"locale"`
	Outcome      string    `json:"outcome"`
	ErrorCode    string    `json:"error_code,omitempty"`
	Grade        string    `json:"grade,omitempty"`
	TotalScore   *float64  `json:"total_score,omitempty"`
	Chunks       int       `json:"chunks"`
	Graphemes    int       `json:"graphemes"`
	CustomKey    bool      `json:"custom_key"`
	LatencyMs    float64   `json:"latency_ms"`
	FirstChunkMs float64   `json:"first_chunk_ms,omitempty"`
	TextPreview  string    `json:"text_preview,omitempty"`
}

// Build assembles the record for one finished analysis. level decides
// whether a redacted text preview is attached.
func Build(rep pipeline.Report, requestID, level string) *Event {
	ev := &Event{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		RequestID:    requestID,
		Mode:         string(rep.Mode),
		Locale:       string(rep.Locale),
		Outcome:      string(rep.Outcome),
		ErrorCode:    string(rep.Code),
		Chunks:       rep.Chunks,
		Graphemes:    rep.Graphemes,
		CustomKey:    rep.CustomKey,
		LatencyMs:    durationMillis(rep.Duration),
		FirstChunkMs: durationMillis(rep.FirstChunk),
	}
	if ev.RequestID == "" {
		ev.RequestID = uuid.NewString()
	}
	if rep.Result != nil {
		total := rep.Result.TotalScore
		ev.Grade = string(rep.Result.Grade)
		ev.TotalScore = &total
	}
	if strings.EqualFold(strings.TrimSpace(level), LevelRedacted) {
		ev.TextPreview = redact.Preview(rep.Text, previewGraphemes)
	}
	return ev
}

// LogEvent prints a redacted JSON representation of the event.
func LogEvent(ev *Event) {
	if ev == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		redact.Logf("events: failed to marshal event: %v", err)
		return
	}
	redact.Logf("events: %s", string(data))
}

type requestIDKey struct{}

// WithRequestID stores the request identifier for observers further down.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the identifier stored by WithRequestID, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Observer turns pipeline reports into events on an Emitter.
type Observer struct {
	emitter *Emitter
	level   string
}

func NewObserver(em *Emitter, level string) *Observer {
	return &Observer{emitter: em, level: level}
}

func (o *Observer) Observe(ctx context.Context, rep pipeline.Report) {
	if o == nil || o.emitter == nil {
		return
	}
	o.emitter.Emit(ctx, Build(rep, RequestID(ctx), o.level))
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
