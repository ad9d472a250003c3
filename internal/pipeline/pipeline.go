// Package pipeline turns one analysis request into an ordered sequence of
// progress events, or a single result for the non-streaming path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/straja-ai/postscore/internal/analysis"
	"github.com/straja-ai/postscore/internal/grapheme"
	"github.com/straja-ai/postscore/internal/prompt"
	"github.com/straja-ai/postscore/internal/provider"
	"github.com/straja-ai/postscore/internal/redact"
	"github.com/straja-ai/postscore/internal/telemetry"
)

type Mode string

const (
	ModeStream Mode = "stream"
	ModeOnce   Mode = "once"
)

type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomeError    Outcome = "error"
	OutcomeCanceled Outcome = "canceled"
	// OutcomeRejected marks requests refused before reaching the pipeline.
	OutcomeRejected Outcome = "rejected"
)

// Report summarizes one finished analysis for observers.
type Report struct {
	Mode       Mode
	Locale     analysis.Locale
	CustomKey  bool
	Graphemes  int
	Outcome    Outcome
	Code       analysis.ErrorCode
	Result     *analysis.Result
	Chunks     int
	FirstChunk time.Duration
	Duration   time.Duration
	// Text is the submitted post. Observers must not log it verbatim.
	Text string
}

// Observer is notified once per analysis after the last event was sent.
type Observer interface {
	Observe(ctx context.Context, r Report)
}

// EmitFunc delivers one event to the client. An error aborts the session.
type EmitFunc func(analysis.Event) error

// Pipeline is stateless across requests and safe for concurrent use.
type Pipeline struct {
	resolver  provider.Resolver
	telemetry *telemetry.Provider
	observer  Observer
}

// New builds a Pipeline. tel and obs may be nil.
func New(resolver provider.Resolver, tel *telemetry.Provider, obs Observer) *Pipeline {
	return &Pipeline{resolver: resolver, telemetry: tel, observer: obs}
}

// Run streams the analysis of req through emit. It returns nil once a
// terminal event (complete or error) was delivered. If ctx is cancelled or
// emit fails, no further events are sent, the upstream stream is closed and
// the cause is returned.
func (p *Pipeline) Run(ctx context.Context, req analysis.Request, emit EmitFunc) (err error) {
	started := time.Now()
	rep := newReport(ModeStream, req)
	defer func() { p.finish(ctx, &rep, started, err) }()

	m := NewMachine()
	send := func(in Input) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev := m.Step(in)
		if ev == nil {
			return nil
		}
		rep.record(*ev)
		if err := emit(*ev); err != nil {
			return fmt.Errorf("emit %s event: %w", ev.Phase, err)
		}
		return nil
	}

	if err := send(Begin(req.HasCustomCredential())); err != nil {
		return err
	}

	prov, err := p.resolver.Resolve(req.Credential)
	if err != nil {
		redact.Logf("analysis credential unavailable: %v", err)
		return send(CredentialFailed(analysis.CodeOf(err)))
	}
	if err := send(Resolved()); err != nil {
		return err
	}

	compiled := prompt.Compile(req.Text, req.Locale)
	if err := send(PromptCompiled()); err != nil {
		return err
	}

	upCtx, span := p.startUpstream(ctx, ModeStream)
	defer span.End()

	stream, err := prov.GenerateStream(upCtx, compiled)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		return p.upstreamFailed(span, err, send)
	}
	defer stream.Close()

	var acc strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			return p.upstreamFailed(span, err, send)
		}
		if rep.Chunks == 0 {
			rep.FirstChunk = time.Since(started)
		}
		rep.Chunks++
		acc.WriteString(chunk)
		if err := send(Chunk()); err != nil {
			return err
		}
	}
	span.SetAttributes(telemetry.SafeAttributes(map[string]interface{}{
		"postscore.chunks":        rep.Chunks,
		"postscore.response_size": acc.Len(),
	})...)

	if err := send(EndOfStream()); err != nil {
		return err
	}

	res, err := analysis.Decode(acc.String())
	if err != nil {
		redact.Logf("analysis decode failed chunks=%d bytes=%d: %v", rep.Chunks, acc.Len(), err)
		span.SetStatus(codes.Error, string(analysis.ErrAnalysisFailed))
		return send(Failure(err))
	}
	return send(Decoded(res))
}

// AnalyzeOnce performs the same analysis without progress reporting.
// Failures carry an *analysis.Error; cancellation returns ctx.Err().
func (p *Pipeline) AnalyzeOnce(ctx context.Context, req analysis.Request) (res *analysis.Result, err error) {
	started := time.Now()
	rep := newReport(ModeOnce, req)
	defer func() {
		rep.Result = res
		p.finish(ctx, &rep, started, err)
	}()

	prov, err := p.resolver.Resolve(req.Credential)
	if err != nil {
		redact.Logf("analysis credential unavailable: %v", err)
		return nil, err
	}

	upCtx, span := p.startUpstream(ctx, ModeOnce)
	defer span.End()

	text, err := prov.Generate(upCtx, prompt.Compile(req.Text, req.Locale))
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		code := provider.Classify(err, req.HasCustomCredential())
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		redact.Logf("analysis upstream failed code=%s: %v", code, err)
		return nil, analysis.NewError(code, err)
	}

	res, err = analysis.Decode(text)
	if err != nil {
		redact.Logf("analysis decode failed bytes=%d: %v", len(text), err)
		span.SetStatus(codes.Error, string(analysis.ErrAnalysisFailed))
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) startUpstream(ctx context.Context, mode Mode) (context.Context, trace.Span) {
	return p.telemetry.Tracer().Start(ctx, "postscore.upstream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SafeAttributes(map[string]interface{}{
			"postscore.mode": string(mode),
		})...),
	)
}

func (p *Pipeline) upstreamFailed(span trace.Span, err error, send func(Input) error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "upstream failed")
	redact.Logf("analysis upstream failed: %v", err)
	return send(Failure(err))
}

func newReport(mode Mode, req analysis.Request) Report {
	return Report{
		Mode:      mode,
		Locale:    req.Locale,
		CustomKey: req.HasCustomCredential(),
		Graphemes: grapheme.Count(req.Text),
		Text:      req.Text,
	}
}

func (r *Report) record(ev analysis.Event) {
	switch ev.Phase {
	case analysis.PhaseComplete:
		r.Outcome = OutcomeComplete
		r.Result = ev.Data
	case analysis.PhaseError:
		r.Outcome = OutcomeError
		r.Code = ev.Error
	}
}

func (p *Pipeline) finish(ctx context.Context, rep *Report, started time.Time, err error) {
	rep.Duration = time.Since(started)
	if rep.Outcome == "" {
		var coded *analysis.Error
		switch {
		case err == nil:
			rep.Outcome = OutcomeComplete
		case errors.As(err, &coded):
			rep.Outcome = OutcomeError
			rep.Code = coded.Code
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), rep.Mode == ModeStream:
			rep.Outcome = OutcomeCanceled
		default:
			rep.Outcome = OutcomeError
			rep.Code = analysis.CodeOf(err)
		}
	}

	if rep.Mode == ModeStream {
		p.telemetry.RecordStreamMetrics(context.WithoutCancel(ctx), float64(rep.FirstChunk.Microseconds())/1000, rep.Chunks)
	}
	if p.observer != nil {
		p.observer.Observe(context.WithoutCancel(ctx), *rep)
	}
}
