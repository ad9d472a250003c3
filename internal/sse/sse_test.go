package sse

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straja-ai/postscore/internal/analysis"
)

func TestFrameFormat(t *testing.T) {
	b, err := Frame(analysis.Event{Phase: analysis.PhaseParsing, Progress: 15})
	require.NoError(t, err)
	assert.Equal(t, "data: {\"phase\":\"parsing\",\"progress\":15}\n\n", string(b))

	b, err = Frame(analysis.ErrorEvent(analysis.ErrTextTooLong))
	require.NoError(t, err)
	assert.Equal(t, "data: {\"phase\":\"error\",\"progress\":0,\"error\":\"TEXT_TOO_LONG\"}\n\n", string(b))
}

func TestFrameKeepsDataOnOneLine(t *testing.T) {
	res := &analysis.Result{
		Grade: analysis.GradeA,
		ImprovedVersions: []analysis.ImprovedVersion{
			{Title: "multi", Text: "line one\nline two <b>&</b>", Improvements: []string{}},
		},
	}
	b, err := Frame(analysis.Event{Phase: analysis.PhaseComplete, Progress: 100, Data: res})
	require.NoError(t, err)

	s := string(b)
	require.True(t, strings.HasPrefix(s, "data: "))
	require.True(t, strings.HasSuffix(s, "\n\n"))
	assert.Equal(t, 2, strings.Count(s, "\n"), "payload newlines must be escaped")
	assert.Contains(t, s, "<b>&</b>")
}

func TestReaderRoundTripAcrossChunkBoundaries(t *testing.T) {
	events := []analysis.Event{
		{Phase: analysis.PhaseStart, Progress: 0},
		{Phase: analysis.PhaseParsing, Progress: 15},
		{Phase: analysis.PhaseCalculating, Progress: 30},
		{Phase: analysis.PhaseGenerating, Progress: 90},
		analysis.ErrorEvent(analysis.ErrAnalysisFailed),
	}
	var buf bytes.Buffer
	for _, ev := range events {
		b, err := Frame(ev)
		require.NoError(t, err)
		buf.Write(b)
	}

	er := NewEventReader(iotest.OneByteReader(bytes.NewReader(buf.Bytes())))
	var got []analysis.Event
	for {
		ev, err := er.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}
	assert.Equal(t, events, got)
}

func TestReaderHandlesUpstreamVariants(t *testing.T) {
	stream := ": keep-alive\r\n" +
		"event: message\r\n" +
		"data: {\"a\":1}\r\n\r\n" +
		"data: line1\n" +
		"data:line2\n\n" +
		"id: 7\n\n" +
		"data: tail-without-blank-line"

	r := NewReader(strings.NewReader(stream))

	msg, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "message", msg.Event)
	assert.Equal(t, `{"a":1}`, string(msg.Data))

	msg, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "", msg.Event)
	assert.Equal(t, "line1\nline2", string(msg.Data))

	msg, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "tail-without-blank-line", string(msg.Data))

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderRejectsOversizedEvent(t *testing.T) {
	stream := "data: " + strings.Repeat("x", MaxEventSize+1) + "\n\n"
	_, err := NewReader(strings.NewReader(stream)).Next()
	require.Error(t, err)
}

func TestWriterStopsAfterTerminalEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec)

	require.NoError(t, sw.Send(analysis.Event{Phase: analysis.PhaseStart}))
	require.NoError(t, sw.Send(analysis.Event{Phase: analysis.PhaseComplete, Progress: 100, Data: &analysis.Result{Grade: analysis.GradeS}}))
	assert.True(t, sw.Done())
	assert.ErrorIs(t, sw.Send(analysis.Event{Phase: analysis.PhaseGenerating, Progress: 90}), ErrClosed)
	assert.Equal(t, 2, sw.Sent())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.True(t, rec.Flushed)
	assert.Equal(t, 2, strings.Count(rec.Body.String(), "data: "))
}
