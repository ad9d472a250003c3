package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straja-ai/postscore/internal/analysis"
	"github.com/straja-ai/postscore/internal/provider"
)

func TestChunkProgress(t *testing.T) {
	want := map[int]int{1: 40, 2: 50, 3: 60, 5: 80, 6: 85, 7: 85, 100: 85}
	for k, p := range want {
		assert.Equal(t, p, ChunkProgress(k), "chunk %d", k)
	}
}

func TestMachineHappyPath(t *testing.T) {
	m := NewMachine()
	var got []analysis.Event
	step := func(in Input) {
		if ev := m.Step(in); ev != nil {
			got = append(got, *ev)
		}
	}

	step(Begin(false))
	step(Resolved())
	step(PromptCompiled())
	for i := 0; i < 4; i++ {
		step(Chunk())
	}
	step(EndOfStream())
	res := &analysis.Result{Grade: analysis.GradeA}
	step(Decoded(res))

	want := []analysis.Event{
		{Phase: analysis.PhaseStart, Progress: 0},
		{Phase: analysis.PhaseParsing, Progress: 15},
		{Phase: analysis.PhaseCalculating, Progress: 30},
		{Phase: analysis.PhaseCalculating, Progress: 40},
		{Phase: analysis.PhaseCalculating, Progress: 50},
		{Phase: analysis.PhaseCalculating, Progress: 60},
		{Phase: analysis.PhaseGenerating, Progress: 70},
		{Phase: analysis.PhaseGenerating, Progress: 90},
		{Phase: analysis.PhaseComplete, Progress: 100, Data: res},
	}
	require.Equal(t, want, got)
	assert.True(t, m.State().Done())
	assert.Equal(t, 4, m.State().Chunks())
}

func TestMachineIgnoresInputsAfterTerminal(t *testing.T) {
	s, ev := Step(State{}, Begin(false))
	require.NotNil(t, ev)
	s, ev = Step(s, CredentialFailed(analysis.ErrAPIKeyNotConfigured))
	require.NotNil(t, ev)
	assert.Equal(t, analysis.ErrorEvent(analysis.ErrAPIKeyNotConfigured), *ev)

	for _, in := range []Input{Resolved(), PromptCompiled(), Chunk(), EndOfStream(), Decoded(&analysis.Result{}), Failure(errors.New("late"))} {
		var next *analysis.Event
		s, next = Step(s, in)
		assert.Nil(t, next)
	}
	assert.True(t, s.Done())
}

func TestMachineIgnoresOutOfOrderInputs(t *testing.T) {
	s, ev := Step(State{}, Chunk())
	assert.Nil(t, ev)
	s, ev = Step(s, Begin(false))
	require.NotNil(t, ev)
	s, ev = Step(s, Begin(false))
	assert.Nil(t, ev, "second Begin")
	s, ev = Step(s, EndOfStream())
	assert.Nil(t, ev, "EndOfStream before streaming")
	_, ev = Step(s, Decoded(&analysis.Result{}))
	assert.Nil(t, ev, "Decoded before EndOfStream")
}

func TestMachineFailureClassification(t *testing.T) {
	cases := []struct {
		name   string
		custom bool
		err    error
		want   analysis.ErrorCode
	}{
		{name: "default key rejected", err: &provider.APIError{StatusCode: 400, Reason: "API_KEY_INVALID"}, want: analysis.ErrAPIKeyInvalid},
		{name: "custom key rejected", custom: true, err: &provider.APIError{StatusCode: 400, Reason: "API_KEY_INVALID"}, want: analysis.ErrCustomAPIKeyInvalid},
		{name: "quota", err: &provider.APIError{StatusCode: 429}, want: analysis.ErrRateLimitExceeded},
		{name: "decode", err: analysis.NewError(analysis.ErrAnalysisFailed, analysis.ErrShapeMismatch), want: analysis.ErrAnalysisFailed},
		{name: "unknown", err: errors.New("boom"), want: analysis.ErrAnalysisFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := Step(State{}, Begin(tc.custom))
			s, _ = Step(s, Resolved())
			s, _ = Step(s, PromptCompiled())
			s, ev := Step(s, Failure(tc.err))
			require.NotNil(t, ev)
			assert.Equal(t, analysis.ErrorEvent(tc.want), *ev)
			assert.True(t, s.Done())
		})
	}
}

func TestMachineDecodedNilIsFailure(t *testing.T) {
	m := NewMachine()
	m.Step(Begin(false))
	m.Step(Resolved())
	m.Step(PromptCompiled())
	m.Step(EndOfStream())
	ev := m.Step(Decoded(nil))
	require.NotNil(t, ev)
	assert.Equal(t, analysis.ErrorEvent(analysis.ErrAnalysisFailed), *ev)
}
