package pipeline

import (
	"github.com/straja-ai/postscore/internal/analysis"
	"github.com/straja-ai/postscore/internal/provider"
)

// Progress checkpoints reported to the client.
const (
	ProgressStart    = 0
	ProgressParsing  = 15
	ProgressCompiled = 30
	ProgressPerChunk = 10
	ProgressChunkCap = 85
	ProgressDecoding = 90
	ProgressComplete = 100

	// Chunks up to this index are reported as calculating, later ones as
	// generating.
	calculatingChunks = 3
)

type stage int

const (
	stageIdle stage = iota
	stageStarted
	stageResolved
	stageStreaming
	stageDecoding
	stageDone
)

type inputKind int

const (
	inputBegin inputKind = iota
	inputCredentialFailed
	inputResolved
	inputPromptCompiled
	inputChunk
	inputEndOfStream
	inputDecoded
	inputFailure
)

// Input is one stimulus for the state machine.
type Input struct {
	kind   inputKind
	custom bool
	code   analysis.ErrorCode
	result *analysis.Result
	err    error
}

// Begin starts a session. custom records whether the caller supplied its
// own credential, which decides how key failures are reported.
func Begin(custom bool) Input { return Input{kind: inputBegin, custom: custom} }

// CredentialFailed reports that no usable credential could be resolved.
func CredentialFailed(code analysis.ErrorCode) Input {
	return Input{kind: inputCredentialFailed, code: code}
}

func Resolved() Input       { return Input{kind: inputResolved} }
func PromptCompiled() Input { return Input{kind: inputPromptCompiled} }

// Chunk reports that one more fragment arrived. The text itself is
// accumulated by the caller.
func Chunk() Input       { return Input{kind: inputChunk} }
func EndOfStream() Input { return Input{kind: inputEndOfStream} }

// Decoded carries the result parsed from the accumulated text.
func Decoded(res *analysis.Result) Input { return Input{kind: inputDecoded, result: res} }

// Failure reports an upstream or decode error; it is classified into an
// error code.
func Failure(err error) Input { return Input{kind: inputFailure, err: err} }

// State is the immutable snapshot of one session.
type State struct {
	stage  stage
	chunks int
	custom bool
}

// Chunks returns how many fragments were received.
func (s State) Chunks() int { return s.chunks }

// Done reports whether a terminal event was produced.
func (s State) Done() bool { return s.stage == stageDone }

// Step is the transition function. Inputs that do not fit the current
// stage are ignored, and nothing is produced once the session is done.
func Step(s State, in Input) (State, *analysis.Event) {
	if s.stage == stageDone {
		return s, nil
	}

	switch in.kind {
	case inputBegin:
		if s.stage != stageIdle {
			return s, nil
		}
		s.stage = stageStarted
		s.custom = in.custom
		return s, event(analysis.PhaseStart, ProgressStart)

	case inputCredentialFailed:
		if s.stage != stageStarted {
			return s, nil
		}
		code := in.code
		if code == "" {
			code = analysis.ErrAPIKeyNotConfigured
		}
		return fail(s, code)

	case inputResolved:
		if s.stage != stageStarted {
			return s, nil
		}
		s.stage = stageResolved
		return s, event(analysis.PhaseParsing, ProgressParsing)

	case inputPromptCompiled:
		if s.stage != stageResolved {
			return s, nil
		}
		s.stage = stageStreaming
		return s, event(analysis.PhaseCalculating, ProgressCompiled)

	case inputChunk:
		if s.stage != stageStreaming {
			return s, nil
		}
		s.chunks++
		phase := analysis.PhaseGenerating
		if s.chunks <= calculatingChunks {
			phase = analysis.PhaseCalculating
		}
		return s, event(phase, ChunkProgress(s.chunks))

	case inputEndOfStream:
		if s.stage != stageStreaming {
			return s, nil
		}
		s.stage = stageDecoding
		return s, event(analysis.PhaseGenerating, ProgressDecoding)

	case inputDecoded:
		if s.stage != stageDecoding {
			return s, nil
		}
		if in.result == nil {
			return fail(s, analysis.ErrAnalysisFailed)
		}
		s.stage = stageDone
		return s, &analysis.Event{Phase: analysis.PhaseComplete, Progress: ProgressComplete, Data: in.result}

	case inputFailure:
		code := provider.Classify(in.err, s.custom)
		if code == "" {
			code = analysis.ErrAnalysisFailed
		}
		return fail(s, code)
	}
	return s, nil
}

// ChunkProgress is the progress reported after the k-th fragment (1-based).
func ChunkProgress(k int) int {
	return min(ProgressCompiled+ProgressPerChunk*k, ProgressChunkCap)
}

func event(phase analysis.Phase, progress int) *analysis.Event {
	return &analysis.Event{Phase: phase, Progress: progress}
}

func fail(s State, code analysis.ErrorCode) (State, *analysis.Event) {
	s.stage = stageDone
	ev := analysis.ErrorEvent(code)
	return s, &ev
}

// Machine holds the state of one session and steps it forward.
type Machine struct {
	state State
}

func NewMachine() *Machine {
	return &Machine{}
}

// Step applies in and returns the event to send, if any.
func (m *Machine) Step(in Input) *analysis.Event {
	var ev *analysis.Event
	m.state, ev = Step(m.state, in)
	return ev
}

func (m *Machine) State() State {
	return m.state
}
