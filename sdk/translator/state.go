package translator

import "github.com/kwanLeeFrmVi/9router/internal/model"

// ToolCallState tracks one in-flight tool call across streamed deltas so
// fragment indices can be re-associated with the original id/name.
type ToolCallState struct {
	ID        string
	Name      string
	Arguments string
}

// State is the explicit accumulator threaded through a single stream's
// translation calls. Translators are pure functions of (chunk, state).
type State struct {
	SourceFormat Format
	TargetFormat Format

	// DetectedFormat overrides SourceFormat once mid-stream auto-detection
	// (spec.md §4.1) identifies the true upstream dialect.
	DetectedFormat Format

	Model string

	Content   string
	Thinking  string
	ToolCalls map[int]*ToolCallState

	FinishReason string
	Usage        model.TokenUsage
	UsageKnown   bool

	// RequestBodyChars is the character length of the original request body,
	// used to estimate prompt tokens when the provider omits usage.
	RequestBodyChars int

	// chunkIndex counts emitted chunks, used to synthesize ids/created fields
	// for passthrough normalisation.
	chunkIndex int
	started    bool
	flushed    bool
}

// NewState constructs a fresh stream accounting state.
func NewState(source, target Format, reqModel string, requestBodyChars int) *State {
	return &State{
		SourceFormat:     source,
		TargetFormat:     target,
		Model:            reqModel,
		ToolCalls:        make(map[int]*ToolCallState),
		RequestBodyChars: requestBodyChars,
	}
}

// EffectiveSource returns the detected format if auto-detection has fired,
// else the originally configured source format.
func (s *State) EffectiveSource() Format {
	if s.DetectedFormat != UNKNOWN {
		return s.DetectedFormat
	}
	return s.SourceFormat
}

func (s *State) nextIndex() int {
	s.chunkIndex++
	return s.chunkIndex
}
