package translator

import "github.com/tidwall/gjson"

// DetectFormat inspects a parsed response chunk's structural markers to
// identify which wire dialect actually produced it. This handles
// misadvertised "OpenAI-compatible" endpoints that emit a different
// dialect than configured (spec.md §4.1).
func DetectFormat(chunk []byte) (Format, bool) {
	if len(chunk) == 0 {
		return UNKNOWN, false
	}
	parsed := gjson.ParseBytes(chunk)
	if t := parsed.Get("type").String(); t != "" {
		switch {
		case len(t) >= 8 && t[:8] == "response":
			return OPENAIResponses, true
		default:
			// message_start, content_block_delta, message_delta, message_stop, ...
			return CLAUDE, true
		}
	}
	if parsed.Get("choices").Exists() {
		return OPENAI, true
	}
	if parsed.Get("candidates").Exists() {
		return GEMINI, true
	}
	if parsed.Get("message").Exists() && parsed.Get("done").Exists() {
		return OLLAMA, true
	}
	return UNKNOWN, false
}

// applyDetection caches the detected format on first structural match and
// keeps using it for the remainder of the stream, including the flush call.
func applyDetection(state *State, chunk []byte) {
	if state == nil || state.DetectedFormat != UNKNOWN {
		return
	}
	if detected, ok := DetectFormat(chunk); ok && detected != state.SourceFormat {
		state.DetectedFormat = detected
	} else if ok {
		state.DetectedFormat = detected
	}
}
