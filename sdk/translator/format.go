// Package translator implements the format registry (C1): pairwise request
// and response converters between the wire formats the proxy speaks, plus
// provider-native dialects used only as executor targets (Kiro, Antigravity).
//
// Translators operate directly on raw JSON via gjson/sjson rather than an
// intermediate typed AST — every pair is translated directly, trading a
// combinatorial registry for avoiding lossy normalised shapes (spec.md §9).
package translator

// Format identifies one wire protocol.
type Format string

const (
	OPENAI           Format = "openai"
	OPENAIResponses  Format = "openai_responses"
	CLAUDE           Format = "claude"
	GEMINI           Format = "gemini"
	OLLAMA           Format = "ollama"
	// KIRO and ANTIGRAVITY are provider-native dialects used only as
	// executor targets; they are never a client-facing source format.
	KIRO        Format = "kiro"
	ANTIGRAVITY Format = "antigravity"
	UNKNOWN     Format = ""
)

// FromString parses a format name, defaulting to UNKNOWN.
func FromString(s string) Format {
	switch Format(s) {
	case OPENAI, OPENAIResponses, CLAUDE, GEMINI, OLLAMA, KIRO, ANTIGRAVITY:
		return Format(s)
	default:
		return UNKNOWN
	}
}

func (f Format) String() string { return string(f) }
