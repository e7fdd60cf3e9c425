package translator

import (
	"github.com/kwanLeeFrmVi/9router/internal/model"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ResponseTranslator converts one parsed provider chunk into zero or more
// client-format chunks, threading accounting through state.
type ResponseTranslator func(chunk []byte, state *State) [][]byte

type responseKey struct{ provider, client Format }

var responseRegistry = map[responseKey]ResponseTranslator{}

// RegisterResponseTranslator installs fn for the (providerFormat,
// clientFormat) pair.
func RegisterResponseTranslator(provider, client Format, fn ResponseTranslator) {
	responseRegistry[responseKey{provider, client}] = fn
}

func init() {
	for _, prov := range []Format{OPENAI, OPENAIResponses, CLAUDE, GEMINI, OLLAMA} {
		for _, cli := range []Format{OPENAI, OPENAIResponses, CLAUDE, GEMINI, OLLAMA} {
			p, c := prov, cli
			RegisterResponseTranslator(p, c, func(chunk []byte, state *State) [][]byte {
				return translateChunkGeneric(p, c, chunk, state)
			})
		}
	}
}

// TranslateResponseChunk runs mid-stream format auto-detection, then
// dispatches to the registered (provider, client) translator. Passing
// chunk == nil signals end-of-stream (the flush call).
func TranslateResponseChunk(providerFormat, clientFormat Format, chunk []byte, state *State) [][]byte {
	if chunk == nil {
		return flush(clientFormat, state)
	}
	applyDetection(state, chunk)
	effective := state.EffectiveSource()
	if fn, ok := responseRegistry[responseKey{effective, clientFormat}]; ok {
		out := fn(chunk, state)
		return filterEmpty(out)
	}
	return nil
}

// delta is the shared decode shape for one provider chunk.
type delta struct {
	contentPiece  string
	thinkingPiece string
	toolCallDelta bool
	finish        string
	usage         *model.TokenUsage
}

func decodeProviderChunk(provider Format, chunk []byte) delta {
	root := gjson.ParseBytes(chunk)
	var d delta
	switch provider {
	case OPENAI, OPENAIResponses:
		choice := root.Get("choices.0")
		d.contentPiece = choice.Get("delta.content").String()
		d.thinkingPiece = choice.Get("delta.reasoning_content").String()
		if choice.Get("delta.tool_calls").Exists() {
			d.toolCallDelta = true
		}
		if fr := choice.Get("finish_reason"); fr.Exists() && fr.String() != "" {
			d.finish = fr.String()
		}
		if root.Get("response.output_text.delta").Exists() {
			d.contentPiece = root.Get("response.output_text.delta").String()
		}
		if u := root.Get("usage"); u.Exists() {
			d.usage = &model.TokenUsage{
				PromptTokens:     int(u.Get("prompt_tokens").Int()),
				CompletionTokens: int(u.Get("completion_tokens").Int()),
				TotalTokens:      int(u.Get("total_tokens").Int()),
			}
		}
	case CLAUDE:
		switch root.Get("type").String() {
		case "content_block_delta":
			switch root.Get("delta.type").String() {
			case "text_delta":
				d.contentPiece = root.Get("delta.text").String()
			case "thinking_delta":
				d.thinkingPiece = root.Get("delta.thinking").String()
			case "input_json_delta":
				d.toolCallDelta = true
			}
		case "message_delta":
			if sr := root.Get("delta.stop_reason"); sr.Exists() && sr.String() != "" {
				d.finish = sr.String()
			}
			if u := root.Get("usage"); u.Exists() {
				d.usage = &model.TokenUsage{
					PromptTokens:     int(u.Get("input_tokens").Int()),
					CompletionTokens: int(u.Get("output_tokens").Int()),
				}
				d.usage.TotalTokens = d.usage.PromptTokens + d.usage.CompletionTokens
			}
		}
	case GEMINI:
		root.Get("candidates.0.content.parts").ForEach(func(_, p gjson.Result) bool {
			if p.Get("thought").Bool() {
				d.thinkingPiece += p.Get("text").String()
			} else {
				d.contentPiece += p.Get("text").String()
			}
			return true
		})
		if fr := root.Get("candidates.0.finishReason"); fr.Exists() && fr.String() != "" {
			d.finish = fr.String()
		}
		if u := root.Get("usageMetadata"); u.Exists() {
			d.usage = &model.TokenUsage{
				PromptTokens:     int(u.Get("promptTokenCount").Int()),
				CompletionTokens: int(u.Get("candidatesTokenCount").Int()),
				TotalTokens:      int(u.Get("totalTokenCount").Int()),
			}
		}
	case OLLAMA:
		d.contentPiece = root.Get("message.content").String()
		if root.Get("done").Bool() {
			d.finish = "stop"
			d.usage = &model.TokenUsage{
				PromptTokens:     int(root.Get("prompt_eval_count").Int()),
				CompletionTokens: int(root.Get("eval_count").Int()),
			}
			d.usage.TotalTokens = d.usage.PromptTokens + d.usage.CompletionTokens
		}
	}
	return d
}

func translateChunkGeneric(provider, client Format, chunk []byte, state *State) [][]byte {
	d := decodeProviderChunk(provider, chunk)
	state.Content += d.contentPiece
	state.Thinking += d.thinkingPiece
	if d.finish != "" {
		state.FinishReason = d.finish
	}
	if d.usage != nil {
		state.Usage = *d.usage
		state.UsageKnown = true
	}

	if d.contentPiece == "" && d.thinkingPiece == "" && !d.toolCallDelta && d.finish == "" && d.usage == nil {
		return nil
	}

	finishNow := d.finish != ""
	var usage *model.TokenUsage
	if finishNow {
		u := resolveUsage(state)
		usage = &u
	}
	return [][]byte{encodeClientChunk(client, d.contentPiece, d.thinkingPiece, d.finish, usage, state)}
}

// resolveUsage returns the known usage, or estimates it from content length
// using a fixed characters-per-token ratio plus a small additive buffer.
const charsPerToken = 4
const estimateBuffer = 8

func resolveUsage(state *State) model.TokenUsage {
	if state.UsageKnown {
		return state.Usage
	}
	completion := len(state.Content) / charsPerToken
	prompt := state.RequestBodyChars / charsPerToken
	return model.TokenUsage{
		PromptTokens:     prompt + estimateBuffer,
		CompletionTokens: completion + estimateBuffer,
		TotalTokens:      prompt + completion + 2*estimateBuffer,
		Estimated:        true,
	}
}

// filterUsageForFormat drops usage fields a client format doesn't model.
func filterUsageForFormat(client Format, u model.TokenUsage) (prompt, completion, total int, ok bool) {
	switch client {
	case OLLAMA:
		return u.PromptTokens, u.CompletionTokens, 0, true
	default:
		return u.PromptTokens, u.CompletionTokens, u.TotalTokens, true
	}
}

func encodeClientChunk(client Format, content, thinking, finish string, usage *model.TokenUsage, state *State) []byte {
	body := []byte(`{}`)
	switch client {
	case CLAUDE:
		if content != "" {
			body, _ = sjson.SetBytes(body, "type", "content_block_delta")
			body, _ = sjson.SetBytes(body, "delta.type", "text_delta")
			body, _ = sjson.SetBytes(body, "delta.text", content)
		} else if thinking != "" {
			body, _ = sjson.SetBytes(body, "type", "content_block_delta")
			body, _ = sjson.SetBytes(body, "delta.type", "thinking_delta")
			body, _ = sjson.SetBytes(body, "delta.thinking", thinking)
		} else {
			body, _ = sjson.SetBytes(body, "type", "message_delta")
		}
		if finish != "" {
			body, _ = sjson.SetBytes(body, "type", "message_delta")
			body, _ = sjson.SetBytes(body, "delta.stop_reason", mapFinishReason(CLAUDE, finish))
			if usage != nil {
				p, c, _, _ := filterUsageForFormat(CLAUDE, *usage)
				body, _ = sjson.SetBytes(body, "usage.input_tokens", p)
				body, _ = sjson.SetBytes(body, "usage.output_tokens", c)
			}
		}
	case GEMINI:
		if content != "" {
			body, _ = sjson.SetBytes(body, "candidates.0.content.parts.0.text", content)
		} else if thinking != "" {
			body, _ = sjson.SetBytes(body, "candidates.0.content.parts.0.text", thinking)
			body, _ = sjson.SetBytes(body, "candidates.0.content.parts.0.thought", true)
		}
		if finish != "" {
			body, _ = sjson.SetBytes(body, "candidates.0.finishReason", mapFinishReason(GEMINI, finish))
			if usage != nil {
				p, c, t, _ := filterUsageForFormat(GEMINI, *usage)
				body, _ = sjson.SetBytes(body, "usageMetadata.promptTokenCount", p)
				body, _ = sjson.SetBytes(body, "usageMetadata.candidatesTokenCount", c)
				body, _ = sjson.SetBytes(body, "usageMetadata.totalTokenCount", t)
			}
		}
	case OLLAMA:
		body, _ = sjson.SetBytes(body, "model", state.Model)
		body, _ = sjson.SetBytes(body, "message.role", "assistant")
		body, _ = sjson.SetBytes(body, "message.content", content)
		if finish != "" {
			body, _ = sjson.SetBytes(body, "done", true)
			if usage != nil {
				p, c, _, _ := filterUsageForFormat(OLLAMA, *usage)
				body, _ = sjson.SetBytes(body, "prompt_eval_count", p)
				body, _ = sjson.SetBytes(body, "eval_count", c)
			}
		} else {
			body, _ = sjson.SetBytes(body, "done", false)
		}
	case OPENAIResponses:
		body, _ = sjson.SetBytes(body, "type", "response.output_text.delta")
		body, _ = sjson.SetBytes(body, "delta", content)
		if finish != "" {
			body, _ = sjson.SetBytes(body, "type", "response.completed")
			if usage != nil {
				p, c, t, _ := filterUsageForFormat(OPENAIResponses, *usage)
				body, _ = sjson.SetBytes(body, "response.usage.input_tokens", p)
				body, _ = sjson.SetBytes(body, "response.usage.output_tokens", c)
				body, _ = sjson.SetBytes(body, "response.usage.total_tokens", t)
			}
		}
	default: // OPENAI
		body, _ = sjson.SetBytes(body, "object", "chat.completion.chunk")
		body, _ = sjson.SetBytes(body, "model", state.Model)
		if content != "" {
			body, _ = sjson.SetBytes(body, "choices.0.delta.content", content)
		}
		if thinking != "" {
			body, _ = sjson.SetBytes(body, "choices.0.delta.reasoning_content", thinking)
		}
		if finish != "" {
			body, _ = sjson.SetBytes(body, "choices.0.finish_reason", mapFinishReason(OPENAI, finish))
			if usage != nil {
				p, c, t, _ := filterUsageForFormat(OPENAI, *usage)
				body, _ = sjson.SetBytes(body, "usage.prompt_tokens", p)
				body, _ = sjson.SetBytes(body, "usage.completion_tokens", c)
				body, _ = sjson.SetBytes(body, "usage.total_tokens", t)
			}
		} else {
			body, _ = sjson.SetBytes(body, "choices.0.index", 0)
		}
	}
	return body
}

func mapFinishReason(client Format, reason string) string {
	switch client {
	case CLAUDE:
		switch reason {
		case "stop", "end_turn":
			return "end_turn"
		case "length", "max_tokens":
			return "max_tokens"
		case "tool_calls", "tool_use":
			return "tool_use"
		default:
			return reason
		}
	case GEMINI:
		switch reason {
		case "stop", "end_turn":
			return "STOP"
		case "length", "max_tokens":
			return "MAX_TOKENS"
		default:
			return "STOP"
		}
	default: // OPENAI family
		switch reason {
		case "end_turn", "STOP", "stop":
			return "stop"
		case "max_tokens", "MAX_TOKENS", "length":
			return "length"
		case "tool_use", "MAX_TOOL_CALLS":
			return "tool_calls"
		default:
			return reason
		}
	}
}

// flush emits the final rewritten finish chunk if the stream ended without
// one (empty-chunk filter upstream dropped it, or the provider never sent a
// distinct finish signal), and is always safe to call multiple times.
func flush(client Format, state *State) [][]byte {
	if state.flushed {
		return nil
	}
	state.flushed = true
	if state.FinishReason == "" {
		state.FinishReason = "stop"
	}
	usage := resolveUsage(state)
	return [][]byte{encodeClientChunk(client, "", "", state.FinishReason, &usage, state)}
}

// filterEmpty drops chunks with no textual delta, no tool-call delta, and no
// usage/finish signal (spec.md §4.2 empty-chunk filter runs inside
// translateChunkGeneric already; this guards direct registry callers too).
func filterEmpty(chunks [][]byte) [][]byte {
	out := make([][]byte, 0, len(chunks))
	for _, c := range chunks {
		if len(c) > 2 { // more than "{}"
			out = append(out, c)
		}
	}
	return out
}
