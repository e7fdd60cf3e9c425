package translator

import (
	"github.com/kwanLeeFrmVi/9router/internal/model"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// fullDelta mirrors delta but reads a provider's complete (non-streamed)
// response shape rather than one SSE chunk.
type fullDelta struct {
	content  string
	thinking string
	finish   string
	usage    *model.TokenUsage
}

func decodeFullProviderResponse(provider Format, body []byte) fullDelta {
	root := gjson.ParseBytes(body)
	var d fullDelta
	switch provider {
	case OPENAI, OPENAIResponses:
		choice := root.Get("choices.0")
		d.content = choice.Get("message.content").String()
		if d.content == "" {
			d.content = root.Get("output_text").String()
		}
		d.thinking = choice.Get("message.reasoning_content").String()
		d.finish = choice.Get("finish_reason").String()
		if u := root.Get("usage"); u.Exists() {
			d.usage = &model.TokenUsage{
				PromptTokens:     int(u.Get("prompt_tokens").Int()),
				CompletionTokens: int(u.Get("completion_tokens").Int()),
				TotalTokens:      int(u.Get("total_tokens").Int()),
			}
		}
	case CLAUDE:
		root.Get("content").ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "text":
				d.content += block.Get("text").String()
			case "thinking":
				d.thinking += block.Get("thinking").String()
			}
			return true
		})
		d.finish = root.Get("stop_reason").String()
		if u := root.Get("usage"); u.Exists() {
			d.usage = &model.TokenUsage{
				PromptTokens:     int(u.Get("input_tokens").Int()),
				CompletionTokens: int(u.Get("output_tokens").Int()),
			}
			d.usage.TotalTokens = d.usage.PromptTokens + d.usage.CompletionTokens
		}
	case GEMINI:
		root.Get("candidates.0.content.parts").ForEach(func(_, p gjson.Result) bool {
			if p.Get("thought").Bool() {
				d.thinking += p.Get("text").String()
			} else {
				d.content += p.Get("text").String()
			}
			return true
		})
		d.finish = root.Get("candidates.0.finishReason").String()
		if u := root.Get("usageMetadata"); u.Exists() {
			d.usage = &model.TokenUsage{
				PromptTokens:     int(u.Get("promptTokenCount").Int()),
				CompletionTokens: int(u.Get("candidatesTokenCount").Int()),
				TotalTokens:      int(u.Get("totalTokenCount").Int()),
			}
		}
	case OLLAMA:
		d.content = root.Get("message.content").String()
		d.finish = "stop"
		d.usage = &model.TokenUsage{
			PromptTokens:     int(root.Get("prompt_eval_count").Int()),
			CompletionTokens: int(root.Get("eval_count").Int()),
		}
		d.usage.TotalTokens = d.usage.PromptTokens + d.usage.CompletionTokens
	}
	return d
}

func encodeFullClientResponse(client Format, reqModel string, d fullDelta, reqBodyChars int) []byte {
	usage := d.usage
	if usage == nil {
		est := model.TokenUsage{
			PromptTokens:     reqBodyChars/charsPerToken + estimateBuffer,
			CompletionTokens: len(d.content)/charsPerToken + estimateBuffer,
			Estimated:        true,
		}
		est.TotalTokens = est.PromptTokens + est.CompletionTokens
		usage = &est
	}
	finish := d.finish
	if finish == "" {
		finish = "stop"
	}

	body := []byte(`{}`)
	switch client {
	case CLAUDE:
		body, _ = sjson.SetBytes(body, "type", "message")
		body, _ = sjson.SetBytes(body, "role", "assistant")
		body, _ = sjson.SetBytes(body, "model", reqModel)
		if d.content != "" {
			body, _ = sjson.SetBytes(body, "content.0.type", "text")
			body, _ = sjson.SetBytes(body, "content.0.text", d.content)
		}
		body, _ = sjson.SetBytes(body, "stop_reason", mapFinishReason(CLAUDE, finish))
		p, c, _, _ := filterUsageForFormat(CLAUDE, *usage)
		body, _ = sjson.SetBytes(body, "usage.input_tokens", p)
		body, _ = sjson.SetBytes(body, "usage.output_tokens", c)
	case GEMINI:
		if d.content != "" {
			body, _ = sjson.SetBytes(body, "candidates.0.content.parts.0.text", d.content)
		}
		body, _ = sjson.SetBytes(body, "candidates.0.finishReason", mapFinishReason(GEMINI, finish))
		p, c, t, _ := filterUsageForFormat(GEMINI, *usage)
		body, _ = sjson.SetBytes(body, "usageMetadata.promptTokenCount", p)
		body, _ = sjson.SetBytes(body, "usageMetadata.candidatesTokenCount", c)
		body, _ = sjson.SetBytes(body, "usageMetadata.totalTokenCount", t)
	case OLLAMA:
		body, _ = sjson.SetBytes(body, "model", reqModel)
		body, _ = sjson.SetBytes(body, "message.role", "assistant")
		body, _ = sjson.SetBytes(body, "message.content", d.content)
		body, _ = sjson.SetBytes(body, "done", true)
		p, c, _, _ := filterUsageForFormat(OLLAMA, *usage)
		body, _ = sjson.SetBytes(body, "prompt_eval_count", p)
		body, _ = sjson.SetBytes(body, "eval_count", c)
	case OPENAIResponses:
		body, _ = sjson.SetBytes(body, "model", reqModel)
		body, _ = sjson.SetBytes(body, "output_text", d.content)
		p, c, t, _ := filterUsageForFormat(OPENAIResponses, *usage)
		body, _ = sjson.SetBytes(body, "usage.input_tokens", p)
		body, _ = sjson.SetBytes(body, "usage.output_tokens", c)
		body, _ = sjson.SetBytes(body, "usage.total_tokens", t)
	default: // OPENAI
		body, _ = sjson.SetBytes(body, "object", "chat.completion")
		body, _ = sjson.SetBytes(body, "model", reqModel)
		body, _ = sjson.SetBytes(body, "choices.0.index", 0)
		body, _ = sjson.SetBytes(body, "choices.0.message.role", "assistant")
		body, _ = sjson.SetBytes(body, "choices.0.message.content", d.content)
		body, _ = sjson.SetBytes(body, "choices.0.finish_reason", mapFinishReason(OPENAI, finish))
		p, c, t, _ := filterUsageForFormat(OPENAI, *usage)
		body, _ = sjson.SetBytes(body, "usage.prompt_tokens", p)
		body, _ = sjson.SetBytes(body, "usage.completion_tokens", c)
		body, _ = sjson.SetBytes(body, "usage.total_tokens", t)
	}
	return body
}

// TranslateFullResponse converts one complete (non-streamed) provider
// response into the client's full-response shape, per spec.md §4.6's
// "non-streaming requests" handling.
func TranslateFullResponse(providerFormat, clientFormat Format, body []byte, reqModel string, reqBodyChars int) []byte {
	d := decodeFullProviderResponse(providerFormat, body)
	return encodeFullClientResponse(clientFormat, reqModel, d, reqBodyChars)
}
