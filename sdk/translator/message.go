package translator

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// chatMessage is an internal reading convenience, not part of the public
// registry contract: gjson-based extraction of "role, text, tool calls" is
// identical across OPENAI/CLAUDE/GEMINI/OLLAMA sources, so parseMessages
// avoids writing the same field-walk five times. Writers below still build
// each target's native shape directly with sjson, per source/target pair.
type chatMessage struct {
	Role      string // "system" | "user" | "assistant" | "tool"
	Text      string
	Thinking  string
	ToolCalls []toolCall
	ToolCallID string // for role=="tool" results
	Images    []string
}

type toolCall struct {
	ID        string
	Name      string
	Arguments string
}

// parseMessages reads the common "messages" array shape (OpenAI/Claude) or
// Ollama's, normalising each provider's message/content quirks.
func parseMessagesGeneric(body []byte, arrayPath string) []chatMessage {
	var out []chatMessage
	gjson.GetBytes(body, arrayPath).ForEach(func(_, msg gjson.Result) bool {
		out = append(out, chatMessage{
			Role: msg.Get("role").String(),
			Text: extractText(msg),
		})
		return true
	})
	return out
}

// extractText pulls plain text out of either a string "content" field or an
// OpenAI/Claude-style content-block array, concatenating text parts.
func extractText(msg gjson.Result) string {
	content := msg.Get("content")
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var sb strings.Builder
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" || !block.Get("text").Exists() && block.Type == gjson.String {
				sb.WriteString(block.Get("text").String())
			} else if block.Type == gjson.String {
				sb.WriteString(block.String())
			}
			return true
		})
		return sb.String()
	}
	return ""
}

// decodeToolArguments JSON-decodes a tool call's argument string when the
// source carries it as text, returning the raw value otherwise.
func decodeToolArguments(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
