package sse

import (
	"strings"
	"time"

	"github.com/kwanLeeFrmVi/9router/sdk/translator"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// vendorExtensionPaths are fields some "OpenAI-compatible" vendors attach
// that the client's own SDK chokes on; passthrough mode strips them.
var vendorExtensionPaths = []string{"prompt_filter_results"}

// normalisePassthrough repairs common passthrough quirks: missing
// object/created fields on streaming chunks, invalid/absent ids, and
// per-choice content_filter_results noise.
func normalisePassthrough(payload string, state *translator.State) []byte {
	body := []byte(payload)

	for _, path := range vendorExtensionPaths {
		if gjson.GetBytes(body, path).Exists() {
			body, _ = sjson.DeleteBytes(body, path)
		}
	}
	choices := gjson.GetBytes(body, "choices")
	if choices.IsArray() {
		for i := range choices.Array() {
			path := "choices." + itoa(i) + ".content_filter_results"
			if gjson.GetBytes(body, path).Exists() {
				body, _ = sjson.DeleteBytes(body, path)
			}
		}
	}

	if !gjson.GetBytes(body, "object").Exists() {
		body, _ = sjson.SetBytes(body, "object", "chat.completion.chunk")
	}
	if !gjson.GetBytes(body, "created").Exists() {
		body, _ = sjson.SetBytes(body, "created", time.Now().Unix())
	}
	id := gjson.GetBytes(body, "id").String()
	if id == "" || strings.TrimSpace(id) == "" {
		body, _ = sjson.SetBytes(body, "id", "chatcmpl-"+randomSuffix())
	}
	return body
}

// accountPassthrough still extracts content/thinking/usage for observability
// even though the bytes themselves are forwarded unchanged.
func accountPassthrough(state *translator.State, payload string) {
	root := gjson.Parse(payload)
	choice := root.Get("choices.0")
	state.Content += choice.Get("delta.content").String()
	state.Thinking += choice.Get("delta.reasoning_content").String()
	if fr := choice.Get("finish_reason"); fr.Exists() && fr.String() != "" {
		state.FinishReason = fr.String()
	}
	if u := root.Get("usage"); u.Exists() {
		state.Usage.PromptTokens = int(u.Get("prompt_tokens").Int())
		state.Usage.CompletionTokens = int(u.Get("completion_tokens").Int())
		state.Usage.TotalTokens = int(u.Get("total_tokens").Int())
		state.UsageKnown = true
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

var suffixCounter uint64

// randomSuffix synthesises a stable-enough id suffix without pulling in a
// dedicated random source on the hot path; uniqueness within one process run
// is all repaired ids need.
func randomSuffix() string {
	suffixCounter++
	return "repair" + itoa(int(suffixCounter))
}
