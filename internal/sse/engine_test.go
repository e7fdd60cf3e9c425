package sse

import (
	"strings"
	"testing"
	"time"

	"github.com/kwanLeeFrmVi/9router/internal/model"
	"github.com/kwanLeeFrmVi/9router/sdk/translator"
	"github.com/tidwall/gjson"
)

func TestEngineCloseAlwaysAppendsDoneTerminator(t *testing.T) {
	e := New(translator.OPENAI, translator.OPENAI, "gpt-4o", 10, nil)
	e.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n"))
	out := e.Close()
	if !strings.Contains(string(out), "data: [DONE]\n\n") {
		t.Fatalf("Close() output %q does not contain the DONE terminator", out)
	}
}

func TestEngineCloseTerminatesEvenWithoutUpstreamDone(t *testing.T) {
	e := New(translator.CLAUDE, translator.CLAUDE, "claude-3-opus", 10, nil)
	e.Feed([]byte("data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n"))
	// No explicit upstream "data: [DONE]" sent before Close.
	out := e.Close()
	if strings.Count(string(out), "[DONE]") != 1 {
		t.Fatalf("expected exactly one DONE terminator, got %q", out)
	}
}

func TestEnginePassthroughModeSelectedWhenFormatsMatch(t *testing.T) {
	e := New(translator.OPENAI, translator.OPENAI, "gpt-4o", 0, nil)
	if e.mode != ModePassthrough {
		t.Fatalf("mode = %v, want ModePassthrough when provider == client", e.mode)
	}
}

func TestEngineTranslateModeSelectedWhenFormatsDiffer(t *testing.T) {
	e := New(translator.OPENAI, translator.CLAUDE, "claude-3-opus", 0, nil)
	if e.mode != ModeTranslate {
		t.Fatalf("mode = %v, want ModeTranslate when provider != client", e.mode)
	}
}

func TestEngineFeedCarriesPartialLineAcrossCalls(t *testing.T) {
	e := New(translator.OPENAI, translator.CLAUDE, "claude-3-opus", 0, nil)
	full := `data: {"choices":[{"delta":{"content":"hello"}}]}` + "\n\n"
	split := len(full) / 2

	first := e.Feed([]byte(full[:split]))
	if len(first) != 0 {
		t.Fatalf("first Feed() with a partial line produced output: %q", first)
	}
	second := e.Feed([]byte(full[split:]))
	payload := strings.TrimSuffix(strings.TrimPrefix(string(second), "data: "), "\n\n")
	if got := gjson.Get(payload, "delta.text").String(); got != "hello" {
		t.Fatalf("second Feed() delta.text = %q, want hello (payload: %q)", got, payload)
	}
}

func TestEnginePassthroughStripsVendorExtensionFields(t *testing.T) {
	e := New(translator.OPENAI, translator.OPENAI, "gpt-4o", 0, nil)
	out := e.Feed([]byte(`data: {"choices":[{"delta":{"content":"hi"}}],"prompt_filter_results":[{"foo":1}]}` + "\n\n"))
	payload := strings.TrimSuffix(strings.TrimPrefix(string(out), "data: "), "\n\n")
	if gjson.Get(payload, "prompt_filter_results").Exists() {
		t.Fatalf("expected prompt_filter_results to be stripped, got %q", payload)
	}
}

func TestEngineOnCompleteReceivesAccumulatedContent(t *testing.T) {
	var gotContent string
	var called bool
	e := New(translator.OPENAI, translator.OPENAI, "gpt-4o", 0, func(content, thinking string, usage model.TokenUsage, ttft time.Time) {
		called = true
		gotContent = content
	})
	e.Feed([]byte(`data: {"choices":[{"delta":{"content":"hello"}}]}` + "\n\n"))
	e.Close()

	if !called {
		t.Fatalf("onComplete was never invoked")
	}
	if gotContent != "hello" {
		t.Fatalf("onComplete content = %q, want hello", gotContent)
	}
}

func TestEngineOnCompleteReceivesTTFTFromFirstFeed(t *testing.T) {
	var gotTTFT time.Time
	e := New(translator.OPENAI, translator.OPENAI, "gpt-4o", 0, func(content, thinking string, usage model.TokenUsage, ttft time.Time) {
		gotTTFT = ttft
	})
	before := time.Now()
	e.Feed([]byte(`data: {"choices":[{"delta":{"content":"hi"}}]}` + "\n\n"))
	e.Feed([]byte(`data: {"choices":[{"delta":{"content":"!"}}]}` + "\n\n"))
	e.Close()

	if gotTTFT.IsZero() {
		t.Fatalf("onComplete ttft = zero value, want the time of the first Feed() call")
	}
	if gotTTFT.Before(before) {
		t.Fatalf("onComplete ttft = %v, want a time at/after %v", gotTTFT, before)
	}
}

func TestEngineOnCompleteReceivesZeroTTFTWhenNoDataFed(t *testing.T) {
	var gotTTFT time.Time
	e := New(translator.OPENAI, translator.OPENAI, "gpt-4o", 0, func(content, thinking string, usage model.TokenUsage, ttft time.Time) {
		gotTTFT = ttft
	})
	e.Close()

	if !gotTTFT.IsZero() {
		t.Fatalf("onComplete ttft = %v, want zero value when Feed() was never called with bytes", gotTTFT)
	}
}
