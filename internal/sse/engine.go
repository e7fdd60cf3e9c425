// Package sse implements the streaming transform (C2): a line-buffered SSE
// parser that either translates each event into the client's wire format or
// passes it through with normalisation, while accounting content/thinking
// length and usage and guaranteeing a single terminating "data: [DONE]".
package sse

import (
	"bytes"
	"strings"
	"time"

	"github.com/kwanLeeFrmVi/9router/internal/model"
	"github.com/kwanLeeFrmVi/9router/sdk/translator"
)

// Mode selects how the engine treats each parsed event.
type Mode int

const (
	// ModeTranslate is used when source format != target format.
	ModeTranslate Mode = iota
	// ModePassthrough is used when source format == target format; only
	// normalisation and vendor-extension stripping applies.
	ModePassthrough
)

// CompletionFunc is invoked once at stream end with final accounting.
type CompletionFunc func(content, thinking string, usage model.TokenUsage, ttft time.Time)

// Engine wraps a provider byte stream and produces client-ready SSE bytes.
type Engine struct {
	mode     Mode
	provider translator.Format
	client   translator.Format
	state    *translator.State

	carry      []byte
	ttftAt     time.Time
	onComplete CompletionFunc
}

// New constructs an Engine. reqBodyChars seeds usage estimation; reqModel is
// echoed into synthesised client chunks.
func New(provider, client translator.Format, reqModel string, reqBodyChars int, onComplete CompletionFunc) *Engine {
	mode := ModeTranslate
	if provider == client {
		mode = ModePassthrough
	}
	return &Engine{
		mode:       mode,
		provider:   provider,
		client:     client,
		state:      translator.NewState(provider, client, reqModel, reqBodyChars),
		onComplete: onComplete,
	}
}

// Feed consumes a raw chunk of upstream bytes and returns the client-ready
// SSE bytes to write immediately (may be empty). The trailing partial line is
// retained internally across calls.
func (e *Engine) Feed(chunk []byte) []byte {
	if e.ttftAt.IsZero() && len(chunk) > 0 {
		e.ttftAt = time.Now()
	}
	data := append(e.carry, chunk...)
	lines := bytes.Split(data, []byte("\n"))
	// The last element is a partial line (or empty, if chunk ended on \n);
	// keep it for the next Feed call.
	e.carry = append([]byte(nil), lines[len(lines)-1]...)
	lines = lines[:len(lines)-1]

	var out bytes.Buffer
	for _, line := range lines {
		e.processLine(&out, line)
	}
	return out.Bytes()
}

func (e *Engine) processLine(out *bytes.Buffer, rawLine []byte) {
	line := string(bytes.TrimRight(rawLine, "\r"))
	if line == "" {
		return
	}
	if !strings.HasPrefix(line, "data:") {
		return
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "[DONE]" {
		return // terminator is always (re)synthesised by Close
	}
	if payload == "" {
		return
	}

	if e.mode == ModePassthrough {
		normalised := normalisePassthrough(payload, e.state)
		writeDataLine(out, normalised)
		accountPassthrough(e.state, payload)
		return
	}

	chunks := translator.TranslateResponseChunk(e.provider, e.client, []byte(payload), e.state)
	for _, c := range chunks {
		writeDataLine(out, c)
	}
}

// Close flushes any finish-chunk rewrite and always appends the terminal
// "data: [DONE]" marker, even if upstream never sent one.
func (e *Engine) Close() []byte {
	var out bytes.Buffer
	if e.mode == ModeTranslate {
		for _, c := range translator.TranslateResponseChunk(e.provider, e.client, nil, e.state) {
			writeDataLine(&out, c)
		}
	}
	out.WriteString("data: [DONE]\n\n")
	if e.onComplete != nil {
		e.onComplete(e.state.Content, e.state.Thinking, resolvedUsage(e.state), e.ttftAt)
	}
	return out.Bytes()
}

func resolvedUsage(state *translator.State) model.TokenUsage {
	if state.UsageKnown {
		return state.Usage
	}
	completion := len(state.Content) / 4
	prompt := state.RequestBodyChars / 4
	return model.TokenUsage{PromptTokens: prompt + 8, CompletionTokens: completion + 8, TotalTokens: prompt + completion + 16, Estimated: true}
}

func writeDataLine(out *bytes.Buffer, payload []byte) {
	out.WriteString("data: ")
	out.Write(payload)
	out.WriteString("\n\n")
}
