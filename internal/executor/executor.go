// Package executor builds provider HTTP requests, issues them, and applies
// the Retry-After/auto-retry policy described in spec.md §4.5. One Executor
// instance is shared across requests; it carries no per-request state.
package executor

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/kwanLeeFrmVi/9router/internal/model"
	"github.com/kwanLeeFrmVi/9router/internal/registry"
	"github.com/kwanLeeFrmVi/9router/sdk/translator"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Request is what the pipeline hands an executor for one dispatch attempt.
type Request struct {
	Provider   registry.Provider
	Connection *model.ProviderConnection
	Model      string
	Source     translator.Format
	Stream     bool
	Body       []byte // original client body, pre-translation
}

// Result is the raw upstream outcome; the pipeline classifies it via
// sdk/auth.ShouldFallback before deciding whether to surface or hop.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser // decompressed; caller must Close
	URL        string
}

// Executor builds, issues and retries a single provider's HTTP calls.
type Executor struct {
	client *http.Client
}

// New constructs an Executor sharing one HTTP client across dispatches.
func New(client *http.Client) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{client: client}
}

// Execute builds the upstream request, translating the body to the
// provider's native format, and issues it with Retry-After/auto-retry
// handling. It returns the first response the caller should act on: either
// a successful one, or the final exhausted failure for the pipeline to
// classify via auth.ShouldFallback.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	target := providerWireFormat(req.Provider.ID)
	body := translator.TranslateRequest(req.Source, target, req.Model, req.Body, req.Stream)
	body, _ = sjson.SetBytes(body, "model", req.Model)
	body = applyProviderExtras(req.Provider.ID, body)

	urls := fallbackURLs(req.Provider, req.Connection, req.Stream)
	autoRetries := 0
	var lastResult *Result
	var lastErr error

	for i := 0; i < len(urls); i++ {
		url := urls[i]
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		applyHeaders(httpReq, req.Provider, req.Connection, req.Stream)

		httpResp, err := e.client.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}

		if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode == http.StatusServiceUnavailable {
			wait, ok := retryAfter(httpResp.Header)
			if ok && wait <= 5*time.Second {
				drainClose(httpResp.Body)
				sleep(ctx, wait)
				i--
				continue
			}
			if !ok && httpResp.StatusCode == http.StatusTooManyRequests && autoRetries < 2 {
				autoRetries++
				drainClose(httpResp.Body)
				sleep(ctx, time.Second)
				i--
				continue
			}
			// no usable wait and retries exhausted (or a long wait): fall
			// through to the next fallback URL with this as the running result.
			lastResult, lastErr = toResult(httpResp, url)
			continue
		}

		return toResult(httpResp, url)
	}

	if lastResult != nil {
		return lastResult, nil
	}
	return nil, lastErr
}

func toResult(resp *http.Response, url string) (*Result, error) {
	decoded, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		drainClose(resp.Body)
		return nil, err
	}
	return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: decoded, URL: url}, nil
}

func drainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// retryAfter parses Retry-After (seconds or HTTP-date), falling back to
// X-RateLimit-Reset-After (seconds) and X-RateLimit-Reset (epoch seconds).
func retryAfter(h http.Header) (time.Duration, bool) {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second, true
		}
		if when, err := http.ParseTime(v); err == nil {
			return time.Until(when), true
		}
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset-After")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), true
		}
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Until(time.Unix(epoch, 0)), true
		}
	}
	return 0, false
}

// fallbackURLs returns the ordered list of candidate base URLs for one
// dispatch: the connection's override (if any) first, then the provider's
// declared base host.
func fallbackURLs(p registry.Provider, conn *model.ProviderConnection, stream bool) []string {
	base := providerBaseURL(p.ID)
	if conn != nil {
		base = conn.BaseURL(base)
	}
	path := providerPath(p.ID, stream)
	return []string{strings.TrimRight(base, "/") + path}
}

// providerWireFormat maps a canonical provider id to the wire dialect its
// API speaks, the target of the request-direction translator.
func providerWireFormat(id string) translator.Format {
	switch id {
	case "anthropic", "claude":
		return translator.CLAUDE
	case "gemini", "gemini-cli":
		return translator.GEMINI
	case "antigravity":
		return translator.ANTIGRAVITY
	case "ollama":
		return translator.OLLAMA
	default:
		return translator.OPENAI
	}
}

func providerBaseURL(id string) string {
	switch id {
	case "anthropic", "claude":
		return "https://api.anthropic.com"
	case "gemini", "gemini-cli":
		return "https://generativelanguage.googleapis.com"
	case "antigravity":
		return "https://daily-cloudcode-pa.sandbox.googleapis.com"
	case "openai":
		return "https://api.openai.com"
	default:
		if p, ok := registry.Lookup(id); ok {
			return strings.TrimSuffix(strings.TrimSuffix(p.ModelsURL, "/models"), "/v1")
		}
		return ""
	}
}

func providerPath(id string, stream bool) string {
	switch id {
	case "anthropic", "claude":
		return "/v1/messages"
	case "gemini", "gemini-cli":
		if stream {
			return "/v1beta/models:streamGenerateContent"
		}
		return "/v1beta/models:generateContent"
	case "antigravity":
		return "/v1internal:generateContent"
	case "ollama":
		return "/api/chat"
	default:
		return "/v1/chat/completions"
	}
}

func applyHeaders(r *http.Request, p registry.Provider, conn *model.ProviderConnection, stream bool) {
	r.Header.Set("Content-Type", "application/json")
	if stream {
		r.Header.Set("Accept", "text/event-stream")
	} else {
		r.Header.Set("Accept", "application/json")
	}
	r.Header.Set("User-Agent", "9router/1.0")

	key := credential(conn)
	switch p.AuthScheme {
	case registry.AuthBearer:
		r.Header.Set("Authorization", "Bearer "+key)
	case registry.AuthAPIKeyHeader:
		r.Header.Set("x-api-key", key)
		r.Header.Set("Anthropic-Version", "2023-06-01")
	case registry.AuthQueryKey:
		q := r.URL.Query()
		q.Set("key", key)
		r.URL.RawQuery = q.Encode()
	}
}

func credential(conn *model.ProviderConnection) string {
	if conn == nil {
		return ""
	}
	if conn.AccessToken != "" {
		return conn.AccessToken
	}
	return conn.APIKey
}

// applyProviderExtras performs provider-specific post-processing of the
// translated body, e.g. antigravity's required envelope fields.
func applyProviderExtras(providerID string, body []byte) []byte {
	if providerID != "antigravity" {
		return body
	}
	if !gjson.GetBytes(body, "projectId").Exists() {
		body, _ = sjson.SetBytes(body, "projectId", "default")
	}
	if !gjson.GetBytes(body, "sessionId").Exists() {
		body, _ = sjson.SetBytes(body, "sessionId", "9router-session")
	}
	if !gjson.GetBytes(body, "requestId").Exists() {
		body, _ = sjson.SetBytes(body, "requestId", "9router-req")
	}
	if !gjson.GetBytes(body, "toolConfig").Exists() {
		body, _ = sjson.SetRawBytes(body, "toolConfig", []byte(`{"functionCallingConfig":{"mode":"AUTO"}}`))
	}
	return body
}

type compositeReadCloser struct {
	io.Reader
	closers []func() error
}

func (c *compositeReadCloser) Close() error {
	var firstErr error
	for _, closeFn := range c.closers {
		if closeFn == nil {
			continue
		}
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// decodeBody wraps body in a decompressing reader per Content-Encoding.
func decodeBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			_ = body.Close()
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return &compositeReadCloser{Reader: r, closers: []func() error{r.Close, body.Close}}, nil
	case "deflate":
		r := flate.NewReader(body)
		return &compositeReadCloser{Reader: r, closers: []func() error{r.Close, body.Close}}, nil
	case "br":
		return &compositeReadCloser{Reader: brotli.NewReader(body), closers: []func() error{body.Close}}, nil
	case "zstd":
		dec, err := zstd.NewReader(body)
		if err != nil {
			_ = body.Close()
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return &compositeReadCloser{Reader: dec, closers: []func() error{func() error { dec.Close(); return nil }, body.Close}}, nil
	default:
		return body, nil
	}
}
