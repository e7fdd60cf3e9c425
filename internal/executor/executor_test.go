package executor

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/kwanLeeFrmVi/9router/internal/model"
	"github.com/kwanLeeFrmVi/9router/internal/registry"
	"github.com/kwanLeeFrmVi/9router/sdk/translator"
)

func TestRetryAfterParsesSeconds(t *testing.T) {
	h := http.Header{"Retry-After": []string{"3"}}
	d, ok := retryAfter(h)
	if !ok || d != 3*time.Second {
		t.Fatalf("retryAfter() = %v, %v; want 3s, true", d, ok)
	}
}

func TestRetryAfterParsesHTTPDate(t *testing.T) {
	when := time.Now().Add(10 * time.Second).UTC()
	h := http.Header{"Retry-After": []string{when.Format(http.TimeFormat)}}
	d, ok := retryAfter(h)
	if !ok {
		t.Fatalf("retryAfter() ok = false, want true")
	}
	if d < 8*time.Second || d > 11*time.Second {
		t.Fatalf("retryAfter() = %v, want ~10s", d)
	}
}

func TestRetryAfterFallsBackToRateLimitResetAfter(t *testing.T) {
	h := http.Header{"X-Ratelimit-Reset-After": []string{"2.5"}}
	d, ok := retryAfter(h)
	if !ok || d != 2500*time.Millisecond {
		t.Fatalf("retryAfter() = %v, %v; want 2.5s, true", d, ok)
	}
}

func TestRetryAfterFallsBackToRateLimitResetEpoch(t *testing.T) {
	epoch := time.Now().Add(5 * time.Second).Unix()
	h := http.Header{"X-Ratelimit-Reset": []string{strconv.FormatInt(epoch, 10)}}
	d, ok := retryAfter(h)
	if !ok {
		t.Fatalf("retryAfter() ok = false, want true")
	}
	if d < 3*time.Second || d > 6*time.Second {
		t.Fatalf("retryAfter() = %v, want ~5s", d)
	}
}

func TestRetryAfterNoHeaderReturnsFalse(t *testing.T) {
	if _, ok := retryAfter(http.Header{}); ok {
		t.Fatalf("retryAfter() ok = true with no relevant headers")
	}
}

func TestProviderWireFormatMapping(t *testing.T) {
	cases := map[string]translator.Format{
		"anthropic":   translator.CLAUDE,
		"claude":      translator.CLAUDE,
		"gemini":      translator.GEMINI,
		"gemini-cli":  translator.GEMINI,
		"antigravity": translator.ANTIGRAVITY,
		"ollama":      translator.OLLAMA,
		"openai":      translator.OPENAI,
		"unknown-xyz": translator.OPENAI,
	}
	for id, want := range cases {
		if got := providerWireFormat(id); got != want {
			t.Errorf("providerWireFormat(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestProviderPathStreamingVariant(t *testing.T) {
	if got := providerPath("gemini", true); got != "/v1beta/models:streamGenerateContent" {
		t.Fatalf("streaming path = %q", got)
	}
	if got := providerPath("gemini", false); got != "/v1beta/models:generateContent" {
		t.Fatalf("non-streaming path = %q", got)
	}
}

func TestApplyHeadersBearerVsAPIKeyScheme(t *testing.T) {
	conn := &model.ProviderConnection{APIKey: "secret-key"}

	bearerReq, _ := http.NewRequest(http.MethodPost, "http://example.com", nil)
	applyHeaders(bearerReq, registry.Provider{AuthScheme: registry.AuthBearer}, conn, false)
	if got := bearerReq.Header.Get("Authorization"); got != "Bearer secret-key" {
		t.Fatalf("Authorization = %q, want Bearer secret-key", got)
	}

	apiKeyReq, _ := http.NewRequest(http.MethodPost, "http://example.com", nil)
	applyHeaders(apiKeyReq, registry.Provider{AuthScheme: registry.AuthAPIKeyHeader}, conn, false)
	if got := apiKeyReq.Header.Get("x-api-key"); got != "secret-key" {
		t.Fatalf("x-api-key = %q, want secret-key", got)
	}
	if got := apiKeyReq.Header.Get("Anthropic-Version"); got == "" {
		t.Fatalf("expected Anthropic-Version header to be set alongside x-api-key")
	}
}

func TestApplyProviderExtrasOnlyTouchesAntigravity(t *testing.T) {
	body := []byte(`{"contents":[]}`)
	out := applyProviderExtras("openai", body)
	if string(out) != string(body) {
		t.Fatalf("applyProviderExtras modified a non-antigravity body: %s", out)
	}

	agOut := applyProviderExtras("antigravity", body)
	for _, field := range []string{"projectId", "sessionId", "requestId", "toolConfig"} {
		if !bytes.Contains(agOut, []byte(field)) {
			t.Errorf("expected antigravity envelope to contain %q, got %s", field, agOut)
		}
	}
}

func TestDecodeBodyGzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, _ = gw.Write([]byte(`{"ok":true}`))
	_ = gw.Close()

	decoded, err := decodeBody(io.NopCloser(&buf), "gzip")
	if err != nil {
		t.Fatalf("decodeBody() error = %v", err)
	}
	defer decoded.Close()
	got, err := io.ReadAll(decoded)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != `{"ok":true}` {
		t.Fatalf("decoded body = %q", got)
	}
}

func TestDecodeBodyIdentityPassesThrough(t *testing.T) {
	raw := io.NopCloser(bytes.NewBufferString(`{"ok":true}`))
	decoded, err := decodeBody(raw, "")
	if err != nil {
		t.Fatalf("decodeBody() error = %v", err)
	}
	got, _ := io.ReadAll(decoded)
	if string(got) != `{"ok":true}` {
		t.Fatalf("decoded body = %q", got)
	}
}

func TestExecuteBareTooManyRequestsAutoRetriesTwiceThenReturnsResult(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	registry.Register(registry.Provider{ID: "test-executor-429", ModelsURL: srv.URL + "/v1/models", AuthScheme: registry.AuthBearer})
	exec := New(srv.Client())
	conn := &model.ProviderConnection{APIKey: "k"}
	req := Request{
		Provider:   registry.Provider{ID: "test-executor-429", AuthScheme: registry.AuthBearer},
		Connection: conn,
		Model:      "gpt-4o",
		Source:     translator.OPENAI,
		Body:       []byte(`{"messages":[]}`),
	}

	result, err := exec.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("StatusCode = %d, want 429 (exhausted auto-retry surfaces the last response)", result.StatusCode)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 (1 initial + 2 bounded auto-retries)", calls)
	}
}

func TestExecuteSuccessReturnsDecodedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer srv.Close()

	registry.Register(registry.Provider{ID: "test-executor-ok", ModelsURL: srv.URL + "/v1/models", AuthScheme: registry.AuthBearer})
	exec := New(srv.Client())
	conn := &model.ProviderConnection{APIKey: "k"}
	req := Request{
		Provider:   registry.Provider{ID: "test-executor-ok", AuthScheme: registry.AuthBearer},
		Connection: conn,
		Model:      "gpt-4o",
		Source:     translator.OPENAI,
		Body:       []byte(`{"messages":[]}`),
	}

	result, err := exec.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	defer result.Body.Close()
	if result.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want 200", result.StatusCode)
	}
	body, _ := io.ReadAll(result.Body)
	if !bytes.Contains(body, []byte("hi")) {
		t.Fatalf("body = %s, want to contain hi", body)
	}
}
