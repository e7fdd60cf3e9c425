// Package pipeline implements the end-to-end request orchestration (C6):
// model resolution, combo fan-out, credential selection, token refresh,
// dispatch via the provider executor, and fallback classification.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kwanLeeFrmVi/9router/internal/executor"
	"github.com/kwanLeeFrmVi/9router/internal/model"
	"github.com/kwanLeeFrmVi/9router/internal/registry"
	"github.com/kwanLeeFrmVi/9router/internal/routeerr"
	"github.com/kwanLeeFrmVi/9router/internal/store"
	"github.com/kwanLeeFrmVi/9router/sdk/auth"
	"github.com/kwanLeeFrmVi/9router/sdk/translator"
	log "github.com/sirupsen/logrus"
)

// Outcome is the upstream result the router writes back to the client.
type Outcome struct {
	StatusCode  int
	Header      http.Header
	Body        []byte // non-streaming: the full translated JSON body
	UpstreamRaw io.ReadCloser // streaming: the decompressed upstream body for the router to pump through sse.Engine
	Stream      bool
	Provider    registry.Provider
	Connection  *model.ProviderConnection
	SourceFmt   translator.Format
	ClientFmt   translator.Format
	Model       string
	ReqChars    int
}

// Pipeline wires the credential pool, executor and model store together for
// one machine's request traffic.
type Pipeline struct {
	pool       *auth.Pool
	store      store.MachineStore
	exec       *executor.Executor
	httpClient *http.Client
}

// New constructs a Pipeline.
func New(pool *auth.Pool, st store.MachineStore, exec *executor.Executor, httpClient *http.Client) *Pipeline {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Pipeline{pool: pool, store: st, exec: exec, httpClient: httpClient}
}

type modelCandidate struct {
	providerAlias string
	modelID       string
}

// Dispatch resolves reqModel (alias, combo, or "{provider}/{model}"),
// iterating combo members in order on failure, and drives one member's
// selection/refresh/dispatch/fallback loop to completion.
func (p *Pipeline) Dispatch(ctx context.Context, machineID string, source, client translator.Format, reqModel string, body []byte, stream bool) (*Outcome, error) {
	data, err := p.store.Load(ctx, machineID)
	if err != nil {
		return nil, err
	}

	candidates, err := resolveCandidates(data, reqModel)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, cand := range candidates {
		out, err := p.dispatchOne(ctx, machineID, source, client, cand.providerAlias, cand.modelID, body, stream)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// resolveCandidates implements spec.md §4.6 steps 3-4: alias lookup, split
// on first '/', and combo expansion into its ordered member list.
func resolveCandidates(data *model.MachineData, reqModel string) ([]modelCandidate, error) {
	if combo, ok := data.FindCombo(reqModel); ok {
		out := make([]modelCandidate, 0, len(combo.Models))
		for _, m := range combo.Models {
			alias, id, ok := splitModel(data, m)
			if ok {
				out = append(out, modelCandidate{alias, id})
			}
		}
		if len(out) == 0 {
			return nil, routeerr.New("unknown_model", fmt.Sprintf("combo %q has no resolvable members", reqModel), http.StatusBadRequest)
		}
		return out, nil
	}
	alias, id, ok := splitModel(data, reqModel)
	if !ok {
		return nil, routeerr.New("unknown_model", fmt.Sprintf("model %q not found", reqModel), http.StatusBadRequest)
	}
	return []modelCandidate{{alias, id}}, nil
}

func splitModel(data *model.MachineData, reqModel string) (alias, modelID string, ok bool) {
	resolved := reqModel
	if canonical, found := data.ModelAliases[reqModel]; found {
		resolved = canonical
	}
	idx := strings.Index(resolved, "/")
	if idx <= 0 {
		return "", "", false
	}
	return resolved[:idx], resolved[idx+1:], true
}

// dispatchOne runs steps 5-10 for one resolved (provider, model) pair,
// hopping to the next eligible credential on a retryable failure.
func (p *Pipeline) dispatchOne(ctx context.Context, machineID string, source, client translator.Format, providerAlias, modelID string, body []byte, stream bool) (*Outcome, error) {
	prov, ok := registry.Lookup(providerAlias)
	if !ok {
		return nil, routeerr.New("unknown_model", fmt.Sprintf("unknown provider %q", providerAlias), http.StatusBadRequest)
	}

	excludeID := ""
	const maxAttempts = 8
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		conn, err := p.pool.SelectCredential(ctx, machineID, prov.ID, modelID, excludeID)
		if err != nil {
			return nil, err
		}

		if err := p.pool.RefreshIfNeeded(ctx, p.httpClient, machineID, conn.ID); err != nil {
			log.WithError(err).Warn("pipeline: token refresh check failed")
		} else if fresh, ok := p.reloadConnection(ctx, machineID, conn.ID); ok {
			conn = fresh
		}

		result, dispatchErr := p.exec.Execute(ctx, executor.Request{
			Provider:   prov,
			Connection: conn,
			Model:      modelID,
			Source:     source,
			Stream:     stream,
			Body:       body,
		})
		if dispatchErr != nil {
			_ = p.pool.MarkFailed(ctx, machineID, conn.ID, prov.ID, modelID, 0, dispatchErr.Error())
			excludeID = conn.ID
			lastErr = dispatchErr
			continue
		}

		if result.StatusCode >= 200 && result.StatusCode < 300 {
			_ = p.pool.MarkSuccess(ctx, machineID, conn.ID)
			return &Outcome{
				StatusCode: result.StatusCode, Header: result.Header,
				UpstreamRaw: result.Body, Stream: stream,
				Provider: prov, Connection: conn,
				SourceFmt: source, ClientFmt: client, Model: modelID,
				ReqChars: len(body),
			}, nil
		}

		errBody, _ := io.ReadAll(result.Body)
		_ = result.Body.Close()
		errText := string(errBody)

		if auth.ShouldFallback(result.StatusCode, errText) {
			_ = p.pool.MarkFailed(ctx, machineID, conn.ID, prov.ID, modelID, result.StatusCode, errText)
			excludeID = conn.ID
			lastErr = routeerr.New("upstream_error", errText, result.StatusCode)
			continue
		}

		return &Outcome{StatusCode: result.StatusCode, Header: result.Header, Body: errBody}, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, routeerr.NoCredentials
}

// reloadConnection re-reads one connection after a possible token refresh so
// the executor sees the fresh access token.
func (p *Pipeline) reloadConnection(ctx context.Context, machineID, connID string) (*model.ProviderConnection, bool) {
	data, err := p.store.Load(ctx, machineID)
	if err != nil {
		return nil, false
	}
	conn, ok := data.Providers[connID]
	if !ok || conn == nil {
		return nil, false
	}
	clone := *conn
	return &clone, true
}

// ResponseWireFormat returns the dialect a provider's raw HTTP responses are
// shaped in, which for antigravity differs from the dialect its requests are
// built in (spec.md §4.5's provider-native request post-processing has no
// response-direction analogue; antigravity's replies are Gemini-shaped).
func ResponseWireFormat(providerID string) translator.Format {
	switch providerID {
	case "anthropic", "claude":
		return translator.CLAUDE
	case "gemini", "gemini-cli", "antigravity":
		return translator.GEMINI
	case "ollama":
		return translator.OLLAMA
	default:
		return translator.OPENAI
	}
}
