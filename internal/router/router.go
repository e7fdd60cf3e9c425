// Package router implements the HTTP surface (C7): route dispatch for both
// the bare and "/{machineId}/..." prefixed route forms, API key auth, and
// translation of pipeline outcomes into HTTP/SSE responses.
package router

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kwanLeeFrmVi/9router/internal/apikey"
	"github.com/kwanLeeFrmVi/9router/internal/config"
	"github.com/kwanLeeFrmVi/9router/internal/model"
	"github.com/kwanLeeFrmVi/9router/internal/pipeline"
	"github.com/kwanLeeFrmVi/9router/internal/registry"
	"github.com/kwanLeeFrmVi/9router/internal/routeerr"
	"github.com/kwanLeeFrmVi/9router/internal/sse"
	"github.com/kwanLeeFrmVi/9router/internal/store"
	"github.com/kwanLeeFrmVi/9router/sdk/translator"
	log "github.com/sirupsen/logrus"
)

// Router wires the pipeline and document store into a gin.Engine. cfg is
// held behind an atomic.Pointer so config.WatchFile's reload callback can
// swap it in without restarting the listener or racing request handlers.
type Router struct {
	cfg      atomic.Pointer[config.Config]
	store    store.MachineStore
	pipeline *pipeline.Pipeline
	engine   *gin.Engine
}

// New builds the gin.Engine with every route from spec.md §6 registered in
// both bare and "/{machineId}/..." prefixed forms.
func New(cfg *config.Config, st store.MachineStore, pl *pipeline.Pipeline) *Router {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	r := &Router{store: st, pipeline: pl, engine: engine}
	r.cfg.Store(cfg)
	r.registerRoutes()
	return r
}

// Handler returns the http.Handler to pass to http.Server.
func (r *Router) Handler() http.Handler { return r.engine }

// UpdateConfig swaps in a reloaded config (SPEC_FULL.md A4: fsnotify-based
// reload without restart). Safe to call concurrently with in-flight requests.
func (r *Router) UpdateConfig(cfg *config.Config) {
	r.cfg.Store(cfg)
}

func (r *Router) config() *config.Config { return r.cfg.Load() }

func (r *Router) registerRoutes() {
	r.engine.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.engine.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	register := func(path string, format translator.Format) {
		handler := r.chatHandler(format)
		r.engine.POST(path, r.withAuth(handler))
		r.engine.POST("/:machineId"+path, r.withAuth(handler))
	}

	register("/v1/chat/completions", translator.OPENAI)
	register("/v1/messages", translator.CLAUDE)
	register("/v1/responses", translator.OPENAIResponses)
	register("/v1/api/chat", translator.OLLAMA)
	register("/v1/embeddings", translator.OPENAI)

	r.engine.POST("/forward", r.withAuth(r.handleForward))
	r.engine.POST("/forward-raw", r.withAuth(r.handleForwardRaw))
	r.engine.POST("/:machineId/forward", r.withAuth(r.handleForward))
	r.engine.POST("/:machineId/forward-raw", r.withAuth(r.handleForwardRaw))

	r.engine.GET("/v1/models", r.withAuth(r.handleListModels))
	r.engine.GET("/:machineId/v1/models", r.withAuth(r.handleListModels))
	r.engine.GET("/v1beta/models", r.withAuth(r.handleListModels))
	r.engine.GET("/:machineId/v1beta/models", r.withAuth(r.handleListModels))
	r.engine.GET("/api/tags", r.withAuth(r.handleListModels))
	r.engine.GET("/:machineId/api/tags", r.withAuth(r.handleListModels))
	r.engine.GET("/v1/verify", r.withAuth(r.handleVerify))
	r.engine.GET("/:machineId/v1/verify", r.withAuth(r.handleVerify))
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, x-api-key, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// withAuth resolves the machine id, enforces requireApiKey, and stashes the
// resolved machine id on the context for handlers to read (spec.md §4.6 step 1).
func (r *Router) withAuth(next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		machineID := r.resolveMachineID(c)
		data, err := r.store.Load(c.Request.Context(), machineID)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if data.Settings.RequireAPIKey {
			key := extractKey(c.Request)
			if key == "" {
				writeError(c, http.StatusUnauthorized, "missing_api_key", "missing bearer or x-api-key credential")
				return
			}
			if !r.verifyKey(data, key) {
				writeError(c, http.StatusUnauthorized, "invalid_api_key", "unknown api key")
				return
			}
		}
		c.Set("machineID", machineID)
		next(c)
	}
}

func (r *Router) resolveMachineID(c *gin.Context) string {
	if id := c.Param("machineId"); id != "" {
		return id
	}
	if key := extractKey(c.Request); key != "" {
		parsed := apikey.Parse(key)
		if !parsed.Legacy && parsed.MachineID != "" {
			return parsed.MachineID
		}
	}
	return r.config().DefaultMachineID
}

// verifyKey checks a presented credential against data's key list. A
// structured key is checked by HMAC checksum plus membership and active
// status; a legacy key is compared (hashed or plain) against every stored key.
func (r *Router) verifyKey(data *model.MachineData, key string) bool {
	parsed := apikey.Parse(key)
	if !parsed.Legacy {
		if !parsed.Verify(r.config().KeySecret) {
			return false
		}
		for _, k := range data.APIKeys {
			if k.ID == parsed.KeyID && k.IsActive {
				return true
			}
		}
		return false
	}
	for _, k := range data.APIKeys {
		if !k.IsActive {
			continue
		}
		if config.CompareKey(k.Key, key, k.Hashed) {
			return true
		}
	}
	return false
}

func extractKey(req *http.Request) string {
	if v := req.Header.Get("Authorization"); v != "" {
		return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
	}
	for name, values := range req.Header {
		if strings.EqualFold(name, "x-api-key") && len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

func writeError(c *gin.Context, status int, errType, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"message": message, "type": errType}})
}

// --- chat/completions-style handlers ---

func (r *Router) chatHandler(source translator.Format) gin.HandlerFunc {
	return func(c *gin.Context) {
		fp := &model.RequestFingerprint{
			RequestID:    uuid.NewString(),
			SourceFormat: string(source),
			TargetFormat: string(source),
			StartedAt:    time.Now(),
		}
		machineID := c.GetString("machineID")

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid_request", "could not read request body")
			return
		}
		if !json.Valid(body) {
			writeError(c, http.StatusBadRequest, "invalid_request", "malformed JSON body")
			return
		}

		fp.Model = extractModel(body)
		if fp.Model == "" {
			writeError(c, http.StatusBadRequest, "unknown_model", "request did not name a model")
			return
		}
		fp.Streaming = wantsStream(body)

		out, err := r.pipeline.Dispatch(c.Request.Context(), machineID, source, source, fp.Model, body, fp.Streaming)
		if err != nil {
			logRequest(fp, machineID, writeDispatchError(c, err))
			return
		}
		fp.Provider = out.Provider.ID

		if out.Body != nil {
			c.Data(out.StatusCode, "application/json", out.Body)
			logRequest(fp, machineID, out.StatusCode)
			return
		}
		fp.ConnectionID = out.Connection.ID
		writeUpstream(c, out, fp)
		logRequest(fp, machineID, out.StatusCode)
	}
}

func logRequest(fp *model.RequestFingerprint, machineID string, status int) {
	fields := log.Fields{
		"request_id":    fp.RequestID,
		"machine_id":    machineID,
		"provider":      fp.Provider,
		"model":         fp.Model,
		"connection_id": fp.ConnectionID,
		"status":        status,
		"duration_ms":   time.Since(fp.StartedAt).Milliseconds(),
	}
	if !fp.TTFTAt.IsZero() {
		fields["ttft_ms"] = fp.TTFTAt.Sub(fp.StartedAt).Milliseconds()
	}
	if fp.ContentLen > 0 || fp.ThinkingLen > 0 {
		fields["content_len"] = fp.ContentLen
		fields["thinking_len"] = fp.ThinkingLen
		fields["total_tokens"] = fp.Usage.TotalTokens
	}
	log.WithFields(fields).Info("request completed")
}

func writeUpstream(c *gin.Context, out *pipeline.Outcome, fp *model.RequestFingerprint) {
	defer out.UpstreamRaw.Close()
	providerFormat := pipeline.ResponseWireFormat(out.Provider.ID)

	if !out.Stream {
		data, err := io.ReadAll(out.UpstreamRaw)
		if err != nil {
			writeError(c, http.StatusBadGateway, "upstream_error", err.Error())
			return
		}
		translated := translator.TranslateFullResponse(providerFormat, out.ClientFmt, data, out.Model, out.ReqChars)
		c.Data(out.StatusCode, "application/json", translated)
		fp.ContentLen = len(translated)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(out.StatusCode)

	engine := sse.New(providerFormat, out.ClientFmt, out.Model, out.ReqChars, func(content, thinking string, usage model.TokenUsage, ttft time.Time) {
		fp.ContentLen = len(content)
		fp.ThinkingLen = len(thinking)
		fp.Usage = usage
		fp.TTFTAt = ttft
	})
	buf := make([]byte, 8192)
	for {
		n, readErr := out.UpstreamRaw.Read(buf)
		if n > 0 {
			c.Writer.Write(engine.Feed(buf[:n]))
			c.Writer.Flush()
		}
		if readErr != nil {
			break
		}
	}
	c.Writer.Write(engine.Close())
	c.Writer.Flush()
}

func writeDispatchError(c *gin.Context, err error) int {
	if rl, ok := err.(*routeerr.AllRateLimitedError); ok {
		c.Header("Retry-After", strconv.Itoa(rl.RetryAfterSeconds()))
		writeError(c, http.StatusServiceUnavailable, "all_rate_limited", rl.Error())
		return http.StatusServiceUnavailable
	}
	if re, ok := err.(*routeerr.Error); ok {
		if re.HTTPStatus == http.StatusServiceUnavailable {
			c.Header("Retry-After", "1")
		}
		writeError(c, re.StatusCode(), re.Code, re.Message)
		return re.StatusCode()
	}
	writeError(c, http.StatusInternalServerError, "internal_error", err.Error())
	return http.StatusInternalServerError
}

// --- operator passthrough ---

func (r *Router) handleForward(c *gin.Context) {
	writeError(c, http.StatusNotImplemented, "not_implemented", "operator forward passthrough is not configured")
}

func (r *Router) handleForwardRaw(c *gin.Context) {
	writeError(c, http.StatusNotImplemented, "not_implemented", "operator forward-raw passthrough is not configured")
}

// --- catalogue/listing endpoints ---

func (r *Router) handleListModels(c *gin.Context) {
	out := make([]gin.H, 0)
	for _, p := range registry.All() {
		out = append(out, gin.H{"id": p.ID, "object": "model", "owned_by": p.ID})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": out})
}

func (r *Router) handleVerify(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- request introspection helpers ---

func extractModel(body []byte) string {
	var probe struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.Model
}

func wantsStream(body []byte) bool {
	var probe struct {
		Stream bool `json:"stream"`
	}
	_ = json.Unmarshal(body, &probe)
	return probe.Stream
}
