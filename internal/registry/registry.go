// Package registry holds the static provider catalogue: canonical provider
// ids, their models-list endpoints, auth scheme and OAuth refresh metadata.
// Catalogue contents are operator/deployment data, not request-time logic —
// only the shape the core depends on (auth scheme, refresh endpoint, whether
// the provider splits quota per model) is modeled here.
package registry

// AuthScheme identifies how a provider expects credentials on requests.
type AuthScheme string

const (
	AuthBearer   AuthScheme = "bearer"
	AuthAPIKeyHeader AuthScheme = "x-api-key"
	AuthQueryKey AuthScheme = "query-key"
)

// Provider describes one canonical upstream provider.
type Provider struct {
	ID              string
	ModelsURL       string
	AuthScheme      AuthScheme
	RefreshURL      string
	ClientID        string
	ClientSecret    string
	MultiBucket     bool
}

// catalogue is the static provider table referenced by spec.md §6.
var catalogue = map[string]Provider{
	"openai":     {ID: "openai", ModelsURL: "https://api.openai.com/v1/models", AuthScheme: AuthBearer},
	"anthropic":  {ID: "anthropic", ModelsURL: "https://api.anthropic.com/v1/models", AuthScheme: AuthAPIKeyHeader},
	"claude":     {ID: "claude", ModelsURL: "https://api.anthropic.com/v1/models", AuthScheme: AuthAPIKeyHeader},
	"gemini":     {ID: "gemini", ModelsURL: "https://generativelanguage.googleapis.com/v1beta/models", AuthScheme: AuthQueryKey},
	"gemini-cli": {
		ID: "gemini-cli", ModelsURL: "https://generativelanguage.googleapis.com/v1beta/models",
		AuthScheme: AuthBearer, RefreshURL: "https://oauth2.googleapis.com/token",
		ClientID: "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com", ClientSecret: "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",
	},
	"qwen": {
		ID: "qwen", ModelsURL: "https://portal.qwen.ai/v1/models",
		AuthScheme: AuthBearer, RefreshURL: "https://chat.qwen.ai/api/v1/oauth2/token",
		ClientID: "f0304373b74a44d2b584a3fb70ca9e56",
	},
	"antigravity": {
		ID: "antigravity", ModelsURL: "https://daily-cloudcode-pa.sandbox.googleapis.com/v1internal:models",
		AuthScheme: AuthBearer, MultiBucket: true,
		RefreshURL: "https://oauth2.googleapis.com/token",
		ClientID:   "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com", ClientSecret: "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",
	},
	"deepseek":    {ID: "deepseek", ModelsURL: "https://api.deepseek.com/models", AuthScheme: AuthBearer},
	"groq":        {ID: "groq", ModelsURL: "https://api.groq.com/openai/v1/models", AuthScheme: AuthBearer},
	"xai":         {ID: "xai", ModelsURL: "https://api.x.ai/v1/models", AuthScheme: AuthBearer},
	"mistral":     {ID: "mistral", ModelsURL: "https://api.mistral.ai/v1/models", AuthScheme: AuthBearer},
	"perplexity":  {ID: "perplexity", ModelsURL: "https://api.perplexity.ai/models", AuthScheme: AuthBearer},
	"together":    {ID: "together", ModelsURL: "https://api.together.xyz/v1/models", AuthScheme: AuthBearer},
	"fireworks":   {ID: "fireworks", ModelsURL: "https://api.fireworks.ai/inference/v1/models", AuthScheme: AuthBearer},
	"cerebras":    {ID: "cerebras", ModelsURL: "https://api.cerebras.ai/v1/models", AuthScheme: AuthBearer},
	"cohere":      {ID: "cohere", ModelsURL: "https://api.cohere.ai/v1/models", AuthScheme: AuthBearer},
	"nebius":      {ID: "nebius", ModelsURL: "https://api.studio.nebius.ai/v1/models", AuthScheme: AuthBearer},
	"siliconflow": {ID: "siliconflow", ModelsURL: "https://api.siliconflow.cn/v1/models", AuthScheme: AuthBearer},
	"hyperbolic":  {ID: "hyperbolic", ModelsURL: "https://api.hyperbolic.xyz/v1/models", AuthScheme: AuthBearer},
	"chutes":      {ID: "chutes", ModelsURL: "https://llm.chutes.ai/v1/models", AuthScheme: AuthBearer},
	"nvidia":      {ID: "nvidia", ModelsURL: "https://integrate.api.nvidia.com/v1/models", AuthScheme: AuthBearer},
	"openrouter":  {ID: "openrouter", ModelsURL: "https://openrouter.ai/api/v1/models", AuthScheme: AuthBearer},
	"ollama":      {ID: "ollama", ModelsURL: "http://localhost:11434/api/tags", AuthScheme: AuthBearer},
}

// Lookup returns the catalogue entry for a canonical provider id.
func Lookup(id string) (Provider, bool) {
	p, ok := catalogue[id]
	return p, ok
}

// Register adds or overrides a catalogue entry; used by operator config to
// register self-hosted/compatible providers at boot.
func Register(p Provider) {
	catalogue[p.ID] = p
}

// All returns every registered provider (used by /v1/models listing).
func All() []Provider {
	out := make([]Provider, 0, len(catalogue))
	for _, p := range catalogue {
		out = append(out, p)
	}
	return out
}
