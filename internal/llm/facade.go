package llm

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mkessel/loremaster/internal/logging"
)

// models maps every supported model name to the provider that serves
// it. Routing is static so an unknown model fails before any network
// traffic.
var models = map[string]string{
	"gpt-4o":                     "openai",
	"gpt-4o-mini":                "openai",
	"gpt-5":                      "openai",
	"gpt-5-nano":                 "openai",
	"claude-3-5-sonnet-20241022": "claude",
	"claude-3-5-haiku-20241022":  "claude",
	"claude-haiku-4-5":           "claude",
	"claude-opus-4-5":            "claude",
}

// DefaultModel is used when a game has no model of its own.
const DefaultModel = "gpt-5-nano"

// Models returns the supported model names in sorted order.
func Models() []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SupportedModel reports whether name routes to a configured provider.
func SupportedModel(name string) bool {
	_, ok := models[name]
	return ok
}

// Router fronts the configured providers and dispatches each request
// by model name.
type Router struct {
	providers map[string]Provider
	log       *logging.Logger
}

// RouterConfig carries the provider credentials. Empty keys leave the
// corresponding provider unconfigured; requests for its models fail
// with a clear error instead of a baffling 401.
type RouterConfig struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	ClaudeAPIKey  string
	ClaudeBaseURL string
	Timeout       time.Duration
}

// NewRouter builds a Router from credentials.
func NewRouter(cfg RouterConfig, log *logging.Logger) *Router {
	r := &Router{providers: map[string]Provider{}, log: log.Sub("llm")}
	if cfg.OpenAIAPIKey != "" {
		r.providers["openai"] = NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Timeout, log)
	}
	if cfg.ClaudeAPIKey != "" {
		r.providers["claude"] = NewClaudeProvider(cfg.ClaudeAPIKey, cfg.ClaudeBaseURL, cfg.Timeout, log)
	}
	return r
}

// NewRouterWith builds a Router over explicit providers, keyed by
// provider name. Tests use this to install mocks.
func NewRouterWith(log *logging.Logger, providers map[string]Provider) *Router {
	return &Router{providers: providers, log: log.Sub("llm")}
}

func (r *Router) resolve(model string) (Provider, error) {
	name, ok := models[model]
	if !ok {
		return nil, fmt.Errorf("unknown model: %s", model)
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("model %s requires the %s provider, which is not configured (missing API key)", model, name)
	}
	return p, nil
}

// Chat routes a blocking request to the provider serving req.Model.
func (r *Router) Chat(ctx context.Context, req Request) (*Result, error) {
	p, err := r.resolve(req.Model)
	if err != nil {
		return nil, err
	}
	r.log.Debug().Str("model", req.Model).Str("provider", p.Name()).
		Int("messages", len(req.Messages)).Msg("chat request")
	return p.Chat(ctx, req)
}

// ChatStream routes a streaming request to the provider serving
// req.Model.
func (r *Router) ChatStream(ctx context.Context, req Request) (<-chan Event, error) {
	p, err := r.resolve(req.Model)
	if err != nil {
		return nil, err
	}
	r.log.Debug().Str("model", req.Model).Str("provider", p.Name()).
		Int("messages", len(req.Messages)).Msg("chat stream request")
	return p.ChatStream(ctx, req)
}
