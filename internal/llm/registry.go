package llm

import (
	"context"
	"fmt"
	"sort"
	"time"

	"speedchat-backend/pkg/logger"
)

type Credentials struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// ProviderFactory builds a Provider from credentials.
type ProviderFactory func(key string, creds Credentials) (Provider, error)

// Registry maps provider keys to factories.
type Registry struct {
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(key string, f ProviderFactory) {
	r.factories[key] = f
}

// DefaultRegistry registers every adapter this backend ships.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ProviderOpenAI, NewOpenAIProvider)
	r.Register(ProviderOpenRouter, NewOpenAIProvider)
	r.Register(ProviderGateway, NewOpenAIProvider)
	r.Register(ProviderDoubao, NewArkProvider)
	r.Register(ProviderQwen, NewQwenProvider)
	return r
}

type ResolveRequest struct {
	ModelID            string
	ReasoningEffort    string
	ShouldUseReasoning bool
	ShouldSearchWeb    bool
	HasFiles           bool
}

type Resolver struct {
	catalog         *Catalog
	providers       map[string]Provider
	maxOutputTokens int
	retry           RetryPolicy
}

type ResolverOption func(*Resolver)

func WithRetryPolicy(p RetryPolicy) ResolverOption {
	return func(r *Resolver) { r.retry = p }
}

// NewResolver fails when the catalog names a provider with no registered
// factory. Providers without an API key are skipped; their models fail at
// resolve time with a ConfigurationError.
func NewResolver(catalog *Catalog, registry *Registry, creds map[string]Credentials, maxOutputTokens int, opts ...ResolverOption) (*Resolver, error) {
	var missing []string
	for _, key := range catalog.Providers() {
		if _, ok := registry.factories[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("no provider registered for %v", missing)
	}

	r := &Resolver{
		catalog:         catalog,
		providers:       make(map[string]Provider),
		maxOutputTokens: maxOutputTokens,
	}
	for _, o := range opts {
		o(r)
	}
	for _, key := range catalog.Providers() {
		c := creds[key]
		if c.APIKey == "" {
			logger.Warnf("Provider %s has no API key, its models are disabled", key)
			continue
		}
		p, err := registry.factories[key](key, c)
		if err != nil {
			return nil, fmt.Errorf("init provider %s: %w", key, err)
		}
		r.providers[key] = p
	}
	return r, nil
}

func (r *Resolver) Catalog() *Catalog { return r.catalog }

// Available reports whether the model exists and its provider is configured.
func (r *Resolver) Available(modelID string) bool {
	spec, ok := r.catalog.Lookup(modelID)
	if !ok {
		return false
	}
	_, ok = r.providers[spec.Provider]
	return ok
}

func (r *Resolver) Resolve(_ context.Context, req ResolveRequest) (*Handle, error) {
	spec, ok := r.catalog.Lookup(req.ModelID)
	if !ok {
		return nil, configErrorf("unknown model %q", req.ModelID)
	}
	p, ok := r.providers[spec.Provider]
	if !ok {
		return nil, configErrorf("model %q is unavailable: missing %s credentials", spec.ID, spec.Provider)
	}
	if req.ShouldSearchWeb && !spec.SupportsWebSearch {
		return nil, configErrorf("model %q does not support web search", spec.ID)
	}
	if req.HasFiles && !spec.SupportsFiles {
		return nil, configErrorf("model %q does not accept file attachments", spec.ID)
	}

	h := &Handle{
		Spec:    spec,
		Options: BuildOptions(spec, req.ReasoningEffort, req.ShouldUseReasoning, req.ShouldSearchWeb, r.maxOutputTokens),
	}
	var err error
	if spec.ImageGeneration {
		h.Image, err = p.ImageModel(spec)
	} else {
		h.Chat, err = p.ChatModel(spec)
	}
	if err != nil {
		return nil, &ConfigurationError{Msg: err.Error()}
	}
	if h.Chat != nil {
		h.Chat = WithRetry(h.Chat, r.retry)
	}
	return h, nil
}
