package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/dudufisio/fisioflow/internal/logging"
	"github.com/dudufisio/fisioflow/internal/providers"
)

// Factory builds a Client for a provider configuration.
type Factory func(cfg providers.Config) (Client, error)

// DefaultFactory picks the client implementation by the provider's API.
func DefaultFactory(cfg providers.Config) (Client, error) {
	switch cfg.API {
	case providers.APIAnthropic:
		return NewAnthropicClient(cfg)
	case providers.APIOpenAICompatible, "":
		return NewOpenAICompatClient(cfg)
	default:
		return nil, fmt.Errorf("provider %q: unsupported api %q", cfg.Key, cfg.API)
	}
}

// Router resolves a provider reference to a Client, honoring the enabled
// flags and default provider kept by the resolver. Clients are built lazily
// and cached per provider key.
type Router struct {
	resolver *providers.Resolver
	factory  Factory

	mu      sync.RWMutex
	clients map[providers.Key]Client
	log     *logging.Logger
}

// NewRouter creates a router. A nil factory means DefaultFactory.
func NewRouter(resolver *providers.Resolver, factory Factory, log *logging.Logger) *Router {
	if factory == nil {
		factory = DefaultFactory
	}
	return &Router{
		resolver: resolver,
		factory:  factory,
		clients:  make(map[providers.Key]Client),
		log:      log.Sub("llm.router"),
	}
}

// Register pins a client for a provider key, replacing any cached one.
func (r *Router) Register(key providers.Key, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[key] = client
	r.log.Debug().Str("provider", string(key)).Msg("registered LLM client")
}

// Resolve returns the client for the requested provider key or model alias.
// Disabled or unknown requests fall back to the default provider, then to the
// first enabled provider.
func (r *Router) Resolve(requested string) (Client, providers.Config, error) {
	cfg, err := r.resolver.Select(requested)
	if err != nil {
		return nil, providers.Config{}, err
	}
	client, err := r.client(cfg)
	if err != nil {
		return nil, cfg, err
	}
	return client, cfg, nil
}

// Complete resolves a provider and sends a non-streaming request. When the
// request names a model alias rather than a provider key, the provider's
// own model is used.
func (r *Router) Complete(ctx context.Context, requested string, req CompletionRequest) (*CompletionResponse, error) {
	client, cfg, err := r.Resolve(requested)
	if err != nil {
		return nil, err
	}
	r.log.Debug().Str("requested", requested).Str("provider", string(cfg.Key)).Str("model", cfg.Model).Msg("routing completion")

	resp, err := client.Complete(ctx, req)
	if err != nil {
		r.log.Warn().Err(err).Str("provider", string(cfg.Key)).Msg("completion failed")
		return nil, err
	}
	if resp.Provider == "" {
		resp.Provider = string(cfg.Key)
	}
	return resp, nil
}

// Stream resolves a provider and starts a streaming request.
func (r *Router) Stream(ctx context.Context, requested string, req CompletionRequest) (<-chan StreamEvent, providers.Config, error) {
	client, cfg, err := r.Resolve(requested)
	if err != nil {
		return nil, cfg, err
	}
	ch, err := client.Stream(ctx, req)
	if err != nil {
		r.log.Warn().Err(err).Str("provider", string(cfg.Key)).Msg("stream failed")
		return nil, cfg, err
	}
	return ch, cfg, nil
}

func (r *Router) client(cfg providers.Config) (Client, error) {
	r.mu.RLock()
	c, ok := r.clients[cfg.Key]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[cfg.Key]; ok {
		return c, nil
	}
	c, err := r.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("building client for %q: %w", cfg.Key, err)
	}
	r.clients[cfg.Key] = c
	r.log.Info().Str("provider", string(cfg.Key)).Str("api", cfg.API).Msg("created LLM client")
	return c, nil
}
