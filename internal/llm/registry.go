package llm

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Discovery is an optional capability a provider can implement to expose
// model listing and health checks for settings surfaces.
type Discovery interface {
	ListModels(ctx context.Context) ([]string, error)
	HealthCheck(ctx context.Context) error
}

// Build constructs a Provider from a ProviderConfig.
// Returns an error if the provider cannot be built; callers should handle the error.
func Build(ctx context.Context, cfg ProviderConfig, logger *log.Logger) (Provider, error) {
	switch normalize(cfg.Provider) {
	case "ollama":
		p, err := NewOllama(cfg.Endpoint, cfg.Model, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "openai":
		p, err := NewOpenAI(cfg.Endpoint, cfg.Model, cfg.APIKey, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "stub", "":
		return NewStub(logger), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}

// TryHealthCheck attempts a provider health check when supported.
func TryHealthCheck(ctx context.Context, p Provider) error {
	if d, ok := p.(Discovery); ok {
		return d.HealthCheck(ctx)
	}
	return nil
}

// TryListModels attempts to list models for a provider when supported.
func TryListModels(ctx context.Context, p Provider) ([]string, error) {
	if d, ok := p.(Discovery); ok {
		return d.ListModels(ctx)
	}
	return nil, fmt.Errorf("model listing not supported by this provider")
}

func normalize(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama":
		return "ollama"
	case "openai", "open_ai":
		return "openai"
	case "stub", "local", "local_stub":
		return "stub"
	default:
		return strings.ToLower(strings.TrimSpace(s))
	}
}
