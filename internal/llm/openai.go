package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI implements a streaming provider for OpenAI and OpenAI-compatible
// endpoints. It satisfies Provider and Discovery.
type OpenAI struct {
	client *openai.Client
	model  string
	logger *log.Logger
}

// NewOpenAI constructs a new OpenAI provider.
// endpoint example: https://api.openai.com/v1 (empty uses the library default)
// model example: gpt-4o-mini
// apiKey is required; when empty this constructor will try OPENAI_API_KEY env var.
func NewOpenAI(endpoint, model, apiKey string, logger *log.Logger) (*OpenAI, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if key == "" {
		return nil, fmt.Errorf("openai: apiKey required (set in settings or OPENAI_API_KEY)")
	}

	cfg := openai.DefaultConfig(key)
	if ep := strings.TrimSpace(endpoint); ep != "" {
		cfg.BaseURL = strings.TrimRight(ep, "/")
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  strings.TrimSpace(model),
		logger: logger,
	}, nil
}

// Name identifies the provider in settings and stats.
func (o *OpenAI) Name() string { return "openai" }

// StreamChat runs a streaming chat completion and feeds each delta's content
// to onDelta as it arrives.
func (o *OpenAI) StreamChat(ctx context.Context, req ChatRequest, onDelta func(delta string) error) (string, error) {
	if o.model == "" {
		return "", fmt.Errorf("openai: model not configured")
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)

	// Prepend persona-specific system prompt when available.
	if sp := GetSystemPrompt(req.Persona); sp != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: sp,
		})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openAIRole(m.Role),
			Content: m.Content,
		})
	}

	streamReq := openai.ChatCompletionRequest{
		Model:     o.model,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, streamReq)
	if err != nil {
		return "", fmt.Errorf("openai: create stream: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), fmt.Errorf("openai: stream recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return full.String(), err
			}
		}
	}

	return full.String(), nil
}

// ListModels queries the models endpoint and returns model IDs.
func (o *OpenAI) ListModels(ctx context.Context) ([]string, error) {
	list, err := o.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("openai list models: %w", err)
	}
	out := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		if strings.TrimSpace(m.ID) != "" {
			out = append(out, m.ID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// HealthCheck performs a lightweight models listing using the API key.
func (o *OpenAI) HealthCheck(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai health: %w", err)
	}
	return nil
}

func openAIRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "assistant":
		return openai.ChatMessageRoleAssistant
	case "system":
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
