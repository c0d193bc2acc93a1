package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
)

// Ollama implements a streaming provider backed by a local Ollama server.
// It satisfies Provider and Discovery.
type Ollama struct {
	endpoint   string
	model      string
	httpClient *http.Client
	logger     *log.Logger
}

// NewOllama constructs a new Ollama provider.
// endpoint example: http://localhost:11434
// model example: llama3.2 (may be empty when only using discovery)
func NewOllama(endpoint, model string, logger *log.Logger) (*Ollama, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("ollama: endpoint is required")
	}
	// No client-level timeout: streams run until the caller's context says
	// otherwise.
	cli := &http.Client{}
	return &Ollama{
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      strings.TrimSpace(model),
		httpClient: cli,
		logger:     logger,
	}, nil
}

// Name identifies the provider in settings and stats.
func (o *Ollama) Name() string { return "ollama" }

// StreamChat sends a chat request to Ollama's /api/chat endpoint and feeds
// each NDJSON chunk's content to onDelta as it arrives.
func (o *Ollama) StreamChat(ctx context.Context, req ChatRequest, onDelta func(delta string) error) (string, error) {
	if o.model == "" {
		return "", fmt.Errorf("ollama: model not configured")
	}

	type ollamaMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type chatReq struct {
		Model    string      `json:"model"`
		Messages []ollamaMsg `json:"messages"`
		Stream   bool        `json:"stream"`
		Thinking struct {
			Type string `json:"type"`
		} `json:"thinking,omitempty"`
	}
	type chatChunk struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		Done bool `json:"done"`
	}

	msgs := make([]ollamaMsg, 0, len(req.Messages)+1)

	// Prepend persona-specific system prompt when available.
	if sp := GetSystemPrompt(req.Persona); sp != "" {
		msgs = append(msgs, ollamaMsg{Role: "system", Content: sp})
	}
	for _, m := range req.Messages {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role == "" {
			role = "user"
		}
		msgs = append(msgs, ollamaMsg{Role: role, Content: m.Content})
	}

	payload := chatReq{
		Model:    o.model,
		Messages: msgs,
		Stream:   true,
	}
	// Disable reasoning/thinking content per Ollama thinking API
	payload.Thinking.Type = "disabled"

	data, _ := json.Marshal(payload)

	url := o.endpoint + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama: request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama: status %d: %s", resp.StatusCode, truncateString(string(body), 300))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var full strings.Builder
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return full.String(), err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Skip malformed lines
			continue
		}

		if content := chunk.Message.Content; content != "" {
			full.WriteString(content)
			if onDelta != nil {
				if err := onDelta(content); err != nil {
					return full.String(), err
				}
			}
		}

		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("ollama: stream read: %w", err)
	}

	return full.String(), nil
}

// ListModels queries Ollama /api/tags and returns available model names.
func (o *Ollama) ListModels(ctx context.Context) ([]string, error) {
	type tagModel struct {
		Name string `json:"name"`
	}
	type tagsResp struct {
		Models []tagModel `json:"models"`
	}

	url := o.endpoint + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ollama list models: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama list models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama list models: status %d: %s", resp.StatusCode, truncateString(string(body), 300))
	}
	body, _ := io.ReadAll(resp.Body)
	var tr tagsResp
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("ollama list models: decode: %w", err)
	}
	out := make([]string, 0, len(tr.Models))
	for _, m := range tr.Models {
		if strings.TrimSpace(m.Name) != "" {
			out = append(out, m.Name)
		}
	}
	return out, nil
}

// HealthCheck performs a lightweight check against /api/tags.
func (o *Ollama) HealthCheck(ctx context.Context) error {
	url := o.endpoint + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama health: status %d: %s", resp.StatusCode, truncateString(string(body), 200))
	}
	return nil
}

// Helper functions

func truncateString(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
