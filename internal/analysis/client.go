package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/counselhq/counsel/internal/chat"
)

// Client calls a remote document analysis service over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *log.Logger
}

// NewClient constructs an analysis service client.
// endpoint example: http://localhost:8090
func NewClient(endpoint string, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("analysis: endpoint is required")
	}
	return &Client{
		endpoint:   strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
	}, nil
}

// Analyze posts the document to the service's /analyze endpoint. One attempt
// per call; any failure is returned to the caller unretried.
func (c *Client) Analyze(ctx context.Context, doc Document) (*chat.DocumentAnalysis, error) {
	type analyzeReq struct {
		FileName  string `json:"file_name"`
		MediaType string `json:"media_type"`
		SizeBytes int64  `json:"size_bytes"`
		Content   []byte `json:"content"` // base64 via JSON encoding
	}
	type suggestion struct {
		Title            string             `json:"title"`
		CaseType         string             `json:"case_type"`
		Description      string             `json:"description"`
		Confidence       float64            `json:"confidence"`
		FieldConfidences map[string]float64 `json:"field_confidences"`
	}
	type analyzeResp struct {
		Summary    string      `json:"summary"`
		KeyPoints  []string    `json:"key_points"`
		DatesFound []string    `json:"dates_found"`
		Parties    []string    `json:"parties"`
		Suggestion *suggestion `json:"suggestion"`
		Error      string      `json:"error"`
	}

	payload := analyzeReq{
		FileName:  doc.FileName,
		MediaType: doc.MediaType,
		SizeBytes: doc.SizeBytes,
		Content:   doc.Content,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("analysis: marshal request: %w", err)
	}

	url := c.endpoint + "/analyze"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("analysis: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("analysis: request error: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("analysis: status %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	var parsed analyzeResp
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("analysis: decode response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("analysis: service error: %s", parsed.Error)
	}

	out := &chat.DocumentAnalysis{
		FileName:   doc.FileName,
		MediaType:  doc.MediaType,
		SizeBytes:  doc.SizeBytes,
		Summary:    parsed.Summary,
		KeyPoints:  parsed.KeyPoints,
		DatesFound: parsed.DatesFound,
		Parties:    parsed.Parties,
		AnalyzedAt: time.Now(),
	}
	if parsed.Suggestion != nil && strings.TrimSpace(parsed.Suggestion.Title) != "" {
		out.Suggestion = &chat.SuggestedCase{
			Title:            parsed.Suggestion.Title,
			CaseType:         parsed.Suggestion.CaseType,
			Description:      parsed.Suggestion.Description,
			Confidence:       parsed.Suggestion.Confidence,
			FieldConfidences: parsed.Suggestion.FieldConfidences,
		}
	}
	return out, nil
}

func truncate(s string, max int) string {
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
