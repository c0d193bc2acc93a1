package chat

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message represents a single message in a conversation
type Message struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"` // "user", "assistant", "system"
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	TokensEst int               `json:"tokens_est,omitempty"` // Estimated tokens for this message
	Analysis  *DocumentAnalysis `json:"analysis,omitempty"`   // Set when the message carries a document analysis
}

// DocumentAnalysis is the outcome of analyzing one uploaded document.
type DocumentAnalysis struct {
	DocumentID string         `json:"document_id"`
	FileName   string         `json:"file_name"`
	MediaType  string         `json:"media_type"`
	SizeBytes  int64          `json:"size_bytes"`
	Summary    string         `json:"summary"`
	KeyPoints  []string       `json:"key_points,omitempty"`
	DatesFound []string       `json:"dates_found,omitempty"`
	Parties    []string       `json:"parties,omitempty"`
	Suggestion *SuggestedCase `json:"suggestion,omitempty"`
	AnalyzedAt time.Time      `json:"analyzed_at"`
}

// SuggestedCase is a case proposal derived from a document. It is advisory:
// nothing acts on it until the user explicitly creates the case.
type SuggestedCase struct {
	Title       string  `json:"title"`
	CaseType    string  `json:"case_type,omitempty"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
	// FieldConfidences scores individual suggestion fields when the
	// analyzer can tell them apart; Confidence stays the overall score.
	FieldConfidences map[string]float64 `json:"field_confidences,omitempty"`
}

// ContextKey names a conversation context: the shared global context or a
// per-case context.
type ContextKey string

// GlobalContext is the conversation used when no case is active.
const GlobalContext ContextKey = "global"

const casePrefix = "case:"

// CaseContext returns the context key for a case ID.
func CaseContext(caseID string) ContextKey {
	return ContextKey(casePrefix + caseID)
}

// IsCase reports whether the key addresses a case conversation.
func (k ContextKey) IsCase() bool {
	return strings.HasPrefix(string(k), casePrefix)
}

// CaseID returns the case ID for a case context, or "" for the global context.
func (k ContextKey) CaseID() string {
	if !k.IsCase() {
		return ""
	}
	return strings.TrimPrefix(string(k), casePrefix)
}

func (k ContextKey) String() string { return string(k) }

// ParseContextKey validates a caller-supplied context key.
func ParseContextKey(s string) (ContextKey, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == string(GlobalContext):
		return GlobalContext, nil
	case strings.HasPrefix(s, casePrefix):
		if strings.TrimPrefix(s, casePrefix) == "" {
			return "", fmt.Errorf("context key %q has an empty case id", s)
		}
		return ContextKey(s), nil
	default:
		return "", fmt.Errorf("unknown context key %q (use %q or %q<id>)", s, GlobalContext, casePrefix)
	}
}

// EstimateTokens provides a rough token estimation for text
func EstimateTokens(text string) int {
	// Rough estimation: ~4 characters per token on average
	return len(text) / 4
}
