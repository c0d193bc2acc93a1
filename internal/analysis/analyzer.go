package analysis

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/counselhq/counsel/internal/chat"
)

// Document is an uploaded file handed to the analysis pipeline.
type Document struct {
	FileName  string
	MediaType string // normalized extension: "pdf", "docx", "txt", "png", "jpg", "jpeg"
	SizeBytes int64
	Content   []byte
}

// Analyzer produces a DocumentAnalysis for a validated document. Implementations
// are external boundaries (an HTTP service) or local heuristics; they perform
// exactly one analysis attempt per call, retries belong to the caller.
type Analyzer interface {
	Analyze(ctx context.Context, doc Document) (*chat.DocumentAnalysis, error)
}

// DefaultMaxBytes is the size limit applied when no explicit limit is configured.
const DefaultMaxBytes int64 = 25 << 20 // 25 MiB

var (
	// ErrUnsupportedType rejects file types outside the accepted set.
	ErrUnsupportedType = errors.New("unsupported document type")
	// ErrTooLarge rejects documents above the configured size limit.
	ErrTooLarge = errors.New("document exceeds size limit")
)

var acceptedTypes = map[string]bool{
	"pdf":  true,
	"docx": true,
	"txt":  true,
	"png":  true,
	"jpg":  true,
	"jpeg": true,
}

// NormalizeMediaType resolves the media type for a document, preferring the
// caller-provided value and falling back to the file extension.
func NormalizeMediaType(fileName, provided string) string {
	mt := strings.ToLower(strings.TrimSpace(provided))
	if mt == "" {
		mt = strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	}
	return mt
}

// ValidateDocument checks media type and size together, before any analyzer
// I/O happens. maxBytes <= 0 applies DefaultMaxBytes.
func ValidateDocument(doc Document, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if !acceptedTypes[doc.MediaType] {
		return fmt.Errorf("%w: %q (accepted: pdf, docx, txt, png, jpg, jpeg)", ErrUnsupportedType, doc.MediaType)
	}
	if doc.SizeBytes > maxBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, doc.SizeBytes, maxBytes)
	}
	return nil
}

// FallbackConfidence marks a synthesized suggestion, fixed low so callers can
// tell it apart from an analyzer-derived one.
const FallbackConfidence = 0.3

// FallbackSuggestion is used when an analyzer yields no case suggestion and no
// case context is active: the document still needs a home the user can accept.
func FallbackSuggestion(fileName string) *chat.SuggestedCase {
	return &chat.SuggestedCase{
		Title:       "Case regarding " + fileName,
		CaseType:    "general",
		Description: "Started from uploaded document " + fileName,
		Confidence:  FallbackConfidence,
	}
}
