package engine

import (
	"errors"
	"fmt"

	"github.com/counselhq/counsel/internal/store"
)

// ErrSessionBusy is returned by StartMessage while a response is still
// streaming for the same context. Other contexts are unaffected.
var ErrSessionBusy = errors.New("a response is already streaming for this context")

// DuplicateCaseError reports a case proposal whose title already exists.
// Titles are compared case-insensitively after trimming whitespace.
type DuplicateCaseError struct {
	Existing store.Case
}

func (e *DuplicateCaseError) Error() string {
	return fmt.Sprintf("a case titled %q already exists (%s)", e.Existing.Title, e.Existing.ID)
}

// ContextSwitchError reports a case that was created (or already existed)
// but whose conversation context could not be activated. The case is
// intact; retry the switch rather than creating the case again.
type ContextSwitchError struct {
	CaseID string
	Err    error
}

func (e *ContextSwitchError) Error() string {
	return fmt.Sprintf("case %s created but context switch failed: %v", e.CaseID, e.Err)
}

func (e *ContextSwitchError) Unwrap() error { return e.Err }

// AnalysisError reports a document analysis that could not produce a
// result, whether the document was rejected up front or the analyzer
// itself failed.
type AnalysisError struct {
	FileName string
	Err      error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis of %s failed: %v", e.FileName, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }
