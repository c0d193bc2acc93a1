package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/counselhq/counsel/internal/chat"
	"github.com/counselhq/counsel/internal/store"
)

/*
ProposeCase checks whether a case with the given title can be created.
Titles are matched against existing cases case-insensitively after
trimming whitespace, so "smith V JONES" collides with "Smith v Jones".

A collision emits a DuplicateDetected event and returns a
*DuplicateCaseError carrying the existing case so the caller can offer
to switch to it instead. A nil return means the title is free; nothing
is created or reserved.
*/
func (e *Engine) ProposeCase(ctx context.Context, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("case title is empty")
	}
	return e.checkDuplicate(ctx, title)
}

/*
CreateCase creates a case from proposal and switches the conversation to
its context, appending a guidance message that walks the user through
the first steps.

The two stages are ordered so a failure leaves nothing half-done: if
creation fails there is no case and no switch. If the switch fails the
case already exists and the returned *ContextSwitchError says so; retry
with SwitchToCase rather than creating again, and the guidance message
is delivered on the first switch that succeeds.
*/
func (e *Engine) CreateCase(ctx context.Context, proposal chat.SuggestedCase, origin string) (*store.Case, error) {
	title := strings.TrimSpace(proposal.Title)
	if title == "" {
		return nil, fmt.Errorf("case title is empty")
	}
	if err := e.checkDuplicate(ctx, title); err != nil {
		return nil, err
	}
	if origin == "" {
		origin = "manual"
	}

	id, err := e.cases.CreateCase(ctx, store.Case{
		Title:       title,
		CaseType:    proposal.CaseType,
		Description: proposal.Description,
		Origin:      origin,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create case %q: %w", title, err)
	}

	created, err := e.cases.GetCase(ctx, id)
	if err != nil {
		// The row exists; fall back to what we asked the store to write.
		e.logger.Printf("Failed to read back case %s: %v", id, err)
		created = &store.Case{
			ID:          id,
			Title:       title,
			CaseType:    proposal.CaseType,
			Description: proposal.Description,
			Status:      "open",
			Origin:      origin,
		}
	}

	e.created.Add(1)
	e.emit(Event{
		Kind:    EventCaseCreated,
		CaseID:  id,
		Case:    created,
		Context: chat.CaseContext(id),
	})
	if err := e.cases.LogCaseAction(ctx, string(chat.CaseContext(id)), id, "case_created", "user", map[string]interface{}{
		"title":      title,
		"case_type":  proposal.CaseType,
		"origin":     origin,
		"confidence": proposal.Confidence,
	}); err != nil {
		e.logger.Printf("Failed to audit creation of case %s: %v", id, err)
	}

	if _, err := e.enterCase(ctx, id, title); err != nil {
		e.mu.Lock()
		e.pendingGuidance[id] = struct{}{}
		e.mu.Unlock()
		return created, &ContextSwitchError{CaseID: id, Err: err}
	}
	return created, nil
}

// SwitchToCase activates the conversation context for an existing case.
// It also completes a creation whose switch previously failed: the
// guidance message still owed to the case is appended on the first
// successful switch.
func (e *Engine) SwitchToCase(ctx context.Context, caseID string) ([]chat.Message, error) {
	c, err := e.cases.GetCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load case %s: %w", caseID, err)
	}
	key := chat.CaseContext(caseID)

	e.mu.Lock()
	_, pending := e.pendingGuidance[caseID]
	delete(e.pendingGuidance, caseID)

	msgs, gen, err := e.conv.SwitchContext(ctx, key)
	if err != nil {
		if pending {
			e.pendingGuidance[caseID] = struct{}{}
		}
		e.mu.Unlock()
		return nil, &ContextSwitchError{CaseID: caseID, Err: err}
	}
	if pending {
		guidance := e.guidanceMessage(c.Title)
		if e.conv.Append(gen, guidance) {
			msgs = append(msgs, guidance)
		}
	}
	e.mu.Unlock()

	e.switches.Add(1)
	e.emit(Event{
		Kind:     EventContextSwitched,
		Context:  key,
		Messages: msgs,
	})
	if err := e.cases.LogCaseAction(ctx, string(key), caseID, "context_switch", "user", nil); err != nil {
		e.logger.Printf("Failed to audit context switch to %s: %v", key, err)
	}
	return msgs, nil
}

// enterCase switches to a freshly created case's context and seeds it
// with the guidance message. Called with the engine lock released.
func (e *Engine) enterCase(ctx context.Context, caseID, title string) ([]chat.Message, error) {
	key := chat.CaseContext(caseID)

	e.mu.Lock()
	msgs, gen, err := e.conv.SwitchContext(ctx, key)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	guidance := e.guidanceMessage(title)
	if e.conv.Append(gen, guidance) {
		msgs = append(msgs, guidance)
	}
	e.mu.Unlock()

	e.switches.Add(1)
	e.emit(Event{
		Kind:     EventContextSwitched,
		Context:  key,
		Messages: msgs,
	})
	return msgs, nil
}

// checkDuplicate looks for an existing case whose title matches and
// reports it both as an event and as an error.
func (e *Engine) checkDuplicate(ctx context.Context, title string) error {
	existing, err := e.findCaseByTitle(ctx, title)
	if err != nil {
		return fmt.Errorf("failed to check for duplicate title: %w", err)
	}
	if existing != nil {
		e.emit(Event{
			Kind: EventDuplicateDetected,
			Case: existing,
		})
		return &DuplicateCaseError{Existing: *existing}
	}
	return nil
}

// findCaseByTitle returns the first case whose trimmed title matches
// case-insensitively, or nil when the title is unused.
func (e *Engine) findCaseByTitle(ctx context.Context, title string) (*store.Case, error) {
	titles, err := e.cases.ListCaseTitles(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range titles {
		if strings.EqualFold(strings.TrimSpace(t.Title), title) {
			return e.cases.GetCase(ctx, t.ID)
		}
	}
	return nil, nil
}

// guidanceMessage builds the assistant message that opens every case
// conversation.
func (e *Engine) guidanceMessage(title string) chat.Message {
	content := fmt.Sprintf(`Case %q is ready. A few ways to get started:

1. Describe what happened, with dates where you can remember them.
2. Upload any related documents so they stay attached to this case.
3. Ask about the typical process and the deadlines that may apply.

Note: this assistant provides general information, not legal advice. For decisions that affect your rights, consult a licensed attorney.`, title)
	return e.assistantMessage(content)
}
