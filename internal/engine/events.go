package engine

import (
	"time"

	"github.com/counselhq/counsel/internal/chat"
	"github.com/counselhq/counsel/internal/store"
)

// EventKind identifies what happened inside the engine.
type EventKind string

const (
	EventUserMessageAppended EventKind = "user_message_appended"
	EventDelta               EventKind = "delta"
	EventStreamCompleted     EventKind = "stream_completed"
	EventStreamCancelled     EventKind = "stream_cancelled"
	EventStreamFailed        EventKind = "stream_failed"
	EventContextSwitched     EventKind = "context_switched"
	EventDocumentAnalyzed    EventKind = "document_analyzed"
	EventDuplicateDetected   EventKind = "duplicate_detected"
	EventCaseCreated         EventKind = "case_created"
)

/*
Event is the engine's single notification shape. Which fields are set
depends on Kind:

  - user_message_appended: Context, StreamID, Message (the user message)
  - delta: Context, StreamID, Delta
  - stream_completed: Context, StreamID, Message (the assistant message)
  - stream_cancelled: Context, StreamID, Message when partial content was
    kept, nil when cancellation landed before the first delta
  - stream_failed: Context, StreamID, Message (the synthesized assistant
    message carrying the partial content plus the interruption notice)
  - context_switched: Context (the new active context), Messages (the
    full conversation for it; consumers replace, never merge)
  - document_analyzed: Context, Message (assistant message with Analysis set)
  - duplicate_detected: Case (the existing case that blocked the proposal)
  - case_created: CaseID, Case, Context (the case's conversation context)
*/
type Event struct {
	Kind     EventKind       `json:"kind"`
	Context  chat.ContextKey `json:"context,omitempty"`
	StreamID string          `json:"stream_id,omitempty"`
	Delta    string          `json:"delta,omitempty"`
	Message  *chat.Message   `json:"message,omitempty"`
	Messages []chat.Message  `json:"messages,omitempty"`
	Case     *store.Case     `json:"case,omitempty"`
	CaseID   string          `json:"case_id,omitempty"`
	At       time.Time       `json:"at"`
}

// Observer receives engine events. OnEvent is called synchronously from
// engine goroutines and must not block; slow consumers should hand the
// event off to their own buffer.
type Observer interface {
	OnEvent(ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }
