// Package engine ties the conversation store, the case store, the LLM
// provider and the document analyzer together into one conversational
// session engine. It owns the lifecycle of streaming responses, routes
// every outcome back into the active conversation and notifies observers
// of everything that happens.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/counselhq/counsel/internal/analysis"
	"github.com/counselhq/counsel/internal/chat"
	"github.com/counselhq/counsel/internal/convstore"
	"github.com/counselhq/counsel/internal/llm"
	"github.com/counselhq/counsel/internal/store"
)

// Options configures the engine. Conversations, Cases and Provider are
// required; everything else has a sensible default.
type Options struct {
	Conversations *convstore.Store
	Cases         *store.Store
	Provider      llm.Provider
	Analyzer      analysis.Analyzer
	Logger        *log.Logger
	Persona       string
	HistoryLimit  int
	MaxDocBytes   int64
	Now           func() time.Time
}

// stream tracks one in-flight assistant response.
type stream struct {
	id            string
	cancel        context.CancelFunc
	gen           uint64
	userCancelled bool // guarded by Engine.mu
	prompt        string
}

// Engine is the conversational session engine. All exported methods are
// safe for concurrent use.
type Engine struct {
	conv         *convstore.Store
	cases        *store.Store
	provider     llm.Provider
	analyzer     analysis.Analyzer
	logger       *log.Logger
	persona      string
	historyLimit int
	maxDocBytes  int64
	now          func() time.Time

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu              sync.Mutex
	streams         map[chat.ContextKey]*stream
	pendingGuidance map[string]struct{}

	obsMu     sync.RWMutex
	observers []Observer

	started   atomic.Uint64
	completed atomic.Uint64
	cancelled atomic.Uint64
	failed    atomic.Uint64
	analyzed  atomic.Uint64
	created   atomic.Uint64
	switches  atomic.Uint64
}

// New creates an engine from the given options.
func New(opts Options) (*Engine, error) {
	if opts.Conversations == nil {
		return nil, fmt.Errorf("engine requires a conversation store")
	}
	if opts.Cases == nil {
		return nil, fmt.Errorf("engine requires a case store")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("engine requires an LLM provider")
	}
	if opts.Analyzer == nil {
		opts.Analyzer = analysis.NewHeuristic()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if opts.Persona == "" {
		opts.Persona = llm.PersonaCounsel
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 40
	}
	if opts.MaxDocBytes <= 0 {
		opts.MaxDocBytes = analysis.DefaultMaxBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if err := opts.Cases.SetupAuditTables(); err != nil {
		return nil, fmt.Errorf("failed to prepare audit tables: %w", err)
	}

	rootCtx, cancel := context.WithCancel(context.Background())

	return &Engine{
		conv:            opts.Conversations,
		cases:           opts.Cases,
		provider:        opts.Provider,
		analyzer:        opts.Analyzer,
		logger:          opts.Logger,
		persona:         opts.Persona,
		historyLimit:    opts.HistoryLimit,
		maxDocBytes:     opts.MaxDocBytes,
		now:             opts.Now,
		rootCtx:         rootCtx,
		cancel:          cancel,
		streams:         make(map[chat.ContextKey]*stream),
		pendingGuidance: make(map[string]struct{}),
	}, nil
}

/*
StartMessage appends content as a user message to the context key and
starts streaming the assistant's reply in the background. The user
message lands in the conversation before any provider traffic, so it
survives whatever happens to the stream afterwards.

It returns ErrSessionBusy while a reply is already streaming for key.
Streams for other contexts run independently.
*/
func (e *Engine) StartMessage(ctx context.Context, key chat.ContextKey, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("message content is empty")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.mu.Lock()
	if _, busy := e.streams[key]; busy {
		e.mu.Unlock()
		return "", ErrSessionBusy
	}
	if key != e.conv.Active() {
		e.mu.Unlock()
		return "", fmt.Errorf("context %s is not active", key)
	}

	gen := e.conv.Generation()
	sctx, cancelStream := context.WithCancel(e.rootCtx)
	st := &stream{
		id:     uuid.NewString(),
		cancel: cancelStream,
		gen:    gen,
		prompt: content,
	}
	e.streams[key] = st

	userMsg := chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleUser,
		Content:   content,
		Timestamp: e.now(),
		TokensEst: chat.EstimateTokens(content),
	}
	if !e.conv.Append(gen, userMsg) {
		delete(e.streams, key)
		e.mu.Unlock()
		cancelStream()
		return "", fmt.Errorf("context switched while starting message")
	}
	history := e.conv.Messages()
	e.mu.Unlock()

	e.emit(Event{
		Kind:     EventUserMessageAppended,
		Context:  key,
		StreamID: st.id,
		Message:  &userMsg,
	})

	e.started.Add(1)
	e.wg.Add(1)
	go e.runStream(sctx, key, st, history)

	return st.id, nil
}

// runStream drives one provider stream to completion and folds the
// outcome back into the conversation.
func (e *Engine) runStream(ctx context.Context, key chat.ContextKey, st *stream, history []chat.Message) {
	defer e.wg.Done()

	if n := len(history); n > e.historyLimit {
		history = history[n-e.historyLimit:]
	}
	req := llm.ChatRequest{
		Messages: history,
		Persona:  e.persona,
	}

	full, err := e.provider.StreamChat(ctx, req, func(delta string) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		e.emit(Event{
			Kind:     EventDelta,
			Context:  key,
			StreamID: st.id,
			Delta:    delta,
		})
		return nil
	})

	e.mu.Lock()
	userCancelled := st.userCancelled
	delete(e.streams, key)
	e.mu.Unlock()
	st.cancel()

	switch {
	case err == nil:
		msg := e.assistantMessage(full)
		if !e.conv.Append(st.gen, msg) {
			e.logger.Printf("Dropped completed reply for %s: context switched mid-stream", key)
		}
		e.emit(Event{
			Kind:     EventStreamCompleted,
			Context:  key,
			StreamID: st.id,
			Message:  &msg,
		})
		e.completed.Add(1)
		e.recordChatTurn(key, st.prompt, full)

	case userCancelled || ctx.Err() != nil:
		var kept *chat.Message
		if full != "" {
			msg := e.assistantMessage(full)
			if e.conv.Append(st.gen, msg) {
				kept = &msg
			} else {
				e.logger.Printf("Dropped partial reply for %s: context switched mid-stream", key)
			}
		}
		e.emit(Event{
			Kind:     EventStreamCancelled,
			Context:  key,
			StreamID: st.id,
			Message:  kept,
		})
		e.cancelled.Add(1)

	default:
		content := full
		if content != "" {
			content += "\n\n"
		}
		content += fmt.Sprintf("(reply interrupted: %v)", err)
		msg := e.assistantMessage(content)
		if !e.conv.Append(st.gen, msg) {
			e.logger.Printf("Dropped failed reply for %s: context switched mid-stream", key)
		}
		e.logger.Printf("Stream %s failed for %s: %v", st.id, key, err)
		e.emit(Event{
			Kind:     EventStreamFailed,
			Context:  key,
			StreamID: st.id,
			Message:  &msg,
		})
		e.failed.Add(1)
	}
}

// assistantMessage wraps content in an assistant-role chat message.
func (e *Engine) assistantMessage(content string) chat.Message {
	return chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleAssistant,
		Content:   content,
		Timestamp: e.now(),
		TokensEst: chat.EstimateTokens(content),
	}
}

// recordChatTurn writes the completed exchange to the audit log and
// refreshes the case's activity metadata. Failures here only get logged;
// the conversation itself is already safe.
func (e *Engine) recordChatTurn(key chat.ContextKey, prompt, reply string) {
	ctx := context.Background()
	tokens := chat.EstimateTokens(prompt) + chat.EstimateTokens(reply)
	if err := e.cases.LogChatTurn(ctx, string(key), "user", prompt, reply, tokens, e.provider.Name()); err != nil {
		e.logger.Printf("Failed to audit chat turn for %s: %v", key, err)
	}
	if key.IsCase() && e.conv.Active() == key {
		if err := e.cases.UpdateCaseActivity(ctx, key.CaseID(), len(e.conv.Messages())); err != nil {
			e.logger.Printf("Failed to update case activity for %s: %v", key.CaseID(), err)
		}
	}
}

// CancelStream asks the in-flight stream for key to stop. Partial
// content received so far is preserved as an assistant message. Returns
// false when nothing is streaming for key.
func (e *Engine) CancelStream(key chat.ContextKey) bool {
	e.mu.Lock()
	st, ok := e.streams[key]
	if ok {
		st.userCancelled = true
	}
	e.mu.Unlock()

	if !ok {
		return false
	}
	st.cancel()
	return true
}

// SwitchContext makes key the active conversation and returns its full
// message history. Consumers should replace their view wholesale; the
// ContextSwitched event carries the same snapshot.
func (e *Engine) SwitchContext(ctx context.Context, key chat.ContextKey) ([]chat.Message, error) {
	e.mu.Lock()
	msgs, _, err := e.conv.SwitchContext(ctx, key)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to switch to context %s: %w", key, err)
	}

	e.switches.Add(1)
	e.emit(Event{
		Kind:     EventContextSwitched,
		Context:  key,
		Messages: msgs,
	})

	if key.IsCase() {
		if err := e.cases.LogCaseAction(ctx, string(key), key.CaseID(), "context_switch", "user", nil); err != nil {
			e.logger.Printf("Failed to audit context switch to %s: %v", key, err)
		}
	}
	return msgs, nil
}

// ClearConversation permanently deletes the conversation stored for key.
// Case records and documents are untouched.
func (e *Engine) ClearConversation(ctx context.Context, key chat.ContextKey) error {
	e.mu.Lock()
	err := e.conv.Clear(ctx, key)
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to clear context %s: %w", key, err)
	}

	if err := e.cases.LogCaseAction(ctx, string(key), key.CaseID(), "conversation_cleared", "user", nil); err != nil {
		e.logger.Printf("Failed to audit conversation clear for %s: %v", key, err)
	}
	return nil
}

/*
AnalyzeDocument validates doc, runs it through the analyzer exactly once
and appends the result to the context key as an assistant message whose
Analysis field carries the structured result.

Validation rejects unsupported types and oversized files before any
analyzer or storage traffic. When the analyzer offers no case suggestion
and key is the global context, a low-confidence fallback suggestion is
attached so the caller can still offer to start a case. Suggestions are
never acted on here; case creation is the coordinator's job.
*/
func (e *Engine) AnalyzeDocument(ctx context.Context, key chat.ContextKey, doc analysis.Document) (*chat.DocumentAnalysis, error) {
	doc.MediaType = analysis.NormalizeMediaType(doc.FileName, doc.MediaType)
	if doc.SizeBytes == 0 {
		doc.SizeBytes = int64(len(doc.Content))
	}
	if err := analysis.ValidateDocument(doc, e.maxDocBytes); err != nil {
		return nil, &AnalysisError{FileName: doc.FileName, Err: err}
	}

	e.mu.Lock()
	if key != e.conv.Active() {
		e.mu.Unlock()
		return nil, fmt.Errorf("context %s is not active", key)
	}
	gen := e.conv.Generation()
	e.mu.Unlock()

	res, err := e.analyzer.Analyze(ctx, doc)
	if err != nil {
		return nil, &AnalysisError{FileName: doc.FileName, Err: err}
	}

	rec := store.Document{
		FileName:  doc.FileName,
		MediaType: doc.MediaType,
		SizeBytes: doc.SizeBytes,
		Summary:   res.Summary,
	}
	if key.IsCase() {
		rec.CaseID = key.CaseID()
	}
	if res.Suggestion != nil {
		rec.Confidence = res.Suggestion.Confidence
	}
	docID, err := e.cases.SaveDocument(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to record document %s: %w", doc.FileName, err)
	}
	res.DocumentID = docID

	if res.Suggestion == nil && !key.IsCase() {
		res.Suggestion = analysis.FallbackSuggestion(doc.FileName)
	}

	msg := e.assistantMessage(analysisMessageContent(doc.FileName, res))
	msg.Analysis = res
	appended := e.conv.Append(gen, msg)
	if appended {
		e.emit(Event{
			Kind:    EventDocumentAnalyzed,
			Context: key,
			Message: &msg,
		})
	} else {
		e.logger.Printf("Dropped analysis of %s for %s: context switched during analysis", doc.FileName, key)
	}

	e.analyzed.Add(1)
	if err := e.cases.LogDocumentAction(ctx, string(key), docID, "document_analyzed", "user", map[string]interface{}{
		"file_name":  doc.FileName,
		"media_type": doc.MediaType,
		"size_bytes": doc.SizeBytes,
	}); err != nil {
		e.logger.Printf("Failed to audit analysis of %s: %v", doc.FileName, err)
	}

	return res, nil
}

// analysisMessageContent renders an analysis result as conversational
// prose for the assistant message.
func analysisMessageContent(fileName string, res *chat.DocumentAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyzed %s.\n\n%s", fileName, res.Summary)
	if len(res.KeyPoints) > 0 {
		b.WriteString("\n\nKey points:")
		for _, p := range res.KeyPoints {
			fmt.Fprintf(&b, "\n- %s", p)
		}
	}
	if len(res.Parties) > 0 {
		fmt.Fprintf(&b, "\n\nParties identified: %s.", strings.Join(res.Parties, ", "))
	}
	if len(res.DatesFound) > 0 {
		fmt.Fprintf(&b, "\nDates found: %s.", strings.Join(res.DatesFound, ", "))
	}
	if res.Suggestion != nil {
		fmt.Fprintf(&b, "\n\nSuggested case: %q (confidence %.2f). Create it to keep this document and the follow-up conversation together.",
			res.Suggestion.Title, res.Suggestion.Confidence)
	}
	return b.String()
}

// Conversation returns a snapshot of the active conversation.
func (e *Engine) Conversation() []chat.Message {
	return e.conv.Messages()
}

// ActiveContext returns the key of the active conversation context.
func (e *Engine) ActiveContext() chat.ContextKey {
	return e.conv.Active()
}

// PeekConversation returns the stored conversation for key without
// switching to it.
func (e *Engine) PeekConversation(ctx context.Context, key chat.ContextKey) ([]chat.Message, error) {
	return e.conv.Peek(ctx, key)
}

// Provider exposes the configured LLM provider.
func (e *Engine) Provider() llm.Provider {
	return e.provider
}

// AddObserver registers o for engine events. Observers added after
// startup only see events emitted from then on.
func (e *Engine) AddObserver(o Observer) {
	e.obsMu.Lock()
	e.observers = append(e.observers, o)
	e.obsMu.Unlock()
}

// emit delivers ev to every observer synchronously, stamping the event
// time when the producer left it zero.
func (e *Engine) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = e.now()
	}

	e.obsMu.RLock()
	obs := make([]Observer, len(e.observers))
	copy(obs, e.observers)
	e.obsMu.RUnlock()

	for _, o := range obs {
		o.OnEvent(ev)
	}
}

// ActiveStreams reports how many responses are streaming right now.
func (e *Engine) ActiveStreams() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.streams)
}

// GetStats reports engine activity counters.
func (e *Engine) GetStats() map[string]interface{} {
	activeStreams := e.ActiveStreams()

	return map[string]interface{}{
		"provider":           e.provider.Name(),
		"active_context":     string(e.conv.Active()),
		"active_streams":     activeStreams,
		"streams_started":    e.started.Load(),
		"streams_completed":  e.completed.Load(),
		"streams_cancelled":  e.cancelled.Load(),
		"streams_failed":     e.failed.Load(),
		"documents_analyzed": e.analyzed.Load(),
		"cases_created":      e.created.Load(),
		"context_switches":   e.switches.Load(),
	}
}

// Close cancels every in-flight stream and waits for their goroutines to
// fold their outcomes into the conversation.
func (e *Engine) Close() error {
	e.cancel()
	e.wg.Wait()
	return nil
}
