package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselhq/counsel/internal/analysis"
	"github.com/counselhq/counsel/internal/chat"
	"github.com/counselhq/counsel/internal/convstore"
	"github.com/counselhq/counsel/internal/llm"
	"github.com/counselhq/counsel/internal/store"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// recorder collects engine events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) kinds() []EventKind {
	evs := r.snapshot()
	out := make([]EventKind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func (r *recorder) first(kind EventKind) (Event, bool) {
	for _, ev := range r.snapshot() {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return Event{}, false
}

func (r *recorder) count(kind EventKind) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) has(kind EventKind) bool {
	_, ok := r.first(kind)
	return ok
}

// scriptProvider replays a fixed chunk sequence. When gate is set, each
// chunk waits for one receive, so tests control exactly how far the
// stream has progressed.
type scriptProvider struct {
	mu      sync.Mutex
	chunks  []string
	err     error
	gate    chan struct{}
	calls   int
	lastReq llm.ChatRequest
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) StreamChat(ctx context.Context, req llm.ChatRequest, onDelta func(delta string) error) (string, error) {
	p.mu.Lock()
	p.calls++
	p.lastReq = req
	p.mu.Unlock()

	var full strings.Builder
	for _, chunk := range p.chunks {
		if p.gate != nil {
			select {
			case <-p.gate:
			case <-ctx.Done():
				return full.String(), ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return full.String(), err
		}
		full.WriteString(chunk)
		if err := onDelta(chunk); err != nil {
			return full.String(), err
		}
	}
	if p.err != nil {
		return full.String(), p.err
	}
	return full.String(), nil
}

func (p *scriptProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptProvider) request() llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReq
}

// countingAnalyzer counts Analyze calls and returns a canned result or error.
type countingAnalyzer struct {
	mu    sync.Mutex
	calls int
	res   *chat.DocumentAnalysis
	err   error
}

func (a *countingAnalyzer) Analyze(ctx context.Context, doc analysis.Document) (*chat.DocumentAnalysis, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()

	if a.err != nil {
		return nil, a.err
	}
	res := *a.res
	res.FileName = doc.FileName
	res.MediaType = doc.MediaType
	res.SizeBytes = doc.SizeBytes
	return &res, nil
}

func (a *countingAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func newTestEngine(t *testing.T, p llm.Provider, tweak ...func(*Options)) (*Engine, *store.Store, *recorder) {
	t.Helper()

	conv, err := convstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { conv.Close() })

	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	opts := Options{
		Conversations: conv,
		Cases:         st,
		Provider:      p,
		Logger:        log.New(io.Discard, "", 0),
	}
	for _, fn := range tweak {
		fn(&opts)
	}

	eng, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	rec := &recorder{}
	eng.AddObserver(rec)
	return eng, st, rec
}

func TestStreamLifecycle(t *testing.T) {
	p := &scriptProvider{chunks: []string{"The first step is", " to review your", " contract."}}
	eng, _, rec := newTestEngine(t, p)
	ctx := context.Background()

	streamID, err := eng.StartMessage(ctx, chat.GlobalContext, "What should I do about my contract?")
	require.NoError(t, err)
	require.NotEmpty(t, streamID)

	require.Eventually(t, func() bool { return rec.has(EventStreamCompleted) }, waitFor, tick)

	msgs := eng.Conversation()
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, "What should I do about my contract?", msgs[0].Content)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "The first step is to review your contract.", msgs[1].Content)

	kinds := rec.kinds()
	require.GreaterOrEqual(t, len(kinds), 5)
	assert.Equal(t, EventUserMessageAppended, kinds[0])
	assert.Equal(t, EventStreamCompleted, kinds[len(kinds)-1])
	assert.Equal(t, 3, rec.count(EventDelta))

	var joined strings.Builder
	for _, ev := range rec.snapshot() {
		if ev.Kind == EventDelta {
			assert.Equal(t, streamID, ev.StreamID)
			joined.WriteString(ev.Delta)
		}
	}
	assert.Equal(t, "The first step is to review your contract.", joined.String())

	done, ok := rec.first(EventStreamCompleted)
	require.True(t, ok)
	require.NotNil(t, done.Message)
	assert.Equal(t, msgs[1].Content, done.Message.Content)

	// The provider saw the user message at the end of the history.
	req := p.request()
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, chat.RoleUser, req.Messages[len(req.Messages)-1].Role)
	assert.Equal(t, llm.PersonaCounsel, req.Persona)
}

func TestStartMessageAppendsBeforeProviderIO(t *testing.T) {
	p := &scriptProvider{chunks: []string{"never delivered"}, gate: make(chan struct{})}
	eng, _, rec := newTestEngine(t, p)

	_, err := eng.StartMessage(context.Background(), chat.GlobalContext, "hello")
	require.NoError(t, err)

	// The provider is still blocked, yet the user message is already in
	// the conversation and announced.
	msgs := eng.Conversation()
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.True(t, rec.has(EventUserMessageAppended))
	assert.False(t, rec.has(EventDelta))

	require.True(t, eng.CancelStream(chat.GlobalContext))
	require.Eventually(t, func() bool { return rec.has(EventStreamCancelled) }, waitFor, tick)
}

func TestStartMessageRejectsEmptyAndInactive(t *testing.T) {
	p := &scriptProvider{chunks: []string{"ok"}}
	eng, _, _ := newTestEngine(t, p)
	ctx := context.Background()

	_, err := eng.StartMessage(ctx, chat.GlobalContext, "   ")
	require.Error(t, err)

	_, err = eng.StartMessage(ctx, chat.CaseContext("case_missing"), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")
}

func TestSessionBusySecondStart(t *testing.T) {
	p := &scriptProvider{chunks: []string{"slow reply"}, gate: make(chan struct{})}
	eng, _, rec := newTestEngine(t, p)
	ctx := context.Background()

	_, err := eng.StartMessage(ctx, chat.GlobalContext, "first")
	require.NoError(t, err)

	_, err = eng.StartMessage(ctx, chat.GlobalContext, "second")
	require.ErrorIs(t, err, ErrSessionBusy)

	// Only the accepted message landed.
	require.Len(t, eng.Conversation(), 1)

	require.True(t, eng.CancelStream(chat.GlobalContext))
	require.Eventually(t, func() bool { return rec.has(EventStreamCancelled) }, waitFor, tick)

	// The slot frees up once the stream winds down.
	require.Eventually(t, func() bool {
		_, err := eng.StartMessage(ctx, chat.GlobalContext, "third")
		return err == nil
	}, waitFor, tick)
}

func TestCancelPreservesPartial(t *testing.T) {
	gate := make(chan struct{})
	p := &scriptProvider{chunks: []string{"Hello", " there"}, gate: gate}
	eng, _, rec := newTestEngine(t, p)

	_, err := eng.StartMessage(context.Background(), chat.GlobalContext, "hi")
	require.NoError(t, err)

	gate <- struct{}{} // let the first chunk through
	require.Eventually(t, func() bool { return rec.count(EventDelta) == 1 }, waitFor, tick)

	require.True(t, eng.CancelStream(chat.GlobalContext))
	require.Eventually(t, func() bool { return rec.has(EventStreamCancelled) }, waitFor, tick)

	ev, _ := rec.first(EventStreamCancelled)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "Hello", ev.Message.Content)

	msgs := eng.Conversation()
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello", msgs[1].Content)
}

func TestCancelBeforeFirstDelta(t *testing.T) {
	p := &scriptProvider{chunks: []string{"Hello"}, gate: make(chan struct{})}
	eng, _, rec := newTestEngine(t, p)

	_, err := eng.StartMessage(context.Background(), chat.GlobalContext, "hi")
	require.NoError(t, err)

	require.True(t, eng.CancelStream(chat.GlobalContext))
	require.Eventually(t, func() bool { return rec.has(EventStreamCancelled) }, waitFor, tick)

	// Nothing arrived, so no assistant message is synthesized.
	ev, _ := rec.first(EventStreamCancelled)
	assert.Nil(t, ev.Message)
	msgs := eng.Conversation()
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
}

func TestCancelStreamIdle(t *testing.T) {
	p := &scriptProvider{}
	eng, _, _ := newTestEngine(t, p)
	assert.False(t, eng.CancelStream(chat.GlobalContext))
}

func TestStreamFailureSynthesizesMessage(t *testing.T) {
	p := &scriptProvider{chunks: []string{"I was saying"}, err: errors.New("connection reset")}
	eng, _, rec := newTestEngine(t, p)

	_, err := eng.StartMessage(context.Background(), chat.GlobalContext, "hi")
	require.NoError(t, err, "stream errors surface as messages, not as errors")

	require.Eventually(t, func() bool { return rec.has(EventStreamFailed) }, waitFor, tick)

	msgs := eng.Conversation()
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "I was saying\n\n(reply interrupted: connection reset)", msgs[1].Content)

	ev, _ := rec.first(EventStreamFailed)
	require.NotNil(t, ev.Message)
	assert.Equal(t, msgs[1].Content, ev.Message.Content)

	stats := eng.GetStats()
	assert.Equal(t, uint64(1), stats["streams_failed"])
}

func TestStreamFailureWithoutPartial(t *testing.T) {
	p := &scriptProvider{err: errors.New("dial tcp: connection refused")}
	eng, _, rec := newTestEngine(t, p)

	_, err := eng.StartMessage(context.Background(), chat.GlobalContext, "hi")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.has(EventStreamFailed) }, waitFor, tick)

	msgs := eng.Conversation()
	require.Len(t, msgs, 2)
	assert.Equal(t, "(reply interrupted: dial tcp: connection refused)", msgs[1].Content)
}

func TestSwitchContextDropsStaleFinalAppend(t *testing.T) {
	gate := make(chan struct{})
	p := &scriptProvider{chunks: []string{"stale reply"}, gate: gate}
	eng, _, rec := newTestEngine(t, p)
	ctx := context.Background()

	_, err := eng.StartMessage(ctx, chat.GlobalContext, "hi")
	require.NoError(t, err)

	other := chat.CaseContext("case_elsewhere")
	msgs, err := eng.SwitchContext(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, other, eng.ActiveContext())

	close(gate)
	require.Eventually(t, func() bool { return rec.has(EventStreamCompleted) }, waitFor, tick)

	// The reply finished against a stale generation and was dropped.
	assert.Empty(t, eng.Conversation())
	global, err := eng.PeekConversation(ctx, chat.GlobalContext)
	require.NoError(t, err)
	require.Len(t, global, 1)
	assert.Equal(t, chat.RoleUser, global[0].Role)
}

func TestSwitchContextEmitsFullReplace(t *testing.T) {
	p := &scriptProvider{chunks: []string{"noted."}}
	eng, _, rec := newTestEngine(t, p)
	ctx := context.Background()

	_, err := eng.StartMessage(ctx, chat.GlobalContext, "remember this")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.has(EventStreamCompleted) }, waitFor, tick)

	other := chat.CaseContext("case_new")
	_, err = eng.SwitchContext(ctx, other)
	require.NoError(t, err)

	back, err := eng.SwitchContext(ctx, chat.GlobalContext)
	require.NoError(t, err)
	require.Len(t, back, 2)

	evs := rec.snapshot()
	last := evs[len(evs)-1]
	require.Equal(t, EventContextSwitched, last.Kind)
	assert.Equal(t, chat.GlobalContext, last.Context)
	require.Len(t, last.Messages, 2)
	assert.Equal(t, "remember this", last.Messages[0].Content)
}

func TestClearConversation(t *testing.T) {
	gate := make(chan struct{})
	p := &scriptProvider{chunks: []string{"gone soon"}, gate: gate}
	eng, _, rec := newTestEngine(t, p)
	ctx := context.Background()

	_, err := eng.StartMessage(ctx, chat.GlobalContext, "hi")
	require.NoError(t, err)
	require.Len(t, eng.Conversation(), 1)

	require.NoError(t, eng.ClearConversation(ctx, chat.GlobalContext))
	assert.Empty(t, eng.Conversation())

	// The in-flight reply lands on a bumped generation and is dropped.
	close(gate)
	require.Eventually(t, func() bool { return rec.has(EventStreamCompleted) }, waitFor, tick)
	assert.Empty(t, eng.Conversation())

	peeked, err := eng.PeekConversation(ctx, chat.GlobalContext)
	require.NoError(t, err)
	assert.Empty(t, peeked)
}

func TestProposeCaseDuplicate(t *testing.T) {
	p := &scriptProvider{}
	eng, _, rec := newTestEngine(t, p)
	ctx := context.Background()

	created, err := eng.CreateCase(ctx, chat.SuggestedCase{Title: "Smith v Jones"}, "manual")
	require.NoError(t, err)

	err = eng.ProposeCase(ctx, "smith V JONES")
	require.Error(t, err)
	var dup *DuplicateCaseError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "Smith v Jones", dup.Existing.Title)
	assert.Equal(t, created.ID, dup.Existing.ID)

	ev, ok := rec.first(EventDuplicateDetected)
	require.True(t, ok)
	require.NotNil(t, ev.Case)
	assert.Equal(t, created.ID, ev.Case.ID)

	// Whitespace does not dodge the match.
	err = eng.ProposeCase(ctx, "  Smith v Jones  ")
	require.ErrorAs(t, err, &dup)

	// A genuinely new title passes.
	require.NoError(t, eng.ProposeCase(ctx, "Brown v Board"))
}

func TestCreateCaseSwitchAndGuidance(t *testing.T) {
	p := &scriptProvider{chunks: []string{"Sorry to hear that. Tell me more."}}
	eng, st, rec := newTestEngine(t, p)
	ctx := context.Background()

	_, err := eng.StartMessage(ctx, chat.GlobalContext, "I think I was unfairly dismissed")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.has(EventStreamCompleted) }, waitFor, tick)

	proposal := chat.SuggestedCase{
		Title:       "Case regarding dismissal_letter.pdf",
		Description: "Started from uploaded document dismissal_letter.pdf",
		Confidence:  0.3,
	}
	created, err := eng.CreateCase(ctx, proposal, "document")
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, "document", created.Origin)

	// The case context is active and opens with the guidance message.
	assert.Equal(t, chat.CaseContext(created.ID), eng.ActiveContext())
	msgs := eng.Conversation()
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.RoleAssistant, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, `Case "Case regarding dismissal_letter.pdf" is ready`)
	assert.Contains(t, msgs[0].Content, "not legal advice")
	assert.Contains(t, msgs[0].Content, "licensed attorney")

	// Created first, switched second.
	createdEv, ok := rec.first(EventCaseCreated)
	require.True(t, ok)
	assert.Equal(t, created.ID, createdEv.CaseID)
	switchEv, ok := rec.first(EventContextSwitched)
	require.True(t, ok)
	assert.Equal(t, chat.CaseContext(created.ID), switchEv.Context)
	require.NotEmpty(t, switchEv.Messages)
	assert.Contains(t, switchEv.Messages[len(switchEv.Messages)-1].Content, "is ready")

	// The global conversation is untouched.
	global, err := eng.PeekConversation(ctx, chat.GlobalContext)
	require.NoError(t, err)
	require.Len(t, global, 2)
	assert.Equal(t, "I think I was unfairly dismissed", global[0].Content)

	cases, err := st.ListCases(ctx)
	require.NoError(t, err)
	require.Len(t, cases, 1)
}

func TestCreateCaseDuplicateRejected(t *testing.T) {
	p := &scriptProvider{}
	eng, st, _ := newTestEngine(t, p)
	ctx := context.Background()

	first, err := eng.CreateCase(ctx, chat.SuggestedCase{Title: "Smith v Jones"}, "manual")
	require.NoError(t, err)

	_, err = eng.CreateCase(ctx, chat.SuggestedCase{Title: "SMITH V JONES"}, "manual")
	var dup *DuplicateCaseError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.Existing.ID)

	// Nothing was created and the active context did not move.
	cases, err := st.ListCases(ctx)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, chat.CaseContext(first.ID), eng.ActiveContext())
}

func TestCreateCaseSwitchFailureRetry(t *testing.T) {
	p := &scriptProvider{}
	eng, st, rec := newTestEngine(t, p)

	// Cancel the caller's context the moment the case exists, so the
	// switch that follows creation fails.
	cctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.AddObserver(ObserverFunc(func(ev Event) {
		if ev.Kind == EventCaseCreated {
			cancel()
		}
	}))

	created, err := eng.CreateCase(cctx, chat.SuggestedCase{Title: "Deposit recovery"}, "manual")
	require.Error(t, err)
	var swErr *ContextSwitchError
	require.ErrorAs(t, err, &swErr)
	require.NotNil(t, created)
	assert.Equal(t, created.ID, swErr.CaseID)

	// The case exists but the conversation never moved.
	assert.Equal(t, chat.GlobalContext, eng.ActiveContext())
	assert.Equal(t, 0, rec.count(EventContextSwitched))

	ctx := context.Background()
	cases, err := st.ListCases(ctx)
	require.NoError(t, err)
	require.Len(t, cases, 1)

	// Retrying the switch completes the flow without a second create,
	// and the guidance message still arrives.
	msgs, err := eng.SwitchToCase(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, `Case "Deposit recovery" is ready`)
	assert.Equal(t, chat.CaseContext(created.ID), eng.ActiveContext())

	cases, err = st.ListCases(ctx)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, 1, rec.count(EventContextSwitched))
}

func TestGuidanceAppendedOnlyOnce(t *testing.T) {
	p := &scriptProvider{}
	eng, _, _ := newTestEngine(t, p)
	ctx := context.Background()

	created, err := eng.CreateCase(ctx, chat.SuggestedCase{Title: "Noise complaint"}, "manual")
	require.NoError(t, err)
	require.Len(t, eng.Conversation(), 1)

	_, err = eng.SwitchContext(ctx, chat.GlobalContext)
	require.NoError(t, err)

	msgs, err := eng.SwitchToCase(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "guidance is seeded once, not on every visit")
}

func TestSwitchToCaseUnknownID(t *testing.T) {
	p := &scriptProvider{}
	eng, _, _ := newTestEngine(t, p)

	_, err := eng.SwitchToCase(context.Background(), "case_nope")
	require.Error(t, err)
	assert.Equal(t, chat.GlobalContext, eng.ActiveContext())
}

func TestAnalyzeDocumentFallbackSuggestion(t *testing.T) {
	p := &scriptProvider{}
	eng, st, rec := newTestEngine(t, p)
	ctx := context.Background()

	doc := analysis.Document{
		FileName: "dismissal_letter.pdf",
		Content:  []byte("%PDF-1.4 binary payload"),
	}
	res, err := eng.AnalyzeDocument(ctx, chat.GlobalContext, doc)
	require.NoError(t, err)
	require.NotNil(t, res)

	// Binary formats yield no analyzer suggestion; outside a case the
	// engine falls back to a low-confidence one.
	require.NotNil(t, res.Suggestion)
	assert.Equal(t, "Case regarding dismissal_letter.pdf", res.Suggestion.Title)
	assert.Equal(t, analysis.FallbackConfidence, res.Suggestion.Confidence)
	require.NotEmpty(t, res.DocumentID)

	msgs := eng.Conversation()
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.RoleAssistant, msgs[0].Role)
	require.NotNil(t, msgs[0].Analysis)
	assert.Equal(t, res.DocumentID, msgs[0].Analysis.DocumentID)
	assert.Contains(t, msgs[0].Content, "Analyzed dismissal_letter.pdf.")
	assert.Contains(t, msgs[0].Content, `Suggested case: "Case regarding dismissal_letter.pdf" (confidence 0.30)`)

	ev, ok := rec.first(EventDocumentAnalyzed)
	require.True(t, ok)
	require.NotNil(t, ev.Message)
	assert.Equal(t, chat.GlobalContext, ev.Context)

	// The document was recorded, unassigned to any case.
	docs, err := st.ListDocuments(ctx, "", time.Time{}, time.Time{}, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "dismissal_letter.pdf", docs[0].FileName)
	assert.Empty(t, docs[0].CaseID)

	stats := eng.GetStats()
	assert.Equal(t, uint64(1), stats["documents_analyzed"])
}

func TestAnalyzeDocumentValidation(t *testing.T) {
	p := &scriptProvider{}
	analyzer := &countingAnalyzer{res: &chat.DocumentAnalysis{Summary: "unused"}}
	eng, st, _ := newTestEngine(t, p, func(o *Options) {
		o.Analyzer = analyzer
		o.MaxDocBytes = 1024
	})
	ctx := context.Background()

	_, err := eng.AnalyzeDocument(ctx, chat.GlobalContext, analysis.Document{
		FileName: "malware.exe",
		Content:  []byte("MZ"),
	})
	require.ErrorIs(t, err, analysis.ErrUnsupportedType)
	var aerr *AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "malware.exe", aerr.FileName)

	_, err = eng.AnalyzeDocument(ctx, chat.GlobalContext, analysis.Document{
		FileName:  "big.pdf",
		SizeBytes: 2048,
	})
	require.ErrorIs(t, err, analysis.ErrTooLarge)

	// Rejection happens before the analyzer or the store see anything.
	assert.Equal(t, 0, analyzer.callCount())
	assert.Empty(t, eng.Conversation())
	docs, err := st.ListDocuments(ctx, "", time.Time{}, time.Time{}, nil, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestAnalyzeDocumentAnalyzerFailure(t *testing.T) {
	p := &scriptProvider{}
	analyzer := &countingAnalyzer{err: errors.New("analysis service unavailable")}
	eng, st, rec := newTestEngine(t, p, func(o *Options) { o.Analyzer = analyzer })
	ctx := context.Background()

	_, err := eng.AnalyzeDocument(ctx, chat.GlobalContext, analysis.Document{
		FileName: "notes.txt",
		Content:  []byte("plain text"),
	})
	require.Error(t, err)
	var aerr *AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "notes.txt", aerr.FileName)

	// Exactly one attempt, nothing recorded anywhere.
	assert.Equal(t, 1, analyzer.callCount())
	assert.Empty(t, eng.Conversation())
	assert.False(t, rec.has(EventDocumentAnalyzed))
	docs, err := st.ListDocuments(ctx, "", time.Time{}, time.Time{}, nil, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestAnalyzeDocumentInsideCase(t *testing.T) {
	p := &scriptProvider{}
	eng, st, _ := newTestEngine(t, p)
	ctx := context.Background()

	created, err := eng.CreateCase(ctx, chat.SuggestedCase{Title: "Lease dispute"}, "manual")
	require.NoError(t, err)
	key := chat.CaseContext(created.ID)

	res, err := eng.AnalyzeDocument(ctx, key, analysis.Document{
		FileName: "lease_scan.png",
		Content:  []byte{0x89, 0x50, 0x4e, 0x47},
	})
	require.NoError(t, err)

	// Inside a case there is no fallback suggestion; the document simply
	// joins the case.
	assert.Nil(t, res.Suggestion)

	docs, err := st.ListDocuments(ctx, created.ID, time.Time{}, time.Time{}, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, created.ID, docs[0].CaseID)

	// Guidance first, then the analysis message.
	msgs := eng.Conversation()
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[1].Analysis)
	assert.Equal(t, res.DocumentID, msgs[1].Analysis.DocumentID)
}

func TestAnalyzeDocumentTextSuggestion(t *testing.T) {
	p := &scriptProvider{}
	eng, _, _ := newTestEngine(t, p)
	ctx := context.Background()

	content := []byte("My employer issued a termination notice. The dismissal felt retaliatory and no severance was offered.")
	res, err := eng.AnalyzeDocument(ctx, chat.GlobalContext, analysis.Document{
		FileName: "timeline.txt",
		Content:  content,
	})
	require.NoError(t, err)

	// A text document with clear signals keeps the analyzer's own
	// suggestion instead of the fallback.
	require.NotNil(t, res.Suggestion)
	assert.Contains(t, res.Suggestion.Title, "Employment dispute")
	assert.Greater(t, res.Suggestion.Confidence, analysis.FallbackConfidence)
}

func TestConcurrentStreamsAcrossContexts(t *testing.T) {
	gate := make(chan struct{})
	p := &scriptProvider{chunks: []string{"global reply"}, gate: gate}
	eng, _, rec := newTestEngine(t, p)
	ctx := context.Background()

	_, err := eng.StartMessage(ctx, chat.GlobalContext, "question one")
	require.NoError(t, err)

	created, err := eng.CreateCase(ctx, chat.SuggestedCase{Title: "Parallel matter"}, "manual")
	require.NoError(t, err)
	key := chat.CaseContext(created.ID)

	// The case context accepts a stream while the global one is busy.
	_, err = eng.StartMessage(ctx, key, "question two")
	require.NoError(t, err)

	stats := eng.GetStats()
	assert.Equal(t, 2, stats["active_streams"])

	close(gate)
	require.Eventually(t, func() bool { return rec.count(EventStreamCompleted) == 2 }, waitFor, tick)
}

func TestGetStats(t *testing.T) {
	p := &scriptProvider{chunks: []string{"done"}}
	eng, _, rec := newTestEngine(t, p)
	ctx := context.Background()

	_, err := eng.StartMessage(ctx, chat.GlobalContext, "hi")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.has(EventStreamCompleted) }, waitFor, tick)

	_, err = eng.CreateCase(ctx, chat.SuggestedCase{Title: "Stat case"}, "manual")
	require.NoError(t, err)

	stats := eng.GetStats()
	assert.Equal(t, "script", stats["provider"])
	assert.Equal(t, uint64(1), stats["streams_started"])
	assert.Equal(t, uint64(1), stats["streams_completed"])
	assert.Equal(t, uint64(1), stats["cases_created"])
	assert.Equal(t, uint64(1), stats["context_switches"])
	assert.Equal(t, 0, stats["active_streams"])
}

func TestCloseWaitsForStreams(t *testing.T) {
	p := &scriptProvider{chunks: []string{"never finishes"}, gate: make(chan struct{})}
	eng, _, rec := newTestEngine(t, p)

	_, err := eng.StartMessage(context.Background(), chat.GlobalContext, "hi")
	require.NoError(t, err)

	require.NoError(t, eng.Close())

	// Close cancelled the stream and waited for it to settle.
	assert.True(t, rec.has(EventStreamCancelled))
}
