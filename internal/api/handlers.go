package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/counselhq/counsel/internal/analysis"
	"github.com/counselhq/counsel/internal/chat"
	"github.com/counselhq/counsel/internal/engine"
	"github.com/counselhq/counsel/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decode reads a JSON body into v, enforcing the body size cap.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// contextFromQuery resolves the optional ?context= parameter, defaulting
// to the active context.
func (s *Server) contextFromQuery(r *http.Request) (chat.ContextKey, error) {
	raw := r.URL.Query().Get("context")
	if raw == "" {
		return s.eng.ActiveContext(), nil
	}
	return chat.ParseContextKey(raw)
}

func nonNilMessages(msgs []chat.Message) []chat.Message {
	if msgs == nil {
		return []chat.Message{}
	}
	return msgs
}

type startMessageRequest struct {
	Context string `json:"context"`
	Content string `json:"content"`
}

// handleStartMessage accepts a user message and starts the reply stream.
// The response is 202: the assistant answer arrives via /v1/events.
func (s *Server) handleStartMessage(w http.ResponseWriter, r *http.Request) {
	var req startMessageRequest
	if !s.decode(w, r, &req) {
		return
	}
	key, err := chat.ParseContextKey(req.Context)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	streamID, err := s.eng.StartMessage(r.Context(), key, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrSessionBusy):
			writeError(w, http.StatusConflict, err.Error())
		case strings.Contains(err.Error(), "not active"):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	s.logger.Printf("Stream %s started for %s remote=%s", streamID, key, remoteIP(r.RemoteAddr))
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"stream_id": streamID,
		"context":   key,
	})
}

type cancelStreamRequest struct {
	Context string `json:"context"`
}

func (s *Server) handleCancelStream(w http.ResponseWriter, r *http.Request) {
	var req cancelStreamRequest
	if !s.decode(w, r, &req) {
		return
	}
	key, err := chat.ParseContextKey(req.Context)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"context":   key,
		"cancelled": s.eng.CancelStream(key),
	})
}

type switchContextRequest struct {
	Context string `json:"context"`
}

func (s *Server) handleSwitchContext(w http.ResponseWriter, r *http.Request) {
	var req switchContextRequest
	if !s.decode(w, r, &req) {
		return
	}
	key, err := chat.ParseContextKey(req.Context)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var msgs []chat.Message
	if key.IsCase() {
		msgs, err = s.eng.SwitchToCase(r.Context(), key.CaseID())
	} else {
		msgs, err = s.eng.SwitchContext(r.Context(), key)
	}
	if err != nil {
		s.writeSwitchError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"context":  key,
		"messages": nonNilMessages(msgs),
	})
}

// writeSwitchError maps context switch failures to HTTP statuses. A
// *ContextSwitchError means the case exists and only the switch needs
// retrying.
func (s *Server) writeSwitchError(w http.ResponseWriter, err error) {
	var sw *engine.ContextSwitchError
	if errors.As(err, &sw) {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":   sw.Error(),
			"case_id": sw.CaseID,
			"retry":   "POST /v1/cases/" + sw.CaseID + "/switch",
		})
		return
	}
	if strings.Contains(err.Error(), "not found") {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	key, err := s.contextFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var msgs []chat.Message
	if key == s.eng.ActiveContext() {
		msgs = s.eng.Conversation()
	} else {
		msgs, err = s.eng.PeekConversation(r.Context(), key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"context":  key,
		"active":   s.eng.ActiveContext(),
		"messages": nonNilMessages(msgs),
	})
}

func (s *Server) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	key, err := s.contextFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.eng.ClearConversation(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": key})
}

type analyzeDocumentRequest struct {
	Context   string `json:"context"`
	FileName  string `json:"file_name"`
	MediaType string `json:"media_type"`
	SizeBytes int64  `json:"size_bytes"`
	Content   []byte `json:"content"`
}

func (s *Server) handleAnalyzeDocument(w http.ResponseWriter, r *http.Request) {
	var req analyzeDocumentRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.FileName) == "" {
		writeError(w, http.StatusBadRequest, "file_name is required")
		return
	}

	key := s.eng.ActiveContext()
	if req.Context != "" {
		var err error
		key, err = chat.ParseContextKey(req.Context)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	res, err := s.eng.AnalyzeDocument(r.Context(), key, analysis.Document{
		FileName:  req.FileName,
		MediaType: req.MediaType,
		SizeBytes: req.SizeBytes,
		Content:   req.Content,
	})
	if err != nil {
		var aerr *engine.AnalysisError
		switch {
		case errors.Is(err, analysis.ErrUnsupportedType), errors.Is(err, analysis.ErrTooLarge):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.As(err, &aerr):
			writeError(w, http.StatusBadGateway, err.Error())
		case strings.Contains(err.Error(), "not active"):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"context":  key,
		"analysis": res,
	})
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	cases, err := s.cases.ListCases(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cases == nil {
		cases = []store.Case{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cases": cases})
}

type createCaseRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Origin      string  `json:"origin"`
	Confidence  float64 `json:"confidence"`
}

func (s *Server) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var req createCaseRequest
	if !s.decode(w, r, &req) {
		return
	}

	created, err := s.eng.CreateCase(r.Context(), chat.SuggestedCase{
		Title:       req.Title,
		Description: req.Description,
		Confidence:  req.Confidence,
	}, req.Origin)
	if err != nil {
		var dup *engine.DuplicateCaseError
		if errors.As(err, &dup) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error":         err.Error(),
				"existing_case": dup.Existing,
			})
			return
		}
		var sw *engine.ContextSwitchError
		if errors.As(err, &sw) {
			// The case was created; the caller retries only the switch.
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":   sw.Error(),
				"case":    created,
				"case_id": sw.CaseID,
				"retry":   "POST /v1/cases/" + sw.CaseID + "/switch",
			})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"case":     created,
		"context":  chat.CaseContext(created.ID),
		"messages": nonNilMessages(s.eng.Conversation()),
	})
}

type proposeCaseRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleProposeCase(w http.ResponseWriter, r *http.Request) {
	var req proposeCaseRequest
	if !s.decode(w, r, &req) {
		return
	}

	err := s.eng.ProposeCase(r.Context(), req.Title)
	if err != nil {
		var dup *engine.DuplicateCaseError
		if errors.As(err, &dup) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"available":     false,
				"existing_case": dup.Existing,
			})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"available": true,
		"title":     strings.TrimSpace(req.Title),
	})
}

func (s *Server) handleSwitchCase(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("id")

	msgs, err := s.eng.SwitchToCase(r.Context(), caseID)
	if err != nil {
		s.writeSwitchError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"context":  chat.CaseContext(caseID),
		"messages": nonNilMessages(msgs),
	})
}

func (s *Server) handleCaseDocuments(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("id")

	docs, err := s.cases.ListDocuments(r.Context(), caseID, time.Time{}, time.Time{}, nil, 0, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("id")

	notes, err := s.cases.GetNotes(r.Context(), caseID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if notes == nil {
		notes = []store.Note{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notes": notes})
}

type addNoteRequest struct {
	Content    string `json:"content"`
	Author     string `json:"author"`
	Pinned     bool   `json:"pinned"`
	LinkedType string `json:"linked_type"`
	LinkedID   string `json:"linked_id"`
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("id")
	var req addNoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	if _, err := s.cases.GetCase(r.Context(), caseID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	noteID, err := s.cases.AddNote(r.Context(), store.Note{
		CaseID:     caseID,
		Content:    req.Content,
		Author:     req.Author,
		Pinned:     req.Pinned,
		LinkedType: req.LinkedType,
		LinkedID:   req.LinkedID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": noteID})
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	noteID := r.PathValue("id")

	if err := s.cases.DeleteNote(r.Context(), noteID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	contextKey := r.URL.Query().Get("context")
	limit := queryInt(r, "limit", 50)

	entries, err := s.cases.GetAuditEntries(r.Context(), contextKey, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []store.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := queryInt(r, "limit", 20)

	cases, err := s.cases.SearchCases(r.Context(), query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	docs, err := s.cases.SearchDocuments(r.Context(), query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cases == nil {
		cases = []store.Case{}
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":     query,
		"cases":     cases,
		"documents": docs,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	busStats, err := s.bus.GetStats(r.Context())
	if err != nil {
		busStats = map[string]interface{}{"error": err.Error()}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"engine": s.eng.GetStats(),
		"bus":    busStats,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":   "ok",
		"provider": s.eng.Provider().Name(),
	}
	if err := s.bus.HealthCheck(r.Context()); err != nil {
		resp["bus"] = "unavailable"
	} else {
		resp["bus"] = "ok"
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
