package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newAnalysisTestServer(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	calls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/analyze", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		type reqBody struct {
			FileName  string `json:"file_name"`
			MediaType string `json:"media_type"`
			SizeBytes int64  `json:"size_bytes"`
			Content   []byte `json:"content"`
		}
		var body reqBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if body.FileName == "" {
			http.Error(w, "file_name required", http.StatusBadRequest)
			return
		}

		resp := map[string]interface{}{
			"summary":     "Termination letter citing redundancy",
			"key_points":  []string{"notice period 2 weeks", "no severance mentioned"},
			"dates_found": []string{"2024-02-12"},
			"parties":     []string{"Meridian Logistics", "A. Hale"},
			"suggestion": map[string]interface{}{
				"title":       "Employment dispute (" + body.FileName + ")",
				"case_type":   "employment",
				"description": "Derived from document content",
				"confidence":  0.82,
				"field_confidences": map[string]float64{
					"title": 0.82,
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	srv := httptest.NewServer(mux)
	return srv, &calls
}

func TestClientAnalyze(t *testing.T) {
	srv, calls := newAnalysisTestServer(t)
	defer srv.Close()

	c, err := NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	doc := Document{
		FileName:  "dismissal_letter.pdf",
		MediaType: "pdf",
		SizeBytes: 20480,
		Content:   []byte("%PDF-1.4 fake"),
	}
	res, err := c.Analyze(context.Background(), doc)
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if res.Summary != "Termination letter citing redundancy" {
		t.Errorf("unexpected summary: %q", res.Summary)
	}
	if len(res.KeyPoints) != 2 {
		t.Errorf("expected 2 key points, got %d", len(res.KeyPoints))
	}
	if res.Suggestion == nil || !strings.Contains(res.Suggestion.Title, "dismissal_letter.pdf") {
		t.Fatalf("unexpected suggestion: %+v", res.Suggestion)
	}
	if res.Suggestion.Confidence != 0.82 {
		t.Errorf("expected confidence 0.82, got %v", res.Suggestion.Confidence)
	}
	if res.Suggestion.CaseType != "employment" {
		t.Errorf("expected employment case type, got %q", res.Suggestion.CaseType)
	}
	if res.Suggestion.FieldConfidences["title"] != 0.82 {
		t.Errorf("field confidences not carried: %+v", res.Suggestion.FieldConfidences)
	}
	if len(res.DatesFound) != 1 || res.DatesFound[0] != "2024-02-12" {
		t.Errorf("dates not carried: %v", res.DatesFound)
	}
	if len(res.Parties) != 2 {
		t.Errorf("parties not carried: %v", res.Parties)
	}
	if res.FileName != doc.FileName || res.MediaType != doc.MediaType || res.SizeBytes != doc.SizeBytes {
		t.Errorf("document identity not carried into analysis: %+v", res)
	}
	if *calls != 1 {
		t.Errorf("expected exactly 1 service call, got %d", *calls)
	}
}

func TestClientAnalyzeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "analyzer crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	_, err = c.Analyze(context.Background(), Document{FileName: "a.pdf", MediaType: "pdf", SizeBytes: 1})
	if err == nil {
		t.Fatalf("expected error for 500 status")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("expected status in error, got: %v", err)
	}
}

func TestClientAnalyzeServiceReportedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unreadable document"})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	_, err = c.Analyze(context.Background(), Document{FileName: "a.pdf", MediaType: "pdf", SizeBytes: 1})
	if err == nil || !strings.Contains(err.Error(), "unreadable document") {
		t.Fatalf("expected service error surfaced, got: %v", err)
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient("  ", nil); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}
