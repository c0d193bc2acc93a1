package analysis

import (
	"context"
	"strings"
	"testing"
)

func TestHeuristicTextWithTopic(t *testing.T) {
	h := NewHeuristic()

	content := []byte("My employer sent a termination notice. The dismissal cited redundancy but no severance was offered.")
	doc := Document{
		FileName:  "notes.txt",
		MediaType: "txt",
		SizeBytes: int64(len(content)),
		Content:   content,
	}

	res, err := h.Analyze(context.Background(), doc)
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if !strings.Contains(res.Summary, "employment") {
		t.Errorf("expected employment in summary, got: %q", res.Summary)
	}
	if len(res.KeyPoints) == 0 {
		t.Errorf("expected key points for matched topics")
	}
	if res.Suggestion == nil {
		t.Fatalf("expected a case suggestion for strong topic signal")
	}
	if !strings.Contains(res.Suggestion.Title, "Employment") {
		t.Errorf("unexpected suggestion title: %q", res.Suggestion.Title)
	}
	if res.Suggestion.Confidence < 0.5 || res.Suggestion.Confidence > 0.9 {
		t.Errorf("confidence outside heuristic ladder: %v", res.Suggestion.Confidence)
	}
	if res.Suggestion.CaseType != "employment" {
		t.Errorf("expected employment case type, got: %q", res.Suggestion.CaseType)
	}
	if res.Suggestion.FieldConfidences["title"] != res.Suggestion.Confidence {
		t.Errorf("field confidence should match overall: %+v", res.Suggestion.FieldConfidences)
	}
}

func TestHeuristicExtractsDatesAndParties(t *testing.T) {
	h := NewHeuristic()

	content := []byte("Smith v Jones concerns a lease signed on 2023-04-01. " +
		"The landlord served notice on 15 March 2024 and again on 01/06/2024.")
	res, err := h.Analyze(context.Background(), Document{
		FileName:  "lease_notes.txt",
		MediaType: "txt",
		SizeBytes: int64(len(content)),
		Content:   content,
	})
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}

	wantDates := map[string]bool{"2023-04-01": true, "15 March 2024": true, "01/06/2024": true}
	for _, d := range res.DatesFound {
		delete(wantDates, d)
	}
	if len(wantDates) != 0 {
		t.Errorf("missing dates %v in %v", wantDates, res.DatesFound)
	}

	if len(res.Parties) != 2 || res.Parties[0] != "Smith" || res.Parties[1] != "Jones" {
		t.Errorf("expected parties [Smith Jones], got %v", res.Parties)
	}
}

func TestExtractPartiesVariants(t *testing.T) {
	parties := extractParties("The caption reads Acme Logistics vs. Jane Doe throughout.", 6)
	if len(parties) != 2 || parties[0] != "Acme Logistics" || parties[1] != "Jane Doe" {
		t.Errorf("unexpected parties: %v", parties)
	}

	if got := extractParties("no captions here", 6); len(got) != 0 {
		t.Errorf("expected no parties, got %v", got)
	}
}

func TestHeuristicTextWithoutTopic(t *testing.T) {
	h := NewHeuristic()

	content := []byte("shopping list: apples, bananas, coffee")
	res, err := h.Analyze(context.Background(), Document{
		FileName:  "list.txt",
		MediaType: "txt",
		SizeBytes: int64(len(content)),
		Content:   content,
	})
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if res.Suggestion != nil {
		t.Errorf("expected no suggestion for topicless text, got: %+v", res.Suggestion)
	}
	if res.Summary == "" {
		t.Errorf("expected a summary even without topics")
	}
}

func TestHeuristicBinaryDocument(t *testing.T) {
	h := NewHeuristic()

	res, err := h.Analyze(context.Background(), Document{
		FileName:  "dismissal_letter.pdf",
		MediaType: "pdf",
		SizeBytes: 20480,
	})
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if res.Suggestion != nil {
		t.Errorf("expected no suggestion for binary document, got: %+v", res.Suggestion)
	}
	if !strings.Contains(res.Summary, "dismissal_letter.pdf") {
		t.Errorf("expected file name in summary: %q", res.Summary)
	}
}

func TestConfidenceForHits(t *testing.T) {
	cases := []struct {
		hits int
		want float64
	}{
		{1, 0.5},
		{3, 0.6},
		{5, 0.7},
		{8, 0.8},
		{12, 0.9},
		{100, 0.9},
	}
	for _, tc := range cases {
		if got := confidenceForHits(tc.hits); got != tc.want {
			t.Errorf("confidenceForHits(%d) = %v, want %v", tc.hits, got, tc.want)
		}
	}
}
