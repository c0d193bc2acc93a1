package analysis

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/counselhq/counsel/internal/chat"
)

// Heuristic is the default analyzer when no analysis service is configured.
// It reads plain-text documents for legal topic keywords; binary formats get
// a registration-only summary with no case suggestion.
type Heuristic struct{}

// NewHeuristic creates the local fallback analyzer.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

type topic struct {
	name     string
	title    string
	keywords []string
}

var topics = []topic{
	{
		name:     "employment",
		title:    "Employment dispute",
		keywords: []string{"dismiss", "termination", "employment", "severance", "redundancy", "fired", "employer"},
	},
	{
		name:     "tenancy",
		title:    "Tenancy dispute",
		keywords: []string{"lease", "tenant", "landlord", "deposit", "evict", "rent"},
	},
	{
		name:     "contract",
		title:    "Contract dispute",
		keywords: []string{"agreement", "contract", "breach", "clause", "obligation"},
	},
	{
		name:     "family",
		title:    "Family law matter",
		keywords: []string{"divorce", "custody", "child support", "separation"},
	},
	{
		name:     "debt",
		title:    "Debt recovery",
		keywords: []string{"invoice", "debt", "unpaid", "owed", "collection"},
	},
}

var dateRes = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
	regexp.MustCompile(`\b\d{1,2}(?:st|nd|rd|th)? (?:of )?(?:January|February|March|April|May|June|July|August|September|October|November|December) \d{4}\b`),
}

// partyRe matches "Smith v Jones" style captions, including "vs" and "vs.".
var partyRe = regexp.MustCompile(`\b([A-Z][\w']+(?: [A-Z][\w']+)*) v(?:s\.?)? ([A-Z][\w']+(?: [A-Z][\w']+)*)`)

func extractDates(text string, max int) []string {
	var out []string
	seen := map[string]bool{}
	for _, re := range dateRes {
		for _, m := range re.FindAllString(text, -1) {
			if seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
			if len(out) >= max {
				return out
			}
		}
	}
	return out
}

func extractParties(text string, max int) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range partyRe.FindAllStringSubmatch(text, -1) {
		for _, name := range m[1:] {
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
			if len(out) >= max {
				return out
			}
		}
	}
	return out
}

// Analyze inspects the document and derives a summary, key points and, for
// text documents with clear topic signals, a case suggestion.
func (h *Heuristic) Analyze(ctx context.Context, doc Document) (*chat.DocumentAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &chat.DocumentAnalysis{
		FileName:   doc.FileName,
		MediaType:  doc.MediaType,
		SizeBytes:  doc.SizeBytes,
		AnalyzedAt: time.Now(),
	}

	if doc.MediaType != "txt" {
		// Binary formats are registered, not read.
		out.Summary = fmt.Sprintf("Uploaded %s document %s (%d bytes). Content was not extracted.", doc.MediaType, doc.FileName, doc.SizeBytes)
		return out, nil
	}

	raw := string(doc.Content)
	text := strings.ToLower(raw)

	out.DatesFound = extractDates(raw, 8)
	out.Parties = extractParties(raw, 6)

	type match struct {
		topic topic
		hits  int
		found []string
	}
	var matches []match
	for _, tp := range topics {
		m := match{topic: tp}
		for _, kw := range tp.keywords {
			if n := strings.Count(text, kw); n > 0 {
				m.hits += n
				m.found = append(m.found, kw)
			}
		}
		if m.hits > 0 {
			matches = append(matches, m)
		}
	}

	if len(matches) == 0 {
		out.Summary = fmt.Sprintf("Text document %s (%d bytes) with no recognized legal topic.", doc.FileName, doc.SizeBytes)
		return out, nil
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].hits > matches[j].hits })
	best := matches[0]

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.topic.name)
	}
	out.Summary = fmt.Sprintf("Text document %s touches on %s. Strongest signal: %s (%d keyword hits).",
		doc.FileName, strings.Join(names, ", "), best.topic.name, best.hits)
	for _, m := range matches {
		out.KeyPoints = append(out.KeyPoints, fmt.Sprintf("%s terms present: %s", m.topic.name, strings.Join(m.found, ", ")))
	}

	conf := confidenceForHits(best.hits)
	out.Suggestion = &chat.SuggestedCase{
		Title:       fmt.Sprintf("%s (%s)", best.topic.title, doc.FileName),
		CaseType:    best.topic.name,
		Description: fmt.Sprintf("Suggested from keywords in %s: %s", doc.FileName, strings.Join(best.found, ", ")),
		Confidence:  conf,
		FieldConfidences: map[string]float64{
			"title":     conf,
			"case_type": conf,
		},
	}
	return out, nil
}

func confidenceForHits(hits int) float64 {
	// Simple heuristic: more keyword hits = higher confidence, up to a point
	if hits >= 12 {
		return 0.9
	} else if hits >= 8 {
		return 0.8
	} else if hits >= 5 {
		return 0.7
	} else if hits >= 3 {
		return 0.6
	}
	return 0.5
}
