package llm

import (
	"context"
	"log"
	"strings"
	"time"
)

// Stub is a scripted provider used for tests, seeding, and demo runs without
// a configured backend. Replies are keyword-matched canned text, emitted as
// word-group deltas with a small delay to imitate a streaming model.
type Stub struct {
	logger *log.Logger
	delay  time.Duration
}

// NewStub creates a new scripted provider.
func NewStub(logger *log.Logger) *Stub {
	return &Stub{
		logger: logger,
		delay:  15 * time.Millisecond,
	}
}

// Name identifies the provider in settings and stats.
func (s *Stub) Name() string { return "stub" }

// StreamChat emits a canned reply in chunks, honoring ctx between chunks.
func (s *Stub) StreamChat(ctx context.Context, req ChatRequest, onDelta func(delta string) error) (string, error) {
	// Get the last user message
	var userMessage string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			userMessage = req.Messages[i].Content
			break
		}
	}

	reply := s.generateChatResponse(userMessage, req.Persona)

	var full strings.Builder
	for _, chunk := range chunkWords(reply, 6) {
		if s.delay > 0 {
			select {
			case <-ctx.Done():
				return full.String(), ctx.Err()
			case <-time.After(s.delay):
			}
		} else if err := ctx.Err(); err != nil {
			return full.String(), err
		}

		full.WriteString(chunk)
		if onDelta != nil {
			if err := onDelta(chunk); err != nil {
				return full.String(), err
			}
		}
	}

	return full.String(), nil
}

// generateChatResponse generates a contextual response based on persona
func (s *Stub) generateChatResponse(message, persona string) string {
	msg := strings.ToLower(message)

	switch persona {
	case PersonaIntake:
		return s.generateIntakeResponse(msg)
	case PersonaSummarizer:
		return s.generateSummarizerResponse(msg)
	case PersonaCounsel:
		return s.generateCounselResponse(msg)
	default:
		return s.generateGeneralResponse(msg)
	}
}

func (s *Stub) generateCounselResponse(message string) string {
	if strings.Contains(message, "dismiss") || strings.Contains(message, "fired") || strings.Contains(message, "terminat") {
		return "This sounds like an employment matter. Typical first steps: 1) Request the termination reasons in writing, 2) Gather your contract, pay slips and any warnings received, 3) Note the exact dates since claim deadlines are often short, 4) Check whether a notice period or severance applies. " + stubDisclaimer
	}

	if strings.Contains(message, "lease") || strings.Contains(message, "landlord") || strings.Contains(message, "deposit") || strings.Contains(message, "evict") {
		return "This sounds like a tenancy matter. Typical first steps: 1) Locate the signed lease and any amendments, 2) Photograph the property's current condition, 3) Put all communication with the landlord in writing, 4) Check local rules on deposits and eviction notice periods. " + stubDisclaimer
	}

	if strings.Contains(message, "contract") || strings.Contains(message, "agreement") || strings.Contains(message, "breach") {
		return "For a contract question, start with: 1) Identify the exact clause in dispute, 2) Collect evidence of what was agreed and what was delivered, 3) Check the notice and cure provisions before escalating, 4) Calculate what the breach has cost you so far. " + stubDisclaimer
	}

	if strings.Contains(message, "deadline") || strings.Contains(message, "limitation") {
		return "Deadlines matter more than almost anything else in a legal dispute. Write down when the events happened, then check the limitation period for this type of claim in your jurisdiction; some are as short as a few months. " + stubDisclaimer
	}

	return "I can help you understand the area of law involved, the usual process, and what to prepare. Tell me what happened, when it happened, and who was involved, and I will outline possible next steps. " + stubDisclaimer
}

func (s *Stub) generateIntakeResponse(message string) string {
	if strings.Contains(message, "document") || strings.Contains(message, "upload") || strings.Contains(message, "file") {
		return "Useful documents to gather: 1) Any signed agreements, 2) Letters or emails from the other party, 3) Proof of payments, 4) Photos or records of what happened. Which of these do you already have? " + stubDisclaimer
	}

	return "Let's collect the facts one at a time. First: what happened, and on what date? After that I will ask who was involved and what outcome you are hoping for. " + stubDisclaimer
}

func (s *Stub) generateSummarizerResponse(message string) string {
	return "Overview: the provided material describes a dispute between two parties. Parties: as named in the document. Key Dates: listed in order of occurrence. Obligations: each side's duties as written. Risks: missed deadlines and unclear terms. Suggested Questions for an Attorney: whether the claim is within time and what evidence strengthens it. " + stubDisclaimer
}

func (s *Stub) generateGeneralResponse(message string) string {
	if strings.Contains(message, "help") || strings.Contains(message, "what") {
		return "I can explain legal concepts, help you organize the facts of a matter, summarize documents, and suggest questions to bring to a lawyer. What would you like to start with? " + stubDisclaimer
	}

	return "Tell me about your situation in your own words. I will help identify the area of law, the usual process, and what information to gather next. " + stubDisclaimer
}

const stubDisclaimer = "This is general information, not legal advice; please consult a licensed attorney."

// chunkWords splits s into chunks of up to n words, preserving single spaces
// so the concatenated chunks reproduce s exactly.
func chunkWords(s string, n int) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	var chunks []string
	for i := 0; i < len(fields); i += n {
		j := i + n
		if j > len(fields) {
			j = len(fields)
		}
		chunk := strings.Join(fields[i:j], " ")
		if j < len(fields) {
			chunk += " "
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}
