package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/llm"
)

// Sub-question bounds for deep planning. Fewer than two questions is
// a failed plan and takes the deterministic fallback.
const (
	plannerMinQuestions = 2
	plannerMaxQuestions = 5
)

// plan produces the sub-queries. Normal mode expands the query via the
// policy's synonym table; deep mode asks the LLM for strategic
// sub-questions and falls back to a fixed template when the model
// cannot deliver a usable plan.
func (s *Service) plan(ctx context.Context, st State) (*State, error) {
	optimized := s.policy.ExpandQuery(st.Language, st.Query)

	if st.Mode != ModeDeep {
		return &State{SubQueries: []string{optimized}}, nil
	}

	questions, err := s.planQuestions(ctx, st.Query)
	if err != nil {
		if apperr.Aborts(err) {
			return nil, err
		}
		return &State{
			SubQueries: fallbackSubQueries(optimized, st.Query),
			Errors: []NodeError{{
				Node:    nodePlanner,
				Message: fmt.Sprintf("using fallback plan: %v", err),
			}},
		}, nil
	}
	return &State{SubQueries: questions}, nil
}

// planQuestions asks the LLM to break the topic into sub-questions.
func (s *Service) planQuestions(ctx context.Context, query string) ([]string, error) {
	const op = "research.planQuestions"

	system := "Du bist ein Rechercheplaner für politische Themen. Antworte ausschließlich mit JSON."
	user := fmt.Sprintf(`Zerlege das Recherchethema in 4 bis 5 strategische Teilfragen.

Thema: %s

Decke ab: Hintergrund und Fakten, aktuelle Entwicklungen, Auswirkungen, Gegenpositionen, Ausblick.
Antworte als JSON: {"questions": ["...", "..."]}`, query)

	res, err := s.llm.Complete(ctx, llm.SystemAndUser(system, user), llm.Options{
		Model:       s.model,
		Temperature: 0.4,
		MaxTokens:   400,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	questions, err := decodeQuestions(res.Content)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}
	return questions, nil
}

// decodeQuestions parses the planner reply. It accepts either
// {"questions": [...]} or a bare JSON array, with or without a
// markdown code fence.
func decodeQuestions(reply string) ([]string, error) {
	payload := stripCodeFence(reply)

	var envelope struct {
		Questions []string `json:"questions"`
	}
	var questions []string
	if err := json.Unmarshal([]byte(payload), &envelope); err == nil && len(envelope.Questions) > 0 {
		questions = envelope.Questions
	} else if err := json.Unmarshal([]byte(payload), &questions); err != nil {
		return nil, fmt.Errorf("planner reply is not a question list: %w", err)
	}

	seen := make(map[string]bool, len(questions))
	cleaned := make([]string, 0, len(questions))
	for _, q := range questions {
		q = strings.TrimSpace(q)
		if q == "" || seen[strings.ToLower(q)] {
			continue
		}
		seen[strings.ToLower(q)] = true
		cleaned = append(cleaned, q)
		if len(cleaned) == plannerMaxQuestions {
			break
		}
	}
	if len(cleaned) < plannerMinQuestions {
		return nil, fmt.Errorf("planner produced %d usable questions", len(cleaned))
	}
	return cleaned, nil
}

// fallbackSubQueries is the deterministic plan used when the LLM
// cannot deliver one. It covers the same aspects the prompt asks for.
func fallbackSubQueries(optimized, query string) []string {
	return []string{
		optimized,
		query + " Hintergrund Fakten",
		query + " aktuelle Entwicklungen",
		query + " Auswirkungen Folgen",
		query + " Kritik Alternativen",
	}
}

// stripCodeFence removes a surrounding markdown code fence from a
// model reply, tolerating a language tag after the opening fence.
func stripCodeFence(reply string) string {
	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if i := strings.Index(trimmed, "\n"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
