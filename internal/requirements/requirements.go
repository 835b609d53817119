// Package requirements implements the requirements reasoner (C11): a
// single LLM call that turns the user query, Phase-1 intelligence, and
// user constraints into a structured RequirementsReasoning document that
// is carried forward into Phase 2 search and validation (spec.md §4.11).
package requirements

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"researchcore/internal/domain"
	"researchcore/internal/llm"
	"researchcore/internal/logging"
)

// Reason derives a RequirementsReasoning document. Given identical inputs
// it is expected to produce a structurally equivalent document (low,
// fixed temperature keeps the call close to idempotent per spec.md §4.11).
func Reason(ctx context.Context, inv llm.Invoker, queryText string, intel *domain.Intelligence, constraints map[string]string) (domain.RequirementsReasoning, error) {
	timer := logging.StartTimer(logging.CategoryOrchestrator, "RequirementsReason")
	defer timer.Stop()

	intelJSON := "{}"
	if intel != nil {
		if b, err := json.Marshal(intel); err == nil {
			intelJSON = string(b)
		}
	}
	constraintsJSON, _ := json.Marshal(constraints)

	prompt := fmt.Sprintf(`User query: %s
User constraints: %s
Phase 1 intelligence: %s

Derive validity criteria, disqualifiers, and an optimized search query for Phase 2.
Respond as JSON:
{
  "reasoning_document": "<prose explaining the derivation>",
  "parsed_criteria": {
    "must_be": [""],
    "wrong_category": [""],
    "excluded_terms": [""],
    "budget_min": 0,
    "budget_max": 0,
    "required_specs": [""],
    "acceptable_alternatives": {"spec_name": [""]}
  },
  "optimized_query": ""
}`, queryText, string(constraintsJSON), intelJSON)

	text, err := inv.Call(ctx, prompt, llm.RoleRequirementsReasoner, 1024, 0.0)
	if err != nil {
		return fallback(queryText, constraints), nil
	}

	var out domain.RequirementsReasoning
	if jsonErr := json.Unmarshal([]byte(extractJSON(text)), &out); jsonErr != nil {
		return fallback(queryText, constraints), nil
	}
	if out.OptimizedQuery == "" {
		out.OptimizedQuery = queryText
	}
	return out, nil
}

// fallback produces a rule-based RequirementsReasoning when the LLM call
// fails, so Phase 2 search/validation can still proceed (spec.md §7
// llm_unavailable recovery policy: caller-specific fallback).
func fallback(queryText string, constraints map[string]string) domain.RequirementsReasoning {
	criteria := domain.ParsedCriteria{
		AcceptableAlternatives: map[string][]string{},
	}
	if budget, ok := constraints["budget"]; ok {
		criteria.BudgetMax = parseBudget(budget)
	}
	return domain.RequirementsReasoning{
		ReasoningDocument: "fallback: rule-based criteria derived directly from constraints (llm_unavailable)",
		ParsedCriteria:    criteria,
		OptimizedQuery:    queryText,
	}
}

func parseBudget(s string) float64 {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "under ")
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	var v float64
	_, _ = fmt.Sscanf(s, "%f", &v)
	return v
}

func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return "{}"
	}
	return text[start : end+1]
}
