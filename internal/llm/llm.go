// Package llm provides the LLM invocation capability the research core
// consumes (spec.md §6): a single Invoker.Call(prompt, role, ...) method
// used by every LLM role the core issues (phase_selector,
// requirements_reasoner, relevance_scanner, page_reader,
// extraction_validator, navigation_decider, retry_decider, synthesizer,
// satisfaction_evaluator, goal_generator, page_summarizer). Adapted from
// codeNERD's internal/embedding/genai.go client-construction and
// timing/logging wrapper pattern, retargeted from embeddings to text
// generation.
package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"researchcore/internal/logging"
	"researchcore/internal/research"
)

// Role names every LLM invocation the core issues.
type Role string

const (
	RolePhaseSelector        Role = "phase_selector"
	RoleRequirementsReasoner Role = "requirements_reasoner"
	RoleRelevanceScanner     Role = "relevance_scanner"
	RolePageReader           Role = "page_reader"
	RoleExtractionValidator  Role = "extraction_validator"
	RoleNavigationDecider    Role = "navigation_decider"
	RoleRetryDecider         Role = "retry_decider"
	RoleSynthesizer          Role = "synthesizer"
	RoleSatisfactionEvaluator Role = "satisfaction_evaluator"
	RoleGoalGenerator        Role = "goal_generator"
	RolePageSummarizer       Role = "page_summarizer"
)

// Invoker is the collaborator contract the core consumes. Implementations
// must be safe under concurrent use (spec.md §6).
type Invoker interface {
	Call(ctx context.Context, prompt string, role Role, maxTokens int, temperature float64) (string, error)
	// Embed returns a semantic embedding for text, used by the response
	// cache's hybrid retrieval (C15a).
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GenAIInvoker implements Invoker against Google's Gemini API.
type GenAIInvoker struct {
	client     *genai.Client
	model      string
	embedModel string
	maxRetries int
}

// NewGenAIInvoker constructs a Gemini-backed invoker.
func NewGenAIInvoker(ctx context.Context, apiKey, model string, maxRetries int) (*GenAIInvoker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("llm: create genai client: %w", err)
	}
	return &GenAIInvoker{client: client, model: model, embedModel: "gemini-embedding-001", maxRetries: maxRetries}, nil
}

// Call issues a single LLM completion, retrying with exponential backoff on
// transient failure (spec.md §7 llm_unavailable recovery policy).
func (g *GenAIInvoker) Call(ctx context.Context, prompt string, role Role, maxTokens int, temperature float64) (string, error) {
	timer := logging.StartTimer(logging.CategoryLLM, fmt.Sprintf("Call[%s]", role))
	defer timer.Stop()

	if maxTokens <= 0 {
		maxTokens = 2048
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	temp := float32(temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(maxTokens),
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return "", research.Cancelled(string(role))
		default:
		}

		result, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
		if err == nil && result != nil {
			text := result.Text()
			if text == "" {
				lastErr = fmt.Errorf("llm: empty response for role %s", role)
			} else {
				logging.Get(logging.CategoryLLM).Debug("role=%s attempt=%d chars=%d", role, attempt, len(text))
				return text, nil
			}
		} else {
			lastErr = err
			logging.Get(logging.CategoryLLM).Warn("role=%s attempt=%d failed: %v", role, attempt, err)
		}

		select {
		case <-ctx.Done():
			return "", research.Cancelled(string(role))
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", research.LLMUnavailable(string(role), lastErr)
}

// Embed generates a semantic embedding for a response-cache query string.
func (g *GenAIInvoker) Embed(ctx context.Context, text string) ([]float32, error) {
	timer := logging.StartTimer(logging.CategoryLLM, "Embed")
	defer timer.Stop()

	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	result, err := g.client.Models.EmbedContent(ctx, g.embedModel, contents, &genai.EmbedContentConfig{
		OutputDimensionality: int32Ptr(768),
	})
	if err != nil {
		return nil, research.LLMUnavailable("embed", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, research.LLMUnavailable("embed", fmt.Errorf("no embeddings returned"))
	}
	return result.Embeddings[0].Values, nil
}

func int32Ptr(i int32) *int32 { return &i }
