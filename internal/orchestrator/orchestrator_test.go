package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"researchcore/internal/domain"
	"researchcore/internal/knowledge"
	"researchcore/internal/llm"
)

type fakeInvoker struct {
	response string
	err      error
}

func (f *fakeInvoker) Call(_ context.Context, _ string, _ llm.Role, _ int, _ float64) (string, error) {
	return f.response, f.err
}

func (f *fakeInvoker) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, f.err
}

func TestRuleBasedStrategyByIntent(t *testing.T) {
	assert.Equal(t, domain.StrategyPhase1Only, ruleBasedStrategy(domain.IntentInformational))
	assert.Equal(t, domain.StrategyPhase2Only, ruleBasedStrategy(domain.IntentNavigation))
	assert.Equal(t, domain.StrategyPhase2Only, ruleBasedStrategy(domain.IntentSiteSearch))
	assert.Equal(t, domain.StrategyPhase1AndTwo, ruleBasedStrategy(domain.IntentCommerce))
}

func TestSelectStrategyInformationalIntentAlwaysPhase1Only(t *testing.T) {
	inv := &fakeInvoker{response: `{"strategy": "phase1_and_phase2"}`}
	s := selectStrategy(context.Background(), inv, domain.Query{Intent: domain.IntentInformational}, knowledge.Context{})
	assert.Equal(t, domain.StrategyPhase1Only, s)
}

func TestSelectStrategyNavigationDowngradesCombinedToPhase2(t *testing.T) {
	inv := &fakeInvoker{response: `{"strategy": "phase1_and_phase2"}`}
	s := selectStrategy(context.Background(), inv, domain.Query{Intent: domain.IntentNavigation}, knowledge.Context{})
	assert.Equal(t, domain.StrategyPhase2Only, s)
}

func TestSelectStrategyKnowledgeSkipDowngradesCombinedToPhase2(t *testing.T) {
	inv := &fakeInvoker{response: `{"strategy": "phase1_and_phase2"}`}
	kc := knowledge.Context{Phase1SkipRecommended: true}
	s := selectStrategy(context.Background(), inv, domain.Query{Intent: domain.IntentCommerce}, kc)
	assert.Equal(t, domain.StrategyPhase2Only, s)
}

func TestSelectStrategyFallsBackToRuleBasedOnLLMError(t *testing.T) {
	inv := &fakeInvoker{err: assertErr("llm down")}
	s := selectStrategy(context.Background(), inv, domain.Query{Intent: domain.IntentCommerce}, knowledge.Context{})
	assert.Equal(t, domain.StrategyPhase1AndTwo, s)
}

func TestEvaluateSatisfactionFalseWhenNoFindings(t *testing.T) {
	satisfied, reason := evaluateSatisfaction(context.Background(), &fakeInvoker{}, "goal", domain.ResearchResult{})
	assert.False(t, satisfied)
	assert.Equal(t, "no findings yet", reason)
}

func TestEvaluateSatisfactionParsesLLMResponse(t *testing.T) {
	inv := &fakeInvoker{response: `{"satisfied": true, "reason": "enough strong matches"}`}
	result := domain.ResearchResult{Findings: []domain.Finding{{Name: "a"}}}
	satisfied, reason := evaluateSatisfaction(context.Background(), inv, "goal", result)
	assert.True(t, satisfied)
	assert.Equal(t, "enough strong matches", reason)
}

func TestEvaluateSatisfactionFallsBackToFindingsCountHeuristic(t *testing.T) {
	inv := &fakeInvoker{err: assertErr("llm down")}
	result := domain.ResearchResult{Findings: []domain.Finding{{Name: "a"}, {Name: "b"}, {Name: "c"}}}
	satisfied, _ := evaluateSatisfaction(context.Background(), inv, "goal", result)
	assert.True(t, satisfied)
}

func TestIntelligenceToFindingsUsesRetailerMentions(t *testing.T) {
	intel := domain.Intelligence{Retailers: map[string]domain.RetailerMention{
		"rei.com": {Relevance: 0.8, Reasons: []string{"frequently recommended"}},
	}}
	findings := intelligenceToFindings(intel)
	assert.Len(t, findings, 1)
	assert.Equal(t, "rei.com", findings[0].Vendor)
	assert.Equal(t, 0.8, findings[0].Confidence)
}

func TestRefineResearchPlanJoinsTodoItems(t *testing.T) {
	inv := &fakeInvoker{response: `{"todo": ["check return policies", "compare shipping costs"]}`}
	todo := refineResearchPlan(context.Background(), inv, "goal", domain.ResearchResult{}, "coverage gaps")
	assert.Equal(t, "check return policies; compare shipping costs", todo)
}

func TestRefineResearchPlanEmptyOnLLMFailure(t *testing.T) {
	inv := &fakeInvoker{err: assertErr("llm down")}
	assert.Empty(t, refineResearchPlan(context.Background(), inv, "goal", domain.ResearchResult{}, "r"))
}

func TestExtractJSONStripsFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("```json\n{\"a\":1}\n```"))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
