package navigator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"researchcore/internal/browser"
	"researchcore/internal/domain"
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

func TestGuardFiltersOverrideBlocksFilterWipingNavigation(t *testing.T) {
	p := Perception{HasPriceFilter: true}
	d := Decision{Action: domain.ActionNavigate, Target: "Clear filters"}
	assert.True(t, guardFiltersOverride(p, d))
}

func TestGuardFiltersOverrideIgnoresNonNavigateActions(t *testing.T) {
	p := Perception{HasPriceFilter: true}
	d := Decision{Action: domain.ActionExtract, Target: "Clear filters"}
	assert.False(t, guardFiltersOverride(p, d))
}

func TestGuardFiltersOverrideIgnoresWhenNoFilterApplied(t *testing.T) {
	p := Perception{HasPriceFilter: false}
	d := Decision{Action: domain.ActionNavigate, Target: "Clear filters"}
	assert.False(t, guardFiltersOverride(p, d))
}

func TestMatchLinkTargetExactTextWins(t *testing.T) {
	links := []browser.Link{
		{Text: "Next Page", Href: "/page/2"},
		{Text: "Next", Href: "/other"},
	}
	href := matchLinkTarget(links, "Next Page")
	assert.Equal(t, "/page/2", href)
}

func TestMatchLinkTargetFallsBackToSlugMatch(t *testing.T) {
	links := []browser.Link{
		{Text: "unrelated label", Href: "/catalog/hiking-boots"},
	}
	href := matchLinkTarget(links, "hiking boots")
	assert.Equal(t, "/catalog/hiking-boots", href)
}

func TestMatchLinkTargetSkipsHoneypots(t *testing.T) {
	links := []browser.Link{
		{Text: "Boots", Href: "/trap", IsHoneypot: true},
	}
	href := matchLinkTarget(links, "Boots")
	assert.Empty(t, href)
}

func TestMatchesCriteriaRejectsOverBudget(t *testing.T) {
	c := domain.ParsedCriteria{BudgetMax: 100}
	f := domain.Finding{Name: "boots", Price: 150}
	assert.False(t, matchesCriteria(f, c))
}

func TestMatchesCriteriaRejectsExcludedTerm(t *testing.T) {
	c := domain.ParsedCriteria{ExcludedTerms: []string{"sandals"}}
	f := domain.Finding{Name: "summer sandals"}
	assert.False(t, matchesCriteria(f, c))
}

func TestMatchesCriteriaAcceptsWithinBudgetAndNoExclusions(t *testing.T) {
	c := domain.ParsedCriteria{BudgetMax: 200}
	f := domain.Finding{Name: "trail boots", Price: 150}
	assert.True(t, matchesCriteria(f, c))
}

func TestMatchesCriteriaRequiresPositiveSpecHit(t *testing.T) {
	c := domain.ParsedCriteria{RequiredSpecs: []string{"gore-tex"}}
	assert.False(t, matchesCriteria(domain.Finding{Name: "trail boots"}, c),
		"merely not-excluded should not count as a match when required specs exist")
	assert.True(t, matchesCriteria(domain.Finding{Name: "gore-tex trail boots"}, c))
}

func TestMatchesCriteriaAcceptsAlternativeForRequiredSpec(t *testing.T) {
	c := domain.ParsedCriteria{
		RequiredSpecs:          []string{"gore-tex"},
		AcceptableAlternatives: map[string][]string{"gore-tex": {"waterproof membrane"}},
	}
	f := domain.Finding{Name: "trail boots", Description: "with waterproof membrane lining"}
	assert.True(t, matchesCriteria(f, c))
}

func TestValidateUsesCriteriaMatchRatio(t *testing.T) {
	n := &Navigator{inv: &fakeInvoker{}}
	reasoning := &domain.RequirementsReasoning{ParsedCriteria: domain.ParsedCriteria{BudgetMax: 100}}
	findings := []domain.Finding{{Name: "a", Price: 50}, {Name: "b", Price: 200}}
	ok, _ := n.validate(context.Background(), "goal", reasoning, findings)
	assert.True(t, ok, "1 of 2 matching is a 0.5 ratio, above the 0.3 threshold")
}

func TestValidateRejectsBelowMatchThreshold(t *testing.T) {
	n := &Navigator{inv: &fakeInvoker{}}
	reasoning := &domain.RequirementsReasoning{ParsedCriteria: domain.ParsedCriteria{BudgetMax: 10}}
	findings := []domain.Finding{{Name: "a", Price: 50}, {Name: "b", Price: 200}, {Name: "c", Price: 300}}
	ok, reason := n.validate(context.Background(), "goal", reasoning, findings)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestValidateFallsBackToLLMWhenNoReasoning(t *testing.T) {
	n := &Navigator{inv: &fakeInvoker{response: `{"matches_goal": true, "match_score": 0.9, "suggested_action": ""}`}}
	ok, _ := n.validate(context.Background(), "goal", nil, []domain.Finding{{Name: "a"}})
	assert.True(t, ok)
}

func TestNewClampsNonPositiveMaxSteps(t *testing.T) {
	n := New(nil, nil, &fakeInvoker{}, 0)
	assert.Equal(t, DefaultMaxSteps, n.maxSteps)
}

func TestBaseURLStripsQuery(t *testing.T) {
	assert.Equal(t, "https://example.com/boots", baseURL("https://example.com/boots?sort=price"))
}

func TestDedupePreservesFirstOccurrenceOrder(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, dedupe([]string{"a", "b", "a"}))
}
