package llm

import (
	"context"
	"testing"
)

// fakeInvoker is a hand-written test double satisfying Invoker, matching
// the teacher's convention of fake collaborators over a mocking framework.
type fakeInvoker struct {
	response  string
	err       error
	embedding []float32
}

func (f *fakeInvoker) Call(_ context.Context, _ string, _ Role, _ int, _ float64) (string, error) {
	return f.response, f.err
}

func (f *fakeInvoker) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.embedding, f.err
}

func TestFakeInvokerSatisfiesInterface(t *testing.T) {
	var inv Invoker = &fakeInvoker{response: "ok", embedding: []float32{0.1, 0.2}}
	text, err := inv.Call(context.Background(), "prompt", RoleSynthesizer, 100, 0.2)
	if err != nil || text != "ok" {
		t.Fatalf("unexpected Call result: %q, %v", text, err)
	}
	vec, err := inv.Embed(context.Background(), "text")
	if err != nil || len(vec) != 2 {
		t.Fatalf("unexpected Embed result: %v, %v", vec, err)
	}
}

func TestRoleConstantsAreDistinct(t *testing.T) {
	roles := []Role{
		RolePhaseSelector, RoleRequirementsReasoner, RoleRelevanceScanner,
		RolePageReader, RoleExtractionValidator, RoleNavigationDecider,
		RoleRetryDecider, RoleSynthesizer, RoleSatisfactionEvaluator,
		RoleGoalGenerator, RolePageSummarizer,
	}
	seen := make(map[Role]bool)
	for _, r := range roles {
		if seen[r] {
			t.Fatalf("duplicate role constant: %s", r)
		}
		seen[r] = true
	}
	if len(seen) != 11 {
		t.Fatalf("expected 11 distinct roles, got %d", len(seen))
	}
}

func TestNewGenAIInvokerRejectsEmptyAPIKey(t *testing.T) {
	_, err := NewGenAIInvoker(context.Background(), "", "gemini-2.5-flash", 3)
	if err == nil {
		t.Fatal("expected error for empty API key")
	}
}
