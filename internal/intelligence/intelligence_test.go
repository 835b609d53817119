package intelligence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

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

func TestGenerateSubtasksParsesResponse(t *testing.T) {
	inv := &fakeInvoker{response: `{"subtasks": ["best hiking boots 2026", "waterproof boot reviews"]}`}
	subtasks := generateSubtasks(context.Background(), inv, "hiking boots")
	assert.Equal(t, []string{"best hiking boots 2026", "waterproof boot reviews"}, subtasks)
}

func TestGenerateSubtasksFallsBackToQueryOnError(t *testing.T) {
	inv := &fakeInvoker{err: assertErr("llm down")}
	subtasks := generateSubtasks(context.Background(), inv, "hiking boots")
	assert.Equal(t, []string{"hiking boots"}, subtasks)
}

func TestGenerateSubtasksFallsBackOnEmptyList(t *testing.T) {
	inv := &fakeInvoker{response: `{"subtasks": []}`}
	subtasks := generateSubtasks(context.Background(), inv, "hiking boots")
	assert.Equal(t, []string{"hiking boots"}, subtasks)
}

func TestSynthesizeParsesIntelligenceDocument(t *testing.T) {
	inv := &fakeInvoker{response: `{
		"retailers": {"rei.com": {"relevance": 0.9, "reasons": ["frequently recommended"]}},
		"price_range": {"min": 80, "max": 200},
		"hard_requirements": ["waterproof"]
	}`}

	intel := synthesize(context.Background(), inv, "hiking boots", []string{"[https://a] summary a"})
	assert.Equal(t, 80.0, intel.PriceRange.Min)
	assert.Equal(t, 200.0, intel.PriceRange.Max)
	assert.Contains(t, intel.HardRequirements, "waterproof")
	assert.Contains(t, intel.Retailers, "rei.com")
}

func TestSynthesizeReturnsEmptyOnLLMError(t *testing.T) {
	inv := &fakeInvoker{err: assertErr("llm down")}
	intel := synthesize(context.Background(), inv, "hiking boots", nil)
	assert.Empty(t, intel.Retailers)
}

func TestExtractJSONStripsCodeFence(t *testing.T) {
	text := "```json\n{\"a\":1}\n```"
	assert.Equal(t, `{"a":1}`, extractJSON(text))
}

func TestExtractJSONReturnsEmptyObjectWhenNoBraces(t *testing.T) {
	assert.Equal(t, "{}", extractJSON("no json here"))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
