package researchindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordsFiltersStopwordsAndShortTokens(t *testing.T) {
	kws := Keywords("find me the best cage for a syrian hamster")
	assert.Equal(t, []string{"cage", "syrian", "hamster"}, kws)
}

func TestDeriveTopicUsesLeadingKeywords(t *testing.T) {
	assert.Equal(t, "syrian.hamster.cage", DeriveTopic("syrian hamster cage with wheel"))
	assert.Equal(t, "general", DeriveTopic("a the of"))
}

func TestIsParentPrefix(t *testing.T) {
	assert.True(t, isParentPrefix("pet.hamster", "pet.hamster.syrian"))
	assert.True(t, isParentPrefix("pet.hamster", "pet.hamster"))
	assert.False(t, isParentPrefix("pet.hamster", "pet.hamsterwheel"))
	assert.False(t, isParentPrefix("pet.cat", "pet.hamster.syrian"))
}

func TestIsSibling(t *testing.T) {
	assert.True(t, isSibling("pet.hamster.syrian", "pet.hamster.roborovski"))
	assert.False(t, isSibling("pet.hamster.syrian", "pet.hamster.syrian"))
	assert.False(t, isSibling("pet.hamster.syrian", "pet.cat.persian"))
	assert.False(t, isSibling("pet.hamster.syrian", "pet.hamster"))
}

func TestTopicMatchScoreFavorsCloserDescendant(t *testing.T) {
	exact := topicMatchScore("pet.hamster", "pet.hamster")
	descendant := topicMatchScore("pet.hamster", "pet.hamster.syrian.care")
	assert.Equal(t, 1.0, exact)
	assert.Less(t, descendant, exact)
}

func TestKeywordOverlapScore(t *testing.T) {
	score := keywordOverlapScore([]string{"a", "b", "c"}, []string{"a", "b"})
	assert.InDelta(t, 2.0/3.0, score, 1e-9)
	assert.Equal(t, 0.0, keywordOverlapScore(nil, []string{"a"}))
}
