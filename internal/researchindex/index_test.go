package researchindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchcore/internal/domain"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestRecordAndSimilarPast(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	q := domain.Query{Text: "find syrian hamster breeders", SessionID: "s1", Intent: domain.IntentCommerce}
	result := domain.ResearchResult{Intent: domain.IntentCommerce, Findings: []domain.Finding{{Name: "Breeder A"}}}

	require.NoError(t, idx.Record(ctx, q, result, []float32{1, 0, 0}, Meta{}))

	entries, err := idx.SimilarPast(ctx, []float32{1, 0, 0}, "s1", 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "find syrian hamster breeders", entries[0].QueryText)
	assert.InDelta(t, 1.0, entries[0].Similarity, 1e-6)
}

func TestSimilarPastFiltersBySession(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Record(ctx, domain.Query{Text: "a", SessionID: "sess-a"}, domain.ResearchResult{}, []float32{1, 0}, Meta{}))
	require.NoError(t, idx.Record(ctx, domain.Query{Text: "b", SessionID: "sess-b"}, domain.ResearchResult{}, []float32{0, 1}, Meta{}))

	entries, err := idx.SimilarPast(ctx, []float32{1, 0}, "sess-a", 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].QueryText)
}

func TestSimilarPastRanksByCosineSimilarity(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Record(ctx, domain.Query{Text: "close", SessionID: "s"}, domain.ResearchResult{}, []float32{1, 0.1}, Meta{}))
	require.NoError(t, idx.Record(ctx, domain.Query{Text: "far", SessionID: "s"}, domain.ResearchResult{}, []float32{0, 1}, Meta{}))

	entries, err := idx.SimilarPast(ctx, []float32{1, 0}, "s", 5)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "close", entries[0].QueryText)
}

func TestFindByTopicMatchesExactAndDescendant(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Record(ctx, domain.Query{Text: "syrian hamster cage"}, domain.ResearchResult{}, nil,
		Meta{PrimaryTopic: "pet.hamster.syrian"}))
	require.NoError(t, idx.Record(ctx, domain.Query{Text: "roborovski hamster cage"}, domain.ResearchResult{}, nil,
		Meta{PrimaryTopic: "pet.hamster.roborovski"}))
	require.NoError(t, idx.Record(ctx, domain.Query{Text: "laptop"}, domain.ResearchResult{}, nil,
		Meta{PrimaryTopic: "electronics.laptop"}))

	entries, err := idx.FindByTopic(ctx, "pet.hamster", 5)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Contains(t, e.PrimaryTopic, "pet.hamster")
	}

	exact, err := idx.FindByTopic(ctx, "pet.hamster.syrian", 5)
	require.NoError(t, err)
	require.Len(t, exact, 1)
	assert.Equal(t, "pet.hamster.syrian", exact[0].PrimaryTopic)
}

func TestSearchByKeywordsRanksByOverlap(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Record(ctx, domain.Query{Text: "a"}, domain.ResearchResult{}, nil,
		Meta{Keywords: []string{"hamster", "cage", "syrian"}}))
	require.NoError(t, idx.Record(ctx, domain.Query{Text: "b"}, domain.ResearchResult{}, nil,
		Meta{Keywords: []string{"hamster"}}))

	entries, err := idx.SearchByKeywords(ctx, []string{"hamster", "cage", "syrian"}, 5)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.ElementsMatch(t, []string{"hamster", "cage", "syrian"}, entries[0].Keywords)
}

func TestFindRelatedMatchesSiblingsNotSelf(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Record(ctx, domain.Query{Text: "syrian"}, domain.ResearchResult{}, nil,
		Meta{PrimaryTopic: "pet.hamster.syrian"}))
	require.NoError(t, idx.Record(ctx, domain.Query{Text: "robo"}, domain.ResearchResult{}, nil,
		Meta{PrimaryTopic: "pet.hamster.roborovski"}))
	require.NoError(t, idx.Record(ctx, domain.Query{Text: "cat"}, domain.ResearchResult{}, nil,
		Meta{PrimaryTopic: "pet.cat.persian"}))

	related, err := idx.FindRelated(ctx, "pet.hamster.syrian", 5)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "pet.hamster.roborovski", related[0].PrimaryTopic)
}

func TestRecordAttachesConfidenceDecayAndExpiry(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Record(ctx, domain.Query{Text: "price check"}, domain.ResearchResult{}, nil,
		Meta{PrimaryTopic: "gadget.price", OverallQuality: 0.9, ContentType: ContentPrice}))

	entries, err := idx.FindByTopic(ctx, "gadget.price", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.InDelta(t, 0.9, e.ConfidenceInitial, 1e-9)
	assert.InDelta(t, DecayRate(ContentPrice), e.DecayRate, 1e-9)
	assert.False(t, e.ExpiresAt.IsZero())
	assert.True(t, e.ExpiresAt.After(e.CreatedAt))
}

func TestEncodeDecodeFloat32SliceRoundTrip(t *testing.T) {
	vec := []float32{0.1, -0.2, 3.0, 0}
	decoded := decodeFloat32Slice(encodeFloat32Slice(vec))
	require.Len(t, decoded, len(vec))
	for i := range vec {
		assert.InDelta(t, vec[i], decoded[i], 1e-6)
	}
}
