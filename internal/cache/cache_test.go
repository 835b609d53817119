package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchcore/internal/domain"
)

func testThresholds() Thresholds {
	return Thresholds{
		SemanticMin: 0.5, LexicalMin: 0.0,
		SemanticWeight: 0.7, LexicalWeight: 0.3,
		StaleGraceExcellent: 1.5,
	}
}

func TestFingerprintExcludesPreferences(t *testing.T) {
	fp1 := Fingerprint("session-1", domain.IntentCommerce)
	fp2 := Fingerprint("session-1", domain.IntentCommerce)
	assert.Equal(t, fp1, fp2, "fingerprint must be a pure function of session_id+intent")
}

func TestFingerprintVariesByIntent(t *testing.T) {
	fp1 := Fingerprint("session-1", domain.IntentCommerce)
	fp2 := Fingerprint("session-1", domain.IntentInformational)
	assert.NotEqual(t, fp1, fp2)
}

func TestPutAndLookupRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, testThresholds())
	require.NoError(t, err)

	emb := []float32{1, 0, 0}
	entry := &Entry{
		QueryText:          "hamster breeders california",
		QueryEmbedding:     emb,
		Intent:             domain.IntentCommerce,
		ContextFingerprint: Fingerprint("sess-a", domain.IntentCommerce),
		TTL:                time.Hour,
		QualityScore:       0.95,
		Result:             domain.ResearchResult{Intent: domain.IntentCommerce},
	}
	require.NoError(t, c.Put(context.Background(), entry))

	got, ok := c.Lookup(context.Background(), "hamster breeders california", emb, "sess-a", domain.IntentCommerce, "")
	require.True(t, ok)
	assert.Equal(t, entry.ID, got.ID)
}

func TestLookupMissesOnIntentMismatch(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, testThresholds())
	require.NoError(t, err)

	emb := []float32{1, 0, 0}
	entry := &Entry{
		QueryText:          "hamster breeders",
		QueryEmbedding:     emb,
		Intent:             domain.IntentCommerce,
		ContextFingerprint: Fingerprint("sess-b", domain.IntentCommerce),
		TTL:                time.Hour,
	}
	require.NoError(t, c.Put(context.Background(), entry))

	_, ok := c.Lookup(context.Background(), "hamster breeders", emb, "sess-b", domain.IntentInformational, "")
	assert.False(t, ok)
}

func TestLookupExpiresStaleEntries(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, testThresholds())
	require.NoError(t, err)

	emb := []float32{1, 0, 0}
	entry := &Entry{
		QueryText:          "old query",
		QueryEmbedding:     emb,
		Intent:             domain.IntentCommerce,
		ContextFingerprint: Fingerprint("sess-c", domain.IntentCommerce),
		TTL:                time.Millisecond,
		CreatedAt:          time.Now().Add(-time.Hour),
	}
	require.NoError(t, c.Put(context.Background(), entry))

	_, ok := c.Lookup(context.Background(), "old query", emb, "sess-c", domain.IntentCommerce, "")
	assert.False(t, ok, "expired entry should not be returned")
}

func TestLookupStaleGraceForExcellentQuality(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, testThresholds())
	require.NoError(t, err)

	emb := []float32{1, 0, 0}
	entry := &Entry{
		QueryText:          "great answer",
		QueryEmbedding:     emb,
		Intent:             domain.IntentCommerce,
		ContextFingerprint: Fingerprint("sess-d", domain.IntentCommerce),
		TTL:                time.Hour,
		QualityScore:       0.95,
		CreatedAt:          time.Now().Add(-80 * time.Minute), // past TTL, within 1.5x grace
	}
	require.NoError(t, c.Put(context.Background(), entry))

	_, ok := c.Lookup(context.Background(), "great answer", emb, "sess-d", domain.IntentCommerce, "")
	assert.True(t, ok, "excellent-quality entries get up to 1.5x TTL grace")
}

func TestBM25DegenerateCorpusNormalizesToOne(t *testing.T) {
	scores := bm25Scores("hamster", []string{"completely unrelated text"})
	require.Len(t, scores, 1)
	assert.Equal(t, 1.0, scores[0])
}

func TestBM25RanksExactMatchHigher(t *testing.T) {
	scores := bm25Scores("syrian hamster breeders", []string{
		"syrian hamster breeders in california",
		"golden retriever puppies for sale",
	})
	require.Len(t, scores, 2)
	assert.Greater(t, scores[0], scores[1])
}

func TestLegacyFingerprintMigrationFallback(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, testThresholds())
	require.NoError(t, err)

	emb := []float32{0, 1, 0}
	entry := &Entry{
		QueryText:          "legacy entry",
		QueryEmbedding:     emb,
		Intent:             domain.IntentCommerce,
		ContextFingerprint: legacyFingerprint("sess-legacy"),
		TTL:                time.Hour,
	}
	require.NoError(t, c.Put(context.Background(), entry))

	got, ok := c.Lookup(context.Background(), "legacy entry", emb, "sess-legacy", domain.IntentCommerce, "")
	require.True(t, ok)
	assert.Equal(t, entry.ID, got.ID)
}
