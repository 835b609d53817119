package research

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyKindExtractsWrappedTaxonomyError(t *testing.T) {
	err := fmt.Errorf("navigator: %w", Blocked("rei.com", "cloudflare_challenge"))
	assert.Equal(t, KindBlocked, ClassifyKind(err))
}

func TestClassifyKindUnknownForPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, ClassifyKind(errors.New("plain")))
}

func TestClassifyKindUnknownForNil(t *testing.T) {
	assert.Equal(t, KindUnknown, ClassifyKind(nil))
}

func TestIsRecoverableLocallyOnlyRateLimited(t *testing.T) {
	assert.True(t, IsRecoverableLocally(KindRateLimited))
	assert.False(t, IsRecoverableLocally(KindTimeout))
	assert.False(t, IsRecoverableLocally(KindBlocked))
}

func TestTaxonomyErrorUnwrap(t *testing.T) {
	inner := errors.New("cloudflare_challenge")
	err := Blocked("rei.com", inner.Error())
	var te *TaxonomyError
	ok := errors.As(err, &te)
	assert.True(t, ok)
	assert.Equal(t, "cloudflare_challenge", te.Unwrap().Error())
}

func TestKindStringValues(t *testing.T) {
	cases := map[Kind]string{
		KindBlocked:            "blocked",
		KindRateLimited:        "rate_limited",
		KindExtractionEmpty:    "extraction_empty",
		KindExtractionMismatch: "extraction_mismatch",
		KindLLMUnavailable:     "llm_unavailable",
		KindTimeout:            "timeout",
		KindQuarantined:        "quarantined",
		KindCancelled:          "cancelled",
		KindUnknown:            "unknown",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
}

func TestErrorMessageIncludesScopeAndKind(t *testing.T) {
	err := Quarantined("bad.example")
	assert.Contains(t, err.Error(), "quarantined")
	assert.Contains(t, err.Error(), "bad.example")
}
