package vendorsearch

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchcore/internal/domain"
	"researchcore/internal/pagereader"
	"researchcore/internal/vendor"
)

func testVendors(t *testing.T) *vendor.Registry {
	t.Helper()
	r, err := vendor.Open(filepath.Join(t.TempDir(), "vendors.jsonl"), vendor.Config{BlockThreshold: 3, QuarantineDuration: time.Hour})
	require.NoError(t, err)
	return r
}

func TestSelectVendorsRanksByRelevanceHealthAndQuality(t *testing.T) {
	vendors := testVendors(t)
	require.NoError(t, vendors.Discover("rei.com", "REI", "intel"))
	require.NoError(t, vendors.Discover("boots.example", "Boots", "intel"))
	require.NoError(t, vendors.SetQualityScore("rei.com", 1.0))
	require.NoError(t, vendors.SetQualityScore("boots.example", 0.2))

	intel := &domain.Intelligence{Retailers: map[string]domain.RetailerMention{
		"rei.com":        {Relevance: 0.9},
		"boots.example":  {Relevance: 0.9},
	}}

	out := SelectVendors(intel, nil, nil, vendors, 5)
	require.Len(t, out, 2)
	assert.Equal(t, "rei.com", out[0].Domain, "higher quality score should rank first")
}

func TestSelectVendorsExcludesUnusableVendors(t *testing.T) {
	vendors := testVendors(t)
	require.NoError(t, vendors.Discover("blocked.example", "", "intel"))
	for i := 0; i < 6; i++ {
		_, _ = vendors.RecordVisit("blocked.example", false, time.Second, false, false)
	}

	intel := &domain.Intelligence{Retailers: map[string]domain.RetailerMention{
		"blocked.example": {Relevance: 0.9},
	}}
	out := SelectVendors(intel, nil, nil, vendors, 5)
	assert.Empty(t, out)
}

func TestSelectVendorsRespectsLimit(t *testing.T) {
	vendors := testVendors(t)
	intel := &domain.Intelligence{Retailers: map[string]domain.RetailerMention{}}
	for _, d := range []string{"a.example", "b.example", "c.example"} {
		require.NoError(t, vendors.Discover(d, "", "intel"))
		intel.Retailers[d] = domain.RetailerMention{Relevance: 0.5}
	}
	out := SelectVendors(intel, nil, nil, vendors, 2)
	assert.Len(t, out, 2)
}

func TestApplyPostFiltersRejectsOverBudgetAndExcludedTerms(t *testing.T) {
	reasoning := &domain.RequirementsReasoning{ParsedCriteria: domain.ParsedCriteria{
		BudgetMax:     150,
		ExcludedTerms: []string{"sandal"},
	}}
	findings := []domain.Finding{
		{Name: "Trail Boot", Price: 120},
		{Name: "Trail Boot Deluxe", Price: 300},
		{Name: "Summer Sandal", Price: 60},
	}
	passing, rejected := applyPostFilters(findings, reasoning)
	assert.Len(t, passing, 1)
	assert.Len(t, rejected, 2)
	assert.Equal(t, "Trail Boot", passing[0].Name)
}

func TestApplyPostFiltersAllowsAcceptableAlternative(t *testing.T) {
	reasoning := &domain.RequirementsReasoning{ParsedCriteria: domain.ParsedCriteria{
		RequiredSpecs:          []string{"gore-tex"},
		AcceptableAlternatives: map[string][]string{"gore-tex": {"waterproof membrane"}},
	}}
	findings := []domain.Finding{{Name: "Trail Boot", Description: "features a waterproof membrane"}}
	passing, rejected := applyPostFilters(findings, reasoning)
	assert.Len(t, passing, 1)
	assert.Empty(t, rejected)
}

func TestApplyPostFiltersPassesEverythingWithoutReasoning(t *testing.T) {
	findings := []domain.Finding{{Name: "Trail Boot", Price: 99999}}
	passing, rejected := applyPostFilters(findings, nil)
	assert.Len(t, passing, 1)
	assert.Empty(t, rejected)
}

func TestItemsToFindingsDerivesVendorFromItemURL(t *testing.T) {
	items := []pagereader.Item{{Name: "Boot", Price: 100, URL: "https://www.boots.example/p/1"}}
	findings := itemsToFindings(items, "fallback.example")
	require.Len(t, findings, 1)
	assert.Equal(t, "boots.example", findings[0].Vendor)
}

func TestItemsToFindingsFallsBackToDomainWhenURLUnparseable(t *testing.T) {
	items := []pagereader.Item{{Name: "Boot", Price: 100, URL: ""}}
	findings := itemsToFindings(items, "fallback.example")
	require.Len(t, findings, 1)
	assert.Equal(t, "fallback.example", findings[0].Vendor)
}

func TestHostOfStripsWWWPrefix(t *testing.T) {
	assert.Equal(t, "example.com", hostOf("https://www.example.com/path"))
}

func TestHostOfReturnsEmptyForUnparseable(t *testing.T) {
	assert.Equal(t, "", hostOf("://not a url"))
}

func TestParsePrice(t *testing.T) {
	assert.Equal(t, 1299.99, parsePrice("$1,299.99"))
	assert.Equal(t, 0.0, parsePrice("call for price"))
}
