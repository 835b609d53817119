package researchindex

import (
	"math"
	"time"
)

// ContentType names the decay profile a research index entry's evergreen-
// vs-time-sensitive content falls under (grounded on original_source's
// scripts/test_research_document_system.py ConfidenceInfo cases: a price
// quote should have roughly halved confidence after about a week, while a
// general fact barely decays over a month).
type ContentType string

const (
	ContentPrice        ContentType = "price"
	ContentVendorInfo   ContentType = "vendor_info"
	ContentGeneralFact  ContentType = "general_fact"
	ContentAvailability ContentType = "availability"
)

// DecayRate returns the per-day exponential decay constant for a content
// type. Values are fit to the two worked examples in
// test_research_document_system.py's test_confidence_decay: price at 0.9
// initial reaches ~0.4-0.5 after 7 days, a general fact at 0.9 initial
// reaches ~0.85 after 30 days.
func DecayRate(ct ContentType) float64 {
	switch ct {
	case ContentPrice:
		return 0.085
	case ContentAvailability:
		return 0.05
	case ContentVendorInfo:
		return 0.02
	case ContentGeneralFact:
		return 0.002
	default:
		return 0.02
	}
}

// ConfidenceAt computes the decayed confidence of a claim recorded with
// initial confidence and decayRate, evaluated asOf some later time
// (spec.md §3: "confidence (initial + decay_rate)").
func ConfidenceAt(initial, decayRate float64, createdAt, asOf time.Time) float64 {
	if initial <= 0 {
		return 0
	}
	days := asOf.Sub(createdAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return initial * math.Exp(-decayRate*days)
}

// ExpiryFor derives a default expiry for a content type, used when the
// caller does not supply an explicit expires_at.
func ExpiryFor(ct ContentType, createdAt time.Time) time.Time {
	switch ct {
	case ContentPrice, ContentAvailability:
		return createdAt.Add(14 * 24 * time.Hour)
	case ContentVendorInfo:
		return createdAt.Add(90 * 24 * time.Hour)
	default:
		return createdAt.Add(365 * 24 * time.Hour)
	}
}

// DominantContentType picks the content type that should govern an entry's
// decay, from the sources and findings a research pass produced: any
// pricing data makes the whole entry time-sensitive, since a stale price
// is the most common source of wrong downstream answers.
func DominantContentType(hasPricing, hasVendorInfo bool) ContentType {
	switch {
	case hasPricing:
		return ContentPrice
	case hasVendorInfo:
		return ContentVendorInfo
	default:
		return ContentGeneralFact
	}
}
