// Package knowledge implements the knowledge retriever (C17): before any
// browsing happens, it consults the research index (C16) for past
// invocations topically related to the current query and summarizes what
// is already known, so the orchestrator's strategy selector (C14) can
// decide to skip or shrink Phase 1 (spec.md §4.17).
package knowledge

import (
	"context"
	"sort"
	"time"

	"researchcore/internal/domain"
	"researchcore/internal/llm"
	"researchcore/internal/logging"
	"researchcore/internal/researchindex"
)

// Context summarizes what is already known about a query before research
// runs, carried into strategy selection (spec.md §4.17, §4.14).
type Context struct {
	TotalClaims            int
	KnownRetailers         []string
	PriceExpectations      domain.PriceRange
	Completeness           float64
	Phase1SkipRecommended  bool
	RelatedQueries         []string
}

// Retrieve embeds queryText, finds similar past invocations in idx, and
// folds their intelligence/findings into a Context. minSimilarity below
// which a past entry is not considered knowledge (distinct from the
// response cache's own hybrid retrieval gate in C15a).
func Retrieve(ctx context.Context, idx *researchindex.Index, inv llm.Invoker, query domain.Query, minSimilarity float64, topK int) (Context, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "Retrieve")
	defer timer.Stop()

	embedding, err := inv.Embed(ctx, query.Text)
	if err != nil {
		logging.Get(logging.CategoryKnowledge).Warn("embed failed, returning empty knowledge context: %v", err)
		return Context{}, nil
	}

	entries, err := idx.SimilarPast(ctx, embedding, query.SessionID, topK)
	if err != nil {
		return Context{}, err
	}

	// A query embedding miss (fresh phrasing of a known topic) can still find
	// reusable research by primary_topic, which is how C17 is meant to catch
	// what pure similarity search misses (spec.md §4.17).
	topic := researchindex.DeriveTopic(query.Text)
	topicEntries, err := idx.FindByTopic(ctx, topic, topK)
	if err != nil {
		logging.Get(logging.CategoryKnowledge).Warn("topic lookup failed: %v", err)
	} else {
		seen := make(map[int64]bool, len(entries))
		for _, e := range entries {
			seen[e.ID] = true
		}
		for _, e := range topicEntries {
			if !seen[e.ID] {
				seen[e.ID] = true
				e.Similarity = 1.0
				entries = append(entries, e)
			}
		}
	}

	now := time.Now()
	var kc Context
	retailerSeen := map[string]bool{}
	var minPrice, maxPrice float64
	var priceObserved bool
	var claimCount int

	for _, e := range entries {
		if e.Similarity < minSimilarity {
			continue
		}
		if e.Expired(now) || e.Confidence(now) < 0.2 {
			continue
		}
		kc.RelatedQueries = append(kc.RelatedQueries, e.QueryText)
		claimCount += len(e.Result.Findings)
		if e.Result.Intelligence != nil {
			claimCount += len(e.Result.Intelligence.SpecsDiscovered) + len(e.Result.Intelligence.HardRequirements)
			for domainName := range e.Result.Intelligence.Retailers {
				if !retailerSeen[domainName] {
					retailerSeen[domainName] = true
					kc.KnownRetailers = append(kc.KnownRetailers, domainName)
				}
			}
			pr := e.Result.Intelligence.PriceRange
			if pr.Max > 0 {
				if !priceObserved || pr.Min < minPrice {
					minPrice = pr.Min
				}
				if !priceObserved || pr.Max > maxPrice {
					maxPrice = pr.Max
				}
				priceObserved = true
			}
		}
		for _, f := range e.Result.Findings {
			if f.Vendor != "" && !retailerSeen[f.Vendor] {
				retailerSeen[f.Vendor] = true
				kc.KnownRetailers = append(kc.KnownRetailers, f.Vendor)
			}
		}
	}

	sort.Strings(kc.KnownRetailers)
	kc.TotalClaims = claimCount
	if priceObserved {
		kc.PriceExpectations = domain.PriceRange{Min: minPrice, Max: maxPrice}
	}

	// Completeness is a rough heuristic: enough related claims and at
	// least two known retailers make Phase 1 largely redundant.
	switch {
	case claimCount >= 10 && len(kc.KnownRetailers) >= 2:
		kc.Completeness = 0.9
	case claimCount >= 4:
		kc.Completeness = 0.5
	default:
		kc.Completeness = 0.0
	}
	kc.Phase1SkipRecommended = kc.Completeness >= 0.8

	return kc, nil
}
