package researchindex

import (
	"sort"
	"strings"
)

// stopwords are filtered out of a query before topic/keyword derivation.
// Deliberately small and generic (spec.md §1: the core must stay domain
// agnostic, so this is not a hand-coded product taxonomy).
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "for": true, "of": true, "in": true,
	"on": true, "to": true, "and": true, "or": true, "is": true, "are": true,
	"find": true, "me": true, "some": true, "i": true, "my": true, "with": true,
	"under": true, "over": true, "near": true, "best": true, "good": true,
	"how": true, "what": true, "do": true, "does": true, "can": true,
}

// Keywords tokenizes text into lowercase, stopword-filtered, order-preserved
// unique keywords (spec.md §3 ResearchIndexEntry.keywords).
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	seen := map[string]bool{}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// DeriveTopic builds a dotted primary_topic path from text's most salient
// keywords (spec.md §3's "pet.hamster.syrian" example shape), without a
// hard-coded category taxonomy: the path segments are simply the first
// few keywords in the order they appear, which keeps topic derivation
// domain-agnostic while still producing a hierarchical-looking path that
// sibling/parent-prefix topic search can walk (spec.md §4.16).
func DeriveTopic(text string) string {
	kws := Keywords(text)
	if len(kws) == 0 {
		return "general"
	}
	n := 3
	if len(kws) < n {
		n = len(kws)
	}
	return strings.Join(kws[:n], ".")
}

// topicSegments splits a dotted topic path into its components.
func topicSegments(topic string) []string {
	if topic == "" {
		return nil
	}
	return strings.Split(topic, ".")
}

// isParentPrefix reports whether parent is topic itself or a dotted
// ancestor of it (spec.md §4.16 "by topic: exact + parent prefix").
func isParentPrefix(parent, topic string) bool {
	if parent == topic {
		return true
	}
	return strings.HasPrefix(topic, parent+".")
}

// isSibling reports whether two topics share every path segment except
// the last (spec.md §4.16's "find related by sibling topic path").
func isSibling(a, b string) bool {
	sa, sb := topicSegments(a), topicSegments(b)
	if len(sa) == 0 || len(sa) != len(sb) || a == b {
		return false
	}
	for i := 0; i < len(sa)-1; i++ {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// topicMatchScore scores how well a stored entry's topic matches a query
// topic: 1.0 for an exact match, shrinking with how many extra segments
// the entry has beyond the query (a closer descendant ranks higher).
func topicMatchScore(queryTopic, entryTopic string) float64 {
	if !isParentPrefix(queryTopic, entryTopic) {
		return 0
	}
	qSeg, eSeg := topicSegments(queryTopic), topicSegments(entryTopic)
	if len(eSeg) == 0 {
		return 0
	}
	return float64(len(qSeg)) / float64(len(eSeg))
}

// keywordOverlapScore is the fraction of query keywords present in the
// entry's keyword set.
func keywordOverlapScore(query, entry []string) float64 {
	if len(query) == 0 {
		return 0
	}
	set := make(map[string]bool, len(entry))
	for _, k := range entry {
		set[k] = true
	}
	hits := 0
	for _, k := range query {
		if set[k] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// sortByScoreDesc orders scored entries highest-first, stable on input
// order for ties so rows keep the order the query returned them in.
func sortByScoreDesc(entries []Entry, score func(Entry) float64) {
	sort.SliceStable(entries, func(i, j int) bool { return score(entries[i]) > score(entries[j]) })
}
