// Package intelligence implements Phase 1, the intelligence gatherer (C12):
// it runs a SERP query per subtask, reads the top results, and synthesizes
// the per-page summaries into an Intelligence document (spec.md §4.12).
package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"researchcore/internal/browser"
	"researchcore/internal/domain"
	"researchcore/internal/enginehealth"
	"researchcore/internal/llm"
	"researchcore/internal/logging"
	"researchcore/internal/pagereader"
	"researchcore/internal/ratelimit"
	"researchcore/internal/research"
	"researchcore/internal/sanitize"
)

// Deps bundles the collaborators Gather needs. SessionScope names the
// research session so persisted browser context state is keyed per
// {session_id, domain} (spec.md §3).
type Deps struct {
	Manager      *browser.Manager
	Searcher     *browser.Searcher
	Fetcher      *browser.Fetcher
	RateLimiter  *ratelimit.Limiter
	EngineHealth *enginehealth.Tracker
	Invoker      llm.Invoker
	TokenBudget  int
	SessionScope string
}

// Gather runs Phase 1 for query, returning the synthesized Intelligence
// document and the list of sources consulted.
func Gather(ctx context.Context, d Deps, query domain.Query, goal string, maxSources int) (domain.Intelligence, []domain.Source, error) {
	timer := logging.StartTimer(logging.CategoryIntelligence, "Gather")
	defer timer.Stop()

	if maxSources <= 0 {
		maxSources = 6
	}

	subtasks := generateSubtasks(ctx, d.Invoker, query.Text)
	perSubtask := maxSources / len(subtasks)
	if perSubtask < 1 {
		perSubtask = 1
	}

	var sources []domain.Source
	var summaries []string

	for _, subtask := range subtasks {
		serp, engine, err := Search(ctx, d, subtask)
		if err != nil {
			logging.Get(logging.CategoryIntelligence).Warn("subtask search failed: %q: %v", subtask, err)
			continue
		}
		logging.Get(logging.CategoryIntelligence).Debug("subtask=%q engine=%s results=%d", subtask, engine, len(serp))

		count := 0
		for _, result := range serp {
			if count >= perSubtask {
				break
			}
			src, summary, ok := readSource(ctx, d, goal, result.URL)
			if !ok {
				continue
			}
			sources = append(sources, src)
			summaries = append(summaries, fmt.Sprintf("[%s] %s", result.URL, summary))
			count++
		}
	}

	if len(sources) == 0 {
		return domain.Intelligence{}, nil, research.ExtractionEmpty("intelligence: no sources gathered")
	}

	intel := synthesize(ctx, d.Invoker, query.Text, summaries)
	return intel, sources, nil
}

// Search tries each healthy engine in order until one yields results,
// mirroring C4's multi-engine failover without retrying the same engine
// twice in a row (spec.md §4.4). Also used by the orchestrator to gather
// supplementary vendor candidates for Phase 2's optimized query.
func Search(ctx context.Context, d Deps, query string) ([]domain.SERPResult, string, error) {
	engines := d.EngineHealth.GetHealthyEngines(d.Searcher.Engines())
	if len(engines) == 0 {
		return nil, "", research.Blocked("search", "no healthy engines")
	}

	for _, engine := range engines {
		if err := d.RateLimiter.Acquire(ctx, query, engine); err != nil {
			return nil, "", research.Cancelled("ratelimit")
		}

		sess, err := d.Manager.CreateScopedSession(ctx, d.SessionScope, "about:blank")
		if err != nil {
			continue
		}
		results, err := d.Searcher.Search(ctx, sess.ID, engine, query)
		d.Manager.CloseSession(sess.ID)

		if err != nil || len(results) == 0 {
			d.RateLimiter.ReportRateLimit(engine)
			d.EngineHealth.ReportFailure(engine)
			continue
		}
		d.RateLimiter.ReportSuccess()
		d.EngineHealth.ReportSuccess(engine)
		return results, engine, nil
	}
	return nil, "", research.Blocked("search", "all engines blocked")
}

func readSource(ctx context.Context, d Deps, goal, url string) (domain.Source, string, bool) {
	sess, err := d.Manager.CreateScopedSession(ctx, d.SessionScope, "about:blank")
	if err != nil {
		return domain.Source{}, "", false
	}
	defer d.Manager.CloseSession(sess.ID)

	fetchResult, err := d.Fetcher.Fetch(ctx, sess.ID, url)
	if err != nil {
		return domain.Source{}, "", false
	}

	sanitized, err := sanitize.Sanitize(fetchResult.HTML, d.TokenBudget)
	if err != nil {
		return domain.Source{}, "", false
	}

	read, err := pagereader.Read(ctx, d.Invoker, goal, url, sanitized, "")
	if err != nil || read.Abandoned {
		return domain.Source{}, "", false
	}

	reliability := read.ValidConfidence
	if reliability == 0 {
		reliability = read.RelevanceScore
	}
	return domain.Source{
		URL:         url,
		Summary:     read.Summary,
		PageType:    string(read.PageType),
		Reliability: reliability,
	}, read.Summary, true
}

func generateSubtasks(ctx context.Context, inv llm.Invoker, queryText string) []string {
	prompt := fmt.Sprintf(`Query: %s

Break this into up to 3 focused search subtopics that together would gather
good background intelligence. Respond as JSON: {"subtasks": [""]}`, queryText)

	text, err := inv.Call(ctx, prompt, llm.RoleGoalGenerator, 256, 0.3)
	if err != nil {
		return []string{queryText}
	}
	var resp struct {
		Subtasks []string `json:"subtasks"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil || len(resp.Subtasks) == 0 {
		return []string{queryText}
	}
	return resp.Subtasks
}

func synthesize(ctx context.Context, inv llm.Invoker, queryText string, summaries []string) domain.Intelligence {
	prompt := fmt.Sprintf(`Query: %s
Source summaries:
%s

Synthesize an intelligence document as JSON:
{
  "specs_discovered": {"spec_name": {"value":"","confidence":0,"source_url":""}},
  "retailers": {"domain.com": {"relevance":0,"reasons":[""]}},
  "price_range": {"min":0,"max":0},
  "forum_recommendations": [{"text":"","source_url":"","source_type":"forum","confidence_multiplier":0.6}],
  "user_insights": [""],
  "hard_requirements": [""],
  "acceptable_alternatives": [""],
  "deal_breakers": [""]
}
Forum-sourced claims always use source_type "forum" with a confidence_multiplier below 1.0,
since forum claims are unverified opinion relative to vendor-page-sourced specs.`,
		queryText, strings.Join(summaries, "\n\n"))

	text, err := inv.Call(ctx, prompt, llm.RoleSynthesizer, 2048, 0.2)
	if err != nil {
		return domain.Intelligence{}
	}
	var intel domain.Intelligence
	if err := json.Unmarshal([]byte(extractJSON(text)), &intel); err != nil {
		return domain.Intelligence{}
	}
	return intel
}

func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return "{}"
	}
	return text[start : end+1]
}
