// Package orchestrator implements the research orchestrator (C14): the
// single public research() entry point that ties every other component
// together. It consults what is already known (C17), selects a strategy,
// runs Phase 1 intelligence gathering and/or Phase 2 vendor extraction,
// and persists the outcome to the response cache (C15) and research index
// (C16) (spec.md §4.14).
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"researchcore/internal/cache"
	"researchcore/internal/domain"
	"researchcore/internal/intelligence"
	"researchcore/internal/knowledge"
	"researchcore/internal/llm"
	"researchcore/internal/logging"
	"researchcore/internal/navigator"
	"researchcore/internal/requirements"
	"researchcore/internal/researchindex"
	"researchcore/internal/sitecache"
	"researchcore/internal/vendor"
	"researchcore/internal/vendorsearch"
)

// EventSink receives progress events (phase/pass boundaries, intervention
// lifecycle) for an observing caller; optional per spec.md §6.
type EventSink interface {
	Emit(kind string, payload any)
}

// Deps bundles every collaborator the orchestrator drives.
type Deps struct {
	Intelligence intelligence.Deps
	VendorSearch vendorsearch.Deps
	Navigator    *navigator.Navigator

	Cache         *cache.Cache
	Index         *researchindex.Index
	SiteKnowledge *sitecache.Cache
	Vendors       *vendor.Registry
	Invoker       llm.Invoker
	Tracer        *Tracer
	Events        EventSink

	MaxSources             int
	VendorLimit            int
	DeepMaxPasses          int
	KnowledgeMinSimilarity float64
	KnowledgeTopK          int
	DefaultCacheTTL        time.Duration
}

// Research runs the full pipeline for one query and returns the result
// that the caller's conversation layer will show the user.
func Research(ctx context.Context, d Deps, query domain.Query) (domain.ResearchResult, error) {
	timer := logging.StartTimer(logging.CategoryOrchestrator, "Research")
	defer timer.Stop()
	start := time.Now()

	goal := query.Goal
	if goal == "" {
		goal = query.Text
	}
	// Browser context state is keyed per {session_id, domain}; the scope
	// rides on the phase deps since Deps is passed by value.
	d.Intelligence.SessionScope = query.SessionID
	d.VendorSearch.SessionScope = query.SessionID

	kc, err := knowledge.Retrieve(ctx, d.Index, d.Invoker, query, d.KnowledgeMinSimilarity, d.KnowledgeTopK)
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("knowledge retrieve failed: %v", err)
	}
	d.Tracer.record("knowledge", kc)

	if !query.ForceRefresh && d.Cache != nil {
		if embedding, embErr := d.Invoker.Embed(ctx, query.Text); embErr == nil {
			if entry, ok := d.Cache.Lookup(ctx, query.Text, embedding, query.SessionID, query.Intent, ""); ok {
				result := entry.Result
				result.IntelligenceCached = true
				result.Stats.Duration = time.Since(start)
				d.Tracer.record("cache_hit", entry.ID)
				return result, nil
			}
		}
	}

	strategy := selectStrategy(ctx, d.Invoker, query, kc)
	d.Tracer.record("strategy", strategy)

	result := domain.ResearchResult{
		Query:        query,
		Intent:       query.Intent,
		Mode:         query.Mode,
		StrategyUsed: strategy,
	}

	maxPasses := 1
	if query.Mode == domain.ModeDeep {
		maxPasses = d.DeepMaxPasses
		if maxPasses <= 0 {
			maxPasses = 10
		}
	}

	var reasoning *domain.RequirementsReasoning
	pass := 0
	for pass < maxPasses {
		pass++
		result.Passes = pass

		var intel *domain.Intelligence
		var sources []domain.Source

		if strategy == domain.StrategyPhase1Only || strategy == domain.StrategyPhase1AndTwo {
			gathered, srcs, gErr := intelligence.Gather(ctx, d.Intelligence, query, goal, d.MaxSources)
			if gErr != nil {
				logging.Get(logging.CategoryOrchestrator).Warn("phase 1 gather failed: %v", gErr)
			} else {
				intel = &gathered
				sources = srcs
				result.Stats.SourcesVisited += len(srcs)
			}
			emit(d.Events, "phase1_complete", map[string]any{"pass": pass, "sources": len(sources)})
		}
		result.Intelligence = intel
		result.Sources = append(result.Sources, sources...)

		if strategy == domain.StrategyPhase2Only || strategy == domain.StrategyPhase1AndTwo {
			r, rErr := requirements.Reason(ctx, d.Invoker, query.Text, intel, query.Constraints)
			if rErr != nil {
				logging.Get(logging.CategoryOrchestrator).Warn("requirements reasoning failed: %v", rErr)
			}
			reasoning = &r

			// Candidates come from intelligence retailers, known domains
			// (site knowledge + prior research), and a SERP for the
			// optimized query (spec.md §4.13's candidate union).
			var serp []domain.SERPResult
			if reasoning.OptimizedQuery != "" {
				s, engine, sErr := intelligence.Search(ctx, d.Intelligence, reasoning.OptimizedQuery)
				if sErr != nil {
					logging.Get(logging.CategoryOrchestrator).Warn("optimized-query SERP failed: %v", sErr)
				} else {
					serp = s
					result.Stats.EnginesQueried++
					d.Tracer.record("optimized_query_serp", map[string]any{"engine": engine, "results": len(s)})
				}
			}
			known := append(d.SiteKnowledge.KnownDomains(), kc.KnownRetailers...)
			candidates := vendorsearch.SelectVendors(intel, known, serp, d.Vendors, d.VendorLimit)
			d.Tracer.record("vendor_candidates", candidates)

			vsResult := vendorsearch.Run(ctx, d.VendorSearch, goal, reasoning, candidates)
			result.Findings = append(result.Findings, vsResult.Passing...)
			result.RejectedFindings = append(result.RejectedFindings, vsResult.Rejected...)
			result.Stats.VendorsVisited += vsResult.Visited
			result.Phase2Executed = true
			emit(d.Events, "phase2_complete", map[string]any{"pass": pass, "findings": len(vsResult.Passing)})
		} else if intel != nil {
			// Phase 1-only runs still surface a uniform findings view so
			// callers never need to special-case "no Phase 2" (spec.md §8).
			result.Findings = intelligenceToFindings(*intel)
		}

		if query.Mode != domain.ModeDeep {
			break
		}
		satisfied, reason := evaluateSatisfaction(ctx, d.Invoker, goal, result)
		result.Reasons = append(result.Reasons, reason)
		d.Tracer.record("satisfaction", map[string]any{"pass": pass, "satisfied": satisfied, "reason": reason})
		emit(d.Events, "pass_complete", map[string]any{"pass": pass, "satisfied": satisfied})
		if satisfied {
			break
		}
		// Between passes the LLM refines what is still missing; the next
		// pass searches for those items rather than repeating the last one.
		if todo := refineResearchPlan(ctx, d.Invoker, goal, result, reason); todo != "" {
			goal = goal + "\nOutstanding research items: " + todo
			d.Tracer.record("refined_plan", todo)
		}
	}

	result.Stats.Duration = time.Since(start)
	result.Stats.PassesExecuted = pass

	persist(ctx, d, query, result)
	return result, nil
}

// selectStrategy runs the LLM phase selector, falling back to a
// rule-based decision on any failure, then applies intent override rules
// and the knowledge-context skip recommendation (spec.md §4.14).
func selectStrategy(ctx context.Context, inv llm.Invoker, query domain.Query, kc knowledge.Context) domain.Strategy {
	strategy := ruleBasedStrategy(query.Intent)

	prompt := fmt.Sprintf(`Query: %s
Intent: %s
Mode: %s
Known claims about this topic: %d
Known retailers: %v
Completeness of existing knowledge: %.2f

Decide the research strategy. Respond as JSON:
{"strategy": "phase1_only" | "phase2_only" | "phase1_and_phase2"}`,
		query.Text, query.Intent, query.Mode, kc.TotalClaims, kc.KnownRetailers, kc.Completeness)

	text, err := inv.Call(ctx, prompt, llm.RolePhaseSelector, 128, 0.0)
	if err == nil {
		var resp struct {
			Strategy string `json:"strategy"`
		}
		if json.Unmarshal([]byte(extractJSON(text)), &resp) == nil && resp.Strategy != "" {
			strategy = domain.Strategy(resp.Strategy)
		}
	}

	switch query.Intent {
	case domain.IntentInformational:
		strategy = domain.StrategyPhase1Only
	case domain.IntentNavigation, domain.IntentSiteSearch:
		if strategy == domain.StrategyPhase1AndTwo {
			strategy = domain.StrategyPhase2Only
		}
	}

	if kc.Phase1SkipRecommended && strategy == domain.StrategyPhase1AndTwo {
		strategy = domain.StrategyPhase2Only
	}
	return strategy
}

func ruleBasedStrategy(intent domain.Intent) domain.Strategy {
	switch intent {
	case domain.IntentInformational:
		return domain.StrategyPhase1Only
	case domain.IntentNavigation, domain.IntentSiteSearch:
		return domain.StrategyPhase2Only
	case domain.IntentCommerce:
		return domain.StrategyPhase1AndTwo
	default:
		return domain.StrategyPhase1AndTwo
	}
}

func evaluateSatisfaction(ctx context.Context, inv llm.Invoker, goal string, result domain.ResearchResult) (bool, string) {
	if len(result.Findings) == 0 {
		return false, "no findings yet"
	}
	findingsJSON, _ := json.Marshal(result.Findings)
	prompt := fmt.Sprintf(`Goal: %s
Findings so far: %s

Is this goal satisfied well enough to stop iterating? Respond as JSON:
{"satisfied": true|false, "reason": ""}`, goal, string(findingsJSON))

	text, err := inv.Call(ctx, prompt, llm.RoleSatisfactionEvaluator, 256, 0.0)
	if err != nil {
		return len(result.Findings) >= 3, "llm_unavailable fallback: findings count heuristic"
	}
	var resp struct {
		Satisfied bool   `json:"satisfied"`
		Reason    string `json:"reason"`
	}
	if json.Unmarshal([]byte(extractJSON(text)), &resp) != nil {
		return len(result.Findings) >= 3, "unparsable response fallback: findings count heuristic"
	}
	return resp.Satisfied, resp.Reason
}

// refineResearchPlan asks the LLM for a short to-do list of what the next
// deep-mode pass should chase, given what this pass produced and why the
// satisfaction evaluator said to continue (spec.md §4.14 step 3).
func refineResearchPlan(ctx context.Context, inv llm.Invoker, goal string, result domain.ResearchResult, continueReason string) string {
	prompt := fmt.Sprintf(`Goal: %s
Findings so far: %d passing, %d rejected
Evaluator's reason to continue: %s

List the most important still-unanswered research items for the next pass.
Respond as JSON: {"todo": ["<item>", ...]}`,
		goal, len(result.Findings), len(result.RejectedFindings), continueReason)

	text, err := inv.Call(ctx, prompt, llm.RoleGoalGenerator, 256, 0.2)
	if err != nil {
		return ""
	}
	var resp struct {
		Todo []string `json:"todo"`
	}
	if json.Unmarshal([]byte(extractJSON(text)), &resp) != nil || len(resp.Todo) == 0 {
		return ""
	}
	return strings.Join(resp.Todo, "; ")
}

func emit(sink EventSink, kind string, payload any) {
	if sink != nil {
		sink.Emit(kind, payload)
	}
}

// intelligenceToFindings gives Phase-1-only results a uniform findings
// view, synthesized from discovered specs and retailer mentions rather
// than vendor page extraction.
func intelligenceToFindings(intel domain.Intelligence) []domain.Finding {
	var findings []domain.Finding
	for domainName, mention := range intel.Retailers {
		findings = append(findings, domain.Finding{
			Name:        domainName,
			Vendor:      domainName,
			Description: strings.Join(mention.Reasons, "; "),
			Confidence:  mention.Relevance,
		})
	}
	return findings
}

func persist(ctx context.Context, d Deps, query domain.Query, result domain.ResearchResult) {
	embedding, err := d.Invoker.Embed(ctx, query.Text)
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("persist: embed failed: %v", err)
		embedding = nil
	}

	if d.Cache != nil {
		ttl := d.DefaultCacheTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		quality := 0.7
		if result.Intelligence != nil {
			quality = 0.85
		}
		entry := &cache.Entry{
			QueryText:          query.Text,
			QueryEmbedding:     embedding,
			Intent:             query.Intent,
			ContextFingerprint: cache.Fingerprint(query.SessionID, query.Intent),
			Result:             result,
			TTL:                ttl,
			QualityScore:       quality,
			Topic:              researchindex.DeriveTopic(query.Text),
		}
		if err := d.Cache.Put(ctx, entry); err != nil {
			logging.Get(logging.CategoryOrchestrator).Warn("persist: cache put failed: %v", err)
		}
	}

	if d.Index != nil {
		hasPricing := len(result.Findings) > 0 && func() bool {
			for _, f := range result.Findings {
				if f.Price > 0 {
					return true
				}
			}
			return false
		}()
		hasVendorInfo := result.Intelligence != nil && len(result.Intelligence.Retailers) > 0
		completeness := 0.5
		sourceQuality := 0.5
		if result.Intelligence != nil {
			completeness = 0.9
		}
		if len(result.Sources) > 0 {
			sourceQuality = 0.8
		}
		overall := (completeness + sourceQuality) / 2
		meta := researchindex.Meta{
			PrimaryTopic:   researchindex.DeriveTopic(query.Text),
			Keywords:       researchindex.Keywords(query.Text),
			Completeness:   completeness,
			SourceQuality:  sourceQuality,
			OverallQuality: overall,
			ContentType:    researchindex.DominantContentType(hasPricing, hasVendorInfo),
			DocPath:        query.SessionID,
			Scope:          string(query.Intent),
		}
		if err := d.Index.Record(ctx, query, result, embedding, meta); err != nil {
			logging.Get(logging.CategoryOrchestrator).Warn("persist: index record failed: %v", err)
		}
	}
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
