// Package domain holds the shared data model for the research core.
// Every value that crosses a component boundary is one of these explicit
// struct types; raw maps never cross a boundary (see DESIGN.md, "dict
// everywhere" re-architecture note).
package domain

import "time"

// Intent classifies the purpose of a query and drives phase routing.
type Intent string

const (
	IntentNavigation     Intent = "navigation"
	IntentSiteSearch     Intent = "site_search"
	IntentCommerce       Intent = "commerce"
	IntentInformational  Intent = "informational"
)

// Mode selects single-pass vs iterative research.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeDeep     Mode = "deep"
)

// Strategy is the phase-selector's output.
type Strategy string

const (
	StrategyPhase1Only    Strategy = "phase1_only"
	StrategyPhase2Only    Strategy = "phase2_only"
	StrategyPhase1AndTwo  Strategy = "phase1_and_phase2"
)

// Query is the caller-supplied research request.
type Query struct {
	Text        string
	SessionID   string
	Intent      Intent
	Constraints map[string]string
	Goal        string
	Mode        Mode
	Budget      int
	ForceRefresh bool
	TurnNumber  int
}

// SpecValue is one discovered spec attribute with provenance.
type SpecValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	SourceURL  string  `json:"source_url"`
}

// RetailerMention is intelligence about a candidate vendor domain.
type RetailerMention struct {
	Relevance float64  `json:"relevance"`
	Reasons   []string `json:"reasons"`
}

// PriceRange bounds observed or inferred pricing.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ForumRecommendation is a claim sourced from a forum/community page.
// SourceType distinguishes it from vendor-page-sourced specs (SPEC_FULL §7).
type ForumRecommendation struct {
	Text                 string  `json:"text"`
	SourceURL             string  `json:"source_url"`
	SourceType            string  `json:"source_type"` // "forum"
	ConfidenceMultiplier  float64 `json:"confidence_multiplier"`
}

// Intelligence is the Phase 1 synthesized document.
type Intelligence struct {
	SpecsDiscovered        map[string]SpecValue       `json:"specs_discovered"`
	Retailers              map[string]RetailerMention `json:"retailers"`
	PriceRange             PriceRange                 `json:"price_range"`
	ForumRecommendations   []ForumRecommendation      `json:"forum_recommendations"`
	UserInsights           []string                   `json:"user_insights"`
	HardRequirements       []string                   `json:"hard_requirements"`
	AcceptableAlternatives []string                   `json:"acceptable_alternatives"`
	DealBreakers           []string                   `json:"deal_breakers"`
}

// ParsedCriteria is the structured half of RequirementsReasoning.
type ParsedCriteria struct {
	MustBe                 []string            `json:"must_be"`
	WrongCategory          []string            `json:"wrong_category"`
	ExcludedTerms          []string            `json:"excluded_terms"`
	BudgetMin              float64             `json:"budget_min"`
	BudgetMax              float64             `json:"budget_max"`
	RequiredSpecs          []string            `json:"required_specs"`
	AcceptableAlternatives map[string][]string `json:"acceptable_alternatives"`
}

// RequirementsReasoning is C11's output, carried into Phase 2 validation.
type RequirementsReasoning struct {
	ReasoningDocument string         `json:"reasoning_document"`
	ParsedCriteria    ParsedCriteria `json:"parsed_criteria"`
	OptimizedQuery    string         `json:"optimized_query"`
}

// Finding is one validated product/result, never mutated after emission.
type Finding struct {
	Name        string   `json:"name"`
	Price       float64  `json:"price"`
	Vendor      string   `json:"vendor"`
	URL         string   `json:"url"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
	Strengths   []string `json:"strengths"`
	Weaknesses  []string `json:"weaknesses"`
	Mismatch    bool     `json:"mismatch,omitempty"`
}

// Source is one Phase 1 input page, with its synthesized summary.
type Source struct {
	URL         string  `json:"url"`
	Summary     string  `json:"summary"`
	PageType    string  `json:"page_type"`
	Reliability float64 `json:"reliability"`
}

// Stats accumulates observable counters for a single research invocation.
type Stats struct {
	SourcesVisited  int           `json:"sources_visited"`
	VendorsVisited  int           `json:"vendors_visited"`
	EnginesQueried  int           `json:"engines_queried"`
	BlockersHit     int           `json:"blockers_hit"`
	Interventions   int           `json:"interventions"`
	Duration        time.Duration `json:"duration"`
	PassesExecuted  int           `json:"passes_executed"`
}

// ResearchResult is the single return value of the public research() op.
type ResearchResult struct {
	Query               Query                   `json:"query"`
	Intent              Intent                  `json:"intent"`
	Mode                Mode                    `json:"mode"`
	StrategyUsed        Strategy                `json:"strategy_used"`
	Passes              int                     `json:"passes"`
	Findings            []Finding               `json:"findings"`
	RejectedFindings    []Finding               `json:"rejected_findings,omitempty"`
	Intelligence        *Intelligence           `json:"intelligence,omitempty"`
	Sources             []Source                `json:"sources,omitempty"`
	Stats               Stats                   `json:"stats"`
	IntelligenceCached  bool                    `json:"intelligence_cached"`
	Phase2Executed      bool                    `json:"phase2_executed"`
	Reasons             []string                `json:"reasons,omitempty"`
}

// SERPResult is one search-engine result page entry.
type SERPResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// BlockerType enumerates the anti-bot blocker taxonomy (spec.md §4.5).
type BlockerType string

const (
	BlockerNone          BlockerType = ""
	BlockerCaptcha       BlockerType = "captcha"
	BlockerBotDetection  BlockerType = "bot_detection"
	BlockerRedirectBlock BlockerType = "redirect_block"
	BlockerHTTP403       BlockerType = "http_403"
	BlockerHTTP418       BlockerType = "http_418"
	BlockerSoftBlock     BlockerType = "soft_block"
)

// NavAction enumerates the navigator's decision actions.
type NavAction string

const (
	ActionExtract  NavAction = "EXTRACT"
	ActionNavigate NavAction = "NAVIGATE"
	ActionGiveUp   NavAction = "GIVE_UP"
	ActionRetry    NavAction = "RETRY"
)

// PageType enumerates C7's rule-based classifier categories.
type PageType string

const (
	PageProductListing  PageType = "product_listing"
	PageForumDiscussion PageType = "forum_discussion"
	PageResearchPaper   PageType = "research_paper"
	PageNewsArticle     PageType = "news_article"
	PageGuideTutorial   PageType = "guide_tutorial"
	PageVendorDirectory PageType = "vendor_directory"
	PageGeneral         PageType = "general"
)
