// Package navigator implements the goal-directed navigator (C10): a
// bounded PERCEIVE/DECIDE/GUARD/ACT/VALIDATE/RETRY loop driven by an LLM
// decision call per step, with a hard-coded guard that protects an applied
// price filter from being wiped by a navigation decision (spec.md §4.10).
package navigator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"researchcore/internal/browser"
	"researchcore/internal/domain"
	"researchcore/internal/llm"
	"researchcore/internal/logging"
	"researchcore/internal/research"
	"researchcore/internal/sanitize"
)

// DefaultMaxSteps bounds the decision loop (spec.md §4.10).
const DefaultMaxSteps = 5

// filterWipeWords flag a NAVIGATE target that looks like it would clear an
// applied search filter (spec.md §4.10 GUARD step).
var filterWipeWords = []string{"filter", "sort", "refine", "clear"}

// priceFilterMarkers detect a price filter already applied in the URL.
var priceFilterMarkers = []string{"price", "maxprice", "minprice", "pricerange"}

// ExtractFunc performs EXTRACT for the current page, returning findings and
// the extraction method used (for schema-registry bookkeeping upstream).
type ExtractFunc func(ctx context.Context, sessionID string, hints string) ([]domain.Finding, string, error)

// Perception is the structured signal snapshot captured at PERCEIVE.
type Perception struct {
	URL            string
	NavLinks       []string
	Headings       []string
	PriceCount     int
	HasCart        bool
	HasContactForm bool
	HasProductGrid bool
	BodyPreview    string
	HasPriceFilter bool
}

// Decision is DECIDE's structured LLM output.
type Decision struct {
	Action          domain.NavAction `json:"action"`
	Reason          string           `json:"reason"`
	Target          string           `json:"target"`
	Alternative     string           `json:"alternative"`
	ExtractionHints string           `json:"extraction_hints"`
	ContentType     string           `json:"content_type"`
}

// Navigator drives the decision loop over a tracked browser session.
type Navigator struct {
	mgr      *browser.Manager
	fetcher  *browser.Fetcher
	inv      llm.Invoker
	maxSteps int
}

// New builds a Navigator.
func New(mgr *browser.Manager, fetcher *browser.Fetcher, inv llm.Invoker, maxSteps int) *Navigator {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Navigator{mgr: mgr, fetcher: fetcher, inv: inv, maxSteps: maxSteps}
}

// Run executes the bounded decision loop for sessionID against goal,
// terminating on a validated EXTRACT, explicit GIVE_UP, max steps, or a
// detected navigation cycle.
func (n *Navigator) Run(ctx context.Context, sessionID, goal string, reasoning *domain.RequirementsReasoning, extract ExtractFunc) ([]domain.Finding, error) {
	timer := logging.StartTimer(logging.CategoryNavigator, "Run")
	defer timer.Stop()

	visitedBase := map[string]bool{}
	var retryContext string

	for step := 0; step < n.maxSteps; step++ {
		select {
		case <-ctx.Done():
			return nil, research.Cancelled("navigator")
		default:
		}

		perception, err := n.perceive(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("navigator: perceive: %w", err)
		}

		base := baseURL(perception.URL)
		if !strings.Contains(perception.URL, "?") && visitedBase[base] {
			logging.Get(logging.CategoryNavigator).Info("cycle detected: url=%s", perception.URL)
			return nil, research.ExtractionEmpty("navigator: cycle detected")
		}
		visitedBase[base] = true

		decision := n.decide(ctx, goal, perception, reasoning, retryContext)

		if guardFiltersOverride(perception, decision) {
			logging.Get(logging.CategoryNavigator).Info("guard: forcing EXTRACT to preserve applied filter")
			decision.Action = domain.ActionExtract
			decision.Reason = "guard: preserving applied price filter"
		}

		switch decision.Action {
		case domain.ActionGiveUp:
			return nil, research.ExtractionEmpty("navigator: give_up: " + decision.Reason)

		case domain.ActionExtract:
			findings, method, err := extract(ctx, sessionID, decision.ExtractionHints)
			if err != nil || len(findings) == 0 {
				retryContext = "extraction produced no results; try a different page or action"
				continue
			}
			ok, validationReason := n.validate(ctx, goal, reasoning, findings)
			if ok {
				logging.Get(logging.CategoryNavigator).Debug("validated extraction: method=%s findings=%d", method, len(findings))
				return findings, nil
			}
			retryContext = "previous extraction failed validation: " + validationReason
			continue

		case domain.ActionRetry:
			retryContext = decision.Reason
			continue

		case domain.ActionNavigate:
			if err := n.act(ctx, sessionID, perception, decision); err != nil {
				retryContext = "navigation failed: " + err.Error()
				continue
			}
			retryContext = ""

		default:
			retryContext = "unrecognized action; choose EXTRACT, NAVIGATE, GIVE_UP, or RETRY"
		}
	}
	return nil, research.ExtractionEmpty("navigator: max steps reached")
}

func (n *Navigator) perceive(ctx context.Context, sessionID string) (Perception, error) {
	page, ok := n.mgr.Page(sessionID)
	if !ok {
		return Perception{}, fmt.Errorf("unknown session %s", sessionID)
	}
	info, err := page.Info()
	if err != nil {
		return Perception{}, err
	}
	html, err := page.HTML()
	if err != nil {
		return Perception{}, err
	}

	sanitized, _ := sanitize.Sanitize(html, 2000)
	var headings []string
	var preview strings.Builder
	for _, c := range sanitized.Chunks {
		if c.HeadingPath != "" {
			headings = append(headings, c.HeadingPath)
		}
		if preview.Len() < 500 {
			preview.WriteString(c.Text)
			preview.WriteString(" ")
		}
	}
	lowerHTML := strings.ToLower(html)

	links, _ := browser.AnalyzeLinks(page)
	navLinks := make([]string, 0, len(links))
	for _, l := range links {
		if l.IsHoneypot || l.Text == "" {
			continue
		}
		navLinks = append(navLinks, l.Text)
	}

	return Perception{
		URL:            info.URL,
		NavLinks:       navLinks,
		Headings:       dedupe(headings),
		PriceCount:     strings.Count(lowerHTML, "$"),
		HasCart:        strings.Contains(lowerHTML, "add to cart") || strings.Contains(lowerHTML, "add to bag"),
		HasContactForm: strings.Contains(lowerHTML, "<form") && (strings.Contains(lowerHTML, "contact") || strings.Contains(lowerHTML, "message")),
		HasProductGrid: strings.Count(lowerHTML, "$") >= 3,
		BodyPreview:    truncate(preview.String(), 500),
		HasPriceFilter: containsAny(info.URL, priceFilterMarkers),
	}, nil
}

func (n *Navigator) decide(ctx context.Context, goal string, p Perception, reasoning *domain.RequirementsReasoning, retryContext string) Decision {
	reasonText := ""
	if reasoning != nil {
		reasonText = reasoning.ReasoningDocument
	}
	prompt := fmt.Sprintf(`Goal: %s
Requirements reasoning: %s
Retry context: %s
Current URL: %s
Has applied price filter: %v
Nav links: %s
Headings: %s
Price mentions: %d, has cart: %v, looks like a product grid: %v
Body preview: %s

Decide the next action. Respond as JSON:
{"action":"EXTRACT|NAVIGATE|GIVE_UP|RETRY","reason":"","target":"","alternative":"","extraction_hints":"","content_type":""}`,
		goal, reasonText, retryContext, p.URL, p.HasPriceFilter,
		strings.Join(p.NavLinks, "; "), strings.Join(p.Headings, "; "),
		p.PriceCount, p.HasCart, p.HasProductGrid, p.BodyPreview)

	text, err := n.inv.Call(ctx, prompt, llm.RoleNavigationDecider, 512, 0.2)
	if err != nil {
		return Decision{Action: domain.ActionGiveUp, Reason: "llm_unavailable"}
	}
	var d Decision
	if err := json.Unmarshal([]byte(extractJSON(text)), &d); err != nil {
		return Decision{Action: domain.ActionGiveUp, Reason: "unparsable decision"}
	}
	return d
}

func guardFiltersOverride(p Perception, d Decision) bool {
	if !p.HasPriceFilter || d.Action != domain.ActionNavigate {
		return false
	}
	return containsAny(strings.ToLower(d.Target), filterWipeWords)
}

func (n *Navigator) act(ctx context.Context, sessionID string, p Perception, d Decision) error {
	page, ok := n.mgr.Page(sessionID)
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	links, err := browser.AnalyzeLinks(page)
	if err != nil {
		return err
	}

	href := matchLinkTarget(links, d.Target)
	if href == "" && d.Alternative != "" {
		href = matchLinkTarget(links, d.Alternative)
	}
	if href == "" {
		return fmt.Errorf("no link matched target %q or alternative %q", d.Target, d.Alternative)
	}
	return n.mgr.Navigate(ctx, sessionID, href)
}

// matchLinkTarget implements the text -> partial-text -> href-slug
// matching strategy order from spec.md §4.10's ACT step.
func matchLinkTarget(links []browser.Link, target string) string {
	if target == "" {
		return ""
	}
	lowerTarget := strings.ToLower(strings.TrimSpace(target))

	for _, l := range links {
		if l.IsHoneypot {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(l.Text), lowerTarget) {
			return l.Href
		}
	}
	for _, l := range links {
		if l.IsHoneypot {
			continue
		}
		if strings.Contains(strings.ToLower(l.Text), lowerTarget) {
			return l.Href
		}
	}
	slug := strings.ReplaceAll(lowerTarget, " ", "-")
	for _, l := range links {
		if l.IsHoneypot {
			continue
		}
		if strings.Contains(strings.ToLower(l.Href), slug) {
			return l.Href
		}
	}
	return ""
}

// validate implements VALIDATE: deterministic match-ratio scoring against
// the requirements reasoning when available, falling back to an LLM
// extraction-validator call otherwise (spec.md §4.10).
func (n *Navigator) validate(ctx context.Context, goal string, reasoning *domain.RequirementsReasoning, findings []domain.Finding) (bool, string) {
	if reasoning == nil {
		return n.llmValidate(ctx, goal, findings)
	}

	matched, total := 0, 0
	for _, f := range findings {
		total++
		if matchesCriteria(f, reasoning.ParsedCriteria) {
			matched++
		}
	}
	if total == 0 {
		return n.llmValidate(ctx, goal, findings)
	}
	ratio := float64(matched) / float64(total)
	if ratio >= 0.3 {
		return true, ""
	}
	return false, fmt.Sprintf("match ratio %.2f below 0.3 threshold", ratio)
}

func matchesCriteria(f domain.Finding, c domain.ParsedCriteria) bool {
	text := strings.ToLower(f.Name + " " + f.Description)
	for _, excluded := range c.ExcludedTerms {
		if excluded != "" && strings.Contains(text, strings.ToLower(excluded)) {
			return false
		}
	}
	for _, wrong := range c.WrongCategory {
		if wrong != "" && strings.Contains(text, strings.ToLower(wrong)) {
			return false
		}
	}
	if c.BudgetMax > 0 && f.Price > c.BudgetMax {
		return false
	}
	if c.BudgetMin > 0 && f.Price > 0 && f.Price < c.BudgetMin {
		return false
	}
	// Not being disqualified is not enough: when required specs exist, at
	// least one (or an acceptable alternative for it) must actually appear,
	// so the match ratio reflects positive evidence.
	if len(c.RequiredSpecs) > 0 && !hasRequiredSpec(text, c) {
		return false
	}
	return true
}

func hasRequiredSpec(text string, c domain.ParsedCriteria) bool {
	for _, req := range c.RequiredSpecs {
		if req == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(req)) {
			return true
		}
		for _, alt := range c.AcceptableAlternatives[req] {
			if alt != "" && strings.Contains(text, strings.ToLower(alt)) {
				return true
			}
		}
	}
	return false
}

func (n *Navigator) llmValidate(ctx context.Context, goal string, findings []domain.Finding) (bool, string) {
	findingsJSON, _ := json.Marshal(findings)
	prompt := fmt.Sprintf(`Goal: %s
Extracted findings: %s

Respond as JSON: {"matches_goal": true|false, "match_score": <0..1>, "suggested_action": ""}`, goal, string(findingsJSON))

	text, err := n.inv.Call(ctx, prompt, llm.RoleExtractionValidator, 256, 0.1)
	if err != nil {
		return len(findings) > 0, "llm_unavailable fallback"
	}
	var resp struct {
		MatchesGoal     bool    `json:"matches_goal"`
		MatchScore      float64 `json:"match_score"`
		SuggestedAction string  `json:"suggested_action"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return len(findings) > 0, "unparsable validation fallback"
	}
	return resp.MatchesGoal, resp.SuggestedAction
}

func baseURL(rawURL string) string {
	if idx := strings.Index(rawURL, "?"); idx != -1 {
		return rawURL[:idx]
	}
	return rawURL
}

func containsAny(haystack string, needles []string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
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
