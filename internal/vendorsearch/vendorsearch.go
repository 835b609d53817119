// Package vendorsearch implements Phase 2, vendor extraction (C13): it
// selects candidate vendor domains, runs the goal-directed navigator (C10)
// against each with bounded concurrency, tags every finding with the
// actual URL host (never an LLM-claimed vendor name), and applies
// deterministic post-filters before splitting results into passing and
// rejected sets (spec.md §4.13). Bounded per-vendor fan-out is grounded on
// the pack's golang.org/x/sync usage (errgroup + semaphore) rather than a
// hand-rolled worker pool.
package vendorsearch

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"researchcore/internal/browser"
	"researchcore/internal/domain"
	"researchcore/internal/llm"
	"researchcore/internal/logging"
	"researchcore/internal/navigator"
	"researchcore/internal/pagereader"
	"researchcore/internal/research"
	"researchcore/internal/sanitize"
	"researchcore/internal/schema"
	"researchcore/internal/sitecache"
	"researchcore/internal/vendor"
)

// Deps bundles the collaborators Run needs.
type Deps struct {
	Manager          *browser.Manager
	Fetcher          *browser.Fetcher
	Navigator        *navigator.Navigator
	Schemas          *schema.Registry
	Vendors          *vendor.Registry
	SiteKnowledge    *sitecache.Cache
	Invoker          llm.Invoker
	Concurrency      int
	PerVendorTimeout time.Duration
	TokenBudget      int
	// SessionScope names the research session so persisted browser context
	// state is keyed per {session_id, domain} (spec.md §3).
	SessionScope string
}

// Candidate is one vendor domain selected for Phase 2. Unusable vendors are
// dropped; the rest are ranked by relevance x health x LLM quality score.
type Candidate struct {
	Domain    string
	Name      string
	Score     float64
	SearchURL string
}

// SelectVendors ranks candidate vendor domains from intelligence retailers,
// known site-knowledge domains, and supplementary SERP results for the
// optimized query (spec.md §4.13).
func SelectVendors(intel *domain.Intelligence, known []string, serp []domain.SERPResult, vendors *vendor.Registry, limit int) []Candidate {
	scores := map[string]Candidate{}

	if intel != nil {
		for d, mention := range intel.Retailers {
			scores[d] = Candidate{Domain: d, Score: mention.Relevance}
		}
	}
	for _, d := range known {
		if c, ok := scores[d]; ok {
			c.Score += 0.2
			scores[d] = c
		} else {
			scores[d] = Candidate{Domain: d, Score: 0.4}
		}
	}
	for _, r := range serp {
		host := hostOf(r.URL)
		if host == "" {
			continue
		}
		if c, ok := scores[host]; ok {
			c.SearchURL = r.URL
			scores[host] = c
			continue
		}
		scores[host] = Candidate{Domain: host, Score: 0.3, SearchURL: r.URL}
	}

	out := make([]Candidate, 0, len(scores))
	for _, c := range scores {
		rec, _ := vendors.Get(c.Domain)
		usable := vendors.IsUsable(c.Domain)
		if !usable {
			continue
		}
		health := vendors.HealthScore(c.Domain)
		quality := 1.0
		if rec != nil && rec.LLMQualityScore > 0 {
			quality = rec.LLMQualityScore
		}
		c.Score = c.Score * health * quality
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Result is the aggregated Phase 2 outcome.
type Result struct {
	Passing  []domain.Finding
	Rejected []domain.Finding
	Visited  int
}

// Run fans candidates out across Deps.Concurrency workers, navigating each
// vendor and handing off to the navigator, then applies post-filters.
func Run(ctx context.Context, d Deps, goal string, reasoning *domain.RequirementsReasoning, candidates []Candidate) Result {
	timer := logging.StartTimer(logging.CategoryVendorSearch, "Run")
	defer timer.Stop()

	if d.Concurrency <= 0 {
		d.Concurrency = 3
	}
	sem := semaphore.NewWeighted(int64(d.Concurrency))
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	var allFindings []domain.Finding
	visited := 0

	for _, c := range candidates {
		c := c
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			vctx := gctx
			var cancel context.CancelFunc
			if d.PerVendorTimeout > 0 {
				vctx, cancel = context.WithTimeout(gctx, d.PerVendorTimeout)
				defer cancel()
			}

			findings, err := runVendor(vctx, d, goal, reasoning, c)
			mu.Lock()
			visited++
			if err == nil {
				allFindings = append(allFindings, findings...)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	passing, rejected := applyPostFilters(allFindings, reasoning)
	return Result{Passing: passing, Rejected: rejected, Visited: visited}
}

func runVendor(ctx context.Context, d Deps, goal string, reasoning *domain.RequirementsReasoning, c Candidate) ([]domain.Finding, error) {
	startURL := c.SearchURL
	if startURL == "" {
		startURL = "https://" + c.Domain + "/"
	}

	start := time.Now()
	sess, err := d.Manager.CreateScopedSession(ctx, d.SessionScope, "about:blank")
	if err != nil {
		_, _ = d.Vendors.RecordVisit(c.Domain, false, time.Since(start), false, false)
		return nil, err
	}
	defer d.Manager.CloseSession(sess.ID)

	// The vendor landing goes through the fetcher (C5) so blockers are
	// classified and an intervention can rescue a captcha before the
	// navigator takes over.
	if d.Fetcher != nil {
		if _, ferr := d.Fetcher.Fetch(ctx, sess.ID, startURL); ferr != nil {
			blocked := research.ClassifyKind(ferr) == research.KindBlocked
			_, _ = d.Vendors.RecordVisit(c.Domain, false, time.Since(start), blocked, schemaKnown(d.Schemas, c.Domain))
			return nil, ferr
		}
	} else if nerr := d.Manager.Navigate(ctx, sess.ID, startURL); nerr != nil {
		_, _ = d.Vendors.RecordVisit(c.Domain, false, time.Since(start), false, schemaKnown(d.Schemas, c.Domain))
		return nil, nerr
	}

	rc := &runContext{d: d, goal: goal, sessionID: sess.ID}
	findings, err := d.Navigator.Run(ctx, sess.ID, goal, reasoning, rc.extract)

	blocked := research.ClassifyKind(err) == research.KindBlocked
	hasSchema := schemaKnown(d.Schemas, c.Domain)
	strategy, rerr := d.Vendors.RecordVisit(c.Domain, err == nil && len(findings) > 0, time.Since(start), blocked, hasSchema)
	if rerr == nil && strategy != "" {
		logging.Get(logging.CategoryVendorSearch).Info("recovery hint for %s: %s", c.Domain, strategy)
	}
	if err != nil {
		return nil, err
	}

	for i := range findings {
		findings[i].Vendor = hostOf(findings[i].URL)
		if findings[i].Vendor == "" {
			findings[i].Vendor = c.Domain
		}
	}
	return findings, nil
}

// schemaKnown reports whether any learned schema exists for domainName,
// which reorders the vendor registry's recovery-strategy sequence.
func schemaKnown(schemas *schema.Registry, domainName string) bool {
	if schemas == nil {
		return false
	}
	for _, s := range schemas.All() {
		if s.Domain == domainName {
			return true
		}
	}
	return false
}

// runContext closes over Phase 2 dependencies for the navigator's
// extraction callback: schema-first extraction (C8 consultation) falling
// back to general pagereader extraction (spec.md §4.13).
type runContext struct {
	d         Deps
	goal      string
	sessionID string
}

func (rc *runContext) extract(ctx context.Context, sessionID, hints string) ([]domain.Finding, string, error) {
	page, ok := rc.d.Manager.Page(sessionID)
	if !ok {
		return nil, "", fmt.Errorf("vendorsearch: unknown session %s", sessionID)
	}
	html, err := page.HTML()
	if err != nil {
		return nil, "", err
	}
	info, _ := page.Info()
	pageURL := info.URL
	domainName := hostOf(pageURL)

	sanitized, err := sanitize.Sanitize(html, rc.d.TokenBudget)
	if err != nil {
		return nil, "", err
	}
	fullText := joinText(sanitized)
	pageType := pagereader.DetectPageType(fullText, pageURL)

	if s, ok := rc.d.Schemas.Get(domainName, string(pageType)); ok && !s.Stale && !s.NeedsRecalibration() {
		if findings, err := schemaExtract(page, s, domainName); err == nil && len(findings) > 0 {
			_ = rc.d.Schemas.RecordExtraction(domainName, string(pageType), true, "schema")
			return findings, "schema", nil
		}
		_ = rc.d.Schemas.RecordExtraction(domainName, string(pageType), false, "schema")
	}

	read, err := pagereader.Read(ctx, rc.d.Invoker, rc.goal, pageURL, sanitized, hints)
	if err != nil || read.Abandoned || len(read.Items) == 0 {
		ensureSchemaRecord(rc.d.Schemas, domainName, string(pageType))
		_ = rc.d.Schemas.RecordExtraction(domainName, string(pageType), false, "general")
		return nil, "general", research.ExtractionEmpty(domainName)
	}

	findings := itemsToFindings(read.Items, domainName)
	ensureSchemaRecord(rc.d.Schemas, domainName, string(pageType))
	_ = rc.d.Schemas.RecordExtraction(domainName, string(pageType), true, "general")
	return findings, "general", nil
}

// ensureSchemaRecord creates an empty schema record the first time a
// domain+page_type pair is seen, so method-level statistics (spec.md §4.8)
// have somewhere to accumulate even before any selectors are learned.
func ensureSchemaRecord(schemas *schema.Registry, domainName, pageType string) {
	if _, ok := schemas.Get(domainName, pageType); ok {
		return
	}
	_ = schemas.Save(&schema.Schema{Domain: domainName, PageType: pageType, Selectors: map[string]string{}})
}

// schemaExtract performs a selector-driven extraction using a previously
// learned schema, querying the DOM directly via the schema's recorded
// selectors instead of an LLM call. It only succeeds when a product_card
// selector is present and at least one card yields a name and price.
func schemaExtract(page *rod.Page, s *schema.Schema, domainName string) ([]domain.Finding, error) {
	cardSel, ok := s.Selectors["product_card"]
	if !ok || cardSel == "" {
		return nil, fmt.Errorf("schemaExtract: no product_card selector for %s", domainName)
	}
	cards, err := page.Elements(cardSel)
	if err != nil || len(cards) == 0 {
		return nil, fmt.Errorf("schemaExtract: no cards matched %q for %s", cardSel, domainName)
	}

	var findings []domain.Finding
	for _, card := range cards {
		name := textWithin(card, s.Selectors["title"])
		priceText := textWithin(card, s.Selectors["price"])
		if name == "" || priceText == "" {
			continue
		}
		href, _ := hrefWithin(card, s.Selectors["product_link"])
		findings = append(findings, domain.Finding{
			Name:        name,
			Price:       parsePrice(priceText),
			Vendor:      domainName,
			URL:         href,
			Description: textWithin(card, s.Selectors["description"]),
			Confidence:  0.9,
		})
	}
	if len(findings) == 0 {
		return nil, fmt.Errorf("schemaExtract: no usable cards for %s", domainName)
	}
	return findings, nil
}

func textWithin(card *rod.Element, sel string) string {
	if sel == "" {
		return ""
	}
	el, err := card.Element(sel)
	if err != nil || el == nil {
		return ""
	}
	text, _ := el.Text()
	return strings.TrimSpace(text)
}

func hrefWithin(card *rod.Element, sel string) (string, error) {
	if sel == "" {
		return "", nil
	}
	el, err := card.Element(sel)
	if err != nil || el == nil {
		return "", err
	}
	href, err := el.Attribute("href")
	if err != nil || href == nil {
		return "", err
	}
	return *href, nil
}

func parsePrice(text string) float64 {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "$")
	text = strings.ReplaceAll(text, ",", "")
	var v float64
	_, _ = fmt.Sscanf(text, "%f", &v)
	return v
}

func itemsToFindings(items []pagereader.Item, fallbackDomain string) []domain.Finding {
	findings := make([]domain.Finding, 0, len(items))
	for _, it := range items {
		vendorDomain := hostOf(it.URL)
		if vendorDomain == "" {
			vendorDomain = fallbackDomain
		}
		findings = append(findings, domain.Finding{
			Name:        it.Name,
			Price:       it.Price,
			Vendor:      vendorDomain,
			URL:         it.URL,
			Description: it.Description,
			Confidence:  1.0,
			Strengths:   it.Strengths,
			Weaknesses:  it.Weaknesses,
		})
	}
	return findings
}

// applyPostFilters enforces budget, excluded-term, and required-spec
// constraints deterministically (spec.md §4.13), independent of whatever
// the navigator's own VALIDATE step already did. Deal-breakers are not
// checked here: it sees only the requirements reasoning, not the
// intelligence that carries them.
func applyPostFilters(findings []domain.Finding, reasoning *domain.RequirementsReasoning) ([]domain.Finding, []domain.Finding) {
	if reasoning == nil {
		return findings, nil
	}
	c := reasoning.ParsedCriteria
	var passing, rejected []domain.Finding
	for _, f := range findings {
		text := strings.ToLower(f.Name + " " + f.Description)
		reject := false
		if c.BudgetMax > 0 && f.Price > c.BudgetMax {
			reject = true
		}
		if c.BudgetMin > 0 && f.Price > 0 && f.Price < c.BudgetMin {
			reject = true
		}
		for _, term := range c.ExcludedTerms {
			if term != "" && strings.Contains(text, strings.ToLower(term)) {
				reject = true
			}
		}
		for _, req := range c.RequiredSpecs {
			if req != "" && !strings.Contains(text, strings.ToLower(req)) {
				if !hasAcceptableAlternative(text, req, c.AcceptableAlternatives) {
					reject = true
				}
			}
		}
		if reject {
			f.Mismatch = true
			rejected = append(rejected, f)
		} else {
			passing = append(passing, f)
		}
	}
	return passing, rejected
}

func hasAcceptableAlternative(text, spec string, alternatives map[string][]string) bool {
	for _, alt := range alternatives[spec] {
		if alt != "" && strings.Contains(text, strings.ToLower(alt)) {
			return true
		}
	}
	return false
}

func joinText(s sanitize.Result) string {
	var sb strings.Builder
	for _, c := range s.Chunks {
		sb.WriteString(c.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
