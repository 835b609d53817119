// Human-paced search-engine querying (C4). Issues a query against one of
// the configured search engines and parses result snippets. Searcher does
// no pacing of its own: callers acquire the global rate limiter (C2) before
// each Search so concurrent vendor/engine work never violates it.
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"researchcore/internal/domain"
	"researchcore/internal/logging"
	"researchcore/internal/research"
)

// engineTemplates maps an engine name to its search URL template and result
// item selector. Selectors are deliberately loose (title/snippet pulled by
// common attribute names) since search engines restyle result markup often;
// the page reader (C7) re-validates anything extracted here downstream.
var engineTemplates = map[string]struct {
	urlFmt   string
	resultSel string
	titleSel  string
	snippetSel string
}{
	"duckduckgo": {
		urlFmt:     "https://duckduckgo.com/html/?q=%s",
		resultSel:  ".result",
		titleSel:   ".result__title",
		snippetSel: ".result__snippet",
	},
	"bing": {
		urlFmt:     "https://www.bing.com/search?q=%s",
		resultSel:  ".b_algo",
		titleSel:   "h2",
		snippetSel: ".b_caption p",
	},
	"google": {
		urlFmt:     "https://www.google.com/search?q=%s",
		resultSel:  "div.g",
		titleSel:   "h3",
		snippetSel: "div[data-sncf]",
	},
}

// Searcher runs human-paced queries across configured search engines.
type Searcher struct {
	mgr     *Manager
	engines []string
}

// NewSearcher builds a Searcher over mgr restricted to the given engine
// names (subset of engineTemplates' keys).
func NewSearcher(mgr *Manager, engines []string) *Searcher {
	return &Searcher{mgr: mgr, engines: engines}
}

// Engines returns the configured engine names, in priority order.
func (s *Searcher) Engines() []string { return s.engines }

// Search issues query against engine and returns parsed SERP entries.
// The caller is responsible for honoring the rate limiter's delay before
// invoking Search (C2 owns pacing; C4 owns execution).
func (s *Searcher) Search(ctx context.Context, sessionID, engine, query string) ([]domain.SERPResult, error) {
	timer := logging.StartTimer(logging.CategoryBrowser, fmt.Sprintf("Search[%s]", engine))
	defer timer.Stop()

	tmpl, ok := engineTemplates[engine]
	if !ok {
		return nil, fmt.Errorf("browser: unknown search engine %q", engine)
	}

	searchURL := fmt.Sprintf(tmpl.urlFmt, url.QueryEscape(query))
	page, ok := s.mgr.Page(sessionID)
	if !ok {
		return nil, fmt.Errorf("browser: unknown session %s", sessionID)
	}

	s.warmup(ctx, sessionID, searchURL)

	if err := page.Context(ctx).Timeout(s.mgr.cfg.navigationTimeout()).Navigate(searchURL); err != nil {
		return nil, fmt.Errorf("browser: navigate to %s: %w", engine, err)
	}
	_ = page.Context(ctx).WaitLoad()

	if html, err := page.HTML(); err == nil {
		if blocker := ClassifyBlocker(0, html); blocker != domain.BlockerNone {
			logging.Get(logging.CategoryBrowser).Warn("engine blocked: engine=%s kind=%s", engine, blocker)
			return nil, research.Blocked(engine, string(blocker))
		}
	}

	elements, err := page.Elements(tmpl.resultSel)
	if err != nil {
		return nil, fmt.Errorf("browser: query results for %s: %w", engine, err)
	}

	var results []domain.SERPResult
	for _, el := range elements {
		titleEl, err := el.Element(tmpl.titleSel)
		if err != nil {
			continue
		}
		title, _ := titleEl.Text()
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}

		href := ""
		if linkEl, err := titleEl.Element("a"); err == nil {
			if h, err := linkEl.Attribute("href"); err == nil && h != nil {
				href = *h
			}
		} else if h, err := el.Element("a"); err == nil {
			if href2, err := h.Attribute("href"); err == nil && href2 != nil {
				href = *href2
			}
		}

		snippet := ""
		if snipEl, err := el.Element(tmpl.snippetSel); err == nil {
			text, _ := snipEl.Text()
			snippet = strings.TrimSpace(text)
		}

		if href == "" {
			continue
		}
		results = append(results, domain.SERPResult{Title: title, URL: href, Snippet: snippet})
	}

	logging.Get(logging.CategoryBrowser).Debug("engine=%s query=%q results=%d", engine, query, len(results))
	return results, nil
}

// warmup visits the engine's home page, idles briefly, and scrolls a little
// before the real search navigation, so the session's first request to the
// engine does not look like a cold bot hit (spec.md §4.4 step a). Failures
// are ignored: warmup is best-effort.
func (s *Searcher) warmup(ctx context.Context, sessionID, searchURL string) {
	page, ok := s.mgr.Page(sessionID)
	if !ok {
		return
	}
	u, err := url.Parse(searchURL)
	if err != nil {
		return
	}
	home := u.Scheme + "://" + u.Host + "/"
	if err := page.Context(ctx).Timeout(s.mgr.cfg.navigationTimeout()).Navigate(home); err != nil {
		return
	}
	_ = page.Context(ctx).WaitLoad()

	idle := time.Duration(300+rand.Intn(900)) * time.Millisecond
	select {
	case <-ctx.Done():
		return
	case <-time.After(idle):
	}
	_, _ = page.Eval(`() => { window.scrollBy(0, 200 + Math.floor(Math.random() * 300)); }`)
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(200+rand.Intn(400)) * time.Millisecond):
	}
	_, _ = page.Eval(`() => { window.scrollBy(0, -150); }`)
}
