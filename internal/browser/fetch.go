// Page fetching with blocker classification and human-intervention support
// (C5). Grounded on the teacher's Navigate/Screenshot helpers in
// session_manager.go, extended with the response-status capture spec.md
// §4.5 requires for blocker detection.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"researchcore/internal/domain"
	"researchcore/internal/logging"
	"researchcore/internal/research"
)

// FetchResult is the outcome of fetching one URL.
type FetchResult struct {
	FinalURL     string
	StatusCode   int
	HTML         string
	Blocker      domain.BlockerType
	Screenshot   []byte
	Intervention bool // a human intervention was requested for this fetch
}

// Fetcher wraps a Manager to fetch pages with blocker detection and an
// optional intervention sink consulted when a blocker is detected.
type Fetcher struct {
	mgr              *Manager
	sink             InterventionSink
	interventionWait time.Duration
}

// NewFetcher builds a Fetcher over mgr. sink, if non-nil, receives an
// intervention request whenever a blocker is detected, and the fetch blocks
// up to interventionWait for a human to resolve it (solve the captcha,
// supply cookies) before the page is retried once.
func NewFetcher(mgr *Manager, interventionWait time.Duration, sink InterventionSink) *Fetcher {
	if interventionWait <= 0 {
		interventionWait = 120 * time.Second
	}
	return &Fetcher{mgr: mgr, sink: sink, interventionWait: interventionWait}
}

// Fetch navigates sessionID's page to url, classifies any blocker response,
// and (when a sink is configured) gives a human operator a chance to
// intervene before reporting failure. After any successful fetch the
// session's context state (cookies, storage) is persisted so it survives
// restarts (spec.md §3 lifecycle).
func (f *Fetcher) Fetch(ctx context.Context, sessionID, url string) (FetchResult, error) {
	timer := logging.StartTimer(logging.CategoryBrowser, "Fetch")
	defer timer.Stop()

	result, err := f.fetchOnce(ctx, sessionID, url)
	if err != nil {
		return result, err
	}

	if result.Blocker == domain.BlockerNone {
		_ = f.mgr.PersistContextState(sessionID)
		return result, nil
	}

	logging.Get(logging.CategoryBrowser).Warn(
		"blocker detected: session=%s url=%s kind=%s", sessionID, url, result.Blocker)

	if f.sink == nil {
		return result, research.Blocked(url, string(result.Blocker))
	}

	resolved, rerr := f.intervene(ctx, sessionID, url, result)
	if rerr != nil || !resolved {
		return result, research.Blocked(url, string(result.Blocker))
	}

	// Retry exactly once after resolution.
	retried, err := f.fetchOnce(ctx, sessionID, url)
	retried.Intervention = true
	if err != nil {
		return retried, err
	}
	if retried.Blocker != domain.BlockerNone {
		return retried, research.Blocked(url, string(retried.Blocker))
	}
	_ = f.mgr.PersistContextState(sessionID)
	return retried, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, sessionID, url string) (FetchResult, error) {
	page, ok := f.mgr.Page(sessionID)
	if !ok {
		return FetchResult{}, fmt.Errorf("browser: unknown session %s", sessionID)
	}

	var status int
	waitResp := page.Context(ctx).EachEvent(func(ev *proto.NetworkResponseReceived) (stop bool) {
		if ev.Type == proto.NetworkResourceTypeDocument {
			status = ev.Response.Status
			return true
		}
		return false
	})

	state, restore := f.mgr.maybeRestoreCookies(sessionID, url)

	var respErr error
	if err := page.Context(ctx).Timeout(f.mgr.cfg.navigationTimeout()).Navigate(url); err != nil {
		respErr = err
	}
	waitResp()
	if err := page.Context(ctx).WaitLoad(); err != nil && respErr == nil {
		respErr = err
	}
	if restore {
		restoreStorage(page, state.LocalStorage, state.SessionStorage)
	}

	html, _ := page.HTML()
	finalURL := url
	if info, err := page.Info(); err == nil {
		finalURL = info.URL
	}

	result := FetchResult{
		FinalURL:   finalURL,
		StatusCode: status,
		HTML:       html,
		Blocker:    ClassifyBlocker(status, html),
	}
	if result.Blocker == domain.BlockerNone && respErr != nil {
		return result, fmt.Errorf("browser: navigate %s: %w", url, respErr)
	}
	return result, nil
}

// intervene registers the blocker with the sink, waits for resolution, and
// applies any supplied cookies to the session before the caller retries.
func (f *Fetcher) intervene(ctx context.Context, sessionID, url string, result FetchResult) (bool, error) {
	shot, _ := f.Screenshot(ctx, sessionID)
	handle, err := f.sink.RequestIntervention(ctx, InterventionRequest{
		BlockerType: result.Blocker,
		URL:         url,
		SessionID:   sessionID,
		Screenshot:  shot,
	})
	if err != nil {
		return false, err
	}

	resolution, err := handle.WaitForResolution(ctx, f.interventionWait)
	if err != nil || !resolution.Resolved {
		logging.Get(logging.CategoryBrowser).Warn(
			"intervention unresolved: session=%s url=%s err=%v", sessionID, url, err)
		return false, err
	}

	if len(resolution.Cookies) > 0 {
		if err := f.injectCookies(sessionID, resolution.Cookies); err != nil {
			logging.Get(logging.CategoryBrowser).Warn("inject cookies: %v", err)
		}
	}
	_ = f.mgr.PersistContextState(sessionID)
	logging.Get(logging.CategoryBrowser).Info(
		"intervention resolved: session=%s url=%s cookies=%d", sessionID, url, len(resolution.Cookies))
	return true, nil
}

func (f *Fetcher) injectCookies(sessionID string, cookies []Cookie) error {
	page, ok := f.mgr.Page(sessionID)
	if !ok {
		return fmt.Errorf("browser: unknown session %s", sessionID)
	}
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		params = append(params, &proto.NetworkCookieParam{
			Name: c.Name, Value: c.Value, Domain: c.Domain, Path: path,
		})
	}
	return page.SetCookies(params)
}

// Screenshot captures the current page, used to hand a blocker screenshot
// to a human operator during intervention.
func (f *Fetcher) Screenshot(ctx context.Context, sessionID string) ([]byte, error) {
	page, ok := f.mgr.Page(sessionID)
	if !ok {
		return nil, fmt.Errorf("browser: unknown session %s", sessionID)
	}
	return page.Context(ctx).Screenshot(true, nil)
}

// Click clicks the first element matching selector.
func (f *Fetcher) Click(ctx context.Context, sessionID, selector string) error {
	page, ok := f.mgr.Page(sessionID)
	if !ok {
		return fmt.Errorf("browser: unknown session %s", sessionID)
	}
	el, err := page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: element not found %s: %w", selector, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}
