// Package browser drives headless Chrome via go-rod for the research core:
// per-session fingerprinting and stealth injection (C1), human-paced
// search-engine queries (C4), and page fetch with blocker/intervention
// handling (C5). Adapted from codeNERD's internal/browser/session_manager.go
// session-lifecycle design (launch-or-attach, incognito contexts, cookie and
// storage snapshot/restore for forking), stripped of its React-fiber and
// Mangle-fact reification, since this core extracts structured Findings via
// the LLM-driven page reader (C7) rather than a logic-engine DOM ingest.
package browser

import (
	"context"
	"errors"
	"fmt"
	neturl "net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"encoding/json"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"researchcore/internal/logging"
)

// Session describes one tracked browser context. Scope is the research
// session the context belongs to; persisted cookie/storage state is keyed
// by {scope, domain} so it is found again across invocations (spec.md §3).
type Session struct {
	ID         string    `json:"id"`
	Scope      string    `json:"scope,omitempty"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type sessionRecord struct {
	meta Session
	page *rod.Page
	// hosts whose persisted context has already been restored into this
	// session, so a later navigation never clobbers fresher live cookies
	// with the stale on-disk snapshot.
	restoredHosts map[string]bool
}

// Config configures the browser manager (mirrors config.BrowserConfig).
type Config struct {
	DebuggerURL         string
	Launch              []string
	Headless            bool
	ViewportWidth       int
	ViewportHeight      int
	NavigationTimeoutMs int
	SessionStateDir     string
}

func (c Config) viewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1920
	}
	return c.ViewportWidth
}

func (c Config) viewportHeight() int {
	if c.ViewportHeight == 0 {
		return 1080
	}
	return c.ViewportHeight
}

func (c Config) navigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

func (c Config) sessionStorePath() string {
	if c.SessionStateDir == "" {
		return ""
	}
	return filepath.Join(c.SessionStateDir, "sessions.json")
}

// Manager owns the detached Chrome instance and tracks active sessions.
type Manager struct {
	cfg        Config
	mu         sync.RWMutex
	browser    *rod.Browser
	sessions   map[string]*sessionRecord
	controlURL string
}

// NewManager creates a browser manager from the given configuration.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, sessions: make(map[string]*sessionRecord)}
}

// Start connects to an existing Chrome instance or launches a new one.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		logging.Get(logging.CategoryBrowser).Warn("stale browser connection, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.sessions = make(map[string]*sessionRecord)
	}

	if err := m.loadSessionsLocked(); err != nil {
		return fmt.Errorf("browser: load sessions: %w", err)
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" && len(m.cfg.Launch) > 0 {
		bin := m.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(m.cfg.Headless)
		for _, rawFlag := range m.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("browser: launch chrome: %w", err)
		}
		controlURL = url
	}
	if controlURL == "" {
		url, err := launcher.New().Headless(m.cfg.Headless).Launch()
		if err != nil {
			return fmt.Errorf("browser: no debugger_url and failed to launch: %w", err)
		}
		controlURL = url
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("browser: connect: %w", err)
	}
	m.browser = b
	m.controlURL = controlURL
	logging.Get(logging.CategoryBrowser).Info("connected: %s", controlURL)
	return nil
}

func (m *Manager) ensureStarted(ctx context.Context) error {
	m.mu.RLock()
	if m.browser != nil {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()
	return m.Start(ctx)
}

// IsConnected reports whether the browser is live.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown closes tracked pages and the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.sessions {
		if rec.page != nil {
			_ = rec.page.Close()
		}
		delete(m.sessions, id)
	}
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	return err
}

// CreateSession opens a new incognito page at url with no research-session
// scope; persisted context state is then keyed by domain alone.
func (m *Manager) CreateSession(ctx context.Context, url string) (*Session, error) {
	return m.CreateScopedSession(ctx, "", url)
}

// CreateScopedSession opens a new incognito page at url, with per-session
// stealth injection (C1) applied before navigation. scope names the
// research session; any context state previously persisted for
// {scope, host(url)} is restored before the first request so cookies
// survive across invocations (spec.md §3 lifecycle).
func (m *Manager) CreateScopedSession(ctx context.Context, scope, url string) (*Session, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	b := m.browser
	m.mu.RUnlock()
	if b == nil {
		return nil, errors.New("browser: not connected")
	}

	incognito, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("browser: incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.viewportWidth(),
		Height:            m.cfg.viewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.Get(logging.CategoryBrowser).Warn("set viewport: %v", err)
	}

	fp := NewFingerprint()
	if err := ApplyStealth(page, fp); err != nil {
		logging.Get(logging.CategoryBrowser).Warn("apply stealth: %v", err)
	}

	host := hostOfURL(url)
	state, restored := m.readContextState(scope, host)
	if restored && len(state.Cookies) > 0 {
		_ = page.SetCookies(state.Cookies)
	}

	if err := page.Context(ctx).Timeout(m.cfg.navigationTimeout()).Navigate(url); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("browser: navigate: %w", err)
	}

	meta := Session{ID: uuid.NewString(), Scope: scope, TargetID: string(page.TargetID), URL: url, Status: "active", CreatedAt: time.Now(), LastActive: time.Now()}
	rec := &sessionRecord{meta: meta, page: page, restoredHosts: map[string]bool{}}
	if restored {
		// Storage is origin-scoped, so it can only be written back after
		// the page has landed on the right origin.
		restoreStorage(page, state.LocalStorage, state.SessionStorage)
		rec.restoredHosts[host] = true
	}
	m.mu.Lock()
	m.sessions[meta.ID] = rec
	m.mu.Unlock()
	_ = m.persistSessions()
	return &meta, nil
}

// Page returns the underlying Rod page for a session.
func (m *Manager) Page(sessionID string) (*rod.Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return rec.page, true
}

// GetSession returns session metadata.
func (m *Manager) GetSession(sessionID string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return rec.meta, true
}

// UpdateMetadata mutates session metadata under lock.
func (m *Manager) UpdateMetadata(sessionID string, updater func(Session) Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	rec.meta = updater(rec.meta)
}

// CloseSession releases one tracked session's page.
func (m *Manager) CloseSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.sessions[sessionID]; ok {
		if rec.page != nil {
			_ = rec.page.Close()
		}
		delete(m.sessions, sessionID)
	}
}

// Navigate sends a session's page to url, restoring any persisted context
// state for the target host on the session's first visit there.
func (m *Manager) Navigate(ctx context.Context, sessionID, url string) error {
	page, ok := m.Page(sessionID)
	if !ok {
		return fmt.Errorf("browser: unknown session %s", sessionID)
	}
	state, restore := m.maybeRestoreCookies(sessionID, url)
	if err := page.Context(ctx).Timeout(m.cfg.navigationTimeout()).Navigate(url); err != nil {
		return err
	}
	if restore {
		restoreStorage(page, state.LocalStorage, state.SessionStorage)
	}
	m.UpdateMetadata(sessionID, func(s Session) Session {
		s.URL = url
		s.LastActive = time.Now()
		return s
	})
	return nil
}

// ForkSession clones cookies and storage from src into a new incognito
// context, used by the navigator (C10) to branch exploration without
// losing an established login/consent state.
func (m *Manager) ForkSession(ctx context.Context, sessionID, url string) (*Session, error) {
	srcPage, ok := m.Page(sessionID)
	if !ok {
		return nil, fmt.Errorf("browser: unknown session %s", sessionID)
	}
	srcMeta, _ := m.GetSession(sessionID)

	cookiesRes, err := proto.NetworkGetCookies{}.Call(srcPage)
	if err != nil {
		return nil, fmt.Errorf("browser: get cookies: %w", err)
	}
	localJSON := snapshotStorage(srcPage, "localStorage")
	sessionJSON := snapshotStorage(srcPage, "sessionStorage")

	targetURL := url
	if targetURL == "" {
		targetURL = srcMeta.URL
		if targetURL == "" {
			targetURL = "about:blank"
		}
	}
	dest, err := m.CreateSession(ctx, targetURL)
	if err != nil {
		return nil, fmt.Errorf("browser: create forked session: %w", err)
	}
	destPage, ok := m.Page(dest.ID)
	if !ok {
		return dest, nil
	}

	params := make([]*proto.NetworkCookieParam, 0, len(cookiesRes.Cookies))
	for _, c := range cookiesRes.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
			Expires: c.Expires, HTTPOnly: c.HTTPOnly, Secure: c.Secure,
			SameSite: c.SameSite, Priority: c.Priority,
		})
	}
	if len(params) > 0 {
		_ = destPage.SetCookies(params)
	}
	restoreStorage(destPage, localJSON, sessionJSON)
	m.UpdateMetadata(dest.ID, func(s Session) Session { s.Status = "forked"; return s })
	_ = m.persistSessions()
	return dest, nil
}

func snapshotStorage(page *rod.Page, store string) string {
	jsFunc := fmt.Sprintf(`() => {
		try {
			const out = {};
			for (const key of Object.keys(%s)) { out[key] = %s.getItem(key); }
			return JSON.stringify(out);
		} catch (e) { return "{}"; }
	}`, store, store)
	res, err := page.Evaluate(&rod.EvalOptions{JS: jsFunc, ByValue: true, AwaitPromise: true})
	if err != nil || res == nil || res.Value.Nil() {
		return "{}"
	}
	return res.Value.String()
}

func restoreStorage(page *rod.Page, localJSON, sessionJSON string) {
	_, _ = page.Evaluate(&rod.EvalOptions{
		JS: `
		(local, session) => {
			try { const l = JSON.parse(local || "{}"); Object.entries(l).forEach(([k, v]) => localStorage.setItem(k, v)); } catch (e) {}
			try { const s = JSON.parse(session || "{}"); Object.entries(s).forEach(([k, v]) => sessionStorage.setItem(k, v)); } catch (e) {}
		}`,
		JSArgs: []interface{}{localJSON, sessionJSON}, ByValue: true, AwaitPromise: true, UserGesture: true,
	})
}

// contextState is the on-disk snapshot of one {scope, domain} browsing
// context's cookies and web storage, written after each successful fetch
// and restored on the next visit to that domain, even in a later process
// (spec.md §3 lifecycle).
type contextState struct {
	Scope          string                     `json:"scope,omitempty"`
	Host           string                     `json:"host"`
	Cookies        []*proto.NetworkCookieParam `json:"cookies,omitempty"`
	LocalStorage   string                     `json:"local_storage,omitempty"`
	SessionStorage string                     `json:"session_storage,omitempty"`
	SavedAt        time.Time                  `json:"saved_at"`
}

func (m *Manager) contextStatePath(scope, host string) string {
	if m.cfg.SessionStateDir == "" || host == "" {
		return ""
	}
	name := "context-" + host + ".json"
	if scope != "" {
		name = "context-" + scope + "-" + host + ".json"
	}
	return filepath.Join(m.cfg.SessionStateDir, name)
}

func (m *Manager) readContextState(scope, host string) (contextState, bool) {
	path := m.contextStatePath(scope, host)
	if path == "" {
		return contextState{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return contextState{}, false
	}
	var state contextState
	if err := json.Unmarshal(data, &state); err != nil {
		return contextState{}, false
	}
	return state, true
}

// maybeRestoreCookies applies the persisted cookies for url's host to the
// session before its first navigation there. Returns the loaded state so
// the caller can restore web storage once the page is on the right origin;
// subsequent visits to the same host are left alone.
func (m *Manager) maybeRestoreCookies(sessionID, rawURL string) (contextState, bool) {
	host := hostOfURL(rawURL)
	if host == "" {
		return contextState{}, false
	}
	m.mu.Lock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.restoredHosts[host] {
		m.mu.Unlock()
		return contextState{}, false
	}
	if rec.restoredHosts == nil {
		rec.restoredHosts = map[string]bool{}
	}
	rec.restoredHosts[host] = true
	scope := rec.meta.Scope
	page := rec.page
	m.mu.Unlock()

	state, found := m.readContextState(scope, host)
	if !found || page == nil {
		return contextState{}, false
	}
	if len(state.Cookies) > 0 {
		_ = page.SetCookies(state.Cookies)
	}
	logging.Get(logging.CategoryBrowser).Debug("restored context: scope=%s host=%s cookies=%d", scope, host, len(state.Cookies))
	return state, true
}

// PersistContextState snapshots sessionID's cookies and storage to disk,
// keyed by {scope, host of the current page}, via write-to-temp-then-rename.
// A no-op when no session state dir is configured.
func (m *Manager) PersistContextState(sessionID string) error {
	if m.cfg.SessionStateDir == "" {
		return nil
	}
	page, ok := m.Page(sessionID)
	if !ok || page == nil {
		return fmt.Errorf("browser: unknown session %s", sessionID)
	}
	meta, _ := m.GetSession(sessionID)

	info, err := page.Info()
	if err != nil {
		return fmt.Errorf("browser: page info: %w", err)
	}
	host := hostOfURL(info.URL)
	if host == "" {
		return nil
	}

	cookiesRes, err := proto.NetworkGetCookies{}.Call(page)
	if err != nil {
		return fmt.Errorf("browser: get cookies: %w", err)
	}
	params := make([]*proto.NetworkCookieParam, 0, len(cookiesRes.Cookies))
	for _, c := range cookiesRes.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
			Expires: c.Expires, HTTPOnly: c.HTTPOnly, Secure: c.Secure,
			SameSite: c.SameSite, Priority: c.Priority,
		})
	}

	state := contextState{
		Scope:          meta.Scope,
		Host:           host,
		Cookies:        params,
		LocalStorage:   snapshotStorage(page, "localStorage"),
		SessionStorage: snapshotStorage(page, "sessionStorage"),
		SavedAt:        time.Now(),
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(m.cfg.SessionStateDir, 0o755); err != nil {
		return err
	}
	path := m.contextStatePath(meta.Scope, host)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func hostOfURL(rawURL string) string {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

func (m *Manager) persistSessions() error {
	path := m.cfg.sessionStorePath()
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		sessions = append(sessions, rec.meta)
	}
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (m *Manager) loadSessionsLocked() error {
	path := m.cfg.sessionStorePath()
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return err
	}
	for _, s := range sessions {
		s.Status = "detached"
		m.sessions[s.ID] = &sessionRecord{meta: s, page: nil}
	}
	return nil
}
