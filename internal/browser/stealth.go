// Fingerprinting, anti-detection script injection, and honeypot/blocker
// detection (C1). The honeypot ruleset is ported one-for-one from
// codeNERD's internal/browser/honeypot.go Mangle rules (honeypot_css_hidden,
// honeypot_offscreen, honeypot_zero_size, honeypot_aria_hidden,
// honeypot_suspicious_url, ...) into plain Go boolean predicates: a
// Datalog engine for a fixed set of ~10 CSS/attribute checks per element
// is more machinery than the check warrants, and nothing else in this
// core needs declarative rule evaluation (see DESIGN.md, dropped
// dependency: github.com/google/mangle).
package browser

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"researchcore/internal/domain"
)

// Fingerprint is the per-session identity presented to remote sites.
type Fingerprint struct {
	UserAgent           string
	Platform            string
	Languages           []string
	HardwareConcurrency int
	DeviceMemory        int
	WebGLVendor         string
	WebGLRenderer       string
	TimezoneID          string
}

var userAgentPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

var webglPool = [][2]string{
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) Iris(R) Xe Graphics Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 6700 XT Direct3D11 vs_5_0 ps_5_0, D3D11)"},
}

// NewFingerprint samples one plausible fingerprint. The user agent, WebGL
// pair, core count and memory are drawn independently; Platform is always
// "Win32" and the WebGL renderers are all Direct3D, so they are not matched
// to a macOS or Linux user agent.
func NewFingerprint() Fingerprint {
	webgl := webglPool[rand.Intn(len(webglPool))]
	return Fingerprint{
		UserAgent:           userAgentPool[rand.Intn(len(userAgentPool))],
		Platform:            "Win32",
		Languages:           []string{"en-US", "en"},
		HardwareConcurrency: []int{4, 8, 12, 16}[rand.Intn(4)],
		DeviceMemory:        []int{4, 8, 16}[rand.Intn(3)],
		WebGLVendor:         webgl[0],
		WebGLRenderer:       webgl[1],
		TimezoneID:          "America/New_York",
	}
}

// ApplyStealth injects anti-detection overrides before any page script
// runs: masks navigator.webdriver, patches plugin/language lists, and
// reports the sampled WebGL vendor/renderer instead of headless Chrome's
// defaults. Also sets the matching user-agent header.
func ApplyStealth(page *rod.Page, fp Fingerprint) error {
	if err := (proto.NetworkSetUserAgentOverride{
		UserAgent: fp.UserAgent,
		Platform:  fp.Platform,
	}).Call(page); err != nil {
		return fmt.Errorf("stealth: set user agent: %w", err)
	}

	langs := make([]string, len(fp.Languages))
	for i, l := range fp.Languages {
		langs[i] = `"` + l + `"`
	}
	script := fmt.Sprintf(`() => {
		Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
		Object.defineProperty(navigator, 'languages', { get: () => [%s] });
		Object.defineProperty(navigator, 'platform', { get: () => %q });
		Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => %d });
		Object.defineProperty(navigator, 'deviceMemory', { get: () => %d });
		Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
		window.chrome = window.chrome || { runtime: {} };
		const getParameter = WebGLRenderingContext.prototype.getParameter;
		WebGLRenderingContext.prototype.getParameter = function (parameter) {
			if (parameter === 37445) return %q;
			if (parameter === 37446) return %q;
			return getParameter.call(this, parameter);
		};
	}`, strings.Join(langs, ","), fp.Platform, fp.HardwareConcurrency, fp.DeviceMemory, fp.WebGLVendor, fp.WebGLRenderer)

	_, err := page.EvalOnNewDocument(script)
	if err != nil {
		return fmt.Errorf("stealth: install init script: %w", err)
	}
	return nil
}

// Link is one <a href> on the page, annotated with honeypot status.
type Link struct {
	Href            string
	Text            string
	IsHoneypot      bool
	HoneypotReasons []string
}

type elementSignals struct {
	display       string
	visibility    string
	opacity       string
	pointerEvents string
	tabindex      string
	ariaHidden    string
	x, y          float64
	width, height float64
	href          string
	text          string
}

// honeypot reasons, ported from HoneypotRules() in the teacher's honeypot.go.
func honeypotReasons(s elementSignals) []string {
	var reasons []string
	if s.display == "none" {
		reasons = append(reasons, "hidden via display:none")
	}
	if s.visibility == "hidden" {
		reasons = append(reasons, "hidden via visibility:hidden")
	}
	if s.opacity == "0" {
		reasons = append(reasons, "hidden via opacity:0")
	}
	if s.x < -1000 || s.y < -1000 {
		reasons = append(reasons, "positioned off-screen")
	}
	if s.width < 2 && s.height < 2 {
		reasons = append(reasons, "zero or near-zero size")
	}
	if s.ariaHidden == "true" {
		reasons = append(reasons, "marked aria-hidden")
	}
	if s.tabindex == "-1" {
		reasons = append(reasons, "not keyboard accessible (tabindex=-1)")
	}
	if s.pointerEvents == "none" {
		reasons = append(reasons, "pointer events disabled")
	}
	lowerHref := strings.ToLower(s.href)
	for _, needle := range []string{"honeypot", "trap", "captcha"} {
		if strings.Contains(lowerHref, needle) {
			reasons = append(reasons, "suspicious URL pattern: "+needle)
			break
		}
	}
	return reasons
}

// AnalyzeLinks classifies every <a href> on the page, flagging honeypots
// so the navigator (C10) never clicks into one.
func AnalyzeLinks(page *rod.Page) ([]Link, error) {
	elements, err := page.Elements("a[href]")
	if err != nil {
		return nil, fmt.Errorf("stealth: query links: %w", err)
	}

	links := make([]Link, 0, len(elements))
	for _, el := range elements {
		href, _ := el.Attribute("href")
		if href == nil || *href == "" {
			continue
		}
		text, _ := el.Text()
		signals, err := readElementSignals(el, *href)
		if err != nil {
			links = append(links, Link{Href: *href, Text: strings.TrimSpace(text)})
			continue
		}
		reasons := honeypotReasons(signals)
		links = append(links, Link{
			Href:            *href,
			Text:            strings.TrimSpace(text),
			IsHoneypot:      len(reasons) > 0,
			HoneypotReasons: reasons,
		})
	}
	return links, nil
}

func readElementSignals(el *rod.Element, href string) (elementSignals, error) {
	result, err := el.Eval(`() => {
		const s = window.getComputedStyle(this);
		const r = this.getBoundingClientRect();
		return {
			display: s.display, visibility: s.visibility, opacity: s.opacity,
			pointerEvents: s.pointerEvents,
			tabindex: this.getAttribute('tabindex') || '',
			ariaHidden: this.getAttribute('aria-hidden') || '',
			x: r.x, y: r.y, width: r.width, height: r.height,
		};
	}`)
	if err != nil {
		return elementSignals{}, err
	}
	obj := result.Value.Map()
	sig := elementSignals{
		display:       obj["display"].String(),
		visibility:    obj["visibility"].String(),
		opacity:       obj["opacity"].String(),
		pointerEvents: obj["pointerEvents"].String(),
		tabindex:      obj["tabindex"].String(),
		ariaHidden:    obj["ariaHidden"].String(),
		href:          href,
	}
	sig.x, _ = strconv.ParseFloat(obj["x"].String(), 64)
	sig.y, _ = strconv.ParseFloat(obj["y"].String(), 64)
	sig.width, _ = strconv.ParseFloat(obj["width"].String(), 64)
	sig.height, _ = strconv.ParseFloat(obj["height"].String(), 64)
	return sig, nil
}

// blockerBodyMarkers maps phrases commonly present in anti-bot interstitial
// pages to the blocker type they indicate (spec.md §4.5 taxonomy).
var blockerBodyMarkers = []struct {
	needle string
	kind   domain.BlockerType
}{
	{"verify you are a human", domain.BlockerCaptcha},
	{"unusual traffic", domain.BlockerBotDetection},
	{"are you a robot", domain.BlockerCaptcha},
	{"access denied", domain.BlockerSoftBlock},
	{"please enable javascript and cookies", domain.BlockerBotDetection},
}

// ClassifyBlocker inspects an HTTP status and page body snippet and
// returns the matching blocker type, or BlockerNone.
func ClassifyBlocker(statusCode int, bodySnippet string) domain.BlockerType {
	switch statusCode {
	case 403:
		return domain.BlockerHTTP403
	case 418:
		return domain.BlockerHTTP418
	case 429:
		return domain.BlockerSoftBlock
	}
	lower := strings.ToLower(bodySnippet)
	for _, marker := range blockerBodyMarkers {
		if strings.Contains(lower, marker.needle) {
			return marker.kind
		}
	}
	return domain.BlockerNone
}
