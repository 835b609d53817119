// Package sanitize converts raw page HTML into LLM-consumable text (C6):
// scripts, styles, and chrome containers are stripped, then the remaining
// text is chunked on section boundaries under a token budget. The walk is a
// plain golang.org/x/net/html tree traversal, the same approach the teacher
// uses to pull KnowledgeAtoms out of documentation pages.
package sanitize

import (
	"strings"

	"golang.org/x/net/html"
)

// strippedTags are removed outright: neither their text nor their children
// contribute to the sanitized output.
var strippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "svg": true,
	"nav": true, "footer": true, "aside": true, "iframe": true,
	"form": true, "button": true,
}

// chromeClassMarkers flags container elements that are boilerplate by
// convention (ad slots, cookie banners, site nav) even though their tag
// name alone doesn't say so.
var chromeClassMarkers = []string{
	"advert", "ad-slot", "cookie-banner", "site-nav", "breadcrumb",
	"sidebar", "related-posts", "newsletter-signup", "social-share",
}

// blockTags preserve paragraph/list structure in the output by inserting a
// boundary after them. Headings are handled separately and get none.
var blockTags = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "blockquote": true, "br": true,
}

// Chunk is one bounded segment of sanitized text, token-budgeted so it fits
// a single LLM context window slice.
type Chunk struct {
	Text       string
	HeadingPath string
}

// Result is the full sanitizer output for one page.
type Result struct {
	Chunks        []Chunk
	OriginalSize  int
	SanitizedSize int
	ReductionPct  float64
}

// Sanitize converts rawHTML into an ordered list of chunks bounded by
// tokenBudget (approximated as 4 characters per token, the teacher's own
// rough token estimator in internal/config/llm_timeouts.go). Deterministic:
// identical input always produces identical output.
func Sanitize(rawHTML string, tokenBudget int) (Result, error) {
	if tokenBudget <= 0 {
		tokenBudget = 2000
	}
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return Result{}, err
	}

	var sb strings.Builder
	var headingPath []string
	var segments []segment
	var currentHeading string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if strippedTags[n.Data] || hasChromeClass(n) {
				return
			}
			if isHeading(n.Data) {
				text := strings.TrimSpace(extractText(n))
				if text != "" {
					currentHeading = text
					headingPath = append(headingPath, text)
				}
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				segments = append(segments, segment{heading: currentHeading, text: text})
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			segments = append(segments, segment{heading: currentHeading, text: "\n"})
		}
	}
	walk(doc)

	for _, s := range segments {
		sb.WriteString(s.text)
		sb.WriteString(" ")
	}
	sanitizedText := collapseWhitespace(sb.String())

	chunks := chunkSegments(segments, tokenBudget)

	original := len(rawHTML)
	sanitized := len(sanitizedText)
	reduction := 0.0
	if original > 0 {
		reduction = 1.0 - float64(sanitized)/float64(original)
	}

	return Result{
		Chunks:        chunks,
		OriginalSize:  original,
		SanitizedSize: sanitized,
		ReductionPct:  reduction,
	}, nil
}

type segment struct {
	heading string
	text    string
}

func hasChromeClass(n *html.Node) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" && attr.Key != "id" {
			continue
		}
		lower := strings.ToLower(attr.Val)
		for _, marker := range chromeClassMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}

func isHeading(tag string) bool {
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return true
	}
	return false
}

func extractText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// charsPerToken approximates token count the way the teacher's LLM timeout
// estimator does: ~4 characters per token for English prose.
const charsPerToken = 4

func chunkSegments(segments []segment, tokenBudget int) []Chunk {
	budgetChars := tokenBudget * charsPerToken

	var chunks []Chunk
	var cur strings.Builder
	var curHeading string

	flush := func() {
		text := collapseWhitespace(cur.String())
		if text != "" {
			chunks = append(chunks, Chunk{Text: text, HeadingPath: curHeading})
		}
		cur.Reset()
	}

	for _, s := range segments {
		if s.heading != curHeading && cur.Len() > 0 {
			flush()
		}
		curHeading = s.heading
		if cur.Len()+len(s.text)+1 > budgetChars && cur.Len() > 0 {
			flush()
		}
		cur.WriteString(s.text)
		cur.WriteString(" ")
	}
	flush()

	if len(chunks) == 0 {
		return nil
	}
	return chunks
}
