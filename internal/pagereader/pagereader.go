// Package pagereader implements the four-stage page reader (C7): relevance
// scan, rule-based page-type detection, LLM extraction, and extraction
// validation. Grounded on internal/llm's role-scoped Call contract; the
// page-type classifier is plain Go (spec.md §4.7 notes it is LLM-free).
package pagereader

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"researchcore/internal/domain"
	"researchcore/internal/llm"
	"researchcore/internal/logging"
	"researchcore/internal/sanitize"
)

// RelevanceThreshold is the minimum relevance_score below which a page is
// abandoned (spec.md §4.7 step 1).
const RelevanceThreshold = 0.3

// Item is one extracted product/listing entry.
type Item struct {
	Name        string   `json:"name"`
	Price       float64  `json:"price"`
	URL         string   `json:"url"`
	Description string   `json:"description"`
	Strengths   []string `json:"strengths,omitempty"`
	Weaknesses  []string `json:"weaknesses,omitempty"`
}

// Result is the full four-stage outcome for one page.
type Result struct {
	RelevanceScore  float64
	RelevanceReason string
	Abandoned       bool
	PageType        domain.PageType
	Items           []Item
	Summary         string
	KeyPoints       []string
	IsValid         bool
	ValidConfidence float64
	FellBack        bool // a stage failed and the 0.5 fallback was used
}

type relevanceResponse struct {
	RelevanceScore float64 `json:"relevance_score"`
	Reason         string  `json:"reason"`
}

type extractionResponse struct {
	Items   []Item `json:"items"`
	Summary string `json:"summary"`
}

type validationResponse struct {
	IsValid    bool     `json:"is_valid"`
	Confidence float64  `json:"confidence"`
	Items      []Item   `json:"cleaned_data"`
	Summary    string   `json:"summary"`
	KeyPoints  []string `json:"key_points"`
}

// Read runs the full C7 pipeline for one already-sanitized page against
// goal. hints, when non-empty, is folded into the extraction prompt (the
// navigator's extraction_hints from its DECIDE step).
func Read(ctx context.Context, inv llm.Invoker, goal, pageURL string, sanitized sanitize.Result, hints string) (Result, error) {
	timer := logging.StartTimer(logging.CategoryNavigator, "PageRead")
	defer timer.Stop()

	preview := previewText(sanitized)

	rel, fellBack := relevanceScan(ctx, inv, goal, pageURL, preview)
	if rel.RelevanceScore < RelevanceThreshold {
		return Result{RelevanceScore: rel.RelevanceScore, RelevanceReason: rel.Reason, Abandoned: true, FellBack: fellBack}, nil
	}

	fullText := joinChunks(sanitized)
	pageType := DetectPageType(fullText, pageURL)

	extraction, extractFellBack := extract(ctx, inv, goal, pageType, fullText, hints)
	fellBack = fellBack || extractFellBack

	validation, validateFellBack := validate(ctx, inv, goal, extraction)
	fellBack = fellBack || validateFellBack

	return Result{
		RelevanceScore:  rel.RelevanceScore,
		RelevanceReason: rel.Reason,
		PageType:        pageType,
		Items:           validation.Items,
		Summary:         validation.Summary,
		KeyPoints:       validation.KeyPoints,
		IsValid:         validation.IsValid,
		ValidConfidence: validation.Confidence,
		FellBack:        fellBack,
	}, nil
}

func previewText(s sanitize.Result) string {
	var sb strings.Builder
	for i, c := range s.Chunks {
		if i > 0 {
			sb.WriteString(" ... ")
		}
		sb.WriteString(truncate(c.Text, 600))
		if i >= 1 {
			break
		}
	}
	return sb.String()
}

func joinChunks(s sanitize.Result) string {
	var sb strings.Builder
	for _, c := range s.Chunks {
		sb.WriteString(c.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// relevanceScan issues the relevance_scanner LLM call. On any failure it
// falls back to relevance_score=0.5 per spec.md §4.7's failure semantics,
// letting the caller decide whether to keep or discard.
func relevanceScan(ctx context.Context, inv llm.Invoker, goal, pageURL, preview string) (relevanceResponse, bool) {
	prompt := fmt.Sprintf(`Goal: %s
URL: %s
Page preview:
%s

Respond with JSON: {"relevance_score": <0..1>, "reason": "<one line>"}`, goal, pageURL, preview)

	text, err := inv.Call(ctx, prompt, llm.RoleRelevanceScanner, 256, 0.0)
	if err != nil {
		return relevanceResponse{RelevanceScore: 0.5, Reason: "llm_unavailable fallback"}, true
	}
	var resp relevanceResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return relevanceResponse{RelevanceScore: 0.5, Reason: "unparsable response fallback"}, true
	}
	return resp, false
}

// DetectPageType is the rule-based (LLM-free) page-type classifier
// (spec.md §4.7 step 2).
func DetectPageType(text, pageURL string) domain.PageType {
	lowerText := strings.ToLower(text)
	lowerURL := strings.ToLower(pageURL)

	priceCount := strings.Count(lowerText, "$")
	hasCart := strings.Contains(lowerText, "add to cart") || strings.Contains(lowerText, "add to bag")

	switch {
	case hasCart && priceCount >= 2:
		return domain.PageProductListing
	case strings.Contains(lowerURL, "/forum") || strings.Contains(lowerURL, "/thread") ||
		strings.Contains(lowerText, "replies") && strings.Contains(lowerText, "posted by"):
		return domain.PageForumDiscussion
	case strings.Contains(lowerURL, "/doi/") || strings.Contains(lowerText, "abstract") && strings.Contains(lowerText, "references"):
		return domain.PageResearchPaper
	case strings.Contains(lowerURL, "/news/") || strings.Contains(lowerText, "published") && strings.Contains(lowerText, "reporter"):
		return domain.PageNewsArticle
	case strings.Contains(lowerURL, "/guide") || strings.Contains(lowerURL, "/how-to") || strings.Contains(lowerText, "step 1"):
		return domain.PageGuideTutorial
	case strings.Contains(lowerText, "our retailers") || strings.Contains(lowerText, "find a dealer") || strings.Contains(lowerText, "store locator"):
		return domain.PageVendorDirectory
	default:
		return domain.PageGeneral
	}
}

func extract(ctx context.Context, inv llm.Invoker, goal string, pageType domain.PageType, text, hints string) (extractionResponse, bool) {
	prompt := fmt.Sprintf(`Goal: %s
Page type: %s
Extraction hints: %s
Page text:
%s

Extract structured data as JSON: {"items": [{"name":"","price":0,"url":"","description":""}], "summary": "<one paragraph>"}
If this page has no extractable items for the goal, return an empty items array.`,
		goal, pageType, hints, truncate(text, 8000))

	respText, err := inv.Call(ctx, prompt, llm.RolePageReader, 1024, 0.1)
	if err != nil {
		return extractionResponse{}, true
	}
	var resp extractionResponse
	if err := json.Unmarshal([]byte(extractJSON(respText)), &resp); err != nil {
		return extractionResponse{}, true
	}
	return resp, false
}

func validate(ctx context.Context, inv llm.Invoker, goal string, extraction extractionResponse) (validationResponse, bool) {
	if len(extraction.Items) == 0 && extraction.Summary == "" {
		return validationResponse{IsValid: false, Confidence: 0.5, Summary: "no content extracted"}, true
	}
	itemsJSON, _ := json.Marshal(extraction.Items)
	prompt := fmt.Sprintf(`Goal: %s
Extracted items: %s
Summary: %s

Validate against the goal. Respond with JSON:
{"is_valid": true|false, "confidence": <0..1>, "cleaned_data": [...same item shape...], "summary": "", "key_points": [""]}`,
		goal, string(itemsJSON), extraction.Summary)

	respText, err := inv.Call(ctx, prompt, llm.RoleExtractionValidator, 1024, 0.1)
	if err != nil {
		return validationResponse{IsValid: len(extraction.Items) > 0, Confidence: 0.5, Items: extraction.Items, Summary: extraction.Summary}, true
	}
	var resp validationResponse
	if err := json.Unmarshal([]byte(extractJSON(respText)), &resp); err != nil {
		return validationResponse{IsValid: len(extraction.Items) > 0, Confidence: 0.5, Items: extraction.Items, Summary: extraction.Summary}, true
	}
	if resp.Items == nil {
		resp.Items = extraction.Items
	}
	return resp, false
}

// extractJSON trims common LLM wrapping (markdown code fences) around a
// JSON payload so json.Unmarshal sees a bare object.
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
