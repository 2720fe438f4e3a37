// Package score computes the rule-based answer-engine readiness score:
// four weighted components (content, eat, technical, structured data)
// plus prioritized improvement recommendations.
package score

import (
	"math"
	"regexp"
	"strings"

	"github.com/IliaW/aeo-crawler/internal/model"
)

var (
	factualMarkerRe = regexp.MustCompile(`(?i)according to|\d+(\.\d+)?%|study|research|survey|report`)
	sentenceEndRe   = regexp.MustCompile(`[.!?]+\s`)
)

// aiOverviewKeywords are phrases answer engines favor in headings.
var aiOverviewKeywords = []string{
	"what is", "how to", "how does", "why", "benefits of", "best", "vs", "difference between",
}

type Calculator struct{}

func NewCalculator() *Calculator { return &Calculator{} }

// Score is stateless: the same extraction, page type and fetch facts
// always produce the same RuleScore. Every component is clamped to
// [0,100] and the overall value is the fixed equal-weight combination.
func (c *Calculator) Score(e *model.ContentExtraction, pageType model.PageType,
	fetchTimeMs int64) model.RuleScore {
	content := clamp(scoreContent(e))
	eat := clamp(scoreEat(e, pageType))
	technical := clamp(scoreTechnical(e, fetchTimeMs))
	structured := clamp(scoreStructuredData(e))

	overall := int(math.Round(0.25*float64(content) + 0.25*float64(eat) +
		0.25*float64(technical) + 0.25*float64(structured)))

	return model.RuleScore{
		Content:        content,
		Eat:            eat,
		Technical:      technical,
		StructuredData: structured,
		Overall:        clamp(overall),
	}
}

func scoreContent(e *model.ContentExtraction) int {
	score := 0

	// Word count bands.
	switch {
	case e.WordCount >= 1200:
		score += 20
	case e.WordCount >= 600:
		score += 15
	case e.WordCount >= 300:
		score += 10
	case e.WordCount >= 100:
		score += 5
	}

	if hasDirectAnswerOpening(e) {
		score += 15
	}
	score += contentFormatBonus(e)

	if factualMarkerRe.MatchString(e.BodyText) {
		score += 10
	}
	score += headingHierarchyScore(e.Headings)

	// FAQ density.
	switch {
	case len(e.FAQs) >= 5:
		score += 10
	case len(e.FAQs) >= 2:
		score += 7
	case len(e.FAQs) == 1:
		score += 3
	}

	score += readabilityScore(e.BodyText)
	score += aiOverviewBonus(e)

	return score
}

// hasDirectAnswerOpening checks whether the page leads with a compact,
// declarative answer instead of preamble.
func hasDirectAnswerOpening(e *model.ContentExtraction) bool {
	if e.BodyText == "" {
		return false
	}
	opening := e.BodyText
	if idx := sentenceEndRe.FindStringIndex(opening); idx != nil {
		opening = opening[:idx[0]+1]
	}
	words := len(strings.Fields(opening))
	return words >= 5 && words <= 40
}

// contentFormatBonus rewards listicle/step-guide/comparison/review
// formats detected from keywords and list density.
func contentFormatBonus(e *model.ContentExtraction) int {
	title := strings.ToLower(e.Title)
	headings := strings.ToLower(flattenHeadings(e.Headings))

	listicle := e.ListItemCount >= 5 || regexp.MustCompile(`^\d+\s`).MatchString(title)
	stepGuide := strings.Contains(headings, "step") || strings.Contains(title, "how to")
	comparison := strings.Contains(title, " vs") || strings.Contains(headings, "comparison") ||
		strings.Contains(headings, "pros and cons")
	review := strings.Contains(title, "review") || strings.Contains(headings, "verdict")

	if listicle || stepGuide || comparison || review {
		return 10
	}
	return 0
}

func headingHierarchyScore(headings []model.Heading) int {
	if len(headings) == 0 {
		return 0
	}
	score := 0
	h1Count := 0
	h2Count := 0
	skipped := false
	previousLevel := 0
	for _, h := range headings {
		switch h.Level {
		case 1:
			h1Count++
		case 2:
			h2Count++
		}
		if previousLevel > 0 && h.Level > previousLevel+1 {
			skipped = true
		}
		previousLevel = h.Level
	}
	if h1Count == 1 {
		score += 5
	}
	if h2Count >= 2 {
		score += 5
	}
	if !skipped {
		score += 5
	}
	return score
}

// readabilityScore is a proxy: average words per sentence, banded.
func readabilityScore(body string) int {
	words := len(strings.Fields(body))
	if words == 0 {
		return 0
	}
	sentences := len(sentenceEndRe.FindAllString(body, -1)) + 1
	average := float64(words) / float64(sentences)
	switch {
	case average <= 20:
		return 10
	case average <= 28:
		return 5
	default:
		return 0
	}
}

func aiOverviewBonus(e *model.ContentExtraction) int {
	text := strings.ToLower(e.Title + " " + flattenHeadings(e.Headings))
	for _, keyword := range aiOverviewKeywords {
		if strings.Contains(text, keyword) {
			return 5
		}
	}
	return 0
}

func scoreTechnical(e *model.ContentExtraction, fetchTimeMs int64) int {
	score := 0
	if e.HTTPS {
		score += 15
	}
	if e.HasViewport {
		score += 10
	}
	if e.ImageCount > 0 {
		ratio := float64(e.ResponsiveImg) / float64(e.ImageCount)
		score += int(math.Round(ratio * 10))
	} else {
		score += 5
	}

	// Load time band.
	switch {
	case fetchTimeMs <= 0:
		// unknown, no penalty and no bonus
	case fetchTimeMs < 1000:
		score += 15
	case fetchTimeMs < 3000:
		score += 10
	case fetchTimeMs < 5000:
		score += 5
	}

	descLen := len(e.MetaDescription)
	if descLen >= 120 && descLen <= 160 {
		score += 10
	} else if descLen > 0 {
		score += 5
	}
	titleLen := len(e.Title)
	if titleLen >= 30 && titleLen <= 60 {
		score += 10
	} else if titleLen > 0 {
		score += 5
	}

	// Internal link density relative to content length.
	if e.WordCount > 0 {
		linksPer500Words := float64(len(e.InternalLinks)) / (float64(e.WordCount) / 500.0)
		if linksPer500Words >= 2 && linksPer500Words <= 20 {
			score += 10
		} else if len(e.InternalLinks) > 0 {
			score += 5
		}
	}

	if e.ImageCount > 0 {
		altRatio := float64(e.ImagesWithAlt) / float64(e.ImageCount)
		score += int(math.Round(altRatio * 10))
	} else {
		score += 5
	}

	if e.HasCanonical {
		score += 5
	}
	if e.HasRobotsMeta {
		score += 5
	}
	return score
}

func scoreStructuredData(e *model.ContentExtraction) int {
	if len(e.SchemaTypes) == 0 {
		return 0
	}
	score := 30

	faqCount := schemaCount(e, "FAQPage")
	if faqCount > 0 {
		score += min(20, 10+5*len(e.FAQs))
	}
	if schemaCount(e, "HowTo") > 0 {
		score += 15
	}
	if schemaCount(e, "Article", "BlogPosting", "NewsArticle") > 0 {
		score += 15
	}
	if schemaCount(e, "BreadcrumbList") > 0 {
		score += 10
	}
	if len(e.SchemaTypes) >= 3 {
		score += 10
	}
	return score
}

func schemaCount(e *model.ContentExtraction, types ...string) int {
	count := 0
	for _, have := range e.SchemaTypes {
		for _, want := range types {
			if strings.EqualFold(have, want) {
				count++
			}
		}
	}
	return count
}

func flattenHeadings(headings []model.Heading) string {
	var b strings.Builder
	for _, h := range headings {
		b.WriteString(h.Text)
		b.WriteByte(' ')
	}
	return b.String()
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
