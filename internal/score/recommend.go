package score

import (
	"fmt"
	"sort"

	"github.com/IliaW/aeo-crawler/internal/model"
)

const recommendationThreshold = 70

// categoryImportance orders recommendations within the same priority
// tier. Lower value sorts first.
var categoryImportance = map[string]int{
	"structured_data": 0,
	"content":         1,
	"technical":       2,
	"eat":             3,
}

// GenerateRecommendations emits one recommendation per component whose
// score is under the threshold, ordered by priority tier then by
// category importance. Threshold <= 0 uses the default of 70.
func GenerateRecommendations(rs model.RuleScore, pageType model.PageType, threshold int) []model.Recommendation {
	if threshold <= 0 {
		threshold = recommendationThreshold
	}

	var recs []model.Recommendation
	add := func(category string, score int, message string) {
		if score >= threshold {
			return
		}
		recs = append(recs, model.Recommendation{
			Category: category,
			Priority: priorityFor(score),
			Text:     message,
		})
	}

	add("content", rs.Content, contentAdvice(pageType))
	add("eat", rs.Eat, eatAdvice(pageType))
	add("technical", rs.Technical,
		"improve technical fundamentals: serve over https, add a viewport meta tag, keep title and meta description within recommended lengths, and add alt text to images")
	add("structured_data", rs.StructuredData,
		"add schema.org structured data (json-ld): FAQPage for question content, Article for editorial pages, and BreadcrumbList for navigation context")

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return priorityRank(recs[i].Priority) < priorityRank(recs[j].Priority)
		}
		return categoryImportance[recs[i].Category] < categoryImportance[recs[j].Category]
	})
	return recs
}

func priorityFor(score int) string {
	switch {
	case score < 40:
		return "high"
	case score < 60:
		return "medium"
	default:
		return "low"
	}
}

func priorityRank(priority string) int {
	switch priority {
	case "high":
		return 0
	case "medium":
		return 1
	default:
		return 2
	}
}

func contentAdvice(pageType model.PageType) string {
	switch pageType {
	case model.PageBlog, model.PageResource:
		return "open with a direct answer to the main question, expand thin sections past 600 words, and add an FAQ block covering common follow-up questions"
	case model.PageProduct, model.PageSolution:
		return "answer buyer questions directly on the page: add an FAQ section, comparison content, and concrete specifications instead of marketing copy alone"
	default:
		return "add substantive, question-answering content: a clear heading hierarchy, direct answers near the top, and supporting detail below"
	}
}

func eatAdvice(pageType model.PageType) string {
	switch pageType {
	case model.PageBlog, model.PageResource:
		return "attribute content to a named author with credentials, show a publish or updated date, and cite external sources"
	default:
		return fmt.Sprintf("strengthen trust signals on this %s page: link to about/privacy/terms pages, surface customer proof, and add Organization schema", pageType)
	}
}
