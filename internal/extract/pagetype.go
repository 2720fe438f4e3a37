package extract

import (
	"net/url"
	"strings"

	"github.com/IliaW/aeo-crawler/internal/model"
)

// Classification is a priority-ordered decision: the URL path is checked
// first (more reliable than content), then content-signal voting, then a
// fixed fallback. Each stage is an explicit table so the tie-break policy
// is visible and testable.

// urlPatternRule maps URL path substrings to a page type. Rules are
// evaluated in slice order; the first match wins.
type urlPatternRule struct {
	pageType model.PageType
	patterns []string
}

var urlPatternTable = []urlPatternRule{
	{model.PageBlog, []string{"/blog", "/news", "/article", "/post/", "/posts/"}},
	{model.PageProduct, []string{"/product", "/pricing", "/features", "/shop", "/store", "/plans"}},
	{model.PageSolution, []string{"/solution", "/use-case", "/usecase", "/industries", "/services"}},
	{model.PageResource, []string{"/resource", "/guide", "/docs", "/documentation", "/help",
		"/learn", "/whitepaper", "/ebook", "/faq", "/glossary", "/academy"}},
	{model.PageConversion, []string{"/contact", "/demo", "/signup", "/sign-up", "/register",
		"/trial", "/get-started", "/quote", "/subscribe"}},
}

// signalRule is one content-voting entry: the rule fires when at least
// threshold of its signals are true. Rules are evaluated in slice order.
type signalRule struct {
	pageType  model.PageType
	threshold int
	signals   []func(*model.ContentExtraction) bool
}

var signalTable = []signalRule{
	{model.PageBlog, 2, []func(*model.ContentExtraction) bool{
		func(e *model.ContentExtraction) bool { return e.Author != "" },
		func(e *model.ContentExtraction) bool { return e.PublishDate != "" },
		func(e *model.ContentExtraction) bool {
			return hasSchemaType(e, "Article", "BlogPosting", "NewsArticle")
		},
		func(e *model.ContentExtraction) bool {
			return containsAny(strings.ToLower(e.BodyText), "min read", "posted on", "published", "written by")
		},
	}},
	{model.PageConversion, 2, []func(*model.ContentExtraction) bool{
		func(e *model.ContentExtraction) bool { return e.HasForm },
		func(e *model.ContentExtraction) bool {
			return containsAny(strings.ToLower(e.BodyText), "request a demo", "get started", "free trial",
				"sign up", "start your trial", "book a call")
		},
		func(e *model.ContentExtraction) bool {
			return containsAny(strings.ToLower(e.BodyText), "contact us", "talk to sales", "get in touch")
		},
	}},
	{model.PageProduct, 2, []func(*model.ContentExtraction) bool{
		func(e *model.ContentExtraction) bool { return e.HasPricing },
		func(e *model.ContentExtraction) bool { return hasSchemaType(e, "Product", "Offer", "AggregateOffer") },
		func(e *model.ContentExtraction) bool {
			return containsAny(strings.ToLower(e.BodyText), "add to cart", "buy now", "per month",
				"per user", "pricing")
		},
	}},
	{model.PageSolution, 2, []func(*model.ContentExtraction) bool{
		func(e *model.ContentExtraction) bool {
			return containsAny(strings.ToLower(e.BodyText), "solution", "streamline", "challenges")
		},
		func(e *model.ContentExtraction) bool {
			return containsAny(strings.ToLower(e.BodyText), "use case", "industry", "workflow")
		},
		func(e *model.ContentExtraction) bool {
			return containsAny(headingText(e), "how we help", "why choose", "benefits")
		},
	}},
	{model.PageResource, 2, []func(*model.ContentExtraction) bool{
		func(e *model.ContentExtraction) bool { return len(e.FAQs) >= 2 },
		func(e *model.ContentExtraction) bool { return hasSchemaType(e, "FAQPage", "HowTo") },
		func(e *model.ContentExtraction) bool {
			return containsAny(strings.ToLower(e.Title), "guide", "how to", "what is", "glossary")
		},
		func(e *model.ContentExtraction) bool { return questionHeadingCount(e) >= 2 },
	}},
	{model.PageHomepage, 3, []func(*model.ContentExtraction) bool{
		func(e *model.ContentExtraction) bool { return len(e.InternalLinks) >= 20 },
		func(e *model.ContentExtraction) bool { return e.WordCount < 600 },
		func(e *model.ContentExtraction) bool {
			return containsAny(strings.ToLower(e.BodyText), "welcome to", "trusted by", "our mission")
		},
		func(e *model.ContentExtraction) bool { return hasSchemaType(e, "Organization", "WebSite") },
	}},
}

// DetectPageType resolves exactly one page type. URL structure beats
// content heuristics; the final fallback is resource.
func DetectPageType(pageURL string, extraction *model.ContentExtraction) model.PageType {
	if path := urlPath(pageURL); path != "" || pageURL != "" {
		if isRootPath(path) {
			return model.PageHomepage
		}
		lower := strings.ToLower(path)
		for _, rule := range urlPatternTable {
			for _, pattern := range rule.patterns {
				if strings.Contains(lower, pattern) {
					return rule.pageType
				}
			}
		}
	}

	if extraction != nil {
		for _, rule := range signalTable {
			votes := 0
			for _, signal := range rule.signals {
				if signal(extraction) {
					votes++
				}
			}
			if votes >= rule.threshold {
				return rule.pageType
			}
		}
	}

	return model.PageResource
}

func urlPath(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return u.Path
}

func isRootPath(path string) bool {
	trimmed := strings.Trim(path, "/")
	return trimmed == "" || trimmed == "home" || trimmed == "index.html" || trimmed == "index"
}

func hasSchemaType(e *model.ContentExtraction, types ...string) bool {
	for _, have := range e.SchemaTypes {
		for _, want := range types {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

func containsAny(haystack string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

func headingText(e *model.ContentExtraction) string {
	var b strings.Builder
	for _, h := range e.Headings {
		b.WriteString(strings.ToLower(h.Text))
		b.WriteByte(' ')
	}
	return b.String()
}

func questionHeadingCount(e *model.ContentExtraction) int {
	count := 0
	for _, h := range e.Headings {
		if strings.HasSuffix(strings.TrimSpace(h.Text), "?") {
			count++
		}
	}
	return count
}
