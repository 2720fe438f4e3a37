// Package extract derives structured page facts from raw HTML. Extraction
// is pure: the same HTML and URL always produce the same result.
package extract

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/IliaW/aeo-crawler/internal/model"
	"github.com/PuerkitoBio/goquery"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/html/charset"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	priceRe      = regexp.MustCompile(`[$€£₹]\s?\d`)
	// Long-form "January 2, 2006" and ISO "2006-01-02" dates in body text.
	longDateRe = regexp.MustCompile(`(?i)(January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}`)
	isoDateRe  = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
)

// mainContentSelectors are tried in order before falling back to body.
var mainContentSelectors = []string{
	"main", "article", `[role="main"]`, "#content", "#main", ".main-content", ".content",
}

// strippedSelectors are removed before the body text is collected.
const strippedSelectors = "script,style,noscript,nav,header,footer,aside,iframe,svg"

type Extractor struct{}

func New() *Extractor { return &Extractor{} }

// Extract parses the HTML and returns the structured extraction.
// contentType is used for charset detection and may be empty.
func (e *Extractor) Extract(html, pageURL, contentType string) (*model.ContentExtraction, error) {
	utf8HTML := toUTF8([]byte(html), contentType)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(utf8HTML))
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(pageURL)
	schema := parseStructuredData(doc)

	extraction := &model.ContentExtraction{
		URL:             pageURL,
		Title:           extractTitle(doc),
		MetaDescription: extractMetaDescription(doc),
		CanonicalURL:    extractCanonicalHint(doc),
		Headings:        extractHeadings(doc),
		SchemaTypes:     schema.types,
		Author:          extractAuthor(doc, schema),
		HasViewport:     doc.Find(`meta[name="viewport"]`).Length() > 0,
		HasCanonical:    doc.Find(`link[rel="canonical"]`).Length() > 0,
		HasRobotsMeta:   doc.Find(`meta[name="robots"]`).Length() > 0,
		HasForm:         doc.Find("form").Length() > 0,
	}
	if base != nil {
		extraction.HTTPS = strings.EqualFold(base.Scheme, "https")
	}

	extraction.ImageCount, extraction.ImagesWithAlt, extraction.ResponsiveImg = countImages(doc)
	extraction.InternalLinks, extraction.OutboundLinks = extractLinks(doc, base)
	extraction.BodyText, extraction.ListItemCount = extractBodyText(doc)
	extraction.WordCount = len(strings.Fields(extraction.BodyText))
	extraction.FAQs = extractFAQs(doc, schema)
	extraction.PublishDate = extractPublishDate(doc, schema, extraction.BodyText)
	extraction.HasPricing = priceRe.MatchString(extraction.BodyText)

	return extraction, nil
}

func toUTF8(data []byte, contentType string) []byte {
	enc, _, _ := charset.DetermineEncoding(data, contentType)
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return data
	}
	return decoded
}

// extractTitle prefers the open-graph title over <title>.
func extractTitle(doc *goquery.Document) string {
	if og := strings.TrimSpace(doc.Find(`meta[property="og:title"]`).First().AttrOr("content", "")); og != "" {
		return og
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func extractMetaDescription(doc *goquery.Document) string {
	if desc := strings.TrimSpace(doc.Find(`meta[name="description"]`).First().AttrOr("content", "")); desc != "" {
		return desc
	}
	return strings.TrimSpace(doc.Find(`meta[property="og:description"]`).First().AttrOr("content", ""))
}

func extractCanonicalHint(doc *goquery.Document) string {
	if href := strings.TrimSpace(doc.Find(`link[rel="canonical"]`).First().AttrOr("href", "")); href != "" {
		return href
	}
	return strings.TrimSpace(doc.Find(`meta[property="og:url"]`).First().AttrOr("content", ""))
}

func extractHeadings(doc *goquery.Document) []model.Heading {
	var headings []model.Heading
	doc.Find("h1,h2,h3,h4,h5,h6").Each(func(_ int, s *goquery.Selection) {
		text := cleanText(s.Text())
		if text == "" {
			return
		}
		level := int(s.Get(0).Data[1] - '0')
		headings = append(headings, model.Heading{Level: level, Text: text})
	})
	return headings
}

// extractBodyText selects the main content container, strips chrome
// elements and returns cleaned text plus the list-item count used by the
// content-format heuristics.
func extractBodyText(doc *goquery.Document) (string, int) {
	var container *goquery.Selection
	for _, selector := range mainContentSelectors {
		if found := doc.Find(selector).First(); found.Length() > 0 {
			container = found
			break
		}
	}
	if container == nil {
		container = doc.Find("body").First()
	}
	if container.Length() == 0 {
		return "", 0
	}

	clone := container.Clone()
	clone.Find(strippedSelectors).Remove()
	listItems := clone.Find("li").Length()

	return cleanText(clone.Text()), listItems
}

func extractLinks(doc *goquery.Document, base *url.URL) (internal, outbound []string) {
	if base == nil {
		return nil, nil
	}
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "tel:") {
			return
		}
		rel, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(rel)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		link := abs.String()
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		if strings.EqualFold(abs.Hostname(), base.Hostname()) {
			internal = append(internal, link)
		} else {
			outbound = append(outbound, link)
		}
	})
	return internal, outbound
}

func countImages(doc *goquery.Document) (total, withAlt, responsive int) {
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		total++
		if alt, ok := s.Attr("alt"); ok && strings.TrimSpace(alt) != "" {
			withAlt++
		}
		if _, ok := s.Attr("srcset"); ok {
			responsive++
		} else if _, ok := s.Attr("sizes"); ok {
			responsive++
		}
	})
	return total, withAlt, responsive
}

// extractFAQs prefers FAQPage structured data and falls back to DOM
// heuristics: a question-style heading followed by answer text.
func extractFAQs(doc *goquery.Document, schema *structuredData) []model.FAQ {
	if len(schema.faqs) > 0 {
		return schema.faqs
	}

	var faqs []model.FAQ
	doc.Find("h2,h3,h4,dt,summary").Each(func(_ int, s *goquery.Selection) {
		question := cleanText(s.Text())
		if !strings.HasSuffix(question, "?") || len(question) < 8 {
			return
		}
		answer := cleanText(s.NextFiltered("p,div,dd").First().Text())
		if answer == "" {
			answer = cleanText(s.Parent().Find("p").First().Text())
		}
		if answer != "" {
			faqs = append(faqs, model.FAQ{Question: question, Answer: answer})
		}
	})
	return faqs
}

func extractAuthor(doc *goquery.Document, schema *structuredData) string {
	if schema.author != "" {
		return schema.author
	}
	if author := strings.TrimSpace(doc.Find(`meta[name="author"]`).First().AttrOr("content", "")); author != "" {
		return author
	}
	if author := cleanText(doc.Find(`[rel="author"]`).First().Text()); author != "" {
		return author
	}
	for _, selector := range []string{".author", ".byline", `[itemprop="author"]`} {
		if author := cleanText(doc.Find(selector).First().Text()); author != "" {
			return author
		}
	}
	return ""
}

// extractPublishDate precedence: structured data, article meta tags,
// <time datetime>, then regex date patterns in body text.
func extractPublishDate(doc *goquery.Document, schema *structuredData, bodyText string) string {
	if schema.datePublished != "" {
		return schema.datePublished
	}
	for _, selector := range []string{
		`meta[property="article:published_time"]`,
		`meta[name="date"]`,
		`meta[name="publish-date"]`,
	} {
		if date := strings.TrimSpace(doc.Find(selector).First().AttrOr("content", "")); date != "" {
			return date
		}
	}
	if date := strings.TrimSpace(doc.Find("time[datetime]").First().AttrOr("datetime", "")); date != "" {
		return date
	}
	if match := longDateRe.FindString(bodyText); match != "" {
		return match
	}
	return isoDateRe.FindString(bodyText)
}

type structuredData struct {
	types         []string
	faqs          []model.FAQ
	author        string
	datePublished string
}

// parseStructuredData collects JSON-LD blocks plus microdata itemtype
// declarations. Malformed blocks are skipped.
func parseStructuredData(doc *goquery.Document) *structuredData {
	result := &structuredData{}
	seenTypes := make(map[string]struct{})
	addType := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" {
			return
		}
		if _, ok := seenTypes[t]; ok {
			return
		}
		seenTypes[t] = struct{}{}
		result.types = append(result.types, t)
	}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var raw any
		if err := jsoniter.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return
		}
		walkJSONLD(raw, result, addType)
	})

	doc.Find("[itemtype]").Each(func(_ int, s *goquery.Selection) {
		itemtype := s.AttrOr("itemtype", "")
		if idx := strings.LastIndex(itemtype, "/"); idx >= 0 {
			itemtype = itemtype[idx+1:]
		}
		addType(itemtype)
	})

	return result
}

func walkJSONLD(node any, result *structuredData, addType func(string)) {
	switch value := node.(type) {
	case []any:
		for _, item := range value {
			walkJSONLD(item, result, addType)
		}
	case map[string]any:
		schemaType := stringValue(value["@type"])
		if schemaType != "" {
			addType(schemaType)
		}
		if schemaType == "FAQPage" {
			collectFAQEntities(value["mainEntity"], result)
		}
		if result.author == "" {
			result.author = authorName(value["author"])
		}
		if result.datePublished == "" {
			result.datePublished = stringValue(value["datePublished"])
		}
		if graph, ok := value["@graph"]; ok {
			walkJSONLD(graph, result, addType)
		}
	}
}

func collectFAQEntities(mainEntity any, result *structuredData) {
	entities, ok := mainEntity.([]any)
	if !ok {
		if single, okSingle := mainEntity.(map[string]any); okSingle {
			entities = []any{single}
		} else {
			return
		}
	}
	for _, entity := range entities {
		q, ok := entity.(map[string]any)
		if !ok {
			continue
		}
		question := stringValue(q["name"])
		var answer string
		if accepted, ok := q["acceptedAnswer"].(map[string]any); ok {
			answer = stringValue(accepted["text"])
		}
		if question != "" && answer != "" {
			result.faqs = append(result.faqs, model.FAQ{Question: question, Answer: answer})
		}
	}
}

func authorName(node any) string {
	switch value := node.(type) {
	case string:
		return strings.TrimSpace(value)
	case map[string]any:
		return stringValue(value["name"])
	case []any:
		if len(value) > 0 {
			return authorName(value[0])
		}
	}
	return ""
}

func stringValue(node any) string {
	if s, ok := node.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func cleanText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
