package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<!doctype html>
<html lang="en">
<head>
<title>Plain Title</title>
<meta property="og:title" content="OG Title Wins">
<meta name="description" content="A concise description of the page.">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="robots" content="index,follow">
<link rel="canonical" href="https://example.com/articles/testing">
<script type="application/ld+json">
{
  "@context": "https://schema.org",
  "@type": "Article",
  "author": {"@type": "Person", "name": "Jane Roe"},
  "datePublished": "2024-03-02"
}
</script>
</head>
<body>
<header><nav><a href="/nav-link">nav</a></nav></header>
<main>
<h1>How Testing Works</h1>
<p>Testing verifies behavior. It catches regressions before release.</p>
<h2>Why write tests?</h2>
<p>Because broken software is expensive.</p>
<h3>Details</h3>
<ul><li>step one</li><li>step two</li></ul>
<img src="/a.png" alt="diagram" srcset="/a-2x.png 2x">
<img src="/b.png">
<a href="/internal-page">internal</a>
<a href="https://other.org/external">external</a>
<a href="mailto:x@example.com">mail</a>
</main>
<footer>footer text should be stripped</footer>
</body>
</html>`

func TestExtractBasicFields(t *testing.T) {
	e, err := New().Extract(articleHTML, "https://example.com/articles/testing", "text/html; charset=utf-8")
	require.NoError(t, err)

	assert.Equal(t, "OG Title Wins", e.Title)
	assert.Equal(t, "A concise description of the page.", e.MetaDescription)
	assert.Equal(t, "https://example.com/articles/testing", e.CanonicalURL)
	assert.True(t, e.HTTPS)
	assert.True(t, e.HasViewport)
	assert.True(t, e.HasCanonical)
	assert.True(t, e.HasRobotsMeta)
	assert.Equal(t, "Jane Roe", e.Author)
	assert.Equal(t, "2024-03-02", e.PublishDate)
	assert.Contains(t, e.SchemaTypes, "Article")
}

func TestExtractHeadingsInOrder(t *testing.T) {
	e, err := New().Extract(articleHTML, "https://example.com/articles/testing", "")
	require.NoError(t, err)

	require.Len(t, e.Headings, 3)
	assert.Equal(t, 1, e.Headings[0].Level)
	assert.Equal(t, "How Testing Works", e.Headings[0].Text)
	assert.Equal(t, 2, e.Headings[1].Level)
	assert.Equal(t, 3, e.Headings[2].Level)
}

func TestExtractBodyStripsChrome(t *testing.T) {
	e, err := New().Extract(articleHTML, "https://example.com/articles/testing", "")
	require.NoError(t, err)

	assert.Contains(t, e.BodyText, "Testing verifies behavior.")
	assert.NotContains(t, e.BodyText, "footer text")
	assert.NotContains(t, e.BodyText, "nav")
	assert.Equal(t, 2, e.ListItemCount)
	assert.Positive(t, e.WordCount)
}

func TestExtractLinksSplitByHost(t *testing.T) {
	e, err := New().Extract(articleHTML, "https://example.com/articles/testing", "")
	require.NoError(t, err)

	assert.Contains(t, e.InternalLinks, "https://example.com/internal-page")
	assert.Contains(t, e.OutboundLinks, "https://other.org/external")
	for _, link := range append(e.InternalLinks, e.OutboundLinks...) {
		assert.NotContains(t, link, "mailto:")
	}
}

func TestExtractImages(t *testing.T) {
	e, err := New().Extract(articleHTML, "https://example.com/articles/testing", "")
	require.NoError(t, err)

	assert.Equal(t, 2, e.ImageCount)
	assert.Equal(t, 1, e.ImagesWithAlt)
	assert.Equal(t, 1, e.ResponsiveImg)
}

func TestExtractIsDeterministic(t *testing.T) {
	first, err := New().Extract(articleHTML, "https://example.com/articles/testing", "")
	require.NoError(t, err)
	second, err := New().Extract(articleHTML, "https://example.com/articles/testing", "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExtractFAQFromStructuredData(t *testing.T) {
	html := `<html><head><script type="application/ld+json">
{"@type":"FAQPage","mainEntity":[
 {"@type":"Question","name":"What is AEO?","acceptedAnswer":{"@type":"Answer","text":"Answer engine optimization."}},
 {"@type":"Question","name":"Why does it matter?","acceptedAnswer":{"@type":"Answer","text":"AI answers drive traffic."}}
]}</script></head>
<body><h2>Ignored DOM question?</h2><p>dom answer</p></body></html>`

	e, err := New().Extract(html, "https://example.com/faq", "")
	require.NoError(t, err)

	require.Len(t, e.FAQs, 2)
	assert.Equal(t, "What is AEO?", e.FAQs[0].Question)
	assert.Equal(t, "Answer engine optimization.", e.FAQs[0].Answer)
	assert.Contains(t, e.SchemaTypes, "FAQPage")
}

func TestExtractFAQFromDomHeuristics(t *testing.T) {
	html := `<html><body>
<h2>How long does setup take?</h2>
<p>Most teams finish in under an hour.</p>
<h2>Not a question heading</h2>
<p>Nothing here.</p>
</body></html>`

	e, err := New().Extract(html, "https://example.com/help", "")
	require.NoError(t, err)

	require.Len(t, e.FAQs, 1)
	assert.Equal(t, "How long does setup take?", e.FAQs[0].Question)
	assert.Equal(t, "Most teams finish in under an hour.", e.FAQs[0].Answer)
}

func TestExtractPublishDateFallbacks(t *testing.T) {
	metaHTML := `<html><head><meta property="article:published_time" content="2024-05-01T10:00:00Z"></head><body></body></html>`
	e, err := New().Extract(metaHTML, "https://example.com/a", "")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T10:00:00Z", e.PublishDate)

	bodyHTML := `<html><body><p>Posted on January 5, 2024 by the team.</p></body></html>`
	e, err = New().Extract(bodyHTML, "https://example.com/b", "")
	require.NoError(t, err)
	assert.Equal(t, "January 5, 2024", e.PublishDate)
}

func TestExtractMalformedHtmlDoesNotPanic(t *testing.T) {
	e, err := New().Extract("<html><body><div><p>unclosed", "https://example.com/broken", "")
	require.NoError(t, err)
	assert.Contains(t, e.BodyText, "unclosed")
}
